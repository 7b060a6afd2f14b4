package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sorteo-api/internal/models"
	appErrors "github.com/noah-isme/sorteo-api/pkg/errors"
)

type validatorStub struct {
	claims *models.JWTClaims
}

func (v validatorStub) ValidateToken(token string) (*models.JWTClaims, error) {
	if token != "good" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
	}
	return v.claims, nil
}

type auditSink struct {
	logs []*models.AuditLog
	err  error
}

func (a *auditSink) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	a.logs = append(a.logs, log)
	return a.err
}

func init() {
	gin.SetMode(gin.TestMode)
}

func perform(r http.Handler, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJWTAndRoles(t *testing.T) {
	r := gin.New()
	auth := JWT(validatorStub{claims: &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin}})
	r.GET("/admin/participants", auth, RequireRoles(models.RoleAdmin, models.RoleSuperAdmin), func(c *gin.Context) {
		c.String(http.StatusOK, CurrentClaims(c).UserID)
	})
	r.DELETE("/admin/participants", auth, RequireRoles(models.RoleSuperAdmin), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	assert.Equal(t, http.StatusUnauthorized, perform(r, http.MethodGet, "/admin/participants", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, perform(r, http.MethodGet, "/admin/participants", map[string]string{"Authorization": "Basic abc"}).Code)
	assert.Equal(t, http.StatusUnauthorized, perform(r, http.MethodGet, "/admin/participants", map[string]string{"Authorization": "Bearer bad"}).Code)

	w := perform(r, http.MethodGet, "/admin/participants", map[string]string{"Authorization": "Bearer good"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "admin-1", w.Body.String())

	assert.Equal(t, http.StatusForbidden, perform(r, http.MethodDelete, "/admin/participants", map[string]string{"Authorization": "Bearer good"}).Code)
}

func TestRequireRolesWithoutClaims(t *testing.T) {
	r := gin.New()
	r.GET("/x", RequireRoles(models.RoleAdmin), func(c *gin.Context) { c.Status(http.StatusOK) })
	assert.Equal(t, http.StatusUnauthorized, perform(r, http.MethodGet, "/x", nil).Code)
}

func TestAuditRecordsSuccessfulRequests(t *testing.T) {
	sink := &auditSink{err: errors.New("db down")}
	r := gin.New()
	r.GET("/admin/images/:id", func(c *gin.Context) {
		c.Set(ContextUserKey, &models.JWTClaims{UserID: "admin-1"})
	}, Audit(sink, models.AuditActionImageView, "participants", nil), func(c *gin.Context) {
		if c.Param("id") == "missing" {
			c.Status(http.StatusNotFound)
			return
		}
		c.Status(http.StatusOK)
	})

	perform(r, http.MethodGet, "/admin/images/abc", nil)
	perform(r, http.MethodGet, "/admin/images/missing", nil)

	require.Len(t, sink.logs, 1)
	assert.Equal(t, models.AuditActionImageView, sink.logs[0].Action)
	assert.Equal(t, "admin-1", *sink.logs[0].UserID)
	assert.Equal(t, "abc", *sink.logs[0].ResourceID)
}

func TestRateLimitPerIP(t *testing.T) {
	limiter := NewRateLimiter(2, time.Minute)
	r := gin.New()
	r.POST("/upload", RateLimit(limiter), func(c *gin.Context) { c.Status(http.StatusAccepted) })

	req := func(ip string) *httptest.ResponseRecorder {
		request := httptest.NewRequest(http.MethodPost, "/upload", nil)
		request.RemoteAddr = ip + ":1234"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, request)
		return w
	}

	assert.Equal(t, http.StatusAccepted, req("203.0.113.1").Code)
	assert.Equal(t, http.StatusAccepted, req("203.0.113.1").Code)
	blocked := req("203.0.113.1")
	assert.Equal(t, http.StatusTooManyRequests, blocked.Code)
	assert.NotEmpty(t, blocked.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusAccepted, req("203.0.113.2").Code)
}

func TestRateLimiterCleanupDropsIdleClients(t *testing.T) {
	now := time.Now()
	limiter := NewRateLimiter(1, time.Minute)
	limiter.now = func() time.Time { return now }

	allowed, _ := limiter.Reserve("10.0.0.1")
	assert.True(t, allowed)
	allowed, wait := limiter.Reserve("10.0.0.1")
	assert.False(t, allowed)
	assert.Greater(t, wait, time.Duration(0))

	now = now.Add(2 * time.Hour)
	limiter.cleanup()
	assert.Zero(t, limiter.size())
}

func TestRateLimiterDisabled(t *testing.T) {
	limiter := NewRateLimiter(0, time.Minute)
	for i := 0; i < 100; i++ {
		allowed, _ := limiter.Reserve("10.0.0.1")
		require.True(t, allowed)
	}
}

func TestWebhookSecret(t *testing.T) {
	r := gin.New()
	r.POST("/webhook", WebhookSecret("s3cret"), func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusUnauthorized, perform(r, http.MethodPost, "/webhook", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, perform(r, http.MethodPost, "/webhook", map[string]string{WebhookSecretHeader: "nope"}).Code)
	assert.Equal(t, http.StatusOK, perform(r, http.MethodPost, "/webhook", map[string]string{WebhookSecretHeader: "s3cret"}).Code)

	open := gin.New()
	open.POST("/webhook", WebhookSecret(""), func(c *gin.Context) { c.Status(http.StatusOK) })
	assert.Equal(t, http.StatusOK, perform(open, http.MethodPost, "/webhook", nil).Code)
}

func TestResponseMetaCarriesCacheHit(t *testing.T) {
	var meta map[string]interface{}
	r := gin.New()
	r.Use(WithResponseMeta())
	r.GET("/admin/metrics", func(c *gin.Context) {
		SetCacheHit(c, true)
		meta = ExtractMeta(c)
		c.Status(http.StatusOK)
	})
	perform(r, http.MethodGet, "/admin/metrics", nil)
	assert.Equal(t, true, meta[cacheHitKey])
}
