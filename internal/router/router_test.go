package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/sorteo-api/internal/dto"
	"github.com/noah-isme/sorteo-api/internal/handler"
	"github.com/noah-isme/sorteo-api/internal/middleware"
	"github.com/noah-isme/sorteo-api/internal/models"
	appErrors "github.com/noah-isme/sorteo-api/pkg/errors"
)

type tokenStub struct{}

func (tokenStub) ValidateToken(token string) (*models.JWTClaims, error) {
	switch token {
	case "admin":
		return &models.JWTClaims{UserID: "a-1", Role: models.RoleAdmin}, nil
	case "root":
		return &models.JWTClaims{UserID: "a-2", Role: models.RoleSuperAdmin}, nil
	}
	return nil, appErrors.ErrUnauthorized
}

type dashboardStub struct{}

func (dashboardStub) Admin(context.Context) (*dto.AdminMetricsResponse, bool, error) {
	return &dto.AdminMetricsResponse{NextTicketNumber: "0001"}, false, nil
}

func (dashboardStub) Public(context.Context) (*dto.PublicStatsResponse, error) {
	return &dto.PublicStatsResponse{TotalParticipants: 3}, nil
}

type callbackStub struct{}

func (callbackStub) SubmitUpload(context.Context, dto.ImageUpload) (*dto.UploadResponse, error) {
	return nil, appErrors.ErrUnsupportedMedia
}

func (callbackStub) PollStatus(context.Context, string) (*dto.ValidationStatusResponse, error) {
	return nil, appErrors.ErrValidationNotFound
}

func (callbackStub) ReceiveCallback(context.Context, dto.ValidationCallback) (*dto.CallbackResponse, error) {
	return &dto.CallbackResponse{Received: true}, nil
}

func newTestEngine() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return New(Dependencies{
		CallbackSecret: "hook",
		UploadLimiter:  middleware.NewRateLimiter(1, time.Minute),
		Tokens:         tokenStub{},
		Validation:     handler.NewValidationHandler(callbackStub{}, 1024),
		Registration:   handler.NewRegistrationHandler(nil),
		Dashboard:      handler.NewDashboardHandler(dashboardStub{}),
		Auth:           handler.NewAuthHandler(nil),
		Participants:   handler.NewParticipantHandler(nil, nil),
		Health:         handler.NewMetricsHandler(nil, nil),
	})
}

func serve(r http.Handler, method, path, token string, headers map[string]string, body string) int {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec.Code
}

func TestRouterPublicRoutes(t *testing.T) {
	r := newTestEngine()

	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/health", "", nil, ""))
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/stats", "", nil, ""))
	assert.Equal(t, http.StatusNotFound, serve(r, http.MethodGet, "/validation-status/abc", "", nil, ""))
	assert.Equal(t, http.StatusNotFound, serve(r, http.MethodGet, "/docs/index.html", "", nil, ""))
}

func TestRouterWebhookNeedsSecret(t *testing.T) {
	r := newTestEngine()
	body := `{"correlationId":"c-1","valid":true}`

	assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodPost, "/webhook/validation-response", "", nil, body))
	assert.Equal(t, http.StatusOK, serve(r, http.MethodPost, "/webhook/validation-response", "", map[string]string{middleware.WebhookSecretHeader: "hook"}, body))
}

func TestRouterUploadIsRateLimited(t *testing.T) {
	r := newTestEngine()

	assert.Equal(t, http.StatusBadRequest, serve(r, http.MethodPost, "/upload", "", nil, ""))
	assert.Equal(t, http.StatusTooManyRequests, serve(r, http.MethodPost, "/upload", "", nil, ""))
}

func TestRouterAdminAuthorization(t *testing.T) {
	r := newTestEngine()

	assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodGet, "/admin/metrics", "", nil, ""))
	assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodGet, "/admin/participants", "bogus", nil, ""))
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/admin/metrics", "admin", nil, ""))
	assert.Equal(t, http.StatusForbidden, serve(r, http.MethodDelete, "/admin/participants", "admin", nil, `{"confirm":"DELETE ALL"}`))
}
