package router

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/sorteo-api/internal/handler"
	"github.com/noah-isme/sorteo-api/internal/middleware"
	"github.com/noah-isme/sorteo-api/internal/models"
	"github.com/noah-isme/sorteo-api/internal/service"
	"github.com/noah-isme/sorteo-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/sorteo-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sorteo-api/pkg/middleware/requestid"
)

// Dependencies bundles everything the HTTP layer is built from.
type Dependencies struct {
	Logger         *zap.Logger
	Metrics        *service.MetricsService
	AllowedOrigins []string
	EnableDocs     bool
	CallbackSecret string
	UploadLimiter  *middleware.RateLimiter
	Tokens         middleware.TokenValidator
	Audit          middleware.AuditRecorder

	Validation   *handler.ValidationHandler
	Registration *handler.RegistrationHandler
	Dashboard    *handler.DashboardHandler
	Auth         *handler.AuthHandler
	Participants *handler.ParticipantHandler
	Health       *handler.MetricsHandler
}

// New builds the gin engine with every public and admin route.
func New(deps Dependencies) *gin.Engine {
	logr := deps.Logger
	if logr == nil {
		logr = zap.NewNop()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(deps.AllowedOrigins))
	r.Use(middleware.Metrics(deps.Metrics))
	r.Use(middleware.WithResponseMeta())

	r.GET("/health", deps.Health.Health)
	r.GET("/ready", deps.Health.Ready)
	r.GET("/metrics", deps.Health.Prometheus)
	if deps.EnableDocs {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	r.POST("/upload", middleware.RateLimit(deps.UploadLimiter), deps.Validation.Upload)
	r.GET("/validation-status/:correlationId", deps.Validation.Status)
	r.POST("/webhook/validation-response", middleware.WebhookSecret(deps.CallbackSecret), deps.Validation.Callback)
	r.POST("/register", deps.Registration.Register)
	r.GET("/stats", deps.Dashboard.Public)

	admin := r.Group("/admin")
	admin.POST("/auth/login", deps.Auth.Login)

	secured := admin.Group("")
	secured.Use(middleware.JWT(deps.Tokens), middleware.RequireRoles(models.RoleAdmin, models.RoleSuperAdmin))
	secured.GET("/metrics", deps.Dashboard.Admin)
	secured.GET("/images/:token", middleware.Audit(deps.Audit, models.AuditActionImageView, "participants", logr), deps.Participants.Image)

	participants := secured.Group("/participants")
	participants.GET("", deps.Participants.List)
	participants.GET("/provinces", deps.Participants.Provinces)
	participants.GET("/export", deps.Participants.Export)
	participants.GET("/:id", deps.Participants.Get)
	participants.DELETE("/:id", deps.Participants.Delete)
	participants.DELETE("", middleware.RequireRoles(models.RoleSuperAdmin), deps.Participants.WipeAll)

	return r
}
