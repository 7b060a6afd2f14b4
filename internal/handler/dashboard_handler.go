package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sorteo-api/internal/dto"
	"github.com/noah-isme/sorteo-api/internal/middleware"
	appErrors "github.com/noah-isme/sorteo-api/pkg/errors"
	"github.com/noah-isme/sorteo-api/pkg/response"
)

type dashboardService interface {
	Admin(ctx context.Context) (*dto.AdminMetricsResponse, bool, error)
	Public(ctx context.Context) (*dto.PublicStatsResponse, error)
}

// DashboardHandler wires dashboard service to HTTP endpoints.
type DashboardHandler struct {
	service dashboardService
}

// NewDashboardHandler constructs the handler.
func NewDashboardHandler(service dashboardService) *DashboardHandler {
	return &DashboardHandler{service: service}
}

// Admin godoc
// @Summary Admin metrics
// @Description Participant counters, validation totals, the daily registration series and the next ticket number.
// @Tags Dashboard
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope{data=dto.AdminMetricsResponse}
// @Router /admin/metrics [get]
func (h *DashboardHandler) Admin(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	start := time.Now()
	summary, cacheHit, err := h.service.Admin(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, cacheHit)
	meta := middleware.ExtractMeta(c)
	meta["processing_time_ms"] = time.Since(start).Milliseconds()
	response.JSON(c, http.StatusOK, summary, nil, meta)
}

// Public godoc
// @Summary Public raffle counters
// @Tags Dashboard
// @Produce json
// @Success 200 {object} response.Envelope{data=dto.PublicStatsResponse}
// @Router /stats [get]
func (h *DashboardHandler) Public(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	stats, err := h.service.Public(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stats, nil)
}
