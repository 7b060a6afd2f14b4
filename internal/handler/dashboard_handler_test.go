package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/sorteo-api/internal/dto"
	"github.com/noah-isme/sorteo-api/internal/models"
	appErrors "github.com/noah-isme/sorteo-api/pkg/errors"
)

type fakeDashboardSrv struct {
	adminResp  *dto.AdminMetricsResponse
	adminHit   bool
	adminErr   error
	publicResp *dto.PublicStatsResponse
	publicErr  error
}

func (f *fakeDashboardSrv) Admin(context.Context) (*dto.AdminMetricsResponse, bool, error) {
	return f.adminResp, f.adminHit, f.adminErr
}

func (f *fakeDashboardSrv) Public(context.Context) (*dto.PublicStatsResponse, error) {
	return f.publicResp, f.publicErr
}

func TestDashboardHandlerAdminSuccess(t *testing.T) {
	handler := NewDashboardHandler(&fakeDashboardSrv{
		adminResp: &dto.AdminMetricsResponse{
			Participants:     models.ParticipantStats{TotalParticipants: 12},
			NextTicketNumber: "0013",
		},
		adminHit: true,
	})

	c, rec := newTestContext()
	c.Request = httptest.NewRequest(http.MethodGet, "/admin/metrics", nil)
	handler.Admin(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	envelope := decodeEnvelope(t, rec)
	assert.Equal(t, true, envelope.Meta["cache_hit"])
	assert.Contains(t, envelope.Meta, "processing_time_ms")
	assert.Equal(t, "0013", envelope.Data["nextTicketNumber"])
}

func TestDashboardHandlerAdminError(t *testing.T) {
	handler := NewDashboardHandler(&fakeDashboardSrv{adminErr: appErrors.ErrInternal})

	c, rec := newTestContext()
	c.Request = httptest.NewRequest(http.MethodGet, "/admin/metrics", nil)
	handler.Admin(c)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestDashboardHandlerPublic(t *testing.T) {
	handler := NewDashboardHandler(&fakeDashboardSrv{publicResp: &dto.PublicStatsResponse{TotalParticipants: 40, ValidatedTickets: 40, Provinces: 7}})

	c, rec := newTestContext()
	c.Request = httptest.NewRequest(http.MethodGet, "/stats", nil)
	handler.Public(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(7), decodeEnvelope(t, rec).Data["provinces"])
}
