package handler

import (
	"context"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sorteo-api/internal/dto"
	"github.com/noah-isme/sorteo-api/internal/models"
	appErrors "github.com/noah-isme/sorteo-api/pkg/errors"
	"github.com/noah-isme/sorteo-api/pkg/response"
)

type participantService interface {
	List(ctx context.Context, filter models.ParticipantFilter) ([]models.Participant, *models.Pagination, error)
	Provinces(ctx context.Context) ([]models.ProvinceCount, error)
	Get(ctx context.Context, id string) (*dto.ParticipantDetail, error)
	OpenImage(token string) (*os.File, string, error)
	Delete(ctx context.Context, id string, req dto.DeleteParticipantRequest, actor dto.ActorInfo) (*dto.DeleteParticipantResponse, error)
	WipeAll(ctx context.Context, req dto.WipeParticipantsRequest, actor dto.ActorInfo) (*dto.WipeParticipantsResponse, error)
}

type participantExporter interface {
	ExportParticipants(ctx context.Context, format string, filter models.ParticipantFilter, actor dto.ActorInfo) (*dto.ExportResult, error)
}

// ParticipantHandler serves the admin participant screens.
type ParticipantHandler struct {
	service  participantService
	exporter participantExporter
}

// NewParticipantHandler constructs the handler.
func NewParticipantHandler(service participantService, exporter participantExporter) *ParticipantHandler {
	return &ParticipantHandler{service: service, exporter: exporter}
}

// List godoc
// @Summary List participants
// @Tags Participants
// @Produce json
// @Security BearerAuth
// @Param province query string false "Province"
// @Param validated query bool false "Only validated tickets"
// @Param search query string false "Name, national ID, phone or ticket number"
// @Param includeDeleted query bool false "Include soft deleted entries"
// @Param page query int false "Page"
// @Param pageSize query int false "Page size"
// @Param sortBy query string false "ticket_number, created_at, name, province"
// @Param sortOrder query string false "asc or desc"
// @Success 200 {object} response.Envelope{data=[]models.Participant}
// @Router /admin/participants [get]
func (h *ParticipantHandler) List(c *gin.Context) {
	items, pagination, err := h.service.List(c.Request.Context(), participantFilter(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

// Provinces godoc
// @Summary Provinces with participants
// @Tags Participants
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope{data=[]models.ProvinceCount}
// @Router /admin/participants/provinces [get]
func (h *ParticipantHandler) Provinces(c *gin.Context) {
	rows, err := h.service.Provinces(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rows, nil)
}

// Get godoc
// @Summary Participant detail
// @Tags Participants
// @Produce json
// @Security BearerAuth
// @Param id path string true "Participant ID"
// @Success 200 {object} response.Envelope{data=dto.ParticipantDetail}
// @Failure 404 {object} response.Envelope
// @Router /admin/participants/{id} [get]
func (h *ParticipantHandler) Get(c *gin.Context) {
	detail, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}

// Delete godoc
// @Summary Soft delete a participant
// @Description Releases the ticket number so the next registration can reuse it.
// @Tags Participants
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Participant ID"
// @Param payload body dto.DeleteParticipantRequest true "Reason"
// @Success 200 {object} response.Envelope{data=dto.DeleteParticipantResponse}
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /admin/participants/{id} [delete]
func (h *ParticipantHandler) Delete(c *gin.Context) {
	var req dto.DeleteParticipantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "deletion reason is required"))
		return
	}
	res, err := h.service.Delete(c.Request.Context(), c.Param("id"), req, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, res, nil)
}

// WipeAll godoc
// @Summary Delete every participant
// @Tags Participants
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.WipeParticipantsRequest true "Confirmation phrase"
// @Success 200 {object} response.Envelope{data=dto.WipeParticipantsResponse}
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /admin/participants [delete]
func (h *ParticipantHandler) WipeAll(c *gin.Context) {
	var req dto.WipeParticipantsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid confirmation payload"))
		return
	}
	res, err := h.service.WipeAll(c.Request.Context(), req, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, res, nil)
}

// Export godoc
// @Summary Export participants
// @Tags Participants
// @Produce text/csv
// @Produce application/pdf
// @Security BearerAuth
// @Param format query string false "csv or pdf"
// @Param province query string false "Province"
// @Param validated query bool false "Only validated tickets"
// @Param search query string false "Search term"
// @Success 200 {file} file
// @Failure 400 {object} response.Envelope
// @Router /admin/participants/export [get]
func (h *ParticipantHandler) Export(c *gin.Context) {
	if h.exporter == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	result, err := h.exporter.ExportParticipants(c.Request.Context(), c.Query("format"), participantFilter(c), actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, result.Filename, result.ContentType, result.Content)
}

// Image godoc
// @Summary Ticket image
// @Description Streams the image referenced by a signed link from the participant detail.
// @Tags Participants
// @Produce image/jpeg
// @Produce image/png
// @Produce image/webp
// @Security BearerAuth
// @Param token path string true "Signed image token"
// @Success 200 {file} file
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /admin/images/{token} [get]
func (h *ParticipantHandler) Image(c *gin.Context) {
	file, contentType, err := h.service.OpenImage(c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read image"))
		return
	}
	c.DataFromReader(http.StatusOK, info.Size(), contentType, file, map[string]string{
		"Cache-Control":          "private, max-age=60",
		"X-Content-Type-Options": "nosniff",
	})
}

func participantFilter(c *gin.Context) models.ParticipantFilter {
	includeDeleted := queryBool(c, "includeDeleted")
	return models.ParticipantFilter{
		Province:       strings.TrimSpace(c.Query("province")),
		Validated:      queryBool(c, "validated"),
		Search:         strings.TrimSpace(c.Query("search")),
		IncludeDeleted: includeDeleted != nil && *includeDeleted,
		Page:           queryInt(c, "page"),
		PageSize:       queryInt(c, "pageSize"),
		SortBy:         c.Query("sortBy"),
		SortOrder:      c.Query("sortOrder"),
	}
}
