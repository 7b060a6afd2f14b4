package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sorteo-api/internal/dto"
	appErrors "github.com/noah-isme/sorteo-api/pkg/errors"
	"github.com/noah-isme/sorteo-api/pkg/response"
)

const (
	ticketFormField = "ticket"
	// multipartOverhead covers boundaries and part headers around the image.
	multipartOverhead   = 64 << 10
	maxCallbackBodySize = 64 << 10
)

type validationService interface {
	SubmitUpload(ctx context.Context, upload dto.ImageUpload) (*dto.UploadResponse, error)
	PollStatus(ctx context.Context, correlationID string) (*dto.ValidationStatusResponse, error)
	ReceiveCallback(ctx context.Context, callback dto.ValidationCallback) (*dto.CallbackResponse, error)
}

// ValidationHandler exposes the ticket upload and validation handoff endpoints.
type ValidationHandler struct {
	service     validationService
	maxFileSize int64
}

// NewValidationHandler constructs the handler. maxFileSize bounds the request body.
func NewValidationHandler(service validationService, maxFileSize int64) *ValidationHandler {
	return &ValidationHandler{service: service, maxFileSize: maxFileSize}
}

// Upload godoc
// @Summary Upload a ticket image for validation
// @Description Stores the image and forwards it to the validation workflow. Poll the status endpoint with the returned correlation ID.
// @Tags Validation
// @Accept multipart/form-data
// @Produce json
// @Param ticket formData file true "Ticket image (jpeg, png, webp)"
// @Success 200 {object} response.Envelope{data=dto.UploadResponse}
// @Success 202 {object} response.Envelope{data=dto.UploadResponse}
// @Failure 400 {object} response.Envelope
// @Failure 413 {object} response.Envelope
// @Failure 415 {object} response.Envelope
// @Failure 429 {object} response.Envelope
// @Failure 502 {object} response.Envelope
// @Router /upload [post]
func (h *ValidationHandler) Upload(c *gin.Context) {
	if h.maxFileSize > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxFileSize+multipartOverhead)
	}
	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(c, appErrors.ErrPayloadTooLarge)
			return
		}
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "multipart form with a ticket image is required"))
		return
	}
	defer form.RemoveAll() //nolint:errcheck

	files := form.File[ticketFormField]
	switch {
	case len(files) == 0:
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "ticket image is required"))
		return
	case len(files) > 1:
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "only one ticket image may be uploaded"))
		return
	}

	header := files[0]
	file, err := header.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "failed to read ticket image"))
		return
	}
	defer file.Close()

	res, err := h.service.SubmitUpload(c.Request.Context(), dto.ImageUpload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Content:     file,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	if res.Status == dto.UploadStatusProcessing {
		response.Accepted(c, res)
		return
	}
	response.JSON(c, http.StatusOK, res, nil)
}

// Status godoc
// @Summary Poll a ticket validation
// @Tags Validation
// @Produce json
// @Param correlationId path string true "Correlation ID"
// @Success 200 {object} response.Envelope{data=dto.ValidationStatusResponse}
// @Failure 404 {object} response.Envelope
// @Router /validation-status/{correlationId} [get]
func (h *ValidationHandler) Status(c *gin.Context) {
	correlationID := strings.TrimSpace(c.Param("correlationId"))
	if correlationID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "correlationId is required"))
		return
	}
	res, err := h.service.PollStatus(c.Request.Context(), correlationID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, res, nil)
}

// Callback godoc
// @Summary Receive a validation verdict
// @Description Called by the validation workflow. Deliveries are idempotent per correlation ID.
// @Tags Validation
// @Accept json
// @Produce json
// @Param X-Webhook-Secret header string false "Shared secret"
// @Param payload body dto.ValidationCallback true "Verdict"
// @Success 200 {object} response.Envelope{data=dto.CallbackResponse}
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 410 {object} response.Envelope
// @Router /webhook/validation-response [post]
func (h *ValidationHandler) Callback(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBodySize))
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "failed to read callback payload"))
		return
	}
	var callback dto.ValidationCallback
	if err := json.Unmarshal(raw, &callback); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid callback payload"))
		return
	}
	callback.Raw = raw

	res, err := h.service.ReceiveCallback(c.Request.Context(), callback)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, res, nil)
}
