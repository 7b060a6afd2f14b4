package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sorteo-api/internal/dto"
	appErrors "github.com/noah-isme/sorteo-api/pkg/errors"
	"github.com/noah-isme/sorteo-api/pkg/response"
)

type registrationService interface {
	Register(ctx context.Context, req dto.RegisterRequest) (*dto.RegisterResponse, error)
}

// RegistrationHandler turns approved validations into raffle entries.
type RegistrationHandler struct {
	service registrationService
}

// NewRegistrationHandler constructs the handler.
func NewRegistrationHandler(service registrationService) *RegistrationHandler {
	return &RegistrationHandler{service: service}
}

// Register godoc
// @Summary Register a participant
// @Description Consumes the approval token from a successful validation and assigns a ticket number.
// @Tags Registration
// @Accept json
// @Produce json
// @Param payload body dto.RegisterRequest true "Participant data"
// @Success 201 {object} response.Envelope{data=dto.RegisterResponse}
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 410 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /register [post]
func (h *RegistrationHandler) Register(c *gin.Context) {
	var req dto.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid registration payload"))
		return
	}
	res, err := h.service.Register(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, res)
}
