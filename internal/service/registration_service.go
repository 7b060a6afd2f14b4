package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sorteo-api/internal/dto"
	"github.com/noah-isme/sorteo-api/internal/models"
	"github.com/noah-isme/sorteo-api/internal/repository"
	appErrors "github.com/noah-isme/sorteo-api/pkg/errors"
	"github.com/noah-isme/sorteo-api/pkg/storage"
)

// registrationAttempts bounds how often a ticket number collision is retried.
const registrationAttempts = 2

type validationReader interface {
	FindByCorrelationID(ctx context.Context, correlationID string) (*models.TicketValidation, error)
}

type participantRegistrar interface {
	RegisterApproved(ctx context.Context, params models.RegisterApprovedParams, now time.Time) (*models.Participant, error)
}

// RegistrationService turns an approved, unused validation into exactly one participant.
type RegistrationService struct {
	validations  validationReader
	participants participantRegistrar
	approvals    *storage.TokenSigner
	validator    *validator.Validate
	cache        *CacheService
	metrics      *MetricsService
	logger       *zap.Logger
	numberWidth  int
	now          func() time.Time
}

// NewRegistrationService constructs the registration guard.
func NewRegistrationService(validations validationReader, participants participantRegistrar, approvals *storage.TokenSigner, validate *validator.Validate, numberWidth int, cache *CacheService, metrics *MetricsService, logger *zap.Logger) *RegistrationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if numberWidth <= 0 {
		numberWidth = 4
	}
	return &RegistrationService{
		validations:  validations,
		participants: participants,
		approvals:    approvals,
		validator:    validate,
		cache:        cache,
		metrics:      metrics,
		logger:       logger,
		numberWidth:  numberWidth,
		now:          time.Now,
	}
}

// Register checks the approval and creates the participant with the next ticket number.
func (s *RegistrationService) Register(ctx context.Context, req dto.RegisterRequest) (*dto.RegisterResponse, error) {
	req = normalizeRegisterRequest(req)
	if err := s.validator.Struct(req); err != nil {
		s.metrics.RegistrationResult("invalid")
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid registration payload")
	}

	correlationID, _, _, err := s.approvals.Parse(req.ApprovalToken)
	if err != nil {
		s.metrics.RegistrationResult("unauthorized")
		if errors.Is(err, storage.ErrTokenExpired) {
			return nil, appErrors.ErrValidationExpired
		}
		return nil, appErrors.ErrValidationRequired
	}

	if err := s.authorize(ctx, correlationID); err != nil {
		return nil, err
	}

	params := models.RegisterApprovedParams{
		CorrelationID: correlationID,
		Name:          req.Name,
		LastName:      req.LastName,
		NationalID:    req.NationalID,
		Phone:         req.Phone,
		Province:      req.Province,
		NumberWidth:   s.numberWidth,
	}

	for attempt := 1; attempt <= registrationAttempts; attempt++ {
		participant, err := s.participants.RegisterApproved(ctx, params, s.now().UTC())
		switch {
		case err == nil:
			s.metrics.RegistrationResult("registered")
			s.cache.Invalidate(ctx, dashboardCachePattern)
			s.logger.Info("participant registered",
				zap.String("participant_id", participant.ID),
				zap.String("correlation_id", correlationID),
				zap.String("ticket_number", derefString(participant.TicketNumber)))
			return &dto.RegisterResponse{
				ParticipantID: participant.ID,
				TicketNumber:  derefString(participant.TicketNumber),
				Name:          participant.Name,
				LastName:      participant.LastName,
				RegisteredAt:  participant.CreatedAt,
			}, nil
		case errors.Is(err, repository.ErrTicketNumberTaken):
			s.logger.Warn("ticket number collision, retrying",
				zap.String("correlation_id", correlationID), zap.Int("attempt", attempt), zap.Error(err))
			continue
		case errors.Is(err, repository.ErrApprovalUnavailable):
			// Lost a race with another registration, the deadline or a sweep; report the current state.
			if authErr := s.authorize(ctx, correlationID); authErr != nil {
				return nil, authErr
			}
			s.metrics.RegistrationResult("consumed")
			return nil, appErrors.ErrApprovalConsumed
		default:
			s.metrics.RegistrationResult("error")
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to register participant")
		}
	}

	s.metrics.RegistrationResult("allocation_failed")
	return nil, appErrors.ErrAllocationFailed
}

// authorize returns the error matching why the validation cannot be used, or nil when it can.
func (s *RegistrationService) authorize(ctx context.Context, correlationID string) error {
	record, err := s.validations.FindByCorrelationID(ctx, correlationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.metrics.RegistrationResult("unauthorized")
			return appErrors.ErrValidationRequired
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load validation")
	}

	now := s.now()
	switch {
	case record.EffectiveStatus(now) == models.ValidationExpired:
		s.metrics.RegistrationResult("expired")
		return appErrors.ErrValidationExpired
	case record.Status == models.ValidationPending:
		s.metrics.RegistrationResult("pending")
		return appErrors.ErrValidationPending
	case record.Status == models.ValidationRejected:
		s.metrics.RegistrationResult("rejected")
		reason := appErrors.ErrValidationRejected.Message
		if record.Reason != nil && strings.TrimSpace(*record.Reason) != "" {
			reason = *record.Reason
		}
		return appErrors.Clone(appErrors.ErrValidationRejected, reason)
	case record.ConsumedAt != nil:
		s.metrics.RegistrationResult("consumed")
		return appErrors.ErrApprovalConsumed
	case record.IsExpired(now):
		s.metrics.RegistrationResult("expired")
		return appErrors.ErrValidationExpired
	}
	return nil
}

func normalizeRegisterRequest(req dto.RegisterRequest) dto.RegisterRequest {
	req.ApprovalToken = strings.TrimSpace(req.ApprovalToken)
	req.Name = strings.Join(strings.Fields(req.Name), " ")
	req.LastName = strings.Join(strings.Fields(req.LastName), " ")
	req.NationalID = strings.TrimSpace(req.NationalID)
	req.Phone = strings.TrimSpace(req.Phone)
	req.Province = strings.TrimSpace(req.Province)
	return req
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
