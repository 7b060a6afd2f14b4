package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sorteo-api/internal/dto"
	"github.com/noah-isme/sorteo-api/internal/models"
	appErrors "github.com/noah-isme/sorteo-api/pkg/errors"
	"github.com/noah-isme/sorteo-api/pkg/jobs"
	"github.com/noah-isme/sorteo-api/pkg/storage"
)

// JobTypeRedispatch re-sends a pending validation whose first dispatch failed.
const JobTypeRedispatch = "validation.redispatch"

const (
	verdictSourceCallback = "callback"
	verdictSourceSync     = "sync"
)

type redispatchQueue interface {
	EnqueueAfter(job jobs.Job, delay time.Duration) error
}

// ValidationServiceConfig tunes the handoff timings.
type ValidationServiceConfig struct {
	PollAfter       time.Duration
	RedispatchDelay time.Duration
	SweepInterval   time.Duration
}

// ValidationService drives ticket validations from upload to a terminal verdict.
type ValidationService struct {
	store     validationStore
	gateway   *ValidationGateway
	approvals *storage.TokenSigner
	queue     redispatchQueue
	validator *validator.Validate
	cfg       ValidationServiceConfig
	metrics   *MetricsService
	logger    *zap.Logger
	now       func() time.Time
}

// NewValidationService constructs the state machine.
func NewValidationService(store validationStore, gateway *ValidationGateway, approvals *storage.TokenSigner, validate *validator.Validate, cfg ValidationServiceConfig, metrics *MetricsService, logger *zap.Logger) *ValidationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if cfg.PollAfter <= 0 {
		cfg.PollAfter = 2 * time.Second
	}
	if cfg.RedispatchDelay <= 0 {
		cfg.RedispatchDelay = 30 * time.Second
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 3 * time.Minute
	}
	return &ValidationService{
		store:     store,
		gateway:   gateway,
		approvals: approvals,
		validator: validate,
		cfg:       cfg,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
	}
}

// UseQueue attaches the queue used to retry failed dispatches.
func (s *ValidationService) UseQueue(q redispatchQueue) {
	s.queue = q
}

// SubmitUpload accepts a ticket image and hands it to the external workflow. A dispatch outage
// leaves the validation pending and schedules another attempt; a refusal discards it.
func (s *ValidationService) SubmitUpload(ctx context.Context, upload dto.ImageUpload) (*dto.UploadResponse, error) {
	record, err := s.gateway.Accept(ctx, upload)
	if err != nil {
		return nil, err
	}
	logger := s.logger.With(zap.String("correlation_id", record.CorrelationID))

	result, err := s.gateway.Dispatch(ctx, record)
	switch {
	case err == nil:
	case errors.Is(err, appErrors.ErrUpstreamRejected):
		logger.Error("validation service refused dispatch, discarding upload", zap.Error(err))
		if discardErr := s.gateway.Discard(ctx, record); discardErr != nil {
			logger.Warn("failed to discard refused validation", zap.Error(discardErr))
		}
		return nil, err
	default:
		logger.Warn("validation dispatch failed, scheduling retry", zap.Error(err))
		s.scheduleRedispatch(record.CorrelationID, 0)
		return s.uploadResponse(record), nil
	}

	if result != nil && result.Verdict != nil {
		outcome, applied, applyErr := s.applyVerdict(ctx, *result.Verdict, verdictSourceSync)
		if applyErr != nil {
			logger.Warn("failed to apply synchronous verdict", zap.Error(applyErr))
			return s.uploadResponse(record), nil
		}
		if outcome != models.ApplyNotFound && applied != nil {
			record = applied
		}
	}
	return s.uploadResponse(record), nil
}

// ReceiveCallback applies a verdict posted by the external workflow. Re-deliveries succeed with
// AlreadyApplied set and change nothing.
func (s *ValidationService) ReceiveCallback(ctx context.Context, callback dto.ValidationCallback) (*dto.CallbackResponse, error) {
	if err := s.validator.Struct(callback); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid callback payload")
	}

	verdict := models.ValidationVerdict{
		CorrelationID: callback.CorrelationID,
		Valid:         *callback.Valid,
		Reason:        callback.Reason,
		Confidence:    clampConfidence(callback.Confidence),
		Raw:           callback.Raw,
	}
	outcome, record, err := s.applyVerdict(ctx, verdict, verdictSourceCallback)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to apply validation result")
	}

	switch outcome {
	case models.ApplyApplied:
		return &dto.CallbackResponse{Received: true, Status: string(record.Status)}, nil
	case models.ApplyAlreadyApplied:
		return &dto.CallbackResponse{Received: true, AlreadyApplied: true, Status: string(record.Status)}, nil
	case models.ApplyExpired:
		return nil, appErrors.ErrValidationExpired
	default:
		return nil, appErrors.ErrValidationNotFound
	}
}

// PollStatus reports the current view of a validation. Pending records past their deadline read
// as expired whether or not the sweeper has run. Approved, unused records carry an approval token.
func (s *ValidationService) PollStatus(ctx context.Context, correlationID string) (*dto.ValidationStatusResponse, error) {
	record, err := s.store.FindByCorrelationID(ctx, correlationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrValidationNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load validation")
	}

	now := s.now()
	status := record.EffectiveStatus(now)
	resp := &dto.ValidationStatusResponse{
		CorrelationID: record.CorrelationID,
		Status:        string(status),
		Reason:        record.Reason,
		Confidence:    record.Confidence,
		Registered:    record.ConsumedAt != nil,
		ExpiresAt:     record.ExpiresAt,
	}

	switch status {
	case models.ValidationPending:
		resp.NextStep = dto.NextStepWait
		resp.PollAfterMs = s.cfg.PollAfter.Milliseconds()
	case models.ValidationApproved:
		switch {
		case record.ConsumedAt != nil:
			resp.NextStep = dto.NextStepDone
		case record.IsExpired(now):
			resp.NextStep = dto.NextStepRetry
		default:
			token, err := s.approvalToken(record)
			if err != nil {
				return nil, err
			}
			resp.ApprovalToken = token
			resp.NextStep = dto.NextStepRegister
		}
	default:
		resp.NextStep = dto.NextStepRetry
	}
	return resp, nil
}

// HandleRedispatch is the queue handler for JobTypeRedispatch.
func (s *ValidationService) HandleRedispatch(ctx context.Context, job jobs.Job) error {
	correlationID, ok := job.Payload.(string)
	if !ok || correlationID == "" {
		return jobs.Permanent(errors.New("redispatch job without correlation id"))
	}

	record, err := s.store.FindByCorrelationID(ctx, correlationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return jobs.Permanent(err)
		}
		return err
	}
	if record.EffectiveStatus(s.now()) != models.ValidationPending {
		return nil
	}

	result, err := s.gateway.Dispatch(ctx, record)
	if err != nil {
		if errors.Is(err, appErrors.ErrUpstreamRejected) {
			if discardErr := s.gateway.Discard(ctx, record); discardErr != nil {
				s.logger.Warn("failed to discard refused validation",
					zap.String("correlation_id", correlationID), zap.Error(discardErr))
			}
			return jobs.Permanent(err)
		}
		return err
	}
	if result != nil && result.Verdict != nil {
		if _, _, err := s.applyVerdict(ctx, *result.Verdict, verdictSourceSync); err != nil {
			return err
		}
	}
	return nil
}

// Sweep deletes pending validations past their deadline and their images.
func (s *ValidationService) Sweep(ctx context.Context) (int, error) {
	expired, err := s.store.DeleteExpiredPending(ctx, s.now().UTC())
	s.metrics.SweepResult(int64(len(expired)), err)
	if err != nil {
		return 0, err
	}
	paths := make([]string, 0, len(expired))
	for _, e := range expired {
		paths = append(paths, e.ImagePath)
	}
	s.gateway.RemoveImages(paths...)
	if len(expired) > 0 {
		s.logger.Sugar().Infow("swept expired validations", "count", len(expired))
	}
	return len(expired), nil
}

// StartSweeper runs Sweep on every interval until ctx is cancelled. Failed passes are logged and
// the next tick tries again.
func (s *ValidationService) StartSweeper(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				s.logger.Sugar().Warnw("validation sweep failed", "error", err)
			}
		}
	}
}

func (s *ValidationService) applyVerdict(ctx context.Context, verdict models.ValidationVerdict, source string) (models.ApplyOutcome, *models.TicketValidation, error) {
	outcome, record, err := s.store.ApplyResult(ctx, verdict, s.now().UTC())
	if err != nil {
		return "", nil, err
	}

	var latency time.Duration
	if record != nil {
		latency = s.now().Sub(record.CreatedAt)
	}
	s.metrics.VerdictReceived(source, outcome, latency)
	s.logger.Info("validation verdict received",
		zap.String("correlation_id", verdict.CorrelationID),
		zap.String("source", source),
		zap.String("outcome", string(outcome)),
		zap.Bool("valid", verdict.Valid))
	return outcome, record, nil
}

func (s *ValidationService) scheduleRedispatch(correlationID string, attempt int) {
	if s.queue == nil {
		return
	}
	job := jobs.Job{ID: correlationID, Type: JobTypeRedispatch, Payload: correlationID, Attempt: attempt}
	if err := s.queue.EnqueueAfter(job, s.cfg.RedispatchDelay); err != nil {
		s.logger.Warn("failed to schedule validation redispatch",
			zap.String("correlation_id", correlationID), zap.Error(err))
	}
}

func (s *ValidationService) uploadResponse(record *models.TicketValidation) *dto.UploadResponse {
	now := s.now()
	expiresAt := record.ExpiresAt
	resp := &dto.UploadResponse{
		CorrelationID: record.CorrelationID,
		Reason:        record.Reason,
		Confidence:    record.Confidence,
		ExpiresAt:     &expiresAt,
	}
	switch record.EffectiveStatus(now) {
	case models.ValidationApproved:
		valid := true
		resp.Status = string(models.ValidationApproved)
		resp.Valid = &valid
		resp.NextStep = dto.NextStepRegister
		if token, err := s.approvalToken(record); err == nil {
			resp.ApprovalToken = token
		} else {
			s.logger.Warn("failed to issue approval token", zap.String("correlation_id", record.CorrelationID), zap.Error(err))
		}
	case models.ValidationRejected:
		valid := false
		resp.Status = string(models.ValidationRejected)
		resp.Valid = &valid
		resp.NextStep = dto.NextStepRetry
	default:
		resp.Status = dto.UploadStatusProcessing
		resp.NextStep = dto.NextStepWait
		resp.PollAfterMs = s.cfg.PollAfter.Milliseconds()
	}
	return resp
}

// approvalToken binds the correlation id to the record deadline, so re-polling yields the same token.
func (s *ValidationService) approvalToken(record *models.TicketValidation) (string, error) {
	token, _, err := s.approvals.GenerateUntil(record.CorrelationID, "", record.ExpiresAt)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to issue approval token")
	}
	return token, nil
}
