package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sorteo-api/internal/dto"
	"github.com/noah-isme/sorteo-api/internal/models"
	appErrors "github.com/noah-isme/sorteo-api/pkg/errors"
	"github.com/noah-isme/sorteo-api/pkg/storage"
)

type participantStore interface {
	FindByID(ctx context.Context, id string) (*models.Participant, error)
	List(ctx context.Context, filter models.ParticipantFilter) ([]models.Participant, int, error)
	Provinces(ctx context.Context) ([]models.ProvinceCount, error)
	SoftDelete(ctx context.Context, id, reason string, deletedBy *string, now time.Time) (*models.Participant, error)
	WipeAll(ctx context.Context) (int64, error)
}

type auditRecorder interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type imageOpener interface {
	Open(filename string) (*os.File, error)
}

// ParticipantConfig configures admin participant views.
type ParticipantConfig struct {
	PublicBaseURL string
}

// ParticipantService backs the admin participant screens.
type ParticipantService struct {
	repo      participantStore
	audit     auditRecorder
	images    imageOpener
	signer    *storage.TokenSigner
	cache     *CacheService
	validator *validator.Validate
	cfg       ParticipantConfig
	logger    *zap.Logger
	now       func() time.Time
}

// NewParticipantService constructs a ParticipantService.
func NewParticipantService(repo participantStore, audit auditRecorder, images imageOpener, signer *storage.TokenSigner, cache *CacheService, validate *validator.Validate, cfg ParticipantConfig, logger *zap.Logger) *ParticipantService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")
	return &ParticipantService{
		repo:      repo,
		audit:     audit,
		images:    images,
		signer:    signer,
		cache:     cache,
		validator: validate,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// List returns a page of participants matching the filter.
func (s *ParticipantService) List(ctx context.Context, filter models.ParticipantFilter) ([]models.Participant, *models.Pagination, error) {
	items, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list participants")
	}
	page, size := normalizePage(filter.Page, filter.PageSize)
	return items, buildPagination(page, size, total), nil
}

// Provinces lists provinces with active participants.
func (s *ParticipantService) Provinces(ctx context.Context) ([]models.ProvinceCount, error) {
	rows, err := s.repo.Provinces(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list provinces")
	}
	return rows, nil
}

// Get returns a participant and a short-lived link to its ticket image.
func (s *ParticipantService) Get(ctx context.Context, id string) (*dto.ParticipantDetail, error) {
	participant, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "participant not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load participant")
	}

	detail := &dto.ParticipantDetail{Participant: *participant}
	if participant.TicketImagePath != nil && *participant.TicketImagePath != "" && s.signer != nil {
		token, expiresAt, err := s.signer.Generate(participant.ID, *participant.TicketImagePath)
		if err != nil {
			s.logger.Warn("failed to sign ticket image url", zap.String("participant_id", id), zap.Error(err))
		} else {
			detail.ImageURL = fmt.Sprintf("%s/admin/images/%s", s.cfg.PublicBaseURL, token)
			detail.ImageExpiresAt = &expiresAt
		}
	}
	return detail, nil
}

// OpenImage resolves a signed image token to the stored file. Callers close the file.
func (s *ParticipantService) OpenImage(token string) (*os.File, string, error) {
	if s.signer == nil {
		return nil, "", appErrors.ErrNotFound
	}
	_, path, _, err := s.signer.Parse(token)
	if err != nil {
		if errors.Is(err, storage.ErrTokenExpired) {
			return nil, "", appErrors.Clone(appErrors.ErrForbidden, "image link expired")
		}
		return nil, "", appErrors.Clone(appErrors.ErrForbidden, "invalid image link")
	}
	file, err := s.images.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, "", appErrors.Clone(appErrors.ErrNotFound, "image not found")
		}
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open image")
	}
	return file, imageContentType(path), nil
}

// Delete soft deletes a participant and releases its ticket number for reuse.
func (s *ParticipantService) Delete(ctx context.Context, id string, req dto.DeleteParticipantRequest, actor dto.ActorInfo) (*dto.DeleteParticipantResponse, error) {
	req.Reason = strings.TrimSpace(req.Reason)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "deletion reason is required")
	}

	var deletedBy *string
	if actor.UserID != "" {
		deletedBy = &actor.UserID
	}
	participant, err := s.repo.SoftDelete(ctx, id, req.Reason, deletedBy, s.now().UTC())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "participant not found or already deleted")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete participant")
	}

	s.cache.Invalidate(ctx, dashboardCachePattern)
	s.recordAudit(ctx, actor, models.AuditActionParticipantDelete, &participant.ID, map[string]interface{}{
		"reason":                 req.Reason,
		"released_ticket_number": participant.ReleasedTicketNumber,
	})

	resp := &dto.DeleteParticipantResponse{ID: participant.ID, ReleasedTicketNumber: participant.ReleasedTicketNumber}
	if participant.DeletedAt != nil {
		resp.DeletedAt = *participant.DeletedAt
	}
	return resp, nil
}

// WipeAll removes every participant. The confirmation phrase must match exactly.
func (s *ParticipantService) WipeAll(ctx context.Context, req dto.WipeParticipantsRequest, actor dto.ActorInfo) (*dto.WipeParticipantsResponse, error) {
	if req.Confirm != dto.ConfirmWipeAll {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("confirmation must be %q", dto.ConfirmWipeAll))
	}
	deleted, err := s.repo.WipeAll(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete participants")
	}
	s.cache.Invalidate(ctx, dashboardCachePattern)
	s.recordAudit(ctx, actor, models.AuditActionParticipantWipe, nil, map[string]interface{}{"deleted": deleted})
	s.logger.Warn("all participants deleted", zap.String("user_id", actor.UserID), zap.Int64("deleted", deleted))
	return &dto.WipeParticipantsResponse{Deleted: deleted}, nil
}

func (s *ParticipantService) recordAudit(ctx context.Context, actor dto.ActorInfo, action string, resourceID *string, values map[string]interface{}) {
	if s.audit == nil {
		return
	}
	payload, _ := json.Marshal(values)
	var userID *string
	if actor.UserID != "" {
		userID = &actor.UserID
	}
	if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     userID,
		Action:     action,
		Resource:   "participants",
		ResourceID: resourceID,
		NewValues:  payload,
		IPAddress:  actor.IP,
		UserAgent:  actor.UserAgent,
	}); err != nil {
		s.logger.Warn("failed to record audit log", zap.String("action", action), zap.Error(err))
	}
}

func normalizePage(page, size int) (int, int) {
	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 50
	}
	if size > 200 {
		size = 200
	}
	return page, size
}

func buildPagination(page, size, total int) *models.Pagination {
	totalPages := 0
	if size > 0 {
		totalPages = (total + size - 1) / size
	}
	return &models.Pagination{Page: page, PageSize: size, TotalCount: total, TotalPages: totalPages}
}

func imageContentType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	for mimeType, known := range imageExtensions {
		if known == ext {
			return mimeType
		}
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}
