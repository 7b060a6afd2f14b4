package service

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sorteo-api/internal/dto"
	"github.com/noah-isme/sorteo-api/internal/models"
	appErrors "github.com/noah-isme/sorteo-api/pkg/errors"
	"github.com/noah-isme/sorteo-api/pkg/storage"
)

const sniffLength = 512

var imageExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/heic": ".heic",
	"image/gif":  ".gif",
}

type validationStore interface {
	Create(ctx context.Context, v *models.TicketValidation) error
	FindByCorrelationID(ctx context.Context, correlationID string) (*models.TicketValidation, error)
	ApplyResult(ctx context.Context, verdict models.ValidationVerdict, now time.Time) (models.ApplyOutcome, *models.TicketValidation, error)
	RecordDispatch(ctx context.Context, correlationID string, dispatchErr *string) error
	DeletePending(ctx context.Context, correlationID string) error
	DeleteExpiredPending(ctx context.Context, now time.Time) ([]models.ExpiredValidation, error)
}

type imageStore interface {
	SaveStream(filename string, r io.Reader, maxBytes int64) (int64, error)
	ReadAll(filename string) ([]byte, error)
	Delete(filename string) error
}

type validationDispatcher interface {
	Dispatch(ctx context.Context, req DispatchRequest) (*DispatchResult, error)
}

// GatewayConfig bounds what the gateway accepts and how long a validation may stay open.
type GatewayConfig struct {
	MaxFileSize  int64
	AllowedMIMEs []string
	TTL          time.Duration
	CallbackURL  string
}

// ValidationGateway persists uploaded tickets and hands them to the external validation workflow.
type ValidationGateway struct {
	store      validationStore
	images     imageStore
	dispatcher validationDispatcher
	cfg        GatewayConfig
	allowed    map[string]struct{}
	metrics    *MetricsService
	logger     *zap.Logger
	now        func() time.Time
}

// NewValidationGateway constructs the gateway.
func NewValidationGateway(store validationStore, images imageStore, dispatcher validationDispatcher, cfg GatewayConfig, metrics *MetricsService, logger *zap.Logger) *ValidationGateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = 5 * 1024 * 1024
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Minute
	}
	if len(cfg.AllowedMIMEs) == 0 {
		cfg.AllowedMIMEs = []string{"image/jpeg", "image/png", "image/webp", "image/heic", "image/gif"}
	}
	allowed := make(map[string]struct{}, len(cfg.AllowedMIMEs))
	for _, m := range cfg.AllowedMIMEs {
		allowed[strings.ToLower(strings.TrimSpace(m))] = struct{}{}
	}
	return &ValidationGateway{
		store:      store,
		images:     images,
		dispatcher: dispatcher,
		cfg:        cfg,
		allowed:    allowed,
		metrics:    metrics,
		logger:     logger,
		now:        time.Now,
	}
}

// Accept stores the image and opens a pending validation for it. No orphaned file is left behind
// when the record cannot be created.
func (g *ValidationGateway) Accept(ctx context.Context, upload dto.ImageUpload) (*models.TicketValidation, error) {
	if upload.Content == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "ticket image is required")
	}
	if upload.Size > g.cfg.MaxFileSize {
		return nil, appErrors.ErrPayloadTooLarge
	}

	head := make([]byte, sniffLength)
	n, err := io.ReadFull(upload.Content, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "could not read ticket image")
	}
	head = head[:n]
	if n == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "ticket image is empty")
	}

	mimeType, ok := g.resolveMIME(upload.ContentType, head)
	if !ok {
		return nil, appErrors.ErrUnsupportedMedia
	}

	now := g.now().UTC()
	name := storage.NewImageName(now, imageExtension(mimeType, upload.Filename))
	if _, err := g.images.SaveStream(name, io.MultiReader(bytes.NewReader(head), upload.Content), g.cfg.MaxFileSize); err != nil {
		if errors.Is(err, storage.ErrTooLarge) {
			return nil, appErrors.ErrPayloadTooLarge
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store ticket image")
	}

	record := &models.TicketValidation{
		ImagePath:     name,
		ImageFilename: originalFilename(upload.Filename, name),
		MimeType:      mimeType,
		CreatedAt:     now,
		ExpiresAt:     now.Add(g.cfg.TTL),
	}
	if err := g.store.Create(ctx, record); err != nil {
		g.removeImage(name)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to register ticket validation")
	}
	g.metrics.ValidationCreated()
	return record, nil
}

// Dispatch forwards a pending validation to the workflow and records the attempt.
func (g *ValidationGateway) Dispatch(ctx context.Context, record *models.TicketValidation) (*DispatchResult, error) {
	image, err := g.images.ReadAll(record.ImagePath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read ticket image")
	}

	result, dispatchErr := g.dispatcher.Dispatch(ctx, DispatchRequest{
		CorrelationID: record.CorrelationID,
		CallbackURL:   g.cfg.CallbackURL,
		Filename:      record.ImageFilename,
		MimeType:      record.MimeType,
		Image:         image,
		RequestedAt:   g.now().UTC(),
	})

	var lastErr *string
	if dispatchErr != nil {
		msg := dispatchErr.Error()
		lastErr = &msg
	}
	if err := g.store.RecordDispatch(ctx, record.CorrelationID, lastErr); err != nil {
		g.logger.Warn("failed to record validation dispatch",
			zap.String("correlation_id", record.CorrelationID), zap.Error(err))
	}
	return result, dispatchErr
}

// Discard removes a pending validation together with its image. Already decided records are kept.
func (g *ValidationGateway) Discard(ctx context.Context, record *models.TicketValidation) error {
	if err := g.store.DeletePending(ctx, record.CorrelationID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return err
	}
	g.removeImage(record.ImagePath)
	return nil
}

// RemoveImages deletes files whose records were swept.
func (g *ValidationGateway) RemoveImages(paths ...string) {
	for _, p := range paths {
		g.removeImage(p)
	}
}

func (g *ValidationGateway) removeImage(path string) {
	if path == "" {
		return
	}
	if err := g.images.Delete(path); err != nil {
		g.logger.Warn("failed to delete ticket image", zap.String("path", path), zap.Error(err))
	}
}

// resolveMIME prefers the declared type when the content agrees with it and falls back to sniffing.
func (g *ValidationGateway) resolveMIME(declared string, head []byte) (string, bool) {
	sniffed := strings.ToLower(http.DetectContentType(head))
	if idx := strings.Index(sniffed, ";"); idx >= 0 {
		sniffed = strings.TrimSpace(sniffed[:idx])
	}
	if parsed, _, err := mime.ParseMediaType(declared); err == nil {
		declared = strings.ToLower(parsed)
	} else {
		declared = ""
	}

	candidate := declared
	switch {
	case strings.HasPrefix(sniffed, "image/"):
		candidate = sniffed
	case sniffed != "application/octet-stream":
		return "", false
	}
	if candidate == "" || candidate == "application/octet-stream" {
		return "", false
	}
	if _, ok := g.allowed[candidate]; !ok {
		return "", false
	}
	return candidate, true
}

func imageExtension(mimeType, filename string) string {
	if ext, ok := imageExtensions[mimeType]; ok {
		return ext
	}
	return strings.ToLower(filepath.Ext(filename))
}

func originalFilename(filename, fallback string) string {
	base := filepath.Base(strings.TrimSpace(filename))
	if base == "" || base == "." || base == "/" {
		return filepath.Base(fallback)
	}
	if len(base) > 255 {
		base = base[len(base)-255:]
	}
	return base
}
