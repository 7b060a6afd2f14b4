package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"

	"github.com/noah-isme/sorteo-api/internal/models"
)

const validationColumns = `id, correlation_id, image_path, image_filename, mime_type, status, validation_result,
       reason, confidence, callback_received, dispatch_attempts, last_dispatch_error, expires_at, consumed_at,
       created_at, updated_at`

// ValidationRepository persists ticket validation attempts keyed by correlation id.
type ValidationRepository struct {
	db *sqlx.DB
}

// NewValidationRepository constructs the repository.
func NewValidationRepository(db *sqlx.DB) *ValidationRepository {
	return &ValidationRepository{db: db}
}

// Create stores a new pending validation. Identifiers are generated when empty; ExpiresAt must be set.
func (r *ValidationRepository) Create(ctx context.Context, v *models.TicketValidation) error {
	if v.ExpiresAt.IsZero() {
		return fmt.Errorf("create ticket validation: expires_at required")
	}
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.CorrelationID == "" {
		v.CorrelationID = uuid.NewString()
	}
	now := time.Now().UTC()
	if v.CreatedAt.IsZero() {
		v.CreatedAt = now
	}
	v.UpdatedAt = v.CreatedAt
	v.Status = models.ValidationPending
	v.CallbackReceived = false

	const query = `INSERT INTO ticket_validations
	(id, correlation_id, image_path, image_filename, mime_type, status, callback_received, dispatch_attempts, expires_at, created_at, updated_at)
	VALUES (:id, :correlation_id, :image_path, :image_filename, :mime_type, :status, :callback_received, :dispatch_attempts, :expires_at, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, v); err != nil {
		return fmt.Errorf("create ticket validation: %w", err)
	}
	return nil
}

// FindByCorrelationID returns sql.ErrNoRows when the id is unknown or not a UUID.
func (r *ValidationRepository) FindByCorrelationID(ctx context.Context, correlationID string) (*models.TicketValidation, error) {
	if !isCorrelationID(correlationID) {
		return nil, sql.ErrNoRows
	}
	query := `SELECT ` + validationColumns + ` FROM ticket_validations WHERE correlation_id = $1`
	var v models.TicketValidation
	if err := r.db.GetContext(ctx, &v, query, correlationID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find ticket validation: %w", err)
	}
	return &v, nil
}

// ApplyResult records a verdict exactly once. The write only lands on a pending, unanswered,
// unexpired row; otherwise the row is re-read to classify why nothing changed.
func (r *ValidationRepository) ApplyResult(ctx context.Context, verdict models.ValidationVerdict, now time.Time) (models.ApplyOutcome, *models.TicketValidation, error) {
	if !isCorrelationID(verdict.CorrelationID) {
		return models.ApplyNotFound, nil, nil
	}
	var raw types.NullJSONText
	if len(verdict.Raw) > 0 {
		raw = types.NullJSONText{JSONText: types.JSONText(verdict.Raw), Valid: true}
	}

	query := `UPDATE ticket_validations
	SET status = $2, reason = $3, confidence = $4, validation_result = $5, callback_received = TRUE, updated_at = $6
	WHERE correlation_id = $1 AND callback_received = FALSE AND status = 'pending' AND expires_at > $6
	RETURNING ` + validationColumns

	var updated models.TicketValidation
	err := r.db.GetContext(ctx, &updated, query,
		verdict.CorrelationID, verdict.Status(), verdict.Reason, verdict.Confidence, raw, now)
	if err == nil {
		return models.ApplyApplied, &updated, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", nil, fmt.Errorf("apply validation result: %w", err)
	}

	current, err := r.FindByCorrelationID(ctx, verdict.CorrelationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.ApplyNotFound, nil, nil
		}
		return "", nil, err
	}
	if current.CallbackReceived || current.Status != models.ValidationPending {
		return models.ApplyAlreadyApplied, current, nil
	}
	return models.ApplyExpired, current, nil
}

// RecordDispatch tracks an outbound attempt. A nil dispatchErr clears the last error.
func (r *ValidationRepository) RecordDispatch(ctx context.Context, correlationID string, dispatchErr *string) error {
	const query = `UPDATE ticket_validations
	SET dispatch_attempts = dispatch_attempts + 1, last_dispatch_error = $2, updated_at = $3
	WHERE correlation_id = $1`
	if _, err := r.db.ExecContext(ctx, query, correlationID, dispatchErr, time.Now().UTC()); err != nil {
		return fmt.Errorf("record validation dispatch: %w", err)
	}
	return nil
}

// DeletePending removes a still-pending validation, used when the upload could not be handed off.
func (r *ValidationRepository) DeletePending(ctx context.Context, correlationID string) error {
	const query = `DELETE FROM ticket_validations WHERE correlation_id = $1 AND status = 'pending'`
	res, err := r.db.ExecContext(ctx, query, correlationID)
	if err != nil {
		return fmt.Errorf("delete pending validation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check pending validation delete rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteExpiredPending removes pending validations whose deadline passed before now and returns
// the image locations they referenced.
func (r *ValidationRepository) DeleteExpiredPending(ctx context.Context, now time.Time) ([]models.ExpiredValidation, error) {
	const query = `DELETE FROM ticket_validations
	WHERE status = 'pending' AND expires_at < $1
	RETURNING correlation_id, image_path`
	var deleted []models.ExpiredValidation
	if err := r.db.SelectContext(ctx, &deleted, query, now); err != nil {
		return nil, fmt.Errorf("delete expired validations: %w", err)
	}
	return deleted, nil
}

// CountByStatus returns the number of validations per stored status.
func (r *ValidationRepository) CountByStatus(ctx context.Context) (map[models.ValidationStatus]int, error) {
	const query = `SELECT status, COUNT(*) AS count FROM ticket_validations GROUP BY status`
	var rows []struct {
		Status models.ValidationStatus `db:"status"`
		Count  int                     `db:"count"`
	}
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("count validations: %w", err)
	}
	counts := make(map[models.ValidationStatus]int, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

// isCorrelationID reports whether id can exist in the UUID correlation_id column.
func isCorrelationID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
