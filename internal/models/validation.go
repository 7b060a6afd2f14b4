package models

import (
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx/types"
)

// ValidationStatus is the stored state of a ticket validation. Expiry is derived, never stored.
type ValidationStatus string

const (
	ValidationPending  ValidationStatus = "pending"
	ValidationApproved ValidationStatus = "approved"
	ValidationRejected ValidationStatus = "rejected"
	// ValidationExpired is only reported to clients.
	ValidationExpired ValidationStatus = "expired"
)

// TicketValidation tracks one upload attempt keyed by its correlation id.
type TicketValidation struct {
	ID                string             `db:"id" json:"id"`
	CorrelationID     string             `db:"correlation_id" json:"correlation_id"`
	ImagePath         string             `db:"image_path" json:"-"`
	ImageFilename     string             `db:"image_filename" json:"image_filename"`
	MimeType          string             `db:"mime_type" json:"mime_type"`
	Status            ValidationStatus   `db:"status" json:"status"`
	ValidationResult  types.NullJSONText `db:"validation_result" json:"-"`
	Reason            *string            `db:"reason" json:"reason,omitempty"`
	Confidence        *float64           `db:"confidence" json:"confidence,omitempty"`
	CallbackReceived  bool               `db:"callback_received" json:"callback_received"`
	DispatchAttempts  int                `db:"dispatch_attempts" json:"dispatch_attempts"`
	LastDispatchError *string            `db:"last_dispatch_error" json:"last_dispatch_error,omitempty"`
	ExpiresAt         time.Time          `db:"expires_at" json:"expires_at"`
	ConsumedAt        *time.Time         `db:"consumed_at" json:"consumed_at,omitempty"`
	CreatedAt         time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time          `db:"updated_at" json:"updated_at"`
}

// IsExpired reports whether the record is past its deadline.
func (v *TicketValidation) IsExpired(now time.Time) bool {
	return !now.Before(v.ExpiresAt)
}

// EffectiveStatus folds the deadline into the stored status. Terminal verdicts never expire for
// reporting purposes; registration enforces the deadline separately.
func (v *TicketValidation) EffectiveStatus(now time.Time) ValidationStatus {
	if v.Status == ValidationPending && v.IsExpired(now) {
		return ValidationExpired
	}
	return v.Status
}

// ApplyOutcome classifies a verdict delivery.
type ApplyOutcome string

const (
	ApplyApplied        ApplyOutcome = "applied"
	ApplyAlreadyApplied ApplyOutcome = "already_applied"
	ApplyNotFound       ApplyOutcome = "not_found"
	ApplyExpired        ApplyOutcome = "expired"
)

// ValidationVerdict is the decision delivered by the external workflow.
type ValidationVerdict struct {
	CorrelationID string
	Valid         bool
	Reason        *string
	Confidence    *float64
	Raw           json.RawMessage
}

// Status maps the verdict to the terminal state it produces.
func (v ValidationVerdict) Status() ValidationStatus {
	if v.Valid {
		return ValidationApproved
	}
	return ValidationRejected
}

// ExpiredValidation is the part of a swept record needed to clean up its image.
type ExpiredValidation struct {
	CorrelationID string `db:"correlation_id"`
	ImagePath     string `db:"image_path"`
}
