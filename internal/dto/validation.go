package dto

import (
	"encoding/json"
	"io"
	"time"
)

// Client-facing validation states. "processing" is what a pending record reports to uploaders.
const (
	UploadStatusProcessing = "processing"

	NextStepWait     = "wait"
	NextStepRegister = "register"
	NextStepRetry    = "retry"
	NextStepDone     = "done"
)

// ImageUpload is a ticket photo received from the public upload form.
type ImageUpload struct {
	Filename    string
	ContentType string
	Size        int64
	Content     io.Reader
}

// UploadResponse is returned by POST /upload.
type UploadResponse struct {
	CorrelationID string     `json:"correlationId"`
	Status        string     `json:"status"`
	Valid         *bool      `json:"valid,omitempty"`
	PollAfterMs   int64      `json:"pollAfterMs,omitempty"`
	Reason        *string    `json:"reason,omitempty"`
	Confidence    *float64   `json:"confidence,omitempty"`
	ApprovalToken string     `json:"approvalToken,omitempty"`
	NextStep      string     `json:"nextStep"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
}

// ValidationStatusResponse is returned by GET /validation-status/:correlationId.
type ValidationStatusResponse struct {
	CorrelationID string    `json:"correlationId"`
	Status        string    `json:"status"`
	Reason        *string   `json:"reason,omitempty"`
	Confidence    *float64  `json:"confidence,omitempty"`
	ApprovalToken string    `json:"approvalToken,omitempty"`
	Registered    bool      `json:"registered"`
	NextStep      string    `json:"nextStep"`
	PollAfterMs   int64     `json:"pollAfterMs,omitempty"`
	ExpiresAt     time.Time `json:"expiresAt"`
}

// ValidationCallback is the verdict posted by the external workflow.
type ValidationCallback struct {
	CorrelationID string   `json:"correlationId" validate:"required"`
	Valid         *bool    `json:"valid" validate:"required"`
	Reason        *string  `json:"reason,omitempty" validate:"omitempty,max=500"`
	Confidence    *float64 `json:"confidence,omitempty" validate:"omitempty,gte=0,lte=1"`
	// Raw keeps the exact payload for the audit column.
	Raw json.RawMessage `json:"-" swaggerignore:"true"`
}

// CallbackResponse acknowledges a callback delivery.
type CallbackResponse struct {
	Received       bool   `json:"received"`
	AlreadyApplied bool   `json:"alreadyApplied"`
	Status         string `json:"status,omitempty"`
}
