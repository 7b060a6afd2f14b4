package dto

import (
	"time"

	"github.com/noah-isme/sorteo-api/internal/models"
)

// ConfirmWipeAll is the phrase required to bulk delete participants.
const ConfirmWipeAll = "DELETE ALL"

// ParticipantDetail enriches a participant with a short-lived link to its ticket image.
type ParticipantDetail struct {
	models.Participant
	ImageURL       string     `json:"imageUrl,omitempty"`
	ImageExpiresAt *time.Time `json:"imageExpiresAt,omitempty"`
}

// DeleteParticipantRequest carries the mandatory soft delete reason.
type DeleteParticipantRequest struct {
	Reason string `json:"reason" validate:"required,min=3,max=500"`
}

// DeleteParticipantResponse reports the number released by a soft delete.
type DeleteParticipantResponse struct {
	ID                   string    `json:"id"`
	ReleasedTicketNumber *string   `json:"releasedTicketNumber,omitempty"`
	DeletedAt            time.Time `json:"deletedAt"`
}

// WipeParticipantsRequest guards the bulk delete behind an explicit phrase.
type WipeParticipantsRequest struct {
	Confirm string `json:"confirm" validate:"required"`
}

// WipeParticipantsResponse reports how many participants were removed.
type WipeParticipantsResponse struct {
	Deleted int64 `json:"deleted"`
}

// ExportResult is a rendered participant export.
type ExportResult struct {
	Filename    string
	ContentType string
	Content     []byte
}

// ActorInfo identifies the admin performing a mutation.
type ActorInfo struct {
	UserID    string
	IP        string
	UserAgent string
}
