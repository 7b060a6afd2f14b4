package dto

import (
	"time"

	"github.com/noah-isme/sorteo-api/internal/models"
)

// AdminMetricsResponse captures the aggregated admin dashboard payload.
type AdminMetricsResponse struct {
	Participants     models.ParticipantStats         `json:"participants"`
	Validations      map[models.ValidationStatus]int `json:"validations"`
	Daily            []models.DailyCount             `json:"daily"`
	NextTicketNumber string                          `json:"nextTicketNumber"`
	System           *models.SystemMetrics           `json:"system,omitempty"`
	GeneratedAt      time.Time                       `json:"generatedAt"`
}

// PublicStatsResponse is the anonymous counter shown on the landing page.
type PublicStatsResponse struct {
	TotalParticipants int `json:"totalParticipants"`
	ValidatedTickets  int `json:"validatedTickets"`
	Provinces         int `json:"provinces"`
}
