package models

import "time"

// Participant is a registered raffle entry.
type Participant struct {
	ID                   string     `db:"id" json:"id"`
	TicketNumber         *string    `db:"ticket_number" json:"ticket_number"`
	Name                 string     `db:"name" json:"name"`
	LastName             string     `db:"last_name" json:"last_name"`
	NationalID           string     `db:"national_id" json:"national_id"`
	Phone                string     `db:"phone" json:"phone"`
	Province             string     `db:"province" json:"province"`
	TicketValidated      bool       `db:"ticket_validated" json:"ticket_validated"`
	ValidationReason     *string    `db:"validation_reason" json:"validation_reason,omitempty"`
	Confidence           *float64   `db:"confidence" json:"confidence,omitempty"`
	ValidationID         *string    `db:"validation_id" json:"validation_id,omitempty"`
	TicketImagePath      *string    `db:"ticket_image_path" json:"-"`
	DeletedAt            *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
	DeletionReason       *string    `db:"deletion_reason" json:"deletion_reason,omitempty"`
	DeletedBy            *string    `db:"deleted_by" json:"deleted_by,omitempty"`
	ReleasedTicketNumber *string    `db:"released_ticket_number" json:"released_ticket_number,omitempty"`
	CreatedAt            time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time  `db:"updated_at" json:"updated_at"`
}

// IsDeleted reports whether the participant was soft deleted.
func (p *Participant) IsDeleted() bool {
	return p.DeletedAt != nil
}

// ParticipantFilter captures admin listing criteria.
type ParticipantFilter struct {
	Province       string
	Validated      *bool
	Search         string
	IncludeDeleted bool
	Page           int
	PageSize       int
	SortBy         string
	SortOrder      string
}

// RegisterApprovedParams carries everything needed to turn an approved validation into a participant.
type RegisterApprovedParams struct {
	CorrelationID string
	Name          string
	LastName      string
	NationalID    string
	Phone         string
	Province      string
	NumberWidth   int
}

// ParticipantStats aggregates participant counters.
type ParticipantStats struct {
	TotalParticipants int `db:"total_participants" json:"total_participants"`
	ValidatedTickets  int `db:"validated_tickets" json:"validated_tickets"`
	RejectedTickets   int `db:"rejected_tickets" json:"rejected_tickets"`
	UniqueProvinces   int `db:"unique_provinces" json:"unique_provinces"`
	TodayParticipants int `db:"today_participants" json:"today_participants"`
	DeletedEntries    int `db:"deleted_entries" json:"deleted_entries"`
	ReleasedNumbers   int `db:"released_numbers" json:"released_numbers"`
}

// DailyCount is a single point of the daily registration series.
type DailyCount struct {
	Date  time.Time `db:"date" json:"date"`
	Count int       `db:"count" json:"count"`
}

// ProvinceCount groups active participants per province.
type ProvinceCount struct {
	Province string `db:"province" json:"province"`
	Count    int    `db:"count" json:"count"`
}
