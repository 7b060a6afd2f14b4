package dto

import "time"

// RegisterRequest is the participant form submitted after an approved validation.
type RegisterRequest struct {
	ApprovalToken string `json:"approvalToken" validate:"required"`
	Name          string `json:"name" validate:"required,min=2,max=100"`
	LastName      string `json:"lastName" validate:"required,min=2,max=100"`
	NationalID    string `json:"nationalId" validate:"required,min=5,max=20"`
	Phone         string `json:"phone" validate:"required,min=7,max=20"`
	Province      string `json:"province" validate:"required,min=2,max=50"`
}

// RegisterResponse confirms the registration and the assigned ticket number.
type RegisterResponse struct {
	ParticipantID string    `json:"participantId"`
	TicketNumber  string    `json:"ticketNumber"`
	Name          string    `json:"name"`
	LastName      string    `json:"lastName"`
	RegisteredAt  time.Time `json:"registeredAt"`
}
