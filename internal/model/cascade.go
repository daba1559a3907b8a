package model

import (
	"github.com/google/uuid"
)

// CascadeFailure records one employee link that could not be processed.
type CascadeFailure struct {
	EmployeeID uuid.UUID `json:"employee_id"`
	Code       string    `json:"code"`
}

// CascadeSummary reports the per-employee outcome of a cascade. Links are
// independent; a summary with failures is still a completed cascade.
type CascadeSummary struct {
	CompanyID          uuid.UUID        `json:"company_id"`
	PsychologistID     uuid.UUID        `json:"psychologist_id"`
	Connected          []uuid.UUID      `json:"connected"`
	AlreadyConnected   []uuid.UUID      `json:"already_connected,omitempty"`
	Disconnected       []uuid.UUID      `json:"disconnected,omitempty"`
	SkippedForCapacity []uuid.UUID      `json:"skipped_for_capacity"`
	Failed             []CascadeFailure `json:"failed"`
}

func NewCascadeSummary(companyID, psychologistID uuid.UUID) *CascadeSummary {
	return &CascadeSummary{
		CompanyID:          companyID,
		PsychologistID:     psychologistID,
		Connected:          []uuid.UUID{},
		SkippedForCapacity: []uuid.UUID{},
		Failed:             []CascadeFailure{},
	}
}
