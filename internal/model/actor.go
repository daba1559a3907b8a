package model

import (
	"github.com/google/uuid"
)

type ActorKind string

const (
	ActorKindPsychologist ActorKind = "psychologist"
	ActorKindCompany      ActorKind = "company"
	ActorKindPatient      ActorKind = "patient"
	ActorKindAdmin        ActorKind = "admin"
	ActorKindSystem       ActorKind = "system"
)

type ActorStatus string

const (
	ActorStatusActive   ActorStatus = "active"
	ActorStatusInactive ActorStatus = "inactive"
)

// Actor mirrors an identity owned by the external identity provider. The
// engine only reads it.
type Actor struct {
	ID        uuid.UUID   `db:"id" json:"id"`
	Kind      ActorKind   `db:"kind" json:"kind"`
	Name      string      `db:"name" json:"name"`
	Email     string      `db:"email" json:"email"`
	Status    ActorStatus `db:"status" json:"status"`
	CompanyID *uuid.UUID  `db:"company_id" json:"company_id,omitempty"`
}

// IsEmployee reports whether the actor is a patient bound to a company.
func (a *Actor) IsEmployee() bool {
	return a.Kind == ActorKindPatient && a.CompanyID != nil
}
