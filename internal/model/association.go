package model

import (
	"time"

	"github.com/google/uuid"
)

type AssociationStatus string

const (
	AssociationStatusPending  AssociationStatus = "pending"
	AssociationStatusActive   AssociationStatus = "active"
	AssociationStatusRejected AssociationStatus = "rejected"
	AssociationStatusInactive AssociationStatus = "inactive"
)

// IsOpen reports whether the status counts against the one-open-record rule.
func (s AssociationStatus) IsOpen() bool {
	return s == AssociationStatusPending || s == AssociationStatusActive
}

// IsTerminal reports whether a record in this status may be reused by a new request.
func (s AssociationStatus) IsTerminal() bool {
	return s == AssociationStatusRejected || s == AssociationStatusInactive
}

func (s AssociationStatus) Valid() bool {
	return s.IsOpen() || s.IsTerminal()
}

type RelationKind string

const (
	RelationPsychologistPatient RelationKind = "psychologist_patient"
	RelationPsychologistCompany RelationKind = "psychologist_company"
)

func (k RelationKind) Valid() bool {
	return k == RelationPsychologistPatient || k == RelationPsychologistCompany
}

// ObjectKind is the actor kind on the object side of the relation. The subject
// is always a psychologist.
func (k RelationKind) ObjectKind() ActorKind {
	if k == RelationPsychologistCompany {
		return ActorKindCompany
	}
	return ActorKindPatient
}

// RelationBetween derives the relation kind linking two actor kinds, in any
// order. ok is false when no relation exists between them.
func RelationBetween(a, b ActorKind) (RelationKind, bool) {
	if a != ActorKindPsychologist {
		a, b = b, a
	}
	if a != ActorKindPsychologist {
		return "", false
	}
	switch b {
	case ActorKindPatient:
		return RelationPsychologistPatient, true
	case ActorKindCompany:
		return RelationPsychologistCompany, true
	}
	return "", false
}

// Association is a directed relationship between a psychologist (subject) and
// a patient or company (object). Records are never removed; terminal records
// are reopened when the same pair connects again.
type Association struct {
	ID                  uuid.UUID         `db:"id" json:"id"`
	SubjectID           uuid.UUID         `db:"subject_id" json:"subject_id"`
	ObjectID            uuid.UUID         `db:"object_id" json:"object_id"`
	RelationKind        RelationKind      `db:"relation_kind" json:"relation_kind"`
	Status              AssociationStatus `db:"status" json:"status"`
	InitiatorID         uuid.UUID         `db:"initiator_id" json:"initiator_id"`
	SourceAssociationID *uuid.UUID        `db:"source_association_id" json:"source_association_id,omitempty"`
	LicenseID           *uuid.UUID        `db:"license_id" json:"license_id,omitempty"`
	StartedAt           *time.Time        `db:"started_at" json:"started_at,omitempty"`
	EndedAt             *time.Time        `db:"ended_at" json:"ended_at,omitempty"`
	CreatedAt           time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time         `db:"updated_at" json:"updated_at"`
}

// Recipient is the party expected to accept or reject a pending record.
func (a *Association) Recipient() uuid.UUID {
	if a.InitiatorID == a.ObjectID {
		return a.SubjectID
	}
	return a.ObjectID
}

// HasParty reports whether actorID is subject or object.
func (a *Association) HasParty(actorID uuid.UUID) bool {
	return actorID != uuid.Nil && (a.SubjectID == actorID || a.ObjectID == actorID)
}

// Counterpart returns the other party of the record.
func (a *Association) Counterpart(actorID uuid.UUID) uuid.UUID {
	if a.SubjectID == actorID {
		return a.ObjectID
	}
	return a.SubjectID
}

// AssociationFilter narrows ListByActor results. Zero values match everything.
type AssociationFilter struct {
	Kind     RelationKind
	Statuses []AssociationStatus
}

func (f AssociationFilter) Matches(a *Association) bool {
	if f.Kind != "" && a.RelationKind != f.Kind {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if a.Status == s {
			return true
		}
	}
	return false
}
