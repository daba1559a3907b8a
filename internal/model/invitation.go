package model

import (
	"time"

	"github.com/google/uuid"
)

type InvitationStatus string

const (
	InvitationStatusPending  InvitationStatus = "pending"
	InvitationStatusAccepted InvitationStatus = "accepted"
	InvitationStatusCanceled InvitationStatus = "canceled"
	InvitationStatusExpired  InvitationStatus = "expired"
)

// Invitation is a relationship request addressed to an email that has no
// account behind it yet.
type Invitation struct {
	ID            uuid.UUID        `db:"id" json:"id"`
	Code          string           `db:"code" json:"code"`
	TargetEmail   string           `db:"target_email" json:"target_email"`
	IssuerID      uuid.UUID        `db:"issuer_id" json:"issuer_id"`
	IssuerKind    ActorKind        `db:"issuer_kind" json:"issuer_kind"`
	Status        InvitationStatus `db:"status" json:"status"`
	AssociationID *uuid.UUID       `db:"association_id" json:"association_id,omitempty"`
	RedeemedBy    *uuid.UUID       `db:"redeemed_by" json:"redeemed_by,omitempty"`
	CreatedAt     time.Time        `db:"created_at" json:"created_at"`
	AcceptedAt    *time.Time       `db:"accepted_at" json:"accepted_at,omitempty"`
	ExpiresAt     *time.Time       `db:"expires_at" json:"expires_at,omitempty"`
	UpdatedAt     time.Time        `db:"updated_at" json:"updated_at"`
}

func (i *Invitation) Expired(now time.Time) bool {
	return i.ExpiresAt != nil && !now.Before(*i.ExpiresAt)
}

// InviteResult holds exactly one of Invitation or Association.
type InviteResult struct {
	Invitation  *Invitation  `json:"invitation,omitempty"`
	Association *Association `json:"association,omitempty"`
}
