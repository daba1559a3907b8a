package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type AuditLog struct {
	ID         uuid.UUID       `json:"id" db:"id"`
	ActorID    uuid.UUID       `json:"actor_id" db:"actor_id"`
	ActorKind  string          `json:"actor_kind" db:"actor_kind"`
	Action     string          `json:"action" db:"action"`
	EntityType string          `json:"entity_type" db:"entity_type"`
	EntityID   uuid.UUID       `json:"entity_id" db:"entity_id"`
	Changes    json.RawMessage `json:"changes" db:"changes"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
}

const (
	// Action types
	AuditActionCreate     = "create"
	AuditActionReopen     = "reopen"
	AuditActionAccept     = "accept"
	AuditActionReject     = "reject"
	AuditActionDisconnect = "disconnect"
	AuditActionWithdraw   = "withdraw"
	AuditActionRedeem     = "redeem"
	AuditActionCancel     = "cancel"
	AuditActionActivate   = "activate"
	AuditActionPayment    = "payment"

	// Entity types
	AuditEntityAssociation = "association"
	AuditEntityInvitation  = "invitation"
	AuditEntityLicense     = "company_license"
)
