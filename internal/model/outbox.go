package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "PENDING"
	OutboxStatusProcessed OutboxStatus = "PROCESSED"
	OutboxStatusFailed    OutboxStatus = "FAILED"
)

// Event types written to the outbox. The worker forwards them to the
// notifications channel; delivery happens elsewhere.
const (
	EventAssociationRequested    = "association.requested"
	EventAssociationAccepted     = "association.accepted"
	EventAssociationRejected     = "association.rejected"
	EventAssociationDisconnected = "association.disconnected"
	EventAssociationWithdrawn    = "association.withdrawn"
	EventInvitationCreated       = "invitation.created"
	EventInvitationRedeemed      = "invitation.redeemed"
	EventInvitationCanceled      = "invitation.canceled"
	EventLicenseAcquired         = "license.acquired"
	EventLicenseActivated        = "license.activated"
	EventLicenseCanceled         = "license.canceled"
	EventLicensePaymentUpdated   = "license.payment_updated"
	EventCascadeCompleted        = "cascade.completed"
)

type OutboxEvent struct {
	ID           uuid.UUID       `db:"id" json:"id"`
	EventType    string          `db:"event_type" json:"event_type"`
	Payload      json.RawMessage `db:"payload" json:"payload"`
	Status       OutboxStatus    `db:"status" json:"status"`
	ErrorMessage *string         `db:"error_message" json:"error_message,omitempty"`
	RetryCount   int             `db:"retry_count" json:"retry_count"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	ProcessedAt  *time.Time      `db:"processed_at" json:"processed_at,omitempty"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}
