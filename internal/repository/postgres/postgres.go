package postgres

import (
	"github.com/jmoiron/sqlx"

	"github.com/nolabru/psiconnect/internal/repository"
)

// NewSet wires every repository onto one pool.
func NewSet(db *sqlx.DB) repository.Set {
	base := NewBaseRepository(db)
	return repository.Set{
		Associations: NewAssociationRepository(base),
		Invitations:  NewInvitationRepository(base),
		Licenses:     NewLicenseRepository(base),
		Plans:        NewPlanRepository(base),
		Actors:       NewActorRepository(base),
		Outbox:       NewOutboxRepository(base),
		Audit:        NewAuditRepository(base),
		Tx:           base,
	}
}
