package memory

import (
	"github.com/nolabru/psiconnect/internal/repository"
)

// Store exposes the concrete memory repositories so tests and the memory
// driver can seed actors and plans.
type Store struct {
	Associations *AssociationRepository
	Invitations  *InvitationRepository
	Licenses     *LicenseRepository
	Plans        *PlanRepository
	Actors       *ActorRepository
	Outbox       *OutboxRepository
	Audit        *AuditRepository
}

func NewStore() *Store {
	return &Store{
		Associations: NewAssociationRepository(),
		Invitations:  NewInvitationRepository(),
		Licenses:     NewLicenseRepository(),
		Plans:        NewPlanRepository(),
		Actors:       NewActorRepository(),
		Outbox:       NewOutboxRepository(),
		Audit:        NewAuditRepository(),
	}
}

func (s *Store) Set() repository.Set {
	return repository.Set{
		Associations: s.Associations,
		Invitations:  s.Invitations,
		Licenses:     s.Licenses,
		Plans:        s.Plans,
		Actors:       s.Actors,
		Outbox:       s.Outbox,
		Audit:        s.Audit,
		Tx:           Transactor{},
	}
}
