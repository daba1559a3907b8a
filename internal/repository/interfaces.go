package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nolabru/psiconnect/internal/model"
)

// All repository interfaces in one file
type (
	// AssociationRepository persists association records. One record exists
	// per (subject, object, kind) triple; Insert fails with a Conflict error when
	// the triple is already taken.
	AssociationRepository interface {
		Insert(ctx context.Context, a *model.Association) error
		Get(ctx context.Context, id uuid.UUID) (*model.Association, error)
		FindByTriple(ctx context.Context, subjectID, objectID uuid.UUID, kind model.RelationKind) (*model.Association, error)
		ListByActor(ctx context.Context, actorID uuid.UUID, filter model.AssociationFilter) ([]*model.Association, error)
		ListBySource(ctx context.Context, sourceID uuid.UUID, status model.AssociationStatus) ([]*model.Association, error)
		ListByLicense(ctx context.Context, licenseID uuid.UUID, status model.AssociationStatus) ([]*model.Association, error)
		// UpdateStatus writes a's status, initiator, source, license and
		// timestamps only if the stored status still equals from. It fails with
		// a Conflict error otherwise.
		UpdateStatus(ctx context.Context, a *model.Association, from model.AssociationStatus) error
	}

	InvitationRepository interface {
		Create(ctx context.Context, inv *model.Invitation) error
		Get(ctx context.Context, id uuid.UUID) (*model.Invitation, error)
		GetByCode(ctx context.Context, code string) (*model.Invitation, error)
		ListPendingByEmail(ctx context.Context, email string) ([]*model.Invitation, error)
		FindPending(ctx context.Context, issuerID uuid.UUID, email string) (*model.Invitation, error)
		// UpdateStatus is a compare-and-set on the previous status.
		UpdateStatus(ctx context.Context, inv *model.Invitation, from model.InvitationStatus) error
	}

	LicenseRepository interface {
		Create(ctx context.Context, l *model.CompanyLicense) error
		Get(ctx context.Context, id uuid.UUID) (*model.CompanyLicense, error)
		ListByCompany(ctx context.Context, companyID uuid.UUID) ([]*model.CompanyLicense, error)
		// UpdateStatus writes status, payment status and canceled_at if the
		// stored status still equals from. requireUnused additionally demands
		// used_licenses = 0. Fails with a Conflict error when the guard misses.
		UpdateStatus(ctx context.Context, l *model.CompanyLicense, from model.LicenseStatus, requireUnused bool) error
		// ReserveSeat atomically increments used_licenses on the lowest-id
		// counting license of the company that has spare capacity.
		ReserveSeat(ctx context.Context, companyID uuid.UUID, now time.Time) (*model.CompanyLicense, error)
		// ReleaseSeat decrements used_licenses with a floor of zero.
		ReleaseSeat(ctx context.Context, companyID, licenseID uuid.UUID) (*model.CompanyLicense, error)
	}

	PlanRepository interface {
		Get(ctx context.Context, id uuid.UUID) (*model.LicensePlan, error)
		List(ctx context.Context) ([]*model.LicensePlan, error)
	}

	// ActorRepository reads the identity mirror kept in sync by the external
	// identity provider.
	ActorRepository interface {
		Get(ctx context.Context, id uuid.UUID) (*model.Actor, error)
		FindByEmail(ctx context.Context, email string) ([]*model.Actor, error)
		ListEmployees(ctx context.Context, companyID uuid.UUID) ([]*model.Actor, error)
	}

	OutboxRepository interface {
		Create(ctx context.Context, event *model.OutboxEvent) error
		GetPendingEvents(ctx context.Context, limit int) ([]*model.OutboxEvent, error)
		UpdateStatus(ctx context.Context, id uuid.UUID, status model.OutboxStatus, errMsg *string, retryCount int) error
		DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
	}

	AuditRepository interface {
		Create(ctx context.Context, log *model.AuditLog) error
		// DeleteBefore drops entries created before the cutoff.
		DeleteBefore(ctx context.Context, before time.Time) (int64, error)
	}

	// Transactor runs fn inside one storage transaction. Repository calls made
	// with the context handed to fn join that transaction.
	Transactor interface {
		WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
	}
)

// Set bundles one implementation of every repository so that a storage driver
// can be chosen in one place.
type Set struct {
	Associations AssociationRepository
	Invitations  InvitationRepository
	Licenses     LicenseRepository
	Plans        PlanRepository
	Actors       ActorRepository
	Outbox       OutboxRepository
	Audit        AuditRepository
	Tx           Transactor
}
