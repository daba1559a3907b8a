// Package association persists relationship records and enforces the
// one-open-record-per-pair rule at write time.
package association

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nolabru/psiconnect/internal/model"
	"github.com/nolabru/psiconnect/internal/repository"
	apperrors "github.com/nolabru/psiconnect/pkg/errors"
)

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

type Store struct {
	repo repository.AssociationRepository
	now  func() time.Time
}

func NewStore(repo repository.AssociationRepository, opts ...Option) *Store {
	s := &Store{
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create opens a pending record for the triple. A rejected or inactive record
// for the same triple is reused instead of inserting a second row. initiatorID
// defaults to the subject and must be one of the two parties.
func (s *Store) Create(ctx context.Context, subjectID, objectID uuid.UUID, kind model.RelationKind, initiatorID uuid.UUID) (*model.Association, error) {
	if initiatorID == uuid.Nil {
		initiatorID = subjectID
	}
	if err := validate(subjectID, objectID, kind); err != nil {
		return nil, err
	}
	if initiatorID != subjectID && initiatorID != objectID {
		return nil, apperrors.BadRequest("initiator must be a party to the association", nil)
	}

	return s.open(ctx, subjectID, objectID, kind, func(a *model.Association) {
		a.Status = model.AssociationStatusPending
		a.InitiatorID = initiatorID
		a.StartedAt = nil
	})
}

// CreateDerived opens an active employee link on behalf of a company
// association. The record remembers its source and the license seat backing it.
func (s *Store) CreateDerived(ctx context.Context, psychologistID, employeeID, sourceID, licenseID uuid.UUID) (*model.Association, error) {
	kind := model.RelationPsychologistPatient
	if err := validate(psychologistID, employeeID, kind); err != nil {
		return nil, err
	}

	now := s.now()
	return s.open(ctx, psychologistID, employeeID, kind, func(a *model.Association) {
		a.Status = model.AssociationStatusActive
		a.InitiatorID = psychologistID
		a.SourceAssociationID = &sourceID
		a.LicenseID = &licenseID
		a.StartedAt = &now
	})
}

func (s *Store) open(ctx context.Context, subjectID, objectID uuid.UUID, kind model.RelationKind, init func(*model.Association)) (*model.Association, error) {
	existing, err := s.repo.FindByTriple(ctx, subjectID, objectID, kind)
	if err != nil && !apperrors.IsCode(err, apperrors.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up association: %w", err)
	}

	if existing == nil {
		a := &model.Association{
			SubjectID:    subjectID,
			ObjectID:     objectID,
			RelationKind: kind,
		}
		init(a)
		if err := s.repo.Insert(ctx, a); err != nil {
			return nil, fmt.Errorf("failed to create association: %w", err)
		}
		return a, nil
	}

	if existing.Status.IsOpen() {
		return nil, apperrors.Conflict("an open association already exists for this pair")
	}

	from := existing.Status
	existing.SourceAssociationID = nil
	existing.LicenseID = nil
	existing.EndedAt = nil
	init(existing)
	if err := s.repo.UpdateStatus(ctx, existing, from); err != nil {
		return nil, fmt.Errorf("failed to reopen association: %w", err)
	}
	return existing, nil
}

func validate(subjectID, objectID uuid.UUID, kind model.RelationKind) error {
	if !kind.Valid() {
		return apperrors.BadRequest(fmt.Sprintf("unknown relation kind %q", kind), nil)
	}
	if subjectID == uuid.Nil || objectID == uuid.Nil {
		return apperrors.BadRequest("both parties are required", nil)
	}
	if subjectID == objectID {
		return apperrors.BadRequest("an actor cannot be associated with itself", nil)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (*model.Association, error) {
	a, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get association: %w", err)
	}
	return a, nil
}

// Find returns the record for the triple in any status.
func (s *Store) Find(ctx context.Context, subjectID, objectID uuid.UUID, kind model.RelationKind) (*model.Association, error) {
	a, err := s.repo.FindByTriple(ctx, subjectID, objectID, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to find association: %w", err)
	}
	return a, nil
}

// FindActiveOrPending returns nil without error when the pair has no open record.
func (s *Store) FindActiveOrPending(ctx context.Context, subjectID, objectID uuid.UUID, kind model.RelationKind) (*model.Association, error) {
	a, err := s.repo.FindByTriple(ctx, subjectID, objectID, kind)
	if apperrors.IsCode(err, apperrors.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find association: %w", err)
	}
	if !a.Status.IsOpen() {
		return nil, nil
	}
	return a, nil
}

func (s *Store) ListByActor(ctx context.Context, actorID uuid.UUID, kind model.RelationKind, statuses ...model.AssociationStatus) ([]*model.Association, error) {
	list, err := s.repo.ListByActor(ctx, actorID, model.AssociationFilter{Kind: kind, Statuses: statuses})
	if err != nil {
		return nil, fmt.Errorf("failed to list associations: %w", err)
	}
	return list, nil
}

func (s *Store) ListBySource(ctx context.Context, sourceID uuid.UUID, status model.AssociationStatus) ([]*model.Association, error) {
	list, err := s.repo.ListBySource(ctx, sourceID, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list derived associations: %w", err)
	}
	return list, nil
}

func (s *Store) ListByLicense(ctx context.Context, licenseID uuid.UUID, status model.AssociationStatus) ([]*model.Association, error) {
	list, err := s.repo.ListByLicense(ctx, licenseID, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list licensed associations: %w", err)
	}
	return list, nil
}

// SetStatus writes a new status with the matching timestamps, guarded on the
// status a was read with. Only the connection state machine calls it.
func (s *Store) SetStatus(ctx context.Context, a *model.Association, to model.AssociationStatus) error {
	if !to.Valid() {
		return apperrors.BadRequest(fmt.Sprintf("unknown association status %q", to), nil)
	}

	from := a.Status
	next := *a
	now := s.now()
	next.Status = to
	switch to {
	case model.AssociationStatusActive:
		if next.StartedAt == nil {
			next.StartedAt = &now
		}
		next.EndedAt = nil
	case model.AssociationStatusRejected, model.AssociationStatusInactive:
		next.EndedAt = &now
	case model.AssociationStatusPending:
		next.EndedAt = nil
	}

	if err := s.repo.UpdateStatus(ctx, &next, from); err != nil {
		return fmt.Errorf("failed to set association status: %w", err)
	}
	*a = next
	return nil
}
