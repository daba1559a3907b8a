// Package memory implements the repository interfaces on mutex-guarded maps.
// Every mutation keeps the same atomicity the postgres implementation gets
// from constraints and conditional updates.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nolabru/psiconnect/internal/model"
	"github.com/nolabru/psiconnect/internal/repository"
	apperrors "github.com/nolabru/psiconnect/pkg/errors"
)

type tripleKey struct {
	subject uuid.UUID
	object  uuid.UUID
	kind    model.RelationKind
}

type AssociationRepository struct {
	mu       sync.RWMutex
	records  map[uuid.UUID]*model.Association
	byTriple map[tripleKey]uuid.UUID
}

var _ repository.AssociationRepository = (*AssociationRepository)(nil)

func NewAssociationRepository() *AssociationRepository {
	return &AssociationRepository{
		records:  make(map[uuid.UUID]*model.Association),
		byTriple: make(map[tripleKey]uuid.UUID),
	}
}

func cloneAssociation(a *model.Association) *model.Association {
	c := *a
	return &c
}

func (r *AssociationRepository) Insert(ctx context.Context, a *model.Association) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := tripleKey{a.SubjectID, a.ObjectID, a.RelationKind}
	if _, exists := r.byTriple[key]; exists {
		return apperrors.Conflict("association already exists for this pair")
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now

	r.records[a.ID] = cloneAssociation(a)
	r.byTriple[key] = a.ID

	id := a.ID
	onRollback(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.records, id)
		if r.byTriple[key] == id {
			delete(r.byTriple, key)
		}
	})
	return nil
}

func (r *AssociationRepository) Get(ctx context.Context, id uuid.UUID) (*model.Association, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.records[id]
	if !ok {
		return nil, apperrors.NotFound("association", nil)
	}
	return cloneAssociation(a), nil
}

func (r *AssociationRepository) FindByTriple(ctx context.Context, subjectID, objectID uuid.UUID, kind model.RelationKind) (*model.Association, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byTriple[tripleKey{subjectID, objectID, kind}]
	if !ok {
		return nil, apperrors.NotFound("association", nil)
	}
	return cloneAssociation(r.records[id]), nil
}

func (r *AssociationRepository) ListByActor(ctx context.Context, actorID uuid.UUID, filter model.AssociationFilter) ([]*model.Association, error) {
	return r.list(func(a *model.Association) bool {
		return a.HasParty(actorID) && filter.Matches(a)
	}), nil
}

func (r *AssociationRepository) ListBySource(ctx context.Context, sourceID uuid.UUID, status model.AssociationStatus) ([]*model.Association, error) {
	return r.list(func(a *model.Association) bool {
		return a.SourceAssociationID != nil && *a.SourceAssociationID == sourceID && a.Status == status
	}), nil
}

func (r *AssociationRepository) ListByLicense(ctx context.Context, licenseID uuid.UUID, status model.AssociationStatus) ([]*model.Association, error) {
	return r.list(func(a *model.Association) bool {
		return a.LicenseID != nil && *a.LicenseID == licenseID && a.Status == status
	}), nil
}

func (r *AssociationRepository) list(match func(*model.Association) bool) []*model.Association {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*model.Association, 0)
	for _, a := range r.records {
		if match(a) {
			out = append(out, cloneAssociation(a))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (r *AssociationRepository) UpdateStatus(ctx context.Context, a *model.Association, from model.AssociationStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.records[a.ID]
	if !ok {
		return apperrors.NotFound("association", nil)
	}
	if current.Status != from {
		return apperrors.Conflict("association status changed concurrently")
	}

	prev := cloneAssociation(current)
	current.Status = a.Status
	current.InitiatorID = a.InitiatorID
	current.SourceAssociationID = a.SourceAssociationID
	current.LicenseID = a.LicenseID
	current.StartedAt = a.StartedAt
	current.EndedAt = a.EndedAt
	current.UpdatedAt = time.Now().UTC()
	a.UpdatedAt = current.UpdatedAt

	written := current.UpdatedAt
	onRollback(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if c, ok := r.records[prev.ID]; ok && c.UpdatedAt.Equal(written) {
			*c = *prev
		}
	})
	return nil
}
