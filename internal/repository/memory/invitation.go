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

type InvitationRepository struct {
	mu      sync.RWMutex
	records map[uuid.UUID]*model.Invitation
	byCode  map[string]uuid.UUID
}

var _ repository.InvitationRepository = (*InvitationRepository)(nil)

func NewInvitationRepository() *InvitationRepository {
	return &InvitationRepository{
		records: make(map[uuid.UUID]*model.Invitation),
		byCode:  make(map[string]uuid.UUID),
	}
}

func cloneInvitation(inv *model.Invitation) *model.Invitation {
	c := *inv
	return &c
}

func (r *InvitationRepository) Create(ctx context.Context, inv *model.Invitation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byCode[inv.Code]; exists {
		return apperrors.Conflict("invitation code already in use")
	}
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	now := time.Now().UTC()
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = now
	}
	inv.UpdatedAt = now

	r.records[inv.ID] = cloneInvitation(inv)
	r.byCode[inv.Code] = inv.ID

	id, code := inv.ID, inv.Code
	onRollback(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.records, id)
		if r.byCode[code] == id {
			delete(r.byCode, code)
		}
	})
	return nil
}

func (r *InvitationRepository) Get(ctx context.Context, id uuid.UUID) (*model.Invitation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	inv, ok := r.records[id]
	if !ok {
		return nil, apperrors.NotFound("invitation", nil)
	}
	return cloneInvitation(inv), nil
}

func (r *InvitationRepository) GetByCode(ctx context.Context, code string) (*model.Invitation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byCode[code]
	if !ok {
		return nil, apperrors.NotFound("invitation", nil)
	}
	return cloneInvitation(r.records[id]), nil
}

// ListPendingByEmail returns pending invitations, newest first.
func (r *InvitationRepository) ListPendingByEmail(ctx context.Context, email string) ([]*model.Invitation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*model.Invitation, 0)
	for _, inv := range r.records {
		if inv.TargetEmail == email && inv.Status == model.InvitationStatusPending {
			out = append(out, cloneInvitation(inv))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (r *InvitationRepository) FindPending(ctx context.Context, issuerID uuid.UUID, email string) (*model.Invitation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, inv := range r.records {
		if inv.IssuerID == issuerID && inv.TargetEmail == email && inv.Status == model.InvitationStatusPending {
			return cloneInvitation(inv), nil
		}
	}
	return nil, apperrors.NotFound("invitation", nil)
}

func (r *InvitationRepository) UpdateStatus(ctx context.Context, inv *model.Invitation, from model.InvitationStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.records[inv.ID]
	if !ok {
		return apperrors.NotFound("invitation", nil)
	}
	if current.Status != from {
		return apperrors.Conflict("invitation status changed concurrently")
	}

	prev := cloneInvitation(current)
	current.Status = inv.Status
	current.AssociationID = inv.AssociationID
	current.RedeemedBy = inv.RedeemedBy
	current.AcceptedAt = inv.AcceptedAt
	current.UpdatedAt = time.Now().UTC()
	inv.UpdatedAt = current.UpdatedAt

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
