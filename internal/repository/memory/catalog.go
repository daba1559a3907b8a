package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/nolabru/psiconnect/internal/model"
	"github.com/nolabru/psiconnect/internal/repository"
	apperrors "github.com/nolabru/psiconnect/pkg/errors"
)

// PlanRepository serves the license plan catalog.
type PlanRepository struct {
	mu    sync.RWMutex
	plans map[uuid.UUID]*model.LicensePlan
}

var _ repository.PlanRepository = (*PlanRepository)(nil)

func NewPlanRepository(plans ...*model.LicensePlan) *PlanRepository {
	r := &PlanRepository{plans: make(map[uuid.UUID]*model.LicensePlan)}
	for _, p := range plans {
		r.Put(p)
	}
	return r
}

// Put adds or replaces a plan.
func (r *PlanRepository) Put(p *model.LicensePlan) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *p
	r.plans[p.ID] = &c
}

func (r *PlanRepository) Get(ctx context.Context, id uuid.UUID) (*model.LicensePlan, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.plans[id]
	if !ok {
		return nil, apperrors.NotFound("license plan", nil)
	}
	c := *p
	return &c, nil
}

func (r *PlanRepository) List(ctx context.Context) ([]*model.LicensePlan, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*model.LicensePlan, 0, len(r.plans))
	for _, p := range r.plans {
		c := *p
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ActorRepository is the in-process identity mirror.
type ActorRepository struct {
	mu     sync.RWMutex
	actors map[uuid.UUID]*model.Actor
}

var _ repository.ActorRepository = (*ActorRepository)(nil)

func NewActorRepository(actors ...*model.Actor) *ActorRepository {
	r := &ActorRepository{actors: make(map[uuid.UUID]*model.Actor)}
	for _, a := range actors {
		r.Put(a)
	}
	return r
}

// Put adds or replaces an actor.
func (r *ActorRepository) Put(a *model.Actor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *a
	r.actors[a.ID] = &c
}

func (r *ActorRepository) Get(ctx context.Context, id uuid.UUID) (*model.Actor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.actors[id]
	if !ok {
		return nil, apperrors.NotFound("actor", nil)
	}
	c := *a
	return &c, nil
}

// FindByEmail matches case-insensitively.
func (r *ActorRepository) FindByEmail(ctx context.Context, email string) ([]*model.Actor, error) {
	return r.filter(func(a *model.Actor) bool {
		return strings.EqualFold(a.Email, email)
	}), nil
}

func (r *ActorRepository) ListEmployees(ctx context.Context, companyID uuid.UUID) ([]*model.Actor, error) {
	return r.filter(func(a *model.Actor) bool {
		return a.IsEmployee() && *a.CompanyID == companyID && a.Status == model.ActorStatusActive
	}), nil
}

func (r *ActorRepository) filter(match func(*model.Actor) bool) []*model.Actor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*model.Actor, 0)
	for _, a := range r.actors {
		if match(a) {
			c := *a
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}
