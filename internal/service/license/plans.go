package license

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/nolabru/psiconnect/internal/model"
)

const planListKey = "plans:all"

// Plan returns a catalog entry, served from cache when possible. Plans are
// immutable so entries are never invalidated early.
func (s *Service) Plan(ctx context.Context, id uuid.UUID) (*model.LicensePlan, error) {
	key := "plan:" + id.String()
	if cached, ok := s.plans.Get(key); ok {
		return cached.(*model.LicensePlan), nil
	}

	plan, err := s.planRepo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get license plan: %w", err)
	}
	s.plans.Set(key, plan, cache.DefaultExpiration)
	return plan, nil
}

func (s *Service) ListPlans(ctx context.Context) ([]*model.LicensePlan, error) {
	if cached, ok := s.plans.Get(planListKey); ok {
		return cached.([]*model.LicensePlan), nil
	}

	plans, err := s.planRepo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list license plans: %w", err)
	}
	s.plans.Set(planListKey, plans, cache.DefaultExpiration)
	return plans, nil
}
