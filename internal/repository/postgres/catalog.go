package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/nolabru/psiconnect/internal/model"
	"github.com/nolabru/psiconnect/internal/repository"
)

type planRepository struct {
	BaseRepository
}

func NewPlanRepository(base BaseRepository) repository.PlanRepository {
	return &planRepository{base}
}

func (r *planRepository) Get(ctx context.Context, id uuid.UUID) (*model.LicensePlan, error) {
	var p model.LicensePlan
	query := `SELECT id, name, max_users, price_monthly, price_yearly, active FROM license_plans WHERE id = $1`
	if err := sqlx.GetContext(ctx, r.ext(ctx), &p, query, id); err != nil {
		return nil, translate(err, "license plan")
	}
	return &p, nil
}

func (r *planRepository) List(ctx context.Context) ([]*model.LicensePlan, error) {
	query := `SELECT id, name, max_users, price_monthly, price_yearly, active FROM license_plans ORDER BY name`
	out := make([]*model.LicensePlan, 0)
	if err := sqlx.SelectContext(ctx, r.ext(ctx), &out, query); err != nil {
		return nil, translate(err, "license plan")
	}
	return out, nil
}

type actorRepository struct {
	BaseRepository
}

func NewActorRepository(base BaseRepository) repository.ActorRepository {
	return &actorRepository{base}
}

const actorColumns = `id, kind, name, email, status, company_id`

func (r *actorRepository) Get(ctx context.Context, id uuid.UUID) (*model.Actor, error) {
	var a model.Actor
	query := `SELECT ` + actorColumns + ` FROM actors WHERE id = $1`
	if err := sqlx.GetContext(ctx, r.ext(ctx), &a, query, id); err != nil {
		return nil, translate(err, "actor")
	}
	return &a, nil
}

func (r *actorRepository) FindByEmail(ctx context.Context, email string) ([]*model.Actor, error) {
	query := `SELECT ` + actorColumns + ` FROM actors WHERE lower(email) = lower($1) ORDER BY id`
	out := make([]*model.Actor, 0)
	if err := sqlx.SelectContext(ctx, r.ext(ctx), &out, query, email); err != nil {
		return nil, translate(err, "actor")
	}
	return out, nil
}

func (r *actorRepository) ListEmployees(ctx context.Context, companyID uuid.UUID) ([]*model.Actor, error) {
	query := `SELECT ` + actorColumns + ` FROM actors
		WHERE kind = $1 AND company_id = $2 AND status = $3
		ORDER BY id`
	out := make([]*model.Actor, 0)
	err := sqlx.SelectContext(ctx, r.ext(ctx), &out, query,
		model.ActorKindPatient, companyID, model.ActorStatusActive)
	if err != nil {
		return nil, translate(err, "actor")
	}
	return out, nil
}
