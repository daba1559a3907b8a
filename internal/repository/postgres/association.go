package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/nolabru/psiconnect/internal/model"
	"github.com/nolabru/psiconnect/internal/repository"
	apperrors "github.com/nolabru/psiconnect/pkg/errors"
)

const associationColumns = `id, subject_id, object_id, relation_kind, status, initiator_id,
	source_association_id, license_id, started_at, ended_at, created_at, updated_at`

type associationRepository struct {
	BaseRepository
}

func NewAssociationRepository(base BaseRepository) repository.AssociationRepository {
	return &associationRepository{base}
}

func (r *associationRepository) Insert(ctx context.Context, a *model.Association) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	query := `
		INSERT INTO associations (
			id, subject_id, object_id, relation_kind, status, initiator_id,
			source_association_id, license_id, started_at, ended_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
		RETURNING created_at, updated_at`

	err := r.ext(ctx).QueryRowxContext(ctx, query,
		a.ID, a.SubjectID, a.ObjectID, a.RelationKind, a.Status, a.InitiatorID,
		a.SourceAssociationID, a.LicenseID, a.StartedAt, a.EndedAt,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	return translate(err, "association")
}

func (r *associationRepository) Get(ctx context.Context, id uuid.UUID) (*model.Association, error) {
	var a model.Association
	query := `SELECT ` + associationColumns + ` FROM associations WHERE id = $1`
	if err := sqlx.GetContext(ctx, r.ext(ctx), &a, query, id); err != nil {
		return nil, translate(err, "association")
	}
	return &a, nil
}

func (r *associationRepository) FindByTriple(ctx context.Context, subjectID, objectID uuid.UUID, kind model.RelationKind) (*model.Association, error) {
	var a model.Association
	query := `SELECT ` + associationColumns + ` FROM associations
		WHERE subject_id = $1 AND object_id = $2 AND relation_kind = $3`
	if err := sqlx.GetContext(ctx, r.ext(ctx), &a, query, subjectID, objectID, kind); err != nil {
		return nil, translate(err, "association")
	}
	return &a, nil
}

func (r *associationRepository) ListByActor(ctx context.Context, actorID uuid.UUID, filter model.AssociationFilter) ([]*model.Association, error) {
	query := `SELECT ` + associationColumns + ` FROM associations
		WHERE (subject_id = ? OR object_id = ?)`
	args := []interface{}{actorID, actorID}

	if filter.Kind != "" {
		query += ` AND relation_kind = ?`
		args = append(args, filter.Kind)
	}
	if len(filter.Statuses) > 0 {
		query += ` AND status IN (?)`
		args = append(args, filter.Statuses)
	}
	query += ` ORDER BY created_at ASC, id ASC`

	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	return r.selectMany(ctx, r.ext(ctx).Rebind(query), args...)
}

func (r *associationRepository) ListBySource(ctx context.Context, sourceID uuid.UUID, status model.AssociationStatus) ([]*model.Association, error) {
	query := `SELECT ` + associationColumns + ` FROM associations
		WHERE source_association_id = $1 AND status = $2
		ORDER BY created_at ASC, id ASC`
	return r.selectMany(ctx, query, sourceID, status)
}

func (r *associationRepository) ListByLicense(ctx context.Context, licenseID uuid.UUID, status model.AssociationStatus) ([]*model.Association, error) {
	query := `SELECT ` + associationColumns + ` FROM associations
		WHERE license_id = $1 AND status = $2
		ORDER BY created_at ASC, id ASC`
	return r.selectMany(ctx, query, licenseID, status)
}

func (r *associationRepository) selectMany(ctx context.Context, query string, args ...interface{}) ([]*model.Association, error) {
	out := make([]*model.Association, 0)
	if err := sqlx.SelectContext(ctx, r.ext(ctx), &out, query, args...); err != nil {
		return nil, translate(err, "association")
	}
	return out, nil
}

func (r *associationRepository) UpdateStatus(ctx context.Context, a *model.Association, from model.AssociationStatus) error {
	query := `
		UPDATE associations
		SET status = $1, initiator_id = $2, source_association_id = $3, license_id = $4,
			started_at = $5, ended_at = $6, updated_at = NOW()
		WHERE id = $7 AND status = $8
		RETURNING updated_at`

	err := r.ext(ctx).QueryRowxContext(ctx, query,
		a.Status, a.InitiatorID, a.SourceAssociationID, a.LicenseID,
		a.StartedAt, a.EndedAt, a.ID, from,
	).Scan(&a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := r.Get(ctx, a.ID); getErr != nil {
			return getErr
		}
		return apperrors.Conflict("association status changed concurrently")
	}
	return translate(err, "association")
}
