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

const invitationColumns = `id, code, target_email, issuer_id, issuer_kind, status, association_id,
	redeemed_by, created_at, accepted_at, expires_at, updated_at`

type invitationRepository struct {
	BaseRepository
}

func NewInvitationRepository(base BaseRepository) repository.InvitationRepository {
	return &invitationRepository{base}
}

func (r *invitationRepository) Create(ctx context.Context, inv *model.Invitation) error {
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	query := `
		INSERT INTO invitations (
			id, code, target_email, issuer_id, issuer_kind, status, expires_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		RETURNING created_at, updated_at`

	err := r.ext(ctx).QueryRowxContext(ctx, query,
		inv.ID, inv.Code, inv.TargetEmail, inv.IssuerID, inv.IssuerKind, inv.Status, inv.ExpiresAt,
	).Scan(&inv.CreatedAt, &inv.UpdatedAt)
	return translate(err, "invitation")
}

func (r *invitationRepository) Get(ctx context.Context, id uuid.UUID) (*model.Invitation, error) {
	return r.getOne(ctx, `SELECT `+invitationColumns+` FROM invitations WHERE id = $1`, id)
}

func (r *invitationRepository) GetByCode(ctx context.Context, code string) (*model.Invitation, error) {
	return r.getOne(ctx, `SELECT `+invitationColumns+` FROM invitations WHERE code = $1`, code)
}

func (r *invitationRepository) FindPending(ctx context.Context, issuerID uuid.UUID, email string) (*model.Invitation, error) {
	return r.getOne(ctx, `SELECT `+invitationColumns+` FROM invitations
		WHERE issuer_id = $1 AND target_email = $2 AND status = $3
		ORDER BY created_at DESC LIMIT 1`, issuerID, email, model.InvitationStatusPending)
}

func (r *invitationRepository) getOne(ctx context.Context, query string, args ...interface{}) (*model.Invitation, error) {
	var inv model.Invitation
	if err := sqlx.GetContext(ctx, r.ext(ctx), &inv, query, args...); err != nil {
		return nil, translate(err, "invitation")
	}
	return &inv, nil
}

func (r *invitationRepository) ListPendingByEmail(ctx context.Context, email string) ([]*model.Invitation, error) {
	query := `SELECT ` + invitationColumns + ` FROM invitations
		WHERE target_email = $1 AND status = $2
		ORDER BY created_at DESC`

	out := make([]*model.Invitation, 0)
	if err := sqlx.SelectContext(ctx, r.ext(ctx), &out, query, email, model.InvitationStatusPending); err != nil {
		return nil, translate(err, "invitation")
	}
	return out, nil
}

func (r *invitationRepository) UpdateStatus(ctx context.Context, inv *model.Invitation, from model.InvitationStatus) error {
	query := `
		UPDATE invitations
		SET status = $1, association_id = $2, redeemed_by = $3, accepted_at = $4, updated_at = NOW()
		WHERE id = $5 AND status = $6
		RETURNING updated_at`

	err := r.ext(ctx).QueryRowxContext(ctx, query,
		inv.Status, inv.AssociationID, inv.RedeemedBy, inv.AcceptedAt, inv.ID, from,
	).Scan(&inv.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := r.Get(ctx, inv.ID); getErr != nil {
			return getErr
		}
		return apperrors.Conflict("invitation status changed concurrently")
	}
	return translate(err, "invitation")
}
