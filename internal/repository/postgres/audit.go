package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nolabru/psiconnect/internal/model"
	"github.com/nolabru/psiconnect/internal/repository"
)

type auditRepository struct {
	BaseRepository
}

func NewAuditRepository(base BaseRepository) repository.AuditRepository {
	return &auditRepository{base}
}

func (r *auditRepository) Create(ctx context.Context, log *model.AuditLog) error {
	query := `
        INSERT INTO audit_logs (
            id, actor_id, actor_kind, action, entity_type, entity_id, changes, created_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
    `
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	log.CreatedAt = time.Now().UTC()

	var changes []byte
	if len(log.Changes) > 0 {
		changes = []byte(log.Changes)
	}

	_, err := r.ext(ctx).ExecContext(ctx, query,
		log.ID,
		log.ActorID,
		log.ActorKind,
		log.Action,
		log.EntityType,
		log.EntityID,
		changes,
		log.CreatedAt,
	)
	return translate(err, "audit log")
}

func (r *auditRepository) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.ext(ctx).ExecContext(ctx, `DELETE FROM audit_logs WHERE created_at < $1`, before)
	if err != nil {
		return 0, translate(err, "audit log")
	}
	return res.RowsAffected()
}
