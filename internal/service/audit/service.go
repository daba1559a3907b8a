package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/nolabru/psiconnect/internal/model"
	"github.com/nolabru/psiconnect/internal/repository"
)

type Service struct {
	repo repository.AuditRepository
}

func NewService(repo repository.AuditRepository) *Service {
	return &Service{repo: repo}
}

// Log appends an audit entry. changes may be nil.
func (s *Service) Log(ctx context.Context, actor model.Principal, action, entityType string, entityID uuid.UUID, changes interface{}) error {
	var raw json.RawMessage
	if changes != nil {
		b, err := json.Marshal(changes)
		if err != nil {
			return fmt.Errorf("failed to marshal audit changes: %w", err)
		}
		raw = b
	}

	entry := &model.AuditLog{
		ActorID:    actor.ActorID,
		ActorKind:  string(actor.Kind),
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Changes:    raw,
	}
	if err := s.repo.Create(ctx, entry); err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	return nil
}
