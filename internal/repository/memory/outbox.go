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

type OutboxRepository struct {
	mu     sync.RWMutex
	events map[uuid.UUID]*model.OutboxEvent
}

var _ repository.OutboxRepository = (*OutboxRepository)(nil)

func NewOutboxRepository() *OutboxRepository {
	return &OutboxRepository{events: make(map[uuid.UUID]*model.OutboxEvent)}
}

func (r *OutboxRepository) Create(ctx context.Context, event *model.OutboxEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	now := time.Now().UTC()
	event.CreatedAt = now
	event.UpdatedAt = now
	if event.Status == "" {
		event.Status = model.OutboxStatusPending
	}
	c := *event
	r.events[event.ID] = &c

	id := event.ID
	onRollback(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.events, id)
	})
	return nil
}

func (r *OutboxRepository) GetPendingEvents(ctx context.Context, limit int) ([]*model.OutboxEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*model.OutboxEvent, 0)
	for _, e := range r.events {
		if e.Status == model.OutboxStatusPending {
			c := *e
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *OutboxRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.OutboxStatus, errMsg *string, retryCount int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.events[id]
	if !ok {
		return apperrors.NotFound("outbox event", nil)
	}
	now := time.Now().UTC()
	e.Status = status
	e.ErrorMessage = errMsg
	e.RetryCount = retryCount
	e.UpdatedAt = now
	if status == model.OutboxStatusProcessed {
		e.ProcessedAt = &now
	}
	return nil
}

func (r *OutboxRepository) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for id, e := range r.events {
		if e.Status == model.OutboxStatusProcessed && e.ProcessedAt != nil && e.ProcessedAt.Before(before) {
			delete(r.events, id)
			n++
		}
	}
	return n, nil
}

// Events returns a snapshot of every stored event, oldest first.
func (r *OutboxRepository) Events() []*model.OutboxEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*model.OutboxEvent, 0, len(r.events))
	for _, e := range r.events {
		c := *e
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

type AuditRepository struct {
	mu   sync.Mutex
	logs []*model.AuditLog
}

var _ repository.AuditRepository = (*AuditRepository)(nil)

func NewAuditRepository() *AuditRepository {
	return &AuditRepository{}
}

func (r *AuditRepository) Create(ctx context.Context, log *model.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	log.CreatedAt = time.Now().UTC()
	c := *log
	r.logs = append(r.logs, &c)

	id := log.ID
	onRollback(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		for i, l := range r.logs {
			if l.ID == id {
				r.logs = append(r.logs[:i], r.logs[i+1:]...)
				return
			}
		}
	})
	return nil
}

// Logs returns a snapshot of the trail in insertion order.
func (r *AuditRepository) Logs() []*model.AuditLog {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*model.AuditLog, len(r.logs))
	copy(out, r.logs)
	return out
}

func (r *AuditRepository) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.logs[:0]
	var n int64
	for _, l := range r.logs {
		if l.CreatedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, l)
	}
	r.logs = kept
	return n, nil
}
