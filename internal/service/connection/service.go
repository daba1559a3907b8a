// Package connection drives association records through their status graph
// and tells listeners about activations and deactivations.
package connection

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/nolabru/psiconnect/internal/model"
	"github.com/nolabru/psiconnect/internal/repository"
	"github.com/nolabru/psiconnect/internal/service/association"
	"github.com/nolabru/psiconnect/internal/service/audit"
	"github.com/nolabru/psiconnect/internal/service/event"
	apperrors "github.com/nolabru/psiconnect/pkg/errors"
	"github.com/nolabru/psiconnect/pkg/logger"
	"github.com/nolabru/psiconnect/pkg/metrics"
)

type Transition string

const (
	TransitionActivated   Transition = "activated"
	TransitionDeactivated Transition = "deactivated"
)

type TransitionEvent struct {
	Transition  Transition
	Association *model.Association
	Principal   model.Principal
}

// Listener runs synchronously after a transition has been committed. Its
// error is logged and counted, never returned to the caller.
type Listener interface {
	OnTransition(ctx context.Context, evt TransitionEvent) error
}

type ListenerFunc func(ctx context.Context, evt TransitionEvent) error

func (f ListenerFunc) OnTransition(ctx context.Context, evt TransitionEvent) error {
	return f(ctx, evt)
}

type Service struct {
	store   *association.Store
	tx      repository.Transactor
	events  *event.Service
	auditor *audit.Service
	logger  *logger.Logger
	metrics *metrics.Metrics

	mu        sync.RWMutex
	listeners []Listener
}

func NewService(
	store *association.Store,
	tx repository.Transactor,
	events *event.Service,
	auditor *audit.Service,
	log *logger.Logger,
	m *metrics.Metrics,
) *Service {
	if log == nil {
		log = logger.NewNop()
	}
	return &Service{
		store:   store,
		tx:      tx,
		events:  events,
		auditor: auditor,
		logger:  log,
		metrics: m,
	}
}

func (s *Service) Subscribe(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *Service) Accept(ctx context.Context, p model.Principal, id uuid.UUID) (*model.Association, error) {
	a, _, err := s.Apply(ctx, p, id, ActionAccept)
	return a, err
}

func (s *Service) Reject(ctx context.Context, p model.Principal, id uuid.UUID) (*model.Association, error) {
	a, _, err := s.Apply(ctx, p, id, ActionReject)
	return a, err
}

func (s *Service) Disconnect(ctx context.Context, p model.Principal, id uuid.UUID) (*model.Association, error) {
	a, _, err := s.Apply(ctx, p, id, ActionDisconnect)
	return a, err
}

// Withdraw lets the initiator take back a request that is still pending.
func (s *Service) Withdraw(ctx context.Context, p model.Principal, id uuid.UUID) (*model.Association, error) {
	a, _, err := s.Apply(ctx, p, id, ActionWithdraw)
	return a, err
}

// Apply runs action against the record and reports whether this call moved
// it. A no-op success, including one caused by a concurrent writer reaching
// the target first, reports false.
//
// The decision is retried once when a concurrent writer moved the record, so a
// lost race against an identical transition still reports success.
func (s *Service) Apply(ctx context.Context, p model.Principal, id uuid.UUID, action Action) (*model.Association, bool, error) {
	for attempt := 0; ; attempt++ {
		a, err := s.store.Get(ctx, id)
		if err != nil {
			return nil, false, err
		}

		d, err := Decide(a, action, p)
		if err != nil {
			return nil, false, err
		}
		if d.Noop {
			return a, false, nil
		}

		err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
			if err := s.store.SetStatus(ctx, a, d.To); err != nil {
				return err
			}
			if err := s.events.Emit(ctx, eventFor(action), a); err != nil {
				return err
			}
			return s.auditor.Log(ctx, p, string(action), model.AuditEntityAssociation, a.ID, a)
		})
		if apperrors.IsCode(err, apperrors.ErrConflict) && attempt == 0 {
			continue
		}
		if err != nil {
			return nil, false, fmt.Errorf("failed to %s association: %w", action, err)
		}

		s.metrics.Transition(string(a.RelationKind), string(a.Status))
		s.notify(ctx, action, a, p)
		return a, true, nil
	}
}

func (s *Service) notify(ctx context.Context, action Action, a *model.Association, p model.Principal) {
	var t Transition
	switch action {
	case ActionAccept:
		t = TransitionActivated
	case ActionDisconnect:
		t = TransitionDeactivated
	default:
		return
	}

	s.mu.RLock()
	listeners := make([]Listener, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.RUnlock()

	evt := TransitionEvent{Transition: t, Association: a, Principal: p}
	for _, l := range listeners {
		if err := l.OnTransition(ctx, evt); err != nil {
			s.metrics.ListenerFailure(string(t))
			s.logger.Error(err, "transition listener failed",
				"association_id", a.ID.String(),
				"transition", string(t),
			)
		}
	}
}

func eventFor(action Action) string {
	switch action {
	case ActionAccept:
		return model.EventAssociationAccepted
	case ActionReject:
		return model.EventAssociationRejected
	case ActionWithdraw:
		return model.EventAssociationWithdrawn
	default:
		return model.EventAssociationDisconnected
	}
}
