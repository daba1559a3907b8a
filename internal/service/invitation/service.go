// Package invitation bridges invite-by-email and association creation for
// addresses that have no account behind them yet.
package invitation

import (
	"context"
	"crypto/rand"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/nolabru/psiconnect/internal/model"
	"github.com/nolabru/psiconnect/internal/repository"
	"github.com/nolabru/psiconnect/internal/service/association"
	"github.com/nolabru/psiconnect/internal/service/audit"
	"github.com/nolabru/psiconnect/internal/service/event"
	apperrors "github.com/nolabru/psiconnect/pkg/errors"
)

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithTTL makes new invitations expire after ttl. Zero disables expiry.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) { s.ttl = ttl }
}

type Service struct {
	repo     repository.InvitationRepository
	actors   repository.ActorRepository
	store    *association.Store
	tx       repository.Transactor
	events   *event.Service
	auditor  *audit.Service
	validate *validator.Validate
	ttl      time.Duration
	now      func() time.Time
}

func NewService(
	repo repository.InvitationRepository,
	actors repository.ActorRepository,
	store *association.Store,
	tx repository.Transactor,
	events *event.Service,
	auditor *audit.Service,
	opts ...Option,
) *Service {
	s := &Service{
		repo:     repo,
		actors:   actors,
		store:    store,
		tx:       tx,
		events:   events,
		auditor:  auditor,
		validate: validator.New(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Invite connects the issuer to targetEmail. When the email belongs to exactly
// one actor a pending association is opened right away; when it belongs to
// none an invitation with a fresh code is stored instead.
func (s *Service) Invite(ctx context.Context, issuer model.Principal, targetEmail string) (*model.InviteResult, error) {
	if issuer.Kind != model.ActorKindPsychologist && issuer.Kind != model.ActorKindCompany {
		return nil, apperrors.Forbidden("only psychologists and companies can invite")
	}
	email := normalizeEmail(targetEmail)
	if err := s.validate.Var(email, "required,email"); err != nil {
		return nil, apperrors.BadRequest("invalid target email", err)
	}

	matches, err := s.actors.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve target email: %w", err)
	}
	switch len(matches) {
	case 0:
		inv, err := s.inviteUnregistered(ctx, issuer, email)
		if err != nil {
			return nil, err
		}
		return &model.InviteResult{Invitation: inv}, nil
	case 1:
		a, err := s.connect(ctx, issuer, matches[0])
		if err != nil {
			return nil, err
		}
		return &model.InviteResult{Association: a}, nil
	default:
		return nil, apperrors.AmbiguousTarget("target email matches more than one account")
	}
}

// orient places the psychologist on the subject side.
func orient(a, b model.ActorKind, aID, bID uuid.UUID) (subject, object uuid.UUID, kind model.RelationKind, err error) {
	kind, ok := model.RelationBetween(a, b)
	if !ok {
		return uuid.Nil, uuid.Nil, "", apperrors.BadRequest(fmt.Sprintf("a %s cannot connect with a %s", a, b), nil)
	}
	if a == model.ActorKindPsychologist {
		return aID, bID, kind, nil
	}
	return bID, aID, kind, nil
}

func (s *Service) connect(ctx context.Context, issuer model.Principal, target *model.Actor) (*model.Association, error) {
	if target.ID == issuer.ActorID {
		return nil, apperrors.BadRequest("cannot invite yourself", nil)
	}
	subject, object, kind, err := orient(issuer.Kind, target.Kind, issuer.ActorID, target.ID)
	if err != nil {
		return nil, err
	}

	var a *model.Association
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		created, err := s.store.Create(ctx, subject, object, kind, issuer.ActorID)
		if err != nil {
			return err
		}
		a = created
		if err := s.events.Emit(ctx, model.EventAssociationRequested, a); err != nil {
			return err
		}
		return s.auditor.Log(ctx, issuer, model.AuditActionCreate, model.AuditEntityAssociation, a.ID, a)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to request association: %w", err)
	}
	return a, nil
}

func (s *Service) inviteUnregistered(ctx context.Context, issuer model.Principal, email string) (*model.Invitation, error) {
	now := s.now()

	existing, err := s.repo.FindPending(ctx, issuer.ActorID, email)
	if err != nil && !apperrors.IsCode(err, apperrors.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up invitation: %w", err)
	}
	if existing != nil {
		if !existing.Expired(now) {
			return existing, nil
		}
		if err := s.expire(ctx, existing); err != nil {
			return nil, err
		}
	}

	code, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	inv := &model.Invitation{
		Code:        code.String(),
		TargetEmail: email,
		IssuerID:    issuer.ActorID,
		IssuerKind:  issuer.Kind,
		Status:      model.InvitationStatusPending,
		CreatedAt:   now,
	}
	if s.ttl > 0 {
		expires := now.Add(s.ttl)
		inv.ExpiresAt = &expires
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, inv); err != nil {
			return err
		}
		if err := s.events.Emit(ctx, model.EventInvitationCreated, inv); err != nil {
			return err
		}
		return s.auditor.Log(ctx, issuer, model.AuditActionCreate, model.AuditEntityInvitation, inv.ID, inv)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create invitation: %w", err)
	}
	return inv, nil
}

// ListPending returns the live invitations addressed to email, newest first.
func (s *Service) ListPending(ctx context.Context, email string) ([]*model.Invitation, error) {
	list, err := s.repo.ListPendingByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("failed to list invitations: %w", err)
	}

	now := s.now()
	out := make([]*model.Invitation, 0, len(list))
	for _, inv := range list {
		if !inv.Expired(now) {
			out = append(out, inv)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// ResolveByEmail returns the newest live invitation for email, or nil.
func (s *Service) ResolveByEmail(ctx context.Context, email string) (*model.Invitation, error) {
	list, err := s.ListPending(ctx, email)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return list[0], nil
}

// Redeem turns the invitation into a pending association initiated by the
// redeemer, for the issuer to accept. Redeeming again as the same actor
// returns the same association.
func (s *Service) Redeem(ctx context.Context, redeemer model.Principal, code string) (*model.Association, error) {
	inv, err := s.repo.GetByCode(ctx, strings.TrimSpace(code))
	if err != nil {
		return nil, fmt.Errorf("failed to get invitation: %w", err)
	}
	if a, done, err := s.redeemed(ctx, inv, redeemer); done {
		return a, err
	}

	if inv.Status != model.InvitationStatusPending {
		return nil, apperrors.InvalidTransition("invitation", string(inv.Status), string(model.InvitationStatusAccepted))
	}
	now := s.now()
	if inv.Expired(now) {
		if err := s.expire(ctx, inv); err != nil {
			return nil, err
		}
		return nil, apperrors.InvalidTransition("invitation", string(model.InvitationStatusExpired), string(model.InvitationStatusAccepted))
	}

	actor, err := s.actors.Get(ctx, redeemer.ActorID)
	if err != nil {
		return nil, fmt.Errorf("failed to get redeeming actor: %w", err)
	}
	if !strings.EqualFold(actor.Email, inv.TargetEmail) {
		return nil, apperrors.Forbidden("invitation was addressed to a different email")
	}
	subject, object, kind, err := orient(actor.Kind, inv.IssuerKind, actor.ID, inv.IssuerID)
	if err != nil {
		return nil, err
	}

	var a *model.Association
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		created, err := s.store.Create(ctx, subject, object, kind, actor.ID)
		if err != nil {
			return err
		}
		a = created

		inv.Status = model.InvitationStatusAccepted
		inv.AssociationID = &a.ID
		inv.RedeemedBy = &actor.ID
		inv.AcceptedAt = &now
		if err := s.repo.UpdateStatus(ctx, inv, model.InvitationStatusPending); err != nil {
			return err
		}
		if err := s.events.Emit(ctx, model.EventInvitationRedeemed, inv); err != nil {
			return err
		}
		if err := s.events.Emit(ctx, model.EventAssociationRequested, a); err != nil {
			return err
		}
		return s.auditor.Log(ctx, redeemer, model.AuditActionRedeem, model.AuditEntityInvitation, inv.ID, inv)
	})
	if err != nil {
		// A concurrent redeem by the same actor may have won.
		if current, getErr := s.repo.Get(ctx, inv.ID); getErr == nil {
			if a, done, _ := s.redeemed(ctx, current, redeemer); done && a != nil {
				return a, nil
			}
		}
		return nil, fmt.Errorf("failed to redeem invitation: %w", err)
	}
	return a, nil
}

// redeemed handles invitations that were already accepted.
func (s *Service) redeemed(ctx context.Context, inv *model.Invitation, redeemer model.Principal) (*model.Association, bool, error) {
	if inv.Status != model.InvitationStatusAccepted {
		return nil, false, nil
	}
	if inv.RedeemedBy == nil || *inv.RedeemedBy != redeemer.ActorID || inv.AssociationID == nil {
		return nil, true, apperrors.InvalidTransition("invitation", string(inv.Status), string(model.InvitationStatusAccepted))
	}
	a, err := s.store.Get(ctx, *inv.AssociationID)
	if err != nil {
		return nil, true, err
	}
	return a, true, nil
}

func (s *Service) Cancel(ctx context.Context, p model.Principal, id uuid.UUID) (*model.Invitation, error) {
	inv, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get invitation: %w", err)
	}
	if !p.Is(inv.IssuerID) && p.Kind != model.ActorKindSystem {
		return nil, apperrors.Forbidden("only the issuer can cancel an invitation")
	}
	if inv.Status != model.InvitationStatusPending {
		return nil, apperrors.InvalidTransition("invitation", string(inv.Status), string(model.InvitationStatusCanceled))
	}

	inv.Status = model.InvitationStatusCanceled
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.repo.UpdateStatus(ctx, inv, model.InvitationStatusPending); err != nil {
			return err
		}
		if err := s.events.Emit(ctx, model.EventInvitationCanceled, inv); err != nil {
			return err
		}
		return s.auditor.Log(ctx, p, model.AuditActionCancel, model.AuditEntityInvitation, inv.ID, inv)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to cancel invitation: %w", err)
	}
	return inv, nil
}

func (s *Service) expire(ctx context.Context, inv *model.Invitation) error {
	inv.Status = model.InvitationStatusExpired
	err := s.repo.UpdateStatus(ctx, inv, model.InvitationStatusPending)
	if err != nil && !apperrors.IsCode(err, apperrors.ErrConflict) {
		return fmt.Errorf("failed to expire invitation: %w", err)
	}
	return nil
}
