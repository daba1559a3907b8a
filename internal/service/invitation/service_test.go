package invitation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nolabru/psiconnect/internal/model"
	"github.com/nolabru/psiconnect/internal/repository"
	"github.com/nolabru/psiconnect/internal/repository/memory"
	"github.com/nolabru/psiconnect/internal/service/association"
	"github.com/nolabru/psiconnect/internal/service/audit"
	"github.com/nolabru/psiconnect/internal/service/event"
	apperrors "github.com/nolabru/psiconnect/pkg/errors"
)

// hookedInvitations runs beforeUpdate once, ahead of the next status write.
type hookedInvitations struct {
	repository.InvitationRepository

	mu           sync.Mutex
	beforeUpdate func()
}

func (h *hookedInvitations) UpdateStatus(ctx context.Context, inv *model.Invitation, from model.InvitationStatus) error {
	h.mu.Lock()
	hook := h.beforeUpdate
	h.beforeUpdate = nil
	h.mu.Unlock()
	if hook != nil {
		hook()
	}
	return h.InvitationRepository.UpdateStatus(ctx, inv, from)
}

type fixture struct {
	mem   *memory.Store
	inv   *hookedInvitations
	svc   *Service
	now   time.Time
	psych model.Principal
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	mem := memory.NewStore()
	set := mem.Set()
	f := &fixture{
		mem:   mem,
		now:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		psych: model.Principal{ActorID: uuid.New(), Kind: model.ActorKindPsychologist, Email: "dr@clinic.test"},
	}
	mem.Actors.Put(&model.Actor{ID: f.psych.ActorID, Kind: model.ActorKindPsychologist, Email: f.psych.Email, Status: model.ActorStatusActive})

	opts = append([]Option{WithClock(func() time.Time { return f.now })}, opts...)
	f.inv = &hookedInvitations{InvitationRepository: set.Invitations}
	f.svc = NewService(f.inv, set.Actors, association.NewStore(set.Associations), set.Tx,
		event.NewService(set.Outbox), audit.NewService(set.Audit), opts...)
	return f
}

func (f *fixture) register(kind model.ActorKind, email string) model.Principal {
	id := uuid.New()
	f.mem.Actors.Put(&model.Actor{ID: id, Kind: kind, Email: email, Status: model.ActorStatusActive})
	return model.Principal{ActorID: id, Kind: kind, Email: email}
}

func TestInviteExistingActorOpensAssociation(t *testing.T) {
	f := newFixture(t)
	patient := f.register(model.ActorKindPatient, "ana@example.com")

	res, err := f.svc.Invite(context.Background(), f.psych, "  Ana@Example.com ")
	require.NoError(t, err)
	require.NotNil(t, res.Association)
	assert.Nil(t, res.Invitation)

	a := res.Association
	assert.Equal(t, f.psych.ActorID, a.SubjectID)
	assert.Equal(t, patient.ActorID, a.ObjectID)
	assert.Equal(t, model.AssociationStatusPending, a.Status)
	assert.Equal(t, patient.ActorID, a.Recipient())
}

func TestCompanyInvitingPsychologistOrientsSubject(t *testing.T) {
	f := newFixture(t)
	company := f.register(model.ActorKindCompany, "hr@acme.test")

	res, err := f.svc.Invite(context.Background(), company, f.psych.Email)
	require.NoError(t, err)
	require.NotNil(t, res.Association)

	a := res.Association
	assert.Equal(t, model.RelationPsychologistCompany, a.RelationKind)
	assert.Equal(t, f.psych.ActorID, a.SubjectID)
	assert.Equal(t, company.ActorID, a.InitiatorID)
	assert.Equal(t, f.psych.ActorID, a.Recipient())
}

func TestInviteUnknownEmailCreatesInvitation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.svc.Invite(ctx, f.psych, "new@example.com")
	require.NoError(t, err)
	require.NotNil(t, res.Invitation)
	inv := res.Invitation

	assert.Equal(t, model.InvitationStatusPending, inv.Status)
	assert.Len(t, inv.Code, 26)
	assert.Nil(t, inv.ExpiresAt)

	again, err := f.svc.Invite(ctx, f.psych, "new@example.com")
	require.NoError(t, err)
	assert.Equal(t, inv.ID, again.Invitation.ID)

	resolved, err := f.svc.ResolveByEmail(ctx, "NEW@example.com")
	require.NoError(t, err)
	require.NotNil(t, resolved)
	assert.Equal(t, inv.Code, resolved.Code)
}

func TestInviteFailureModes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.register(model.ActorKindPatient, "shared@example.com")
	f.register(model.ActorKindPatient, "shared@example.com")
	f.register(model.ActorKindPsychologist, "peer@example.com")

	_, err := f.svc.Invite(ctx, f.psych, "shared@example.com")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrAmbiguousTarget))

	_, err = f.svc.Invite(ctx, f.psych, "not-an-email")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrBadRequest))

	_, err = f.svc.Invite(ctx, f.psych, "peer@example.com")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrBadRequest))

	patient := model.Principal{ActorID: uuid.New(), Kind: model.ActorKindPatient}
	_, err = f.svc.Invite(ctx, patient, "someone@example.com")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrForbidden))
}

func TestRedeemIsSingleUse(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	res, err := f.svc.Invite(ctx, f.psych, "new@example.com")
	require.NoError(t, err)
	code := res.Invitation.Code

	newcomer := f.register(model.ActorKindPatient, "new@example.com")
	first, err := f.svc.Redeem(ctx, newcomer, code)
	require.NoError(t, err)
	assert.Equal(t, model.AssociationStatusPending, first.Status)
	assert.Equal(t, newcomer.ActorID, first.InitiatorID)
	assert.Equal(t, f.psych.ActorID, first.Recipient())

	second, err := f.svc.Redeem(ctx, newcomer, code)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	list, err := f.mem.Associations.ListByActor(ctx, f.psych.ActorID, model.AssociationFilter{})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	stored, err := f.mem.Invitations.GetByCode(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, model.InvitationStatusAccepted, stored.Status)
	assert.Equal(t, first.ID, *stored.AssociationID)
}

func TestRedeemChecksEmail(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	res, err := f.svc.Invite(ctx, f.psych, "new@example.com")
	require.NoError(t, err)

	intruder := f.register(model.ActorKindPatient, "other@example.com")
	_, err = f.svc.Redeem(ctx, intruder, res.Invitation.Code)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrForbidden))

	_, err = f.svc.Redeem(ctx, intruder, "UNKNOWN")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrNotFound))
}

func TestExpiredInvitation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, WithTTL(48*time.Hour))
	res, err := f.svc.Invite(ctx, f.psych, "late@example.com")
	require.NoError(t, err)
	require.NotNil(t, res.Invitation.ExpiresAt)

	f.now = f.now.Add(49 * time.Hour)
	pending, err := f.svc.ListPending(ctx, "late@example.com")
	require.NoError(t, err)
	assert.Empty(t, pending)

	late := f.register(model.ActorKindPatient, "late@example.com")
	_, err = f.svc.Redeem(ctx, late, res.Invitation.Code)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrInvalidTransition))

	stored, err := f.mem.Invitations.Get(ctx, res.Invitation.ID)
	require.NoError(t, err)
	assert.Equal(t, model.InvitationStatusExpired, stored.Status)
}

func TestCancel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	res, err := f.svc.Invite(ctx, f.psych, "new@example.com")
	require.NoError(t, err)
	id := res.Invitation.ID

	other := model.Principal{ActorID: uuid.New(), Kind: model.ActorKindPsychologist}
	_, err = f.svc.Cancel(ctx, other, id)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrForbidden))

	canceled, err := f.svc.Cancel(ctx, f.psych, id)
	require.NoError(t, err)
	assert.Equal(t, model.InvitationStatusCanceled, canceled.Status)

	_, err = f.svc.Cancel(ctx, f.psych, id)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrInvalidTransition))

	newcomer := f.register(model.ActorKindPatient, "new@example.com")
	_, err = f.svc.Redeem(ctx, newcomer, res.Invitation.Code)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrInvalidTransition))
}

func TestRedeemLosingToCancelLeavesNoAssociation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	res, err := f.svc.Invite(ctx, f.psych, "late@example.com")
	require.NoError(t, err)
	inv := res.Invitation
	patient := f.register(model.ActorKindPatient, "late@example.com")

	f.inv.beforeUpdate = func() {
		_, err := f.svc.Cancel(context.Background(), f.psych, inv.ID)
		require.NoError(t, err)
	}

	_, err = f.svc.Redeem(ctx, patient, inv.Code)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrConflict))

	_, err = f.mem.Associations.FindByTriple(ctx, f.psych.ActorID, patient.ActorID, model.RelationPsychologistPatient)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrNotFound))

	stored, err := f.mem.Invitations.Get(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, model.InvitationStatusCanceled, stored.Status)

	for _, e := range f.mem.Outbox.Events() {
		assert.NotEqual(t, model.EventAssociationRequested, e.EventType)
		assert.NotEqual(t, model.EventInvitationRedeemed, e.EventType)
	}
}
