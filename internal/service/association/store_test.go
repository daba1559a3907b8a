package association

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nolabru/psiconnect/internal/model"
	"github.com/nolabru/psiconnect/internal/repository/memory"
	apperrors "github.com/nolabru/psiconnect/pkg/errors"
)

func TestCreateStartsPendingWithSubjectAsInitiator(t *testing.T) {
	store := NewStore(memory.NewAssociationRepository())
	psych, patient := uuid.New(), uuid.New()

	a, err := store.Create(context.Background(), psych, patient, model.RelationPsychologistPatient, uuid.Nil)
	require.NoError(t, err)

	assert.Equal(t, model.AssociationStatusPending, a.Status)
	assert.Equal(t, psych, a.InitiatorID)
	assert.Equal(t, patient, a.Recipient())
	assert.Nil(t, a.StartedAt)
	assert.Nil(t, a.EndedAt)
}

func TestCreateRejectsDuplicateOpenRecord(t *testing.T) {
	ctx := context.Background()
	store := NewStore(memory.NewAssociationRepository())
	psych, patient := uuid.New(), uuid.New()

	_, err := store.Create(ctx, psych, patient, model.RelationPsychologistPatient, uuid.Nil)
	require.NoError(t, err)

	_, err = store.Create(ctx, psych, patient, model.RelationPsychologistPatient, uuid.Nil)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrConflict))
}

func TestCreateReusesTerminalRecord(t *testing.T) {
	ctx := context.Background()
	store := NewStore(memory.NewAssociationRepository())
	psych, patient := uuid.New(), uuid.New()

	first, err := store.Create(ctx, psych, patient, model.RelationPsychologistPatient, uuid.Nil)
	require.NoError(t, err)
	require.NoError(t, store.SetStatus(ctx, first, model.AssociationStatusRejected))
	require.NotNil(t, first.EndedAt)

	second, err := store.Create(ctx, psych, patient, model.RelationPsychologistPatient, patient)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, model.AssociationStatusPending, second.Status)
	assert.Equal(t, patient, second.InitiatorID)
	assert.Nil(t, second.EndedAt)
}

func TestCreateValidatesInput(t *testing.T) {
	ctx := context.Background()
	store := NewStore(memory.NewAssociationRepository())
	id := uuid.New()

	_, err := store.Create(ctx, id, id, model.RelationPsychologistPatient, uuid.Nil)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrBadRequest))

	_, err = store.Create(ctx, id, uuid.New(), "friendship", uuid.Nil)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrBadRequest))

	_, err = store.Create(ctx, id, uuid.New(), model.RelationPsychologistPatient, uuid.New())
	assert.True(t, apperrors.IsCode(err, apperrors.ErrBadRequest))
}

func TestConcurrentCreateYieldsOneRecord(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewAssociationRepository()
	store := NewStore(repo)
	psych, company := uuid.New(), uuid.New()

	var wg sync.WaitGroup
	var created int32
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Create(ctx, psych, company, model.RelationPsychologistCompany, uuid.Nil); err == nil {
				atomic.AddInt32(&created, 1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, created)
	list, err := store.ListByActor(ctx, psych, model.RelationPsychologistCompany)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestConcurrentReopenYieldsOneWinner(t *testing.T) {
	ctx := context.Background()
	store := NewStore(memory.NewAssociationRepository())
	psych, patient := uuid.New(), uuid.New()

	a, err := store.Create(ctx, psych, patient, model.RelationPsychologistPatient, uuid.Nil)
	require.NoError(t, err)
	require.NoError(t, store.SetStatus(ctx, a, model.AssociationStatusRejected))

	var wg sync.WaitGroup
	var reopened int32
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Create(ctx, psych, patient, model.RelationPsychologistPatient, uuid.Nil); err == nil {
				atomic.AddInt32(&reopened, 1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, reopened)
}

func TestCreateDerivedIsActiveAndLinked(t *testing.T) {
	ctx := context.Background()
	store := NewStore(memory.NewAssociationRepository())
	psych, employee, source, license := uuid.New(), uuid.New(), uuid.New(), uuid.New()

	a, err := store.CreateDerived(ctx, psych, employee, source, license)
	require.NoError(t, err)

	assert.Equal(t, model.AssociationStatusActive, a.Status)
	require.NotNil(t, a.StartedAt)
	assert.Equal(t, source, *a.SourceAssociationID)
	assert.Equal(t, license, *a.LicenseID)

	bySource, err := store.ListBySource(ctx, source, model.AssociationStatusActive)
	require.NoError(t, err)
	assert.Len(t, bySource, 1)

	byLicense, err := store.ListByLicense(ctx, license, model.AssociationStatusActive)
	require.NoError(t, err)
	assert.Len(t, byLicense, 1)
}

func TestFindActiveOrPendingIgnoresTerminal(t *testing.T) {
	ctx := context.Background()
	store := NewStore(memory.NewAssociationRepository())
	psych, patient := uuid.New(), uuid.New()

	found, err := store.FindActiveOrPending(ctx, psych, patient, model.RelationPsychologistPatient)
	require.NoError(t, err)
	assert.Nil(t, found)

	a, err := store.Create(ctx, psych, patient, model.RelationPsychologistPatient, uuid.Nil)
	require.NoError(t, err)

	found, err = store.FindActiveOrPending(ctx, psych, patient, model.RelationPsychologistPatient)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, a.ID, found.ID)

	require.NoError(t, store.SetStatus(ctx, a, model.AssociationStatusRejected))
	found, err = store.FindActiveOrPending(ctx, psych, patient, model.RelationPsychologistPatient)
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestSetStatusMaintainsEndedAtInvariant(t *testing.T) {
	ctx := context.Background()
	store := NewStore(memory.NewAssociationRepository())

	a, err := store.Create(ctx, uuid.New(), uuid.New(), model.RelationPsychologistPatient, uuid.Nil)
	require.NoError(t, err)

	require.NoError(t, store.SetStatus(ctx, a, model.AssociationStatusActive))
	assert.NotNil(t, a.StartedAt)
	assert.Nil(t, a.EndedAt)

	require.NoError(t, store.SetStatus(ctx, a, model.AssociationStatusInactive))
	assert.NotNil(t, a.EndedAt)

	stale := *a
	stale.Status = model.AssociationStatusActive
	err = store.SetStatus(ctx, &stale, model.AssociationStatusInactive)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrConflict))
}
