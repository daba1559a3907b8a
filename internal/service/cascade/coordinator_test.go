package cascade

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nolabru/psiconnect/internal/model"
	"github.com/nolabru/psiconnect/internal/repository"
	"github.com/nolabru/psiconnect/internal/repository/memory"
	"github.com/nolabru/psiconnect/internal/service/association"
	"github.com/nolabru/psiconnect/internal/service/audit"
	"github.com/nolabru/psiconnect/internal/service/connection"
	"github.com/nolabru/psiconnect/internal/service/event"
	"github.com/nolabru/psiconnect/internal/service/license"
	apperrors "github.com/nolabru/psiconnect/pkg/errors"
	"github.com/nolabru/psiconnect/pkg/logger"
	"github.com/nolabru/psiconnect/pkg/metrics"
)

var admin = model.Principal{ActorID: uuid.New(), Kind: model.ActorKindAdmin}

// hookedAssociations lets a test interleave writes with a cascade or make
// inserts fail.
type hookedAssociations struct {
	repository.AssociationRepository

	mu                sync.Mutex
	afterListBySource func()
	insertErr         error
}

func (h *hookedAssociations) Insert(ctx context.Context, a *model.Association) error {
	h.mu.Lock()
	err := h.insertErr
	h.mu.Unlock()
	if err != nil {
		return err
	}
	return h.AssociationRepository.Insert(ctx, a)
}

func (h *hookedAssociations) ListBySource(ctx context.Context, sourceID uuid.UUID, status model.AssociationStatus) ([]*model.Association, error) {
	list, err := h.AssociationRepository.ListBySource(ctx, sourceID, status)

	h.mu.Lock()
	hook := h.afterListBySource
	h.afterListBySource = nil
	h.mu.Unlock()
	if hook != nil {
		hook()
	}
	return list, err
}

func (h *hookedAssociations) failInserts(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.insertErr = err
}

type fixture struct {
	mem       *memory.Store
	assoc     *hookedAssociations
	store     *association.Store
	conn      *connection.Service
	licenses  *license.Service
	coord     *Coordinator
	metrics   *metrics.Metrics
	psych     model.Principal
	company   model.Principal
	employees []uuid.UUID
	license   *model.CompanyLicense
}

// newFixture seeds a company with the given number of employees and one paid
// license of seats seats.
func newFixture(t *testing.T, employees, seats int) *fixture {
	t.Helper()
	ctx := context.Background()
	mem := memory.NewStore()
	set := mem.Set()
	events := event.NewService(set.Outbox)
	auditor := audit.NewService(set.Audit)
	m := metrics.NewMetrics("test", prometheus.NewRegistry())

	f := &fixture{
		mem:     mem,
		metrics: m,
		psych:   model.Principal{ActorID: uuid.New(), Kind: model.ActorKindPsychologist},
		company: model.Principal{ActorID: uuid.New(), Kind: model.ActorKindCompany},
	}
	mem.Actors.Put(&model.Actor{ID: f.psych.ActorID, Kind: model.ActorKindPsychologist, Status: model.ActorStatusActive})
	mem.Actors.Put(&model.Actor{ID: f.company.ActorID, Kind: model.ActorKindCompany, Status: model.ActorStatusActive})
	for i := 0; i < employees; i++ {
		id := uuid.New()
		companyID := f.company.ActorID
		mem.Actors.Put(&model.Actor{ID: id, Kind: model.ActorKindPatient, Status: model.ActorStatusActive, CompanyID: &companyID})
		f.employees = append(f.employees, id)
	}

	plan := &model.LicensePlan{ID: uuid.New(), Name: "Team", MaxUsers: 100, Active: true}
	mem.Plans.Put(plan)

	f.assoc = &hookedAssociations{AssociationRepository: set.Associations}
	f.store = association.NewStore(f.assoc)
	f.licenses = license.NewService(set.Licenses, set.Plans, set.Tx, events, auditor, license.WithMetrics(m))
	f.conn = connection.NewService(f.store, set.Tx, events, auditor, logger.NewNop(), m)
	f.coord = NewCoordinator(f.store, f.conn, f.licenses, set.Actors, set.Tx, events, auditor, logger.NewNop(), m)
	f.conn.Subscribe(f.coord)

	now := time.Now().UTC()
	l, err := f.licenses.Acquire(ctx, f.company, license.AcquireRequest{
		CompanyID:  f.company.ActorID,
		PlanID:     plan.ID,
		Quantity:   seats,
		StartDate:  now.Add(-time.Hour),
		ExpiryDate: now.Add(24 * time.Hour),
	})
	require.NoError(t, err)
	f.license, err = f.licenses.Activate(ctx, admin, l.ID)
	require.NoError(t, err)
	return f
}

// connectCompany requests the company association as the psychologist and
// accepts it as the company.
func (f *fixture) connectCompany(t *testing.T) *model.Association {
	t.Helper()
	ctx := context.Background()
	a, err := f.store.Create(ctx, f.psych.ActorID, f.company.ActorID, model.RelationPsychologistCompany, f.psych.ActorID)
	require.NoError(t, err)
	a, err = f.conn.Accept(ctx, f.company, a.ID)
	require.NoError(t, err)
	return a
}

func (f *fixture) used(t *testing.T) int {
	t.Helper()
	l, err := f.licenses.Get(context.Background(), f.license.ID)
	require.NoError(t, err)
	return l.UsedLicenses
}

func (f *fixture) activeDerived(t *testing.T, sourceID uuid.UUID) []*model.Association {
	t.Helper()
	list, err := f.store.ListBySource(context.Background(), sourceID, model.AssociationStatusActive)
	require.NoError(t, err)
	return list
}

func (f *fixture) cascadeEvents() []*model.OutboxEvent {
	var out []*model.OutboxEvent
	for _, e := range f.mem.Outbox.Events() {
		if e.EventType == model.EventCascadeCompleted {
			out = append(out, e)
		}
	}
	return out
}

func TestAcceptCascadesUpToCapacity(t *testing.T) {
	f := newFixture(t, 3, 2)
	source := f.connectCompany(t)

	derived := f.activeDerived(t, source.ID)
	require.Len(t, derived, 2)
	for _, a := range derived {
		assert.Equal(t, f.psych.ActorID, a.SubjectID)
		assert.Equal(t, model.RelationPsychologistPatient, a.RelationKind)
		assert.Equal(t, f.license.ID, *a.LicenseID)
		assert.NotNil(t, a.StartedAt)
	}
	assert.Equal(t, 2, f.used(t))
	assert.Len(t, f.cascadeEvents(), 1)
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.CascadeLinks.WithLabelValues(directionConnect, "connected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.CascadeLinks.WithLabelValues(directionConnect, "skipped_for_capacity")))

	summary, err := f.coord.CascadeOnCompanyAccept(context.Background(), f.psych, f.company.ActorID, f.psych.ActorID)
	require.NoError(t, err)
	assert.Empty(t, summary.Connected)
	assert.Len(t, summary.AlreadyConnected, 2)
	assert.Len(t, summary.SkippedForCapacity, 1)
	assert.Empty(t, summary.Failed)
	assert.Equal(t, 2, f.used(t))
}

func TestCascadeOnCompanyAcceptReportsPerEmployee(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3, 2)
	a, err := f.store.Create(ctx, f.psych.ActorID, f.company.ActorID, model.RelationPsychologistCompany, f.psych.ActorID)
	require.NoError(t, err)

	_, err = f.coord.CascadeOnCompanyAccept(ctx, f.company, f.company.ActorID, f.psych.ActorID)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrInvalidTransition))

	// Activate without going through the connection service so no listener runs.
	require.NoError(t, f.store.SetStatus(ctx, a, model.AssociationStatusActive))

	pending := f.employees[0]
	_, err = f.store.Create(ctx, f.psych.ActorID, pending, model.RelationPsychologistPatient, f.psych.ActorID)
	require.NoError(t, err)

	summary, err := f.coord.CascadeOnCompanyAccept(ctx, f.company, f.company.ActorID, f.psych.ActorID)
	require.NoError(t, err)
	assert.ElementsMatch(t, f.employees[1:], summary.Connected)
	assert.Empty(t, summary.SkippedForCapacity)
	require.Len(t, summary.Failed, 1)
	assert.Equal(t, pending, summary.Failed[0].EmployeeID)
	assert.Equal(t, apperrors.ErrConflict.String(), summary.Failed[0].Code)
	assert.Equal(t, 2, f.used(t))
}

func TestDisconnectUndoesCascade(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3, 2)
	source := f.connectCompany(t)
	derived := f.activeDerived(t, source.ID)
	require.Len(t, derived, 2)

	_, err := f.conn.Disconnect(ctx, f.psych, source.ID)
	require.NoError(t, err)

	assert.Empty(t, f.activeDerived(t, source.ID))
	assert.Equal(t, 0, f.used(t))
	for _, a := range derived {
		got, err := f.store.Get(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, model.AssociationStatusInactive, got.Status)
		assert.NotNil(t, got.EndedAt)
	}
	assert.Len(t, f.cascadeEvents(), 2)

	avail, err := f.licenses.CheckAvailability(ctx, f.company.ActorID)
	require.NoError(t, err)
	assert.Equal(t, 2, avail.Available)
}

func TestReconnectCascadesAgain(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2, 2)
	source := f.connectCompany(t)
	_, err := f.conn.Disconnect(ctx, f.company, source.ID)
	require.NoError(t, err)

	again := f.connectCompany(t)
	assert.Equal(t, source.ID, again.ID)
	assert.Len(t, f.activeDerived(t, source.ID), 2)
	assert.Equal(t, 2, f.used(t))
}

func TestRepeatedAcceptRunsOneCascade(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2, 5)
	source := f.connectCompany(t)

	_, err := f.conn.Accept(ctx, f.company, source.ID)
	require.NoError(t, err)

	assert.Len(t, f.cascadeEvents(), 1)
	assert.Equal(t, 2, f.used(t))
}

func TestEmployeeDisconnectReleasesSeat(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3, 2)
	source := f.connectCompany(t)
	derived := f.activeDerived(t, source.ID)
	require.Len(t, derived, 2)

	employee := model.Principal{ActorID: derived[0].ObjectID, Kind: model.ActorKindPatient}
	_, err := f.conn.Disconnect(ctx, employee, derived[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 1, f.used(t))

	// The freed seat goes to the employee that was skipped.
	summary, err := f.coord.CascadeOnCompanyAccept(ctx, f.psych, f.company.ActorID, f.psych.ActorID)
	require.NoError(t, err)
	assert.Len(t, summary.Connected, 2)
	assert.Len(t, summary.AlreadyConnected, 1)
	assert.Equal(t, 2, f.used(t))
}

func TestForceCancelLicense(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2, 2)
	source := f.connectCompany(t)

	_, err := f.licenses.Cancel(ctx, f.company, f.license.ID)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrLicenseInUse))

	canceled, summary, err := f.coord.ForceCancelLicense(ctx, f.company, f.license.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LicenseStatusCanceled, canceled.Status)
	assert.Len(t, summary.Disconnected, 2)
	assert.Empty(t, f.activeDerived(t, source.ID))
	assert.Equal(t, 0, f.used(t))

	_, _, err = f.coord.ForceCancelLicense(ctx, f.company, f.license.ID)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrInvalidTransition))
}

func TestCascadeRequiresParty(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1, 1)
	f.connectCompany(t)

	stranger := model.Principal{ActorID: uuid.New(), Kind: model.ActorKindPsychologist}
	_, err := f.coord.CascadeOnCompanyAccept(ctx, stranger, f.company.ActorID, f.psych.ActorID)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrForbidden))

	_, err = f.coord.CascadeOnCompanyDisconnect(ctx, stranger, f.company.ActorID, f.psych.ActorID)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrForbidden))

	_, _, err = f.coord.ForceCancelLicense(ctx, stranger, f.license.ID)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrForbidden))
}

func TestCascadeOnCompanyDisconnectRequiresInactiveSource(t *testing.T) {
	f := newFixture(t, 1, 1)
	f.connectCompany(t)

	_, err := f.coord.CascadeOnCompanyDisconnect(context.Background(), f.company, f.company.ActorID, f.psych.ActorID)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrInvalidTransition))
}

func TestCompanyDisconnectReleasesEachSeatOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2, 4)
	first := f.connectCompany(t)

	other := model.Principal{ActorID: uuid.New(), Kind: model.ActorKindPsychologist}
	f.mem.Actors.Put(&model.Actor{ID: other.ActorID, Kind: model.ActorKindPsychologist, Status: model.ActorStatusActive})
	second, err := f.store.Create(ctx, other.ActorID, f.company.ActorID, model.RelationPsychologistCompany, other.ActorID)
	require.NoError(t, err)
	_, err = f.conn.Accept(ctx, f.company, second.ID)
	require.NoError(t, err)
	require.Equal(t, 4, f.used(t))

	// The employee leaves on their own after the cascade has listed the link.
	employee := model.Principal{ActorID: f.employees[0], Kind: model.ActorKindPatient}
	link, err := f.store.Find(ctx, f.psych.ActorID, employee.ActorID, model.RelationPsychologistPatient)
	require.NoError(t, err)
	f.assoc.afterListBySource = func() {
		_, err := f.conn.Disconnect(context.Background(), employee, link.ID)
		require.NoError(t, err)
	}

	_, err = f.conn.Disconnect(ctx, f.psych, first.ID)
	require.NoError(t, err)

	assert.Empty(t, f.activeDerived(t, first.ID))
	assert.Len(t, f.activeDerived(t, second.ID), 2)
	assert.Equal(t, 2, f.used(t))
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.SeatOperations.WithLabelValues("release", "ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.CascadeLinks.WithLabelValues(directionDisconnect, "disconnected")))

	available, err := f.licenses.CheckAvailability(ctx, f.company.ActorID)
	require.NoError(t, err)
	assert.Equal(t, 2, available.Available)
}

func TestFailedLinkDoesNotHoldSeat(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2, 2)
	source, err := f.store.Create(ctx, f.psych.ActorID, f.company.ActorID, model.RelationPsychologistCompany, f.psych.ActorID)
	require.NoError(t, err)

	f.assoc.failInserts(apperrors.ExternalFailure(errors.New("connection reset")))
	_, err = f.conn.Accept(ctx, f.company, source.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, f.used(t))

	summary, err := f.coord.CascadeOnCompanyAccept(ctx, f.company, f.company.ActorID, f.psych.ActorID)
	require.NoError(t, err)
	require.Len(t, summary.Failed, 2)
	for _, failure := range summary.Failed {
		assert.Equal(t, apperrors.ErrExternalService.String(), failure.Code)
	}
	assert.Equal(t, 0, f.used(t))

	f.assoc.failInserts(nil)
	summary, err = f.coord.CascadeOnCompanyAccept(ctx, f.company, f.company.ActorID, f.psych.ActorID)
	require.NoError(t, err)
	assert.Len(t, summary.Connected, 2)
	assert.Equal(t, 2, f.used(t))
}
