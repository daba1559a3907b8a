package license

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nolabru/psiconnect/internal/model"
	"github.com/nolabru/psiconnect/internal/repository/memory"
	"github.com/nolabru/psiconnect/internal/service/audit"
	"github.com/nolabru/psiconnect/internal/service/event"
	apperrors "github.com/nolabru/psiconnect/pkg/errors"
	"github.com/nolabru/psiconnect/pkg/metrics"
)

var admin = model.Principal{ActorID: uuid.New(), Kind: model.ActorKindAdmin}

type fixture struct {
	mem     *memory.Store
	svc     *Service
	metrics *metrics.Metrics
	plan    *model.LicensePlan
	company model.Principal
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := memory.NewStore()
	plan := &model.LicensePlan{ID: uuid.New(), Name: "Team", MaxUsers: 50, PriceMonthly: 9900, Active: true}
	mem.Plans.Put(plan)

	m := metrics.NewMetrics("test", prometheus.NewRegistry())
	set := mem.Set()
	svc := NewService(set.Licenses, set.Plans, set.Tx,
		event.NewService(set.Outbox), audit.NewService(set.Audit), WithMetrics(m))

	return &fixture{
		mem:     mem,
		svc:     svc,
		metrics: m,
		plan:    plan,
		company: model.Principal{ActorID: uuid.New(), Kind: model.ActorKindCompany},
	}
}

func (f *fixture) request(quantity int) AcquireRequest {
	now := time.Now().UTC()
	return AcquireRequest{
		CompanyID:  f.company.ActorID,
		PlanID:     f.plan.ID,
		Quantity:   quantity,
		StartDate:  now.Add(-time.Hour),
		ExpiryDate: now.Add(30 * 24 * time.Hour),
	}
}

func (f *fixture) activeLicense(t *testing.T, quantity int) *model.CompanyLicense {
	t.Helper()
	l, err := f.svc.Acquire(context.Background(), f.company, f.request(quantity))
	require.NoError(t, err)
	l, err = f.svc.Activate(context.Background(), admin, l.ID)
	require.NoError(t, err)
	return l
}

func TestAcquireCreatesPendingLicense(t *testing.T) {
	f := newFixture(t)

	l, err := f.svc.Acquire(context.Background(), f.company, f.request(5))
	require.NoError(t, err)

	assert.Equal(t, model.LicenseStatusPending, l.Status)
	assert.Equal(t, model.PaymentStatusPending, l.PaymentStatus)
	assert.Equal(t, 5, l.TotalLicenses)
	assert.Zero(t, l.UsedLicenses)
	assert.Equal(t, uuid.Version(7), l.ID.Version())

	events := f.mem.Outbox.Events()
	require.Len(t, events, 1)
	assert.Equal(t, model.EventLicenseAcquired, events[0].EventType)
	assert.Len(t, f.mem.Audit.Logs(), 1)
}

func TestAcquireValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.Acquire(ctx, f.company, f.request(0))
	assert.True(t, apperrors.IsCode(err, apperrors.ErrInvalidQuantity))

	_, err = f.svc.Acquire(ctx, f.company, f.request(51))
	assert.True(t, apperrors.IsCode(err, apperrors.ErrInvalidQuantity))

	req := f.request(1)
	req.ExpiryDate = req.StartDate
	_, err = f.svc.Acquire(ctx, f.company, req)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrBadRequest))

	req = f.request(1)
	req.PlanID = uuid.New()
	_, err = f.svc.Acquire(ctx, f.company, req)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrNotFound))

	retired := &model.LicensePlan{ID: uuid.New(), Name: "Legacy", Active: false}
	f.mem.Plans.Put(retired)
	req = f.request(1)
	req.PlanID = retired.ID
	_, err = f.svc.Acquire(ctx, f.company, req)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrBadRequest))

	other := model.Principal{ActorID: uuid.New(), Kind: model.ActorKindCompany}
	_, err = f.svc.Acquire(ctx, other, f.request(1))
	assert.True(t, apperrors.IsCode(err, apperrors.ErrForbidden))
}

func TestActivateTransitions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	l, err := f.svc.Acquire(ctx, f.company, f.request(2))
	require.NoError(t, err)

	_, err = f.svc.Activate(ctx, f.company, l.ID)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrForbidden))

	active, err := f.svc.Activate(ctx, admin, l.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LicenseStatusActive, active.Status)
	assert.Equal(t, model.PaymentStatusCompleted, active.PaymentStatus)

	_, err = f.svc.Activate(ctx, admin, l.ID)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrInvalidTransition))
}

func TestAvailabilityCountsOnlySettledActiveLicenses(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.activeLicense(t, 3)
	_, err := f.svc.Acquire(ctx, f.company, f.request(4))
	require.NoError(t, err)
	failed := f.activeLicense(t, 10)
	_, err = f.svc.UpdatePaymentStatus(ctx, admin, failed.ID, model.PaymentStatusFailed)
	require.NoError(t, err)

	_, err = f.svc.ReserveSeat(ctx, f.company.ActorID)
	require.NoError(t, err)

	av, err := f.svc.CheckAvailability(ctx, f.company.ActorID)
	require.NoError(t, err)
	assert.Equal(t, 3, av.Total)
	assert.Equal(t, 1, av.Used)
	assert.Equal(t, 2, av.Available)
	assert.Equal(t, 4, av.Pending)
}

func TestReserveSeatCapacity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.activeLicense(t, 2)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.ReserveSeat(ctx, f.company.ActorID)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var ok, exceeded int
	for err := range errs {
		if err == nil {
			ok++
		} else if apperrors.IsCode(err, apperrors.ErrCapacityExceeded) {
			exceeded++
		}
	}
	assert.Equal(t, 2, ok)
	assert.Equal(t, 8, exceeded)
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.SeatOperations.WithLabelValues("reserve", "ok")))
	assert.Equal(t, 8.0, testutil.ToFloat64(f.metrics.SeatOperations.WithLabelValues("reserve", "CAPACITY_EXCEEDED")))
}

func TestCancelFailsWhileSeatsAreUsed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	l := f.activeLicense(t, 3)

	for i := 0; i < 3; i++ {
		_, err := f.svc.ReserveSeat(ctx, f.company.ActorID)
		require.NoError(t, err)
	}

	_, err := f.svc.Cancel(ctx, f.company, l.ID)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrLicenseInUse))

	for i := 0; i < 3; i++ {
		_, err := f.svc.ReleaseSeat(ctx, f.company.ActorID, l.ID)
		require.NoError(t, err)
	}

	canceled, err := f.svc.Cancel(ctx, f.company, l.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LicenseStatusCanceled, canceled.Status)
	assert.NotNil(t, canceled.CanceledAt)

	_, err = f.svc.Cancel(ctx, f.company, l.ID)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrInvalidTransition))
}

func TestUpdatePaymentStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	l := f.activeLicense(t, 1)

	_, err := f.svc.UpdatePaymentStatus(ctx, admin, l.ID, "refunded")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrBadRequest))

	updated, err := f.svc.UpdatePaymentStatus(ctx, admin, l.ID, model.PaymentStatusCanceled)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusCanceled, updated.PaymentStatus)

	_, err = f.svc.ReserveSeat(ctx, f.company.ActorID)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCapacityExceeded))
}

func TestListPlansIsCached(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	plans, err := f.svc.ListPlans(ctx)
	require.NoError(t, err)
	require.Len(t, plans, 1)

	f.mem.Plans.Put(&model.LicensePlan{ID: uuid.New(), Name: "Enterprise", Active: true})
	plans, err = f.svc.ListPlans(ctx)
	require.NoError(t, err)
	assert.Len(t, plans, 1)
}
