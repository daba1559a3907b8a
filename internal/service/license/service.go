// Package license manages company license pools: acquisition, activation,
// cancellation and the seat counters that back employee connections.
package license

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/nolabru/psiconnect/internal/model"
	"github.com/nolabru/psiconnect/internal/repository"
	"github.com/nolabru/psiconnect/internal/service/audit"
	"github.com/nolabru/psiconnect/internal/service/event"
	apperrors "github.com/nolabru/psiconnect/pkg/errors"
	"github.com/nolabru/psiconnect/pkg/metrics"
)

const defaultPlanCacheTTL = 10 * time.Minute

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithPlanCacheTTL sets how long catalog entries stay cached.
func WithPlanCacheTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.plans = cache.New(ttl, 2*ttl)
		}
	}
}

type Service struct {
	licenses repository.LicenseRepository
	planRepo repository.PlanRepository
	tx       repository.Transactor
	events   *event.Service
	auditor  *audit.Service
	metrics  *metrics.Metrics
	plans    *cache.Cache
	now      func() time.Time
}

func NewService(
	licenses repository.LicenseRepository,
	plans repository.PlanRepository,
	tx repository.Transactor,
	events *event.Service,
	auditor *audit.Service,
	opts ...Option,
) *Service {
	s := &Service{
		licenses: licenses,
		planRepo: plans,
		tx:       tx,
		events:   events,
		auditor:  auditor,
		plans:    cache.New(defaultPlanCacheTTL, 2*defaultPlanCacheTTL),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Manages reports whether p may acquire or cancel licenses of companyID.
func Manages(p model.Principal, companyID uuid.UUID) bool {
	return p.IsPrivileged() || (p.Kind == model.ActorKindCompany && p.Is(companyID))
}

type AcquireRequest struct {
	CompanyID  uuid.UUID `json:"company_id" binding:"required"`
	PlanID     uuid.UUID `json:"plan_id" binding:"required"`
	Quantity   int       `json:"quantity"`
	StartDate  time.Time `json:"start_date"`
	ExpiryDate time.Time `json:"expiry_date"`
}

func (s *Service) Acquire(ctx context.Context, p model.Principal, req AcquireRequest) (*model.CompanyLicense, error) {
	if !Manages(p, req.CompanyID) {
		return nil, apperrors.Forbidden("only the company or an administrator can acquire licenses")
	}
	if req.Quantity < 1 {
		return nil, apperrors.InvalidQuantity(req.Quantity)
	}

	plan, err := s.Plan(ctx, req.PlanID)
	if err != nil {
		return nil, err
	}
	if !plan.Active {
		return nil, apperrors.BadRequest("license plan is not available", nil)
	}
	if plan.MaxUsers > 0 && req.Quantity > plan.MaxUsers {
		return nil, apperrors.InvalidQuantity(req.Quantity)
	}

	start := req.StartDate
	if start.IsZero() {
		start = s.now()
	}
	if !req.ExpiryDate.After(start) {
		return nil, apperrors.BadRequest("expiry date must be after start date", nil)
	}

	l := &model.CompanyLicense{
		CompanyID:     req.CompanyID,
		PlanID:        plan.ID,
		TotalLicenses: req.Quantity,
		UsedLicenses:  0,
		StartDate:     start.UTC(),
		ExpiryDate:    req.ExpiryDate.UTC(),
		Status:        model.LicenseStatusPending,
		PaymentStatus: model.PaymentStatusPending,
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.licenses.Create(ctx, l); err != nil {
			return fmt.Errorf("failed to create license: %w", err)
		}
		return s.record(ctx, p, model.EventLicenseAcquired, model.AuditActionCreate, l)
	})
	if err != nil {
		return nil, err
	}
	return l, nil
}

// Activate moves a pending license to active. A still pending payment is
// settled as completed.
func (s *Service) Activate(ctx context.Context, p model.Principal, id uuid.UUID) (*model.CompanyLicense, error) {
	if !p.IsPrivileged() {
		return nil, apperrors.Forbidden("only an administrator can activate licenses")
	}

	l, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if l.Status != model.LicenseStatusPending {
		return nil, apperrors.InvalidTransition("license", string(l.Status), string(model.LicenseStatusActive))
	}

	l.Status = model.LicenseStatusActive
	if l.PaymentStatus == model.PaymentStatusPending {
		l.PaymentStatus = model.PaymentStatusCompleted
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.licenses.UpdateStatus(ctx, l, model.LicenseStatusPending, false); err != nil {
			return fmt.Errorf("failed to activate license: %w", err)
		}
		return s.record(ctx, p, model.EventLicenseActivated, model.AuditActionActivate, l)
	})
	if err != nil {
		return nil, err
	}
	return l, nil
}

// UpdatePaymentStatus applies an external payment signal. Failed or canceled
// payments take the license out of the available pool.
func (s *Service) UpdatePaymentStatus(ctx context.Context, p model.Principal, id uuid.UUID, status model.PaymentStatus) (*model.CompanyLicense, error) {
	if !p.IsPrivileged() {
		return nil, apperrors.Forbidden("only an administrator can update payment status")
	}
	if !status.Valid() {
		return nil, apperrors.BadRequest(fmt.Sprintf("unknown payment status %q", status), nil)
	}

	l, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if l.Status == model.LicenseStatusCanceled {
		return nil, apperrors.InvalidTransition("license", string(l.Status), string(l.Status))
	}
	if l.PaymentStatus == status {
		return l, nil
	}

	from := l.Status
	l.PaymentStatus = status
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.licenses.UpdateStatus(ctx, l, from, false); err != nil {
			return fmt.Errorf("failed to update payment status: %w", err)
		}
		return s.record(ctx, p, model.EventLicensePaymentUpdated, model.AuditActionPayment, l)
	})
	if err != nil {
		return nil, err
	}
	return l, nil
}

// Cancel ends a license. It fails with LicenseInUse while any seat is
// consumed; dependent associations have to be disconnected first.
func (s *Service) Cancel(ctx context.Context, p model.Principal, id uuid.UUID) (*model.CompanyLicense, error) {
	l, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !Manages(p, l.CompanyID) {
		return nil, apperrors.Forbidden("only the company or an administrator can cancel licenses")
	}
	if l.Status == model.LicenseStatusCanceled {
		return nil, apperrors.InvalidTransition("license", string(l.Status), string(model.LicenseStatusCanceled))
	}
	if l.Status != model.LicenseStatusActive && l.PaymentStatus != model.PaymentStatusPending {
		return nil, apperrors.InvalidTransition("license", string(l.Status), string(model.LicenseStatusCanceled))
	}
	if l.UsedLicenses > 0 {
		return nil, apperrors.LicenseInUse(l.UsedLicenses)
	}

	from := l.Status
	now := s.now()
	l.Status = model.LicenseStatusCanceled
	l.CanceledAt = &now

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.licenses.UpdateStatus(ctx, l, from, true); err != nil {
			return fmt.Errorf("failed to cancel license: %w", err)
		}
		return s.record(ctx, p, model.EventLicenseCanceled, model.AuditActionCancel, l)
	})
	if err != nil {
		return nil, err
	}
	return l, nil
}

func (s *Service) CheckAvailability(ctx context.Context, companyID uuid.UUID) (model.Availability, error) {
	licenses, err := s.licenses.ListByCompany(ctx, companyID)
	if err != nil {
		return model.Availability{}, fmt.Errorf("failed to list licenses: %w", err)
	}
	return model.SummarizeAvailability(companyID, licenses, s.now()), nil
}

// ReserveSeat consumes one seat from the company's pool.
func (s *Service) ReserveSeat(ctx context.Context, companyID uuid.UUID) (*model.CompanyLicense, error) {
	l, err := s.licenses.ReserveSeat(ctx, companyID, s.now())
	if err != nil {
		s.metrics.Seat("reserve", resultLabel(err))
		return nil, fmt.Errorf("failed to reserve seat: %w", err)
	}
	s.metrics.Seat("reserve", "ok")
	return l, nil
}

func (s *Service) ReleaseSeat(ctx context.Context, companyID, licenseID uuid.UUID) (*model.CompanyLicense, error) {
	l, err := s.licenses.ReleaseSeat(ctx, companyID, licenseID)
	if err != nil {
		s.metrics.Seat("release", resultLabel(err))
		return nil, fmt.Errorf("failed to release seat: %w", err)
	}
	s.metrics.Seat("release", "ok")
	return l, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.CompanyLicense, error) {
	l, err := s.licenses.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get license: %w", err)
	}
	return l, nil
}

func (s *Service) ListByCompany(ctx context.Context, companyID uuid.UUID) ([]*model.CompanyLicense, error) {
	licenses, err := s.licenses.ListByCompany(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list licenses: %w", err)
	}
	return licenses, nil
}

func (s *Service) record(ctx context.Context, p model.Principal, eventType, action string, l *model.CompanyLicense) error {
	if err := s.events.Emit(ctx, eventType, l); err != nil {
		return err
	}
	return s.auditor.Log(ctx, p, action, model.AuditEntityLicense, l.ID, l)
}

func resultLabel(err error) string {
	if code, ok := apperrors.CodeOf(err); ok {
		return code.String()
	}
	return "error"
}
