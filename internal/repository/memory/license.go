package memory

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nolabru/psiconnect/internal/model"
	"github.com/nolabru/psiconnect/internal/repository"
	apperrors "github.com/nolabru/psiconnect/pkg/errors"
)

type LicenseRepository struct {
	mu      sync.RWMutex
	records map[uuid.UUID]*model.CompanyLicense
}

var _ repository.LicenseRepository = (*LicenseRepository)(nil)

func NewLicenseRepository() *LicenseRepository {
	return &LicenseRepository{records: make(map[uuid.UUID]*model.CompanyLicense)}
}

func cloneLicense(l *model.CompanyLicense) *model.CompanyLicense {
	c := *l
	return &c
}

func (r *LicenseRepository) Create(ctx context.Context, l *model.CompanyLicense) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if l.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return apperrors.Internal(err)
		}
		l.ID = id
	}
	if _, exists := r.records[l.ID]; exists {
		return apperrors.Conflict("license already exists")
	}
	now := time.Now().UTC()
	l.CreatedAt = now
	l.UpdatedAt = now
	r.records[l.ID] = cloneLicense(l)

	id := l.ID
	onRollback(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.records, id)
	})
	return nil
}

func (r *LicenseRepository) Get(ctx context.Context, id uuid.UUID) (*model.CompanyLicense, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	l, ok := r.records[id]
	if !ok {
		return nil, apperrors.NotFound("license", nil)
	}
	return cloneLicense(l), nil
}

// ListByCompany returns the company's licenses in id order.
func (r *LicenseRepository) ListByCompany(ctx context.Context, companyID uuid.UUID) ([]*model.CompanyLicense, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*model.CompanyLicense, 0)
	for _, l := range r.byCompany(companyID) {
		out = append(out, cloneLicense(l))
	}
	return out, nil
}

// byCompany must be called with the lock held.
func (r *LicenseRepository) byCompany(companyID uuid.UUID) []*model.CompanyLicense {
	var out []*model.CompanyLicense
	for _, l := range r.records {
		if l.CompanyID == companyID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].ID[:], out[j].ID[:]) < 0
	})
	return out
}

func (r *LicenseRepository) UpdateStatus(ctx context.Context, l *model.CompanyLicense, from model.LicenseStatus, requireUnused bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.records[l.ID]
	if !ok {
		return apperrors.NotFound("license", nil)
	}
	if current.Status != from {
		return apperrors.Conflict("license status changed concurrently")
	}
	if requireUnused && current.UsedLicenses > 0 {
		return apperrors.LicenseInUse(current.UsedLicenses)
	}

	prevStatus, prevPayment, prevCanceled := current.Status, current.PaymentStatus, current.CanceledAt
	current.Status = l.Status
	current.PaymentStatus = l.PaymentStatus
	current.CanceledAt = l.CanceledAt
	current.UpdatedAt = time.Now().UTC()

	// Hand back the stored counters so callers never act on a stale copy.
	l.UsedLicenses = current.UsedLicenses
	l.UpdatedAt = current.UpdatedAt

	id, written := l.ID, l.Status
	onRollback(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if c, ok := r.records[id]; ok && c.Status == written {
			c.Status, c.PaymentStatus, c.CanceledAt = prevStatus, prevPayment, prevCanceled
		}
	})
	return nil
}

func (r *LicenseRepository) ReserveSeat(ctx context.Context, companyID uuid.UUID, now time.Time) (*model.CompanyLicense, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, l := range r.byCompany(companyID) {
		if !l.HasSpareSeat(now) {
			continue
		}
		l.UsedLicenses++
		l.UpdatedAt = time.Now().UTC()

		id := l.ID
		onRollback(ctx, func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if c, ok := r.records[id]; ok && c.UsedLicenses > 0 {
				c.UsedLicenses--
			}
		})
		return cloneLicense(l), nil
	}
	return nil, apperrors.CapacityExceeded("no license seat available for company")
}

func (r *LicenseRepository) ReleaseSeat(ctx context.Context, companyID, licenseID uuid.UUID) (*model.CompanyLicense, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.records[licenseID]
	if !ok || l.CompanyID != companyID {
		return nil, apperrors.NotFound("license", nil)
	}
	if l.UsedLicenses > 0 {
		l.UsedLicenses--
		onRollback(ctx, func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if c, ok := r.records[licenseID]; ok {
				c.UsedLicenses++
			}
		})
	}
	l.UpdatedAt = time.Now().UTC()
	return cloneLicense(l), nil
}
