package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/nolabru/psiconnect/internal/model"
	"github.com/nolabru/psiconnect/internal/repository"
	apperrors "github.com/nolabru/psiconnect/pkg/errors"
)

const licenseColumns = `id, company_id, plan_id, total_licenses, used_licenses, start_date, expiry_date,
	status, payment_status, canceled_at, created_at, updated_at`

// reserveAttempts bounds retries when a concurrent writer drains the chosen row
// between candidate selection and the conditional increment.
const reserveAttempts = 5

type licenseRepository struct {
	BaseRepository
}

func NewLicenseRepository(base BaseRepository) repository.LicenseRepository {
	return &licenseRepository{base}
}

func (r *licenseRepository) Create(ctx context.Context, l *model.CompanyLicense) error {
	if l.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return apperrors.Internal(err)
		}
		l.ID = id
	}
	query := `
		INSERT INTO company_licenses (
			id, company_id, plan_id, total_licenses, used_licenses, start_date, expiry_date,
			status, payment_status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		RETURNING created_at, updated_at`

	err := r.ext(ctx).QueryRowxContext(ctx, query,
		l.ID, l.CompanyID, l.PlanID, l.TotalLicenses, l.UsedLicenses, l.StartDate, l.ExpiryDate,
		l.Status, l.PaymentStatus,
	).Scan(&l.CreatedAt, &l.UpdatedAt)
	return translate(err, "license")
}

func (r *licenseRepository) Get(ctx context.Context, id uuid.UUID) (*model.CompanyLicense, error) {
	var l model.CompanyLicense
	query := `SELECT ` + licenseColumns + ` FROM company_licenses WHERE id = $1`
	if err := sqlx.GetContext(ctx, r.ext(ctx), &l, query, id); err != nil {
		return nil, translate(err, "license")
	}
	return &l, nil
}

func (r *licenseRepository) ListByCompany(ctx context.Context, companyID uuid.UUID) ([]*model.CompanyLicense, error) {
	query := `SELECT ` + licenseColumns + ` FROM company_licenses WHERE company_id = $1 ORDER BY id ASC`
	out := make([]*model.CompanyLicense, 0)
	if err := sqlx.SelectContext(ctx, r.ext(ctx), &out, query, companyID); err != nil {
		return nil, translate(err, "license")
	}
	return out, nil
}

func (r *licenseRepository) UpdateStatus(ctx context.Context, l *model.CompanyLicense, from model.LicenseStatus, requireUnused bool) error {
	query := `
		UPDATE company_licenses
		SET status = $1, payment_status = $2, canceled_at = $3, updated_at = NOW()
		WHERE id = $4 AND status = $5`
	if requireUnused {
		query += ` AND used_licenses = 0`
	}
	query += ` RETURNING used_licenses, updated_at`

	err := r.ext(ctx).QueryRowxContext(ctx, query,
		l.Status, l.PaymentStatus, l.CanceledAt, l.ID, from,
	).Scan(&l.UsedLicenses, &l.UpdatedAt)
	if !errors.Is(err, sql.ErrNoRows) {
		return translate(err, "license")
	}

	current, getErr := r.Get(ctx, l.ID)
	if getErr != nil {
		return getErr
	}
	if current.Status != from {
		return apperrors.Conflict("license status changed concurrently")
	}
	return apperrors.LicenseInUse(current.UsedLicenses)
}

func (r *licenseRepository) ReserveSeat(ctx context.Context, companyID uuid.UUID, now time.Time) (*model.CompanyLicense, error) {
	const query = `
		UPDATE company_licenses
		SET used_licenses = used_licenses + 1, updated_at = NOW()
		WHERE id = (
			SELECT id FROM company_licenses
			WHERE company_id = $1
				AND status = 'active'
				AND payment_status IN ('completed', 'active')
				AND expiry_date > $2
				AND used_licenses < total_licenses
			ORDER BY id ASC
			LIMIT 1
		) AND used_licenses < total_licenses
		RETURNING ` + licenseColumns

	for attempt := 0; attempt < reserveAttempts; attempt++ {
		var l model.CompanyLicense
		err := sqlx.GetContext(ctx, r.ext(ctx), &l, query, companyID, now)
		if err == nil {
			return &l, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, translate(err, "license")
		}

		spare, err := r.hasSpareSeat(ctx, companyID, now)
		if err != nil {
			return nil, err
		}
		if !spare {
			return nil, apperrors.CapacityExceeded("no license seat available for company")
		}
	}
	return nil, apperrors.Conflict("license seat reservation contended")
}

func (r *licenseRepository) hasSpareSeat(ctx context.Context, companyID uuid.UUID, now time.Time) (bool, error) {
	var exists bool
	query := `
		SELECT EXISTS (
			SELECT 1 FROM company_licenses
			WHERE company_id = $1
				AND status = 'active'
				AND payment_status IN ('completed', 'active')
				AND expiry_date > $2
				AND used_licenses < total_licenses
		)`
	if err := sqlx.GetContext(ctx, r.ext(ctx), &exists, query, companyID, now); err != nil {
		return false, translate(err, "license")
	}
	return exists, nil
}

func (r *licenseRepository) ReleaseSeat(ctx context.Context, companyID, licenseID uuid.UUID) (*model.CompanyLicense, error) {
	query := `
		UPDATE company_licenses
		SET used_licenses = GREATEST(used_licenses - 1, 0), updated_at = NOW()
		WHERE id = $1 AND company_id = $2
		RETURNING ` + licenseColumns

	var l model.CompanyLicense
	if err := sqlx.GetContext(ctx, r.ext(ctx), &l, query, licenseID, companyID); err != nil {
		return nil, translate(err, "license")
	}
	return &l, nil
}
