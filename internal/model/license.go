package model

import (
	"time"

	"github.com/google/uuid"
)

// LicensePlan is immutable catalog data. Prices are in cents.
type LicensePlan struct {
	ID           uuid.UUID `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	MaxUsers     int       `db:"max_users" json:"max_users"`
	PriceMonthly int64     `db:"price_monthly" json:"price_monthly"`
	PriceYearly  int64     `db:"price_yearly" json:"price_yearly"`
	Active       bool      `db:"active" json:"active"`
}

type LicenseStatus string

const (
	LicenseStatusPending  LicenseStatus = "pending"
	LicenseStatusActive   LicenseStatus = "active"
	LicenseStatusCanceled LicenseStatus = "canceled"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusActive    PaymentStatus = "active"
	PaymentStatusCanceled  PaymentStatus = "canceled"
	PaymentStatusFailed    PaymentStatus = "failed"
)

func (p PaymentStatus) Valid() bool {
	switch p {
	case PaymentStatusPending, PaymentStatusCompleted, PaymentStatusActive, PaymentStatusCanceled, PaymentStatusFailed:
		return true
	}
	return false
}

// Settled reports whether the payment lets the license back seats.
func (p PaymentStatus) Settled() bool {
	return p == PaymentStatusCompleted || p == PaymentStatusActive
}

type CompanyLicense struct {
	ID            uuid.UUID     `db:"id" json:"id"`
	CompanyID     uuid.UUID     `db:"company_id" json:"company_id"`
	PlanID        uuid.UUID     `db:"plan_id" json:"plan_id"`
	TotalLicenses int           `db:"total_licenses" json:"total_licenses"`
	UsedLicenses  int           `db:"used_licenses" json:"used_licenses"`
	StartDate     time.Time     `db:"start_date" json:"start_date"`
	ExpiryDate    time.Time     `db:"expiry_date" json:"expiry_date"`
	Status        LicenseStatus `db:"status" json:"status"`
	PaymentStatus PaymentStatus `db:"payment_status" json:"payment_status"`
	CanceledAt    *time.Time    `db:"canceled_at" json:"canceled_at,omitempty"`
	CreatedAt     time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time     `db:"updated_at" json:"updated_at"`
}

// Counts reports whether the license's seats belong to the available pool at now.
func (l *CompanyLicense) Counts(now time.Time) bool {
	return l.Status == LicenseStatusActive && l.PaymentStatus.Settled() && now.Before(l.ExpiryDate)
}

// HasSpareSeat reports whether a seat can be reserved on this license at now.
func (l *CompanyLicense) HasSpareSeat(now time.Time) bool {
	return l.Counts(now) && l.UsedLicenses < l.TotalLicenses
}

// Availability aggregates a company's license pool.
type Availability struct {
	CompanyID uuid.UUID `json:"company_id"`
	Total     int       `json:"total"`
	Used      int       `json:"used"`
	Available int       `json:"available"`
	Pending   int       `json:"pending"`
}

// SummarizeAvailability folds licenses into the pool view. Canceled licenses
// are ignored; seats of licenses that do not count yet are reported as pending.
func SummarizeAvailability(companyID uuid.UUID, licenses []*CompanyLicense, now time.Time) Availability {
	av := Availability{CompanyID: companyID}
	for _, l := range licenses {
		if l.Status == LicenseStatusCanceled {
			continue
		}
		if l.Counts(now) {
			av.Total += l.TotalLicenses
			av.Used += l.UsedLicenses
			continue
		}
		if l.Status == LicenseStatusPending {
			av.Pending += l.TotalLicenses
		}
	}
	av.Available = av.Total - av.Used
	if av.Available < 0 {
		av.Available = 0
	}
	return av
}
