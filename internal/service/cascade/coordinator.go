// Package cascade keeps employee links consistent with company links: when a
// psychologist connects to a company every employee is connected too, as far
// as the company's license pool allows, and disconnecting undoes it.
package cascade

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/nolabru/psiconnect/internal/model"
	"github.com/nolabru/psiconnect/internal/repository"
	"github.com/nolabru/psiconnect/internal/service/association"
	"github.com/nolabru/psiconnect/internal/service/audit"
	"github.com/nolabru/psiconnect/internal/service/connection"
	"github.com/nolabru/psiconnect/internal/service/event"
	"github.com/nolabru/psiconnect/internal/service/license"
	apperrors "github.com/nolabru/psiconnect/pkg/errors"
	"github.com/nolabru/psiconnect/pkg/logger"
	"github.com/nolabru/psiconnect/pkg/metrics"
)

const (
	directionConnect       = "connect"
	directionDisconnect    = "disconnect"
	directionLicenseCancel = "license_cancel"
)

type cascadeKey struct{}

// withinCascade marks ctx so the listener leaves seat bookkeeping to the
// coordinator loop that issued the transition.
func withinCascade(ctx context.Context) context.Context {
	return context.WithValue(ctx, cascadeKey{}, true)
}

func inCascade(ctx context.Context) bool {
	v, _ := ctx.Value(cascadeKey{}).(bool)
	return v
}

type Coordinator struct {
	store    *association.Store
	conn     *connection.Service
	licenses *license.Service
	actors   repository.ActorRepository
	tx       repository.Transactor
	events   *event.Service
	auditor  *audit.Service
	logger   *logger.Logger
	metrics  *metrics.Metrics
}

var _ connection.Listener = (*Coordinator)(nil)

func NewCoordinator(
	store *association.Store,
	conn *connection.Service,
	licenses *license.Service,
	actors repository.ActorRepository,
	tx repository.Transactor,
	events *event.Service,
	auditor *audit.Service,
	log *logger.Logger,
	m *metrics.Metrics,
) *Coordinator {
	if log == nil {
		log = logger.NewNop()
	}
	return &Coordinator{
		store:    store,
		conn:     conn,
		licenses: licenses,
		actors:   actors,
		tx:       tx,
		events:   events,
		auditor:  auditor,
		logger:   log,
		metrics:  m,
	}
}

// canRun reports whether p may trigger a cascade for the pair.
func canRun(p model.Principal, companyID, psychologistID uuid.UUID) bool {
	return p.IsPrivileged() || p.Is(companyID) || p.Is(psychologistID)
}

// CascadeOnCompanyAccept links every employee of the company to the
// psychologist, one seat each. Links are independent: capacity shortfalls and
// per-employee failures land in the summary instead of failing the call.
func (c *Coordinator) CascadeOnCompanyAccept(ctx context.Context, p model.Principal, companyID, psychologistID uuid.UUID) (*model.CascadeSummary, error) {
	if !canRun(p, companyID, psychologistID) {
		return nil, apperrors.Forbidden("only a party to the company association can run its cascade")
	}

	source, err := c.store.Find(ctx, psychologistID, companyID, model.RelationPsychologistCompany)
	if err != nil {
		return nil, err
	}
	if source.Status != model.AssociationStatusActive {
		return nil, apperrors.InvalidTransition("association", string(source.Status), string(model.AssociationStatusActive))
	}

	employees, err := c.actors.ListEmployees(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list employees: %w", err)
	}

	summary := model.NewCascadeSummary(companyID, psychologistID)
	for _, employee := range employees {
		outcome := c.connectEmployee(ctx, summary, source, employee.ID)
		c.metrics.CascadeLink(directionConnect, outcome)
	}

	c.complete(ctx, directionConnect, summary)
	return summary, nil
}

func (c *Coordinator) connectEmployee(ctx context.Context, summary *model.CascadeSummary, source *model.Association, employeeID uuid.UUID) string {
	companyID, psychologistID := source.ObjectID, source.SubjectID

	existing, err := c.store.FindActiveOrPending(ctx, psychologistID, employeeID, model.RelationPsychologistPatient)
	if err != nil {
		return fail(summary, employeeID, err)
	}
	if existing != nil {
		if existing.Status == model.AssociationStatusActive {
			summary.AlreadyConnected = append(summary.AlreadyConnected, employeeID)
			return "already_connected"
		}
		return fail(summary, employeeID, apperrors.Conflict("a pending association already exists for this employee"))
	}

	// The seat and the link commit together or not at all.
	var a *model.Association
	err = c.tx.WithinTx(ctx, func(ctx context.Context) error {
		seat, err := c.licenses.ReserveSeat(ctx, companyID)
		if err != nil {
			return err
		}
		a, err = c.store.CreateDerived(ctx, psychologistID, employeeID, source.ID, seat.ID)
		return err
	})
	if apperrors.IsCode(err, apperrors.ErrCapacityExceeded) {
		summary.SkippedForCapacity = append(summary.SkippedForCapacity, employeeID)
		return "skipped_for_capacity"
	}
	if err != nil {
		return fail(summary, employeeID, err)
	}

	if err := c.auditor.Log(ctx, model.SystemPrincipal(), model.AuditActionCreate, model.AuditEntityAssociation, a.ID, a); err != nil {
		c.logger.Error(err, "failed to audit derived association", "association_id", a.ID.String())
	}
	summary.Connected = append(summary.Connected, employeeID)
	return "connected"
}

// CascadeOnCompanyDisconnect removes every active link derived from the
// company association and frees their seats. The company association must no
// longer be active.
func (c *Coordinator) CascadeOnCompanyDisconnect(ctx context.Context, p model.Principal, companyID, psychologistID uuid.UUID) (*model.CascadeSummary, error) {
	if !canRun(p, companyID, psychologistID) {
		return nil, apperrors.Forbidden("only a party to the company association can run its cascade")
	}

	source, err := c.store.Find(ctx, psychologistID, companyID, model.RelationPsychologistCompany)
	if err != nil {
		return nil, err
	}
	if source.Status == model.AssociationStatusActive {
		return nil, apperrors.InvalidTransition("association", string(source.Status), string(model.AssociationStatusInactive))
	}

	derived, err := c.store.ListBySource(ctx, source.ID, model.AssociationStatusActive)
	if err != nil {
		return nil, err
	}

	summary := model.NewCascadeSummary(companyID, psychologistID)
	c.disconnectAll(ctx, summary, companyID, derived, directionDisconnect)
	c.complete(ctx, directionDisconnect, summary)
	return summary, nil
}

// ForceCancelLicense disconnects every active link backed by the license,
// releases their seats and then cancels it. When any link could not be
// released the license stays in place and the summary explains why.
func (c *Coordinator) ForceCancelLicense(ctx context.Context, p model.Principal, licenseID uuid.UUID) (*model.CompanyLicense, *model.CascadeSummary, error) {
	l, err := c.licenses.Get(ctx, licenseID)
	if err != nil {
		return nil, nil, err
	}
	if !license.Manages(p, l.CompanyID) {
		return nil, nil, apperrors.Forbidden("only the company or an administrator can cancel licenses")
	}
	if l.Status == model.LicenseStatusCanceled {
		return nil, nil, apperrors.InvalidTransition("license", string(l.Status), string(model.LicenseStatusCanceled))
	}

	derived, err := c.store.ListByLicense(ctx, licenseID, model.AssociationStatusActive)
	if err != nil {
		return nil, nil, err
	}

	summary := model.NewCascadeSummary(l.CompanyID, uuid.Nil)
	c.disconnectAll(ctx, summary, l.CompanyID, derived, directionLicenseCancel)
	c.complete(ctx, directionLicenseCancel, summary)

	canceled, err := c.licenses.Cancel(ctx, p, licenseID)
	if err != nil {
		return nil, summary, err
	}
	return canceled, summary, nil
}

func (c *Coordinator) disconnectAll(ctx context.Context, summary *model.CascadeSummary, companyID uuid.UUID, derived []*model.Association, direction string) {
	ctx = withinCascade(ctx)
	for _, a := range derived {
		employeeID := a.ObjectID
		_, changed, err := c.conn.Apply(ctx, model.SystemPrincipal(), a.ID, connection.ActionDisconnect)
		if err != nil {
			c.metrics.CascadeLink(direction, fail(summary, employeeID, err))
			continue
		}
		// Unchanged means another caller ended the link after it was listed,
		// and that caller's transition already gave the seat back.
		if changed && a.LicenseID != nil {
			if _, err := c.licenses.ReleaseSeat(ctx, companyID, *a.LicenseID); err != nil {
				c.metrics.CascadeLink(direction, fail(summary, employeeID, err))
				continue
			}
		}
		summary.Disconnected = append(summary.Disconnected, employeeID)
		c.metrics.CascadeLink(direction, "disconnected")
	}
}

// OnTransition reacts to committed transitions. Company links start and stop
// cascades. A derived employee link deactivated outside a cascade gives its
// seat back.
func (c *Coordinator) OnTransition(ctx context.Context, evt connection.TransitionEvent) error {
	a := evt.Association
	switch {
	case a.RelationKind == model.RelationPsychologistCompany && evt.Transition == connection.TransitionActivated:
		summary, err := c.CascadeOnCompanyAccept(ctx, model.SystemPrincipal(), a.ObjectID, a.SubjectID)
		if err != nil {
			return fmt.Errorf("cascade on accept: %w", err)
		}
		c.logSummary(directionConnect, summary)
		return nil

	case a.RelationKind == model.RelationPsychologistCompany && evt.Transition == connection.TransitionDeactivated:
		summary, err := c.CascadeOnCompanyDisconnect(ctx, model.SystemPrincipal(), a.ObjectID, a.SubjectID)
		if err != nil {
			return fmt.Errorf("cascade on disconnect: %w", err)
		}
		c.logSummary(directionDisconnect, summary)
		return nil

	case a.RelationKind == model.RelationPsychologistPatient && evt.Transition == connection.TransitionDeactivated:
		if a.LicenseID == nil || a.SourceAssociationID == nil || inCascade(ctx) {
			return nil
		}
		source, err := c.store.Get(ctx, *a.SourceAssociationID)
		if err != nil {
			return err
		}
		if _, err := c.licenses.ReleaseSeat(ctx, source.ObjectID, *a.LicenseID); err != nil {
			return fmt.Errorf("release seat of derived association: %w", err)
		}
		return nil
	}
	return nil
}

func (c *Coordinator) complete(ctx context.Context, direction string, summary *model.CascadeSummary) {
	payload := map[string]interface{}{
		"direction": direction,
		"summary":   summary,
	}
	if err := c.events.Emit(ctx, model.EventCascadeCompleted, payload); err != nil {
		c.logger.Error(err, "failed to emit cascade event", "company_id", summary.CompanyID.String())
	}
}

func (c *Coordinator) logSummary(direction string, summary *model.CascadeSummary) {
	c.logger.Info("cascade completed",
		"direction", direction,
		"company_id", summary.CompanyID.String(),
		"psychologist_id", summary.PsychologistID.String(),
		"connected", len(summary.Connected),
		"disconnected", len(summary.Disconnected),
		"skipped_for_capacity", len(summary.SkippedForCapacity),
		"failed", len(summary.Failed),
	)
}

func fail(summary *model.CascadeSummary, employeeID uuid.UUID, err error) string {
	code := apperrors.ErrInternal
	if c, ok := apperrors.CodeOf(err); ok {
		code = c
	}
	summary.Failed = append(summary.Failed, model.CascadeFailure{EmployeeID: employeeID, Code: code.String()})
	return "failed"
}
