package license

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/nolabru/psiconnect/internal/handler"
	"github.com/nolabru/psiconnect/internal/model"
	licenseService "github.com/nolabru/psiconnect/internal/service/license"
	apperrors "github.com/nolabru/psiconnect/pkg/errors"
)

type Service interface {
	Acquire(ctx context.Context, p model.Principal, req licenseService.AcquireRequest) (*model.CompanyLicense, error)
	Activate(ctx context.Context, p model.Principal, id uuid.UUID) (*model.CompanyLicense, error)
	UpdatePaymentStatus(ctx context.Context, p model.Principal, id uuid.UUID, status model.PaymentStatus) (*model.CompanyLicense, error)
	Cancel(ctx context.Context, p model.Principal, id uuid.UUID) (*model.CompanyLicense, error)
	CheckAvailability(ctx context.Context, companyID uuid.UUID) (model.Availability, error)
	Get(ctx context.Context, id uuid.UUID) (*model.CompanyLicense, error)
	ListByCompany(ctx context.Context, companyID uuid.UUID) ([]*model.CompanyLicense, error)
	ListPlans(ctx context.Context) ([]*model.LicensePlan, error)
}

// ForceCanceler disconnects the links backed by a license before canceling it.
type ForceCanceler interface {
	ForceCancelLicense(ctx context.Context, p model.Principal, licenseID uuid.UUID) (*model.CompanyLicense, *model.CascadeSummary, error)
}

type Handler struct {
	service Service
	force   ForceCanceler
}

func NewHandler(service Service, force ForceCanceler) *Handler {
	return &Handler{service: service, force: force}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/plans", h.ListPlans)

	licenses := r.Group("/licenses")
	{
		licenses.POST("", h.Acquire)
		licenses.GET("/:id", h.Get)
		licenses.POST("/:id/activate", h.Activate)
		licenses.POST("/:id/payment", h.UpdatePayment)
		licenses.POST("/:id/cancel", h.Cancel)
	}

	companies := r.Group("/companies/:id/licenses")
	{
		companies.GET("", h.ListByCompany)
		companies.GET("/availability", h.Availability)
	}
}

type paymentRequest struct {
	PaymentStatus model.PaymentStatus `json:"payment_status" binding:"required,payment_status"`
}

type cancelResponse struct {
	License *model.CompanyLicense `json:"license"`
	Cascade *model.CascadeSummary `json:"cascade,omitempty"`
}

func (h *Handler) ListPlans(c *gin.Context) {
	plans, err := h.service.ListPlans(c.Request.Context())
	if err != nil {
		handler.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(plans))
}

func (h *Handler) Acquire(c *gin.Context) {
	p, ok := handler.MustPrincipal(c)
	if !ok {
		return
	}
	var req licenseService.AcquireRequest
	if !handler.BindJSON(c, &req) {
		return
	}

	l, err := h.service.Acquire(c.Request.Context(), p, req)
	if err != nil {
		handler.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, handler.NewSuccessResponse(l))
}

func (h *Handler) Get(c *gin.Context) {
	p, ok := handler.MustPrincipal(c)
	if !ok {
		return
	}
	id, ok := handler.ParamUUID(c, "id")
	if !ok {
		return
	}

	l, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		handler.AbortWithError(c, err)
		return
	}
	if !licenseService.Manages(p, l.CompanyID) {
		handler.AbortWithError(c, apperrors.NotFound("license", nil))
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(l))
}

func (h *Handler) Activate(c *gin.Context) {
	p, ok := handler.MustPrincipal(c)
	if !ok {
		return
	}
	id, ok := handler.ParamUUID(c, "id")
	if !ok {
		return
	}

	l, err := h.service.Activate(c.Request.Context(), p, id)
	if err != nil {
		handler.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(l))
}

func (h *Handler) UpdatePayment(c *gin.Context) {
	p, ok := handler.MustPrincipal(c)
	if !ok {
		return
	}
	id, ok := handler.ParamUUID(c, "id")
	if !ok {
		return
	}
	var req paymentRequest
	if !handler.BindJSON(c, &req) {
		return
	}

	l, err := h.service.UpdatePaymentStatus(c.Request.Context(), p, id, req.PaymentStatus)
	if err != nil {
		handler.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(l))
}

// Cancel refuses while seats are in use unless force=true, which disconnects
// the backing links first.
func (h *Handler) Cancel(c *gin.Context) {
	p, ok := handler.MustPrincipal(c)
	if !ok {
		return
	}
	id, ok := handler.ParamUUID(c, "id")
	if !ok {
		return
	}
	force, err := strconv.ParseBool(c.DefaultQuery("force", "false"))
	if err != nil {
		handler.AbortWithError(c, apperrors.BadRequest("invalid force flag", err))
		return
	}

	var resp cancelResponse
	if force {
		resp.License, resp.Cascade, err = h.force.ForceCancelLicense(c.Request.Context(), p, id)
	} else {
		resp.License, err = h.service.Cancel(c.Request.Context(), p, id)
	}
	if err != nil {
		handler.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(resp))
}

func (h *Handler) ListByCompany(c *gin.Context) {
	companyID, ok := h.managedCompany(c)
	if !ok {
		return
	}

	list, err := h.service.ListByCompany(c.Request.Context(), companyID)
	if err != nil {
		handler.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(list))
}

func (h *Handler) Availability(c *gin.Context) {
	companyID, ok := h.managedCompany(c)
	if !ok {
		return
	}

	avail, err := h.service.CheckAvailability(c.Request.Context(), companyID)
	if err != nil {
		handler.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(avail))
}

func (h *Handler) managedCompany(c *gin.Context) (uuid.UUID, bool) {
	p, ok := handler.MustPrincipal(c)
	if !ok {
		return uuid.Nil, false
	}
	companyID, ok := handler.ParamUUID(c, "id")
	if !ok {
		return uuid.Nil, false
	}
	if !licenseService.Manages(p, companyID) {
		handler.AbortWithError(c, apperrors.Forbidden("only the company or an administrator can view its licenses"))
		return uuid.Nil, false
	}
	return companyID, true
}
