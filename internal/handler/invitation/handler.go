package invitation

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/nolabru/psiconnect/internal/handler"
	"github.com/nolabru/psiconnect/internal/model"
)

type Service interface {
	Invite(ctx context.Context, issuer model.Principal, targetEmail string) (*model.InviteResult, error)
	ListPending(ctx context.Context, email string) ([]*model.Invitation, error)
	Redeem(ctx context.Context, redeemer model.Principal, code string) (*model.Association, error)
	Cancel(ctx context.Context, p model.Principal, id uuid.UUID) (*model.Invitation, error)
}

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	invitations := r.Group("/invitations")
	{
		invitations.POST("", h.Invite)
		invitations.GET("/pending", h.ListPending)
		invitations.POST("/:code/redeem", h.Redeem)
		invitations.POST("/:code/cancel", h.Cancel)
	}
}

type inviteRequest struct {
	Email string `json:"email" binding:"required,email"`
}

func (h *Handler) Invite(c *gin.Context) {
	p, ok := handler.MustPrincipal(c)
	if !ok {
		return
	}
	var req inviteRequest
	if !handler.BindJSON(c, &req) {
		return
	}

	res, err := h.service.Invite(c.Request.Context(), p, req.Email)
	if err != nil {
		handler.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, handler.NewSuccessResponse(res))
}

// ListPending resolves the invitations addressed to the caller's email.
func (h *Handler) ListPending(c *gin.Context) {
	p, ok := handler.MustPrincipal(c)
	if !ok {
		return
	}

	list, err := h.service.ListPending(c.Request.Context(), p.Email)
	if err != nil {
		handler.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(list))
}

func (h *Handler) Redeem(c *gin.Context) {
	p, ok := handler.MustPrincipal(c)
	if !ok {
		return
	}

	a, err := h.service.Redeem(c.Request.Context(), p, c.Param("code"))
	if err != nil {
		handler.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(a))
}

// Cancel takes the invitation id in the :code slot; gin needs one wildcard
// name per path segment.
func (h *Handler) Cancel(c *gin.Context) {
	p, ok := handler.MustPrincipal(c)
	if !ok {
		return
	}
	id, ok := handler.ParamUUID(c, "code")
	if !ok {
		return
	}

	inv, err := h.service.Cancel(c.Request.Context(), p, id)
	if err != nil {
		handler.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(inv))
}
