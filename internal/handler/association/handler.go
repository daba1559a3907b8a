package association

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/nolabru/psiconnect/internal/handler"
	"github.com/nolabru/psiconnect/internal/model"
	apperrors "github.com/nolabru/psiconnect/pkg/errors"
)

type Reader interface {
	Get(ctx context.Context, id uuid.UUID) (*model.Association, error)
	ListByActor(ctx context.Context, actorID uuid.UUID, kind model.RelationKind, statuses ...model.AssociationStatus) ([]*model.Association, error)
}

type Transitioner interface {
	Accept(ctx context.Context, p model.Principal, id uuid.UUID) (*model.Association, error)
	Reject(ctx context.Context, p model.Principal, id uuid.UUID) (*model.Association, error)
	Disconnect(ctx context.Context, p model.Principal, id uuid.UUID) (*model.Association, error)
	Withdraw(ctx context.Context, p model.Principal, id uuid.UUID) (*model.Association, error)
}

type Handler struct {
	reader Reader
	conn   Transitioner
}

func NewHandler(reader Reader, conn Transitioner) *Handler {
	return &Handler{reader: reader, conn: conn}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	associations := r.Group("/associations")
	{
		associations.GET("", h.List)
		associations.GET("/:id", h.Get)
		associations.POST("/:id/accept", h.transition(h.conn.Accept))
		associations.POST("/:id/reject", h.transition(h.conn.Reject))
		associations.POST("/:id/disconnect", h.transition(h.conn.Disconnect))
		associations.POST("/:id/withdraw", h.transition(h.conn.Withdraw))
	}
}

type listQuery struct {
	Kind   string   `form:"kind" binding:"omitempty,oneof=psychologist_patient psychologist_company"`
	Status []string `form:"status" binding:"omitempty,dive,oneof=pending active rejected inactive"`
}

func (h *Handler) List(c *gin.Context) {
	p, ok := handler.MustPrincipal(c)
	if !ok {
		return
	}
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		handler.AbortWithError(c, apperrors.BadRequest("invalid query", err))
		return
	}

	statuses := make([]model.AssociationStatus, 0, len(q.Status))
	for _, s := range q.Status {
		statuses = append(statuses, model.AssociationStatus(s))
	}
	list, err := h.reader.ListByActor(c.Request.Context(), p.ActorID, model.RelationKind(q.Kind), statuses...)
	if err != nil {
		handler.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(list))
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

	a, err := h.reader.Get(c.Request.Context(), id)
	if err != nil {
		handler.AbortWithError(c, err)
		return
	}
	if !a.HasParty(p.ActorID) && !p.IsPrivileged() {
		// Records of other actors are indistinguishable from missing ones.
		handler.AbortWithError(c, apperrors.NotFound("association", nil))
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(a))
}

type transitionFunc func(ctx context.Context, p model.Principal, id uuid.UUID) (*model.Association, error)

func (h *Handler) transition(fn transitionFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := handler.MustPrincipal(c)
		if !ok {
			return
		}
		id, ok := handler.ParamUUID(c, "id")
		if !ok {
			return
		}

		a, err := fn(c.Request.Context(), p, id)
		if err != nil {
			handler.AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, handler.NewSuccessResponse(a))
	}
}
