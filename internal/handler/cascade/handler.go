package cascade

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/nolabru/psiconnect/internal/handler"
	"github.com/nolabru/psiconnect/internal/model"
)

type Coordinator interface {
	CascadeOnCompanyAccept(ctx context.Context, p model.Principal, companyID, psychologistID uuid.UUID) (*model.CascadeSummary, error)
	CascadeOnCompanyDisconnect(ctx context.Context, p model.Principal, companyID, psychologistID uuid.UUID) (*model.CascadeSummary, error)
}

type Handler struct {
	coordinator Coordinator
}

func NewHandler(coordinator Coordinator) *Handler {
	return &Handler{coordinator: coordinator}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	cascade := r.Group("/companies/:id/psychologists/:psychologistId/cascade")
	{
		cascade.POST("", h.run(h.coordinator.CascadeOnCompanyAccept))
		cascade.DELETE("", h.run(h.coordinator.CascadeOnCompanyDisconnect))
	}
}

type cascadeFunc func(ctx context.Context, p model.Principal, companyID, psychologistID uuid.UUID) (*model.CascadeSummary, error)

// run re-runs a cascade explicitly, for instance after a listener failure.
func (h *Handler) run(fn cascadeFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := handler.MustPrincipal(c)
		if !ok {
			return
		}
		companyID, ok := handler.ParamUUID(c, "id")
		if !ok {
			return
		}
		psychologistID, ok := handler.ParamUUID(c, "psychologistId")
		if !ok {
			return
		}

		summary, err := fn(c.Request.Context(), p, companyID, psychologistID)
		if err != nil {
			handler.AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, handler.NewSuccessResponse(summary))
	}
}
