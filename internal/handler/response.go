package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/nolabru/psiconnect/internal/model"
	apperrors "github.com/nolabru/psiconnect/pkg/errors"
)

const principalKey = "principal"

type Response struct {
	Status  string      `json:"status"`
	Code    string      `json:"code,omitempty"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func NewSuccessResponse(data interface{}) *Response {
	return &Response{
		Status: "success",
		Data:   data,
	}
}

func NewErrorResponse(code apperrors.ErrorCode, message string) *Response {
	return &Response{
		Status:  "error",
		Code:    code.String(),
		Message: message,
	}
}

// AbortWithError answers with the status and code carried by err. Store and
// unknown failures keep their details in the gin error list only.
func AbortWithError(c *gin.Context, err error) {
	_ = c.Error(err)

	resp := NewErrorResponse(apperrors.ErrInternal, "internal server error")
	status := http.StatusInternalServerError

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		status = appErr.HTTPStatus()
		resp.Code = appErr.Code.String()
		if appErr.Code != apperrors.ErrInternal && appErr.Code != apperrors.ErrExternalService {
			resp.Message = appErr.Message
		}
	}
	c.AbortWithStatusJSON(status, resp)
}

func SetPrincipal(c *gin.Context, p model.Principal) {
	c.Set(principalKey, p)
}

// CurrentPrincipal returns the principal stored by the auth middleware.
func CurrentPrincipal(c *gin.Context) (model.Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return model.Principal{}, false
	}
	p, ok := v.(model.Principal)
	return p, ok
}

// MustPrincipal aborts with 401 when no principal is set.
func MustPrincipal(c *gin.Context) (model.Principal, bool) {
	p, ok := CurrentPrincipal(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, NewErrorResponse(apperrors.ErrUnauthorized, "unauthorized"))
	}
	return p, ok
}

// ParamUUID parses a path parameter, answering 400 when it is not a uuid.
func ParamUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		AbortWithError(c, apperrors.BadRequest("invalid "+name, err))
		return uuid.Nil, false
	}
	return id, true
}

// BindJSON decodes the body and runs binding validation.
func BindJSON(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		AbortWithError(c, apperrors.BadRequest("invalid request body", err))
		return false
	}
	return true
}
