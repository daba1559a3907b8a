package postgres

import (
	"database/sql"
	"errors"

	"github.com/lib/pq"

	apperrors "github.com/nolabru/psiconnect/pkg/errors"
)

const uniqueViolation = "23505"

// translate maps driver errors to application errors.
func translate(err error, resource string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.NotFound(resource, err)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return &apperrors.AppError{
			Code:    apperrors.ErrConflict,
			Message: resource + " already exists",
			Err:     err,
		}
	}
	return apperrors.ExternalFailure(err)
}
