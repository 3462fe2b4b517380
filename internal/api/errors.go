package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lox/waterbudget/internal/auth"
	"github.com/lox/waterbudget/internal/demand"
	"github.com/lox/waterbudget/internal/store"
	"github.com/lox/waterbudget/internal/telemetry"
)

var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound), errors.Is(err, telemetry.ErrCurveLookupNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrDuplicateYearRecord):
		return http.StatusConflict
	case errors.Is(err, errBadRequest),
		errors.Is(err, demand.ErrInvalidAllocation),
		errors.Is(err, demand.ErrInvalidEfficiency),
		errors.Is(err, demand.ErrTableFull),
		errors.Is(err, store.ErrEmptyAllocationSet):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			"path", c.Request.URL.Path,
			"request_id", c.GetString(requestIDKey),
			"error", err,
		)
		c.AbortWithStatusJSON(status, gin.H{"error": "internal error"})
		return
	}

	body := gin.H{"error": err.Error()}
	var allocErr *demand.AllocationError
	var effErr *demand.EfficiencyError
	switch {
	case errors.As(err, &allocErr):
		body["row"] = allocErr.Row + 1
		body["field"] = allocErr.Field
	case errors.As(err, &effErr):
		body["field"] = effErr.Name
	}
	c.AbortWithStatusJSON(status, body)
}
