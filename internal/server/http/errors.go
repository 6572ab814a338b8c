package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/TheRealHZL/MentalHealth-sub000/internal/errs"
	"github.com/TheRealHZL/MentalHealth-sub000/internal/metrics"
)

// writeError maps service errors onto HTTP responses. A foreign row surfaces
// as 404, identical to a missing row, so responses leak no existence
// information across tenants.
func writeError(c echo.Context, err error) error {
	var ve *errs.ValidationError
	switch {
	case errors.As(err, &ve):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": ve.Error()})
	case errors.Is(err, errs.ErrNoTenant), errors.Is(err, errs.ErrUnauthorized):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	case errors.Is(err, errs.ErrPermission), errors.Is(err, errs.ErrAdminRequired):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	case errors.Is(err, errs.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not found"})
	case errors.Is(err, errs.ErrAlreadyExists):
		return c.JSON(http.StatusConflict, echo.Map{"error": "already exists"})
	case errors.Is(err, errs.ErrErased):
		return c.JSON(http.StatusGone, echo.Map{"error": "erased"})
	case errors.Is(err, errs.ErrRateLimited):
		return c.JSON(http.StatusTooManyRequests, echo.Map{"error": "too many attempts"})
	default:
		if errs.IsEnforcementViolation(err) {
			metrics.EnforcementViolations.Inc()
		}
		// internal detail stays in the logs, not in the response body
		c.Logger().Error(err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
}
