package handlers

import (
	"net/http"

	"auction-marketplace/internal/domain"
	"auction-marketplace/pkg/logger"

	"github.com/labstack/echo/v4"
)

type errorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind"`
	Retryable bool   `json:"retryable"`
}

func statusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindStateConflict:
		return http.StatusConflict
	case domain.KindContention:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes the error taxonomy onto the response. Internal
// details are only logged.
func respondError(c echo.Context, log logger.Logger, err error) error {
	kind := domain.Classify(err)
	status := statusFor(kind)

	msg := err.Error()
	if status == http.StatusInternalServerError {
		log.Error("Request failed", "path", c.Path(), "error", err)
		msg = "internal error"
	}
	if kind == domain.KindContention {
		c.Response().Header().Set("Retry-After", "1")
	}
	return c.JSON(status, errorResponse{Error: msg, Kind: kind.String(), Retryable: domain.IsRetryable(err)})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, errorResponse{Error: msg, Kind: domain.KindValidation.String()})
}
