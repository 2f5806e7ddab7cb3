package shared

import (
	"errors"
	"net/http"
)

// HTTPStatus maps a taxonomy error onto an HTTP status and a fixed
// user-visible title. Anything unrecognised is reported generically so
// internal detail never leaks to the caller.
func HTTPStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest, "Invalid request"
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, "Unauthorized"
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, "Not found"
	case errors.Is(err, ErrInsufficientFunds):
		return http.StatusUnprocessableEntity, "Insufficient funds"
	case errors.Is(err, ErrDuplicateInProgress):
		return http.StatusConflict, "Operation already in progress"
	case errors.Is(err, ErrDuplicateCompleted):
		return http.StatusConflict, "Operation previously completed"
	case errors.Is(err, ErrProviderError):
		return http.StatusBadGateway, "Payment provider error"
	default:
		return http.StatusInternalServerError, "Something went wrong"
	}
}
