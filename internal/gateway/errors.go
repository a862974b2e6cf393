package gateway

import (
	"errors"
	"net/http"

	"github.com/mugisham37/cms-gateway/internal/util"
)

// ErrorResponse is the JSON envelope for every error the gateway returns.
type ErrorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// NewErrorResponse builds the error envelope for an error.
func NewErrorResponse(err error) ErrorResponse {
	return ErrorResponse{Status: "error", Message: messageFor(err)}
}

// StatusFor maps an error to its HTTP status code. Timeouts are checked
// before transform failures because a transform that overran its budget
// wraps a timeout and reports as a gateway timeout.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, util.ErrRouteNotFound):
		return http.StatusNotFound
	case errors.Is(err, util.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, util.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, util.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, util.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, util.ErrBadGateway):
		return http.StatusBadGateway
	case errors.Is(err, util.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, util.ErrTransform):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// messageFor returns the user-visible message for an error. Unclassified
// errors get a generic message so internals never leak.
func messageFor(err error) string {
	if StatusFor(err) == http.StatusInternalServerError && !errors.Is(err, util.ErrTransform) {
		return "internal server error"
	}
	return err.Error()
}
