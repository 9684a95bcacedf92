package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dmitrijs2005/osfrelay/internal/common"
	"github.com/dmitrijs2005/osfrelay/internal/logging"
	"github.com/dmitrijs2005/osfrelay/internal/server/services"
)

const (
	msgBadRequest     = "Bad Request"
	msgNotFound       = "Resource not found"
	msgInternalServer = "Internal Server Error"
	msgUnauthorized   = "Unauthorized"
)

// HTTPError is an error with the status code and the message the client sees.
type HTTPError struct {
	cause     error
	Code      int
	Message   string
	Retryable bool
}

func (he *HTTPError) Error() string {
	return he.Message
}

func (he *HTTPError) Unwrap() error {
	return he.cause
}

func newHTTPError(code int, message string, cause error) *HTTPError {
	return &HTTPError{cause: cause, Code: code, Message: message}
}

type errorResponse struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable,omitempty"`
}

// appHandler is a handler that reports failures by returning them.
type appHandler func(w http.ResponseWriter, r *http.Request) error

// makeHandler adapts an appHandler, turning a returned error into a JSON
// error response and a log line.
func makeHandler(logger logging.Logger, h appHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := h(w, r)
		if err == nil {
			return
		}

		he := toHTTPError(err)
		args := []any{"code", he.Code, "path", r.URL.Path, "method", r.Method, "error", err}
		if he.Code >= 500 {
			logger.Error(r.Context(), "request failed", args...)
		} else {
			logger.Warn(r.Context(), "request rejected", args...)
		}

		respondJSON(w, he.Code, errorResponse{Error: he.Message, Retryable: he.Retryable})
	}
}

// toHTTPError maps service errors onto status codes.
func toHTTPError(err error) *HTTPError {
	var he *HTTPError
	if errors.As(err, &he) {
		return he
	}

	var retryable bool
	var perr *services.ProvisionError
	if errors.As(err, &perr) {
		retryable = perr.SafeToRetry()
	}

	var out *HTTPError
	switch {
	case errors.Is(err, common.ErrorValidation):
		msg := err.Error()
		if perr != nil && perr.Err != nil {
			msg = perr.Err.Error()
		}
		out = newHTTPError(http.StatusBadRequest, msg, err)
	case errors.Is(err, common.ErrTokenExpired):
		out = newHTTPError(http.StatusUnauthorized, common.ErrTokenExpired.Error(), err)
	case errors.Is(err, common.ErrInvalidToken), errors.Is(err, common.ErrorUnauthorized):
		out = newHTTPError(http.StatusUnauthorized, msgUnauthorized, err)
	case errors.Is(err, common.ErrOSFNotConnected) && perr == nil:
		out = newHTTPError(http.StatusForbidden, common.ErrOSFNotConnected.Error(), err)
	case errors.Is(err, common.ErrOSFUnauthorized):
		out = newHTTPError(http.StatusBadGateway, common.ErrOSFUnauthorized.Error(), err)
	case errors.Is(err, common.ErrOSFMalformedResponse):
		out = newHTTPError(http.StatusBadGateway, common.ErrOSFMalformedResponse.Error(), err)
	case errors.Is(err, common.ErrOSFRequest):
		out = newHTTPError(http.StatusBadGateway, common.ErrOSFRequest.Error(), err)
	case errors.Is(err, common.ErrorNotFound):
		out = newHTTPError(http.StatusNotFound, msgNotFound, err)
	default:
		out = newHTTPError(http.StatusInternalServerError, msgInternalServer, err)
	}
	out.Retryable = retryable
	return out
}

func respondJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}
