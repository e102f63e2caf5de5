package api

import (
	"context"
	"errors"
	"net/http"

	"spotline/cmd/internal/fault"

	"go.uber.org/zap"
)

// requestIDHeader is set on the response by the server's request-id middleware before any
// handler runs.
const requestIDHeader = "X-Request-ID"

// writeFault maps a service error to its HTTP status. Unclassified errors are logged and
// reported as a bare 500. A request whose context ended is not a server fault: it is
// logged at debug and answered with 503.
func (h *Handler) writeFault(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		h.log.Debug("api.request.canceled",
			zap.String("path", r.URL.Path),
			zap.String("request_id", w.Header().Get(requestIDHeader)),
			zap.Error(err),
		)
		writeError(w, http.StatusServiceUnavailable, "request_canceled", "request canceled or timed out")
		return
	}

	var fe *fault.Error
	if !errors.As(err, &fe) || statusFor(err) >= http.StatusInternalServerError {
		h.log.Error("api.internal",
			zap.String("path", r.URL.Path),
			zap.String("request_id", w.Header().Get(requestIDHeader)),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal", "internal server error")
		return
	}

	status := statusFor(err)
	msg := fe.Msg
	if msg == "" {
		msg = http.StatusText(status)
	}
	writeError(w, status, fe.Code, msg)
}

func statusFor(err error) int {
	switch {
	case fault.Is(err, fault.ErrInvalidInput):
		return http.StatusBadRequest
	case fault.Is(err, fault.ErrUnauthenticated):
		return http.StatusUnauthorized
	case fault.Is(err, fault.ErrForbidden):
		return http.StatusForbidden
	case fault.Is(err, fault.ErrNotFound):
		return http.StatusNotFound
	case fault.Is(err, fault.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
