package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"spotline/cmd/internal/fault"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newObservedHandler(t *testing.T) (*Handler, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	return &Handler{log: zap.New(core), cfg: DefaultConfig()}, logs
}

func serveFault(h *Handler, err error) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	w.Header().Set(requestIDHeader, "req-123")
	h.writeFault(w, httptest.NewRequest(http.MethodGet, "/groups/g1", nil), err)
	return w
}

func TestWriteFault_ContextEndedIsNotAnInternalError(t *testing.T) {
	for name, err := range map[string]error{
		"canceled": fmt.Errorf("load group: %w", context.Canceled),
		"deadline": context.DeadlineExceeded,
	} {
		t.Run(name, func(t *testing.T) {
			h, logs := newObservedHandler(t)
			w := serveFault(h, err)

			assert.Equal(t, http.StatusServiceUnavailable, w.Code)
			assert.Equal(t, "request_canceled", errorCode(t, w.Body.Bytes()))
			assert.Zero(t, logs.FilterLevelExact(zapcore.ErrorLevel).Len())

			entries := logs.FilterMessage("api.request.canceled").All()
			require.Len(t, entries, 1)
			assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
			assert.Equal(t, "req-123", entries[0].ContextMap()["request_id"])
		})
	}
}

func TestWriteFault_InternalErrorCarriesRequestID(t *testing.T) {
	h, logs := newObservedHandler(t)
	w := serveFault(h, errors.New("connection reset"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal", errorCode(t, w.Body.Bytes()))

	entries := logs.FilterMessage("api.internal").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	assert.Equal(t, "req-123", entries[0].ContextMap()["request_id"])
	assert.Equal(t, "/groups/g1", entries[0].ContextMap()["path"])
}

func TestWriteFault_KindsMapToStatus(t *testing.T) {
	h, logs := newObservedHandler(t)
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{fault.Invalid("op", "bad"), http.StatusBadRequest, "invalid_input"},
		{fault.NotFound("op", "group"), http.StatusNotFound, "not_found"},
		{fault.Forbidden("op", "no"), http.StatusForbidden, "forbidden"},
		{fault.Conflict("op", "last_admin", "keep one"), http.StatusConflict, "last_admin"},
		{fault.E("op", fault.ErrUnauthenticated, "", ""), http.StatusUnauthorized, "unauthenticated"},
	}
	for _, tc := range cases {
		w := serveFault(h, tc.err)
		assert.Equal(t, tc.status, w.Code, tc.code)
		assert.Equal(t, tc.code, errorCode(t, w.Body.Bytes()))
	}
	assert.Zero(t, logs.Len())
}
