package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

// errorBody is the envelope of every non-2xx JSON answer.
type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	h := w.Header()
	h.Set("Content-Type", "application/json; charset=utf-8")
	h.Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	var body errorBody
	body.Error.Code, body.Error.Message = code, msg
	writeJSON(w, status, body)
}

var (
	errNoBody       = errors.New("api: request body is empty")
	errTrailingData = errors.New("api: trailing data after json object")
)

// decodeRequest decodes a single JSON object of at most limit bytes. Unknown fields are rejected.
func decodeRequest(w http.ResponseWriter, r *http.Request, limit int64, dst any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return errNoBody
	}
	defer r.Body.Close()

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit))
	dec.DisallowUnknownFields()
	switch err := dec.Decode(dst); {
	case errors.Is(err, io.EOF):
		return errNoBody
	case err != nil:
		return err
	}
	if dec.More() {
		return errTrailingData
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errTrailingData
	}
	return nil
}

// readJSON decodes the request body into dst and answers the client itself on failure.
// With optional set, a missing body leaves dst untouched.
func (h *Handler) readJSON(w http.ResponseWriter, r *http.Request, dst any, optional bool) bool {
	err := decodeRequest(w, r, h.cfg.MaxBodyBytes, dst)
	if err == nil || (optional && errors.Is(err, errNoBody)) {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, "body_too_large", "request body is too large")
		return false
	}
	writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
	return false
}
