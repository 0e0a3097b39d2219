package controlapi

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/rafaeljc/bifrost/internal/store"
)

func writeError(w http.ResponseWriter, r *http.Request, status int, resp ErrorResponse) {
	render.Status(r, status)
	render.JSON(w, r, resp)
}

// writeStoreError maps repository errors onto HTTP responses. Anything
// other than the store sentinels is logged and reported as internal.
func writeStoreError(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error, op string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, r, http.StatusNotFound, ErrorResponse{Code: CodeNotFound, Message: err.Error()})
	case errors.Is(err, store.ErrConflict):
		writeError(w, r, http.StatusConflict, ErrorResponse{Code: CodeConflict, Message: err.Error()})
	default:
		log.Error("store operation failed", slog.String("op", op), slog.String("error", err.Error()))
		writeError(w, r, http.StatusInternalServerError, ErrorResponse{Code: CodeInternal, Message: "Failed to " + op})
	}
}

// decodeJSON decodes the body into dst, writing a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, log *slog.Logger, dst any) bool {
	if err := render.DecodeJSON(r.Body, dst); err != nil {
		log.Warn("invalid json payload", slog.String("error", err.Error()))
		writeError(w, r, http.StatusBadRequest, ErrorResponse{
			Code:    CodeInvalidJSON,
			Message: "Invalid JSON payload: " + err.Error(),
		})
		return false
	}
	return true
}

// pathID parses the {id} URL parameter, writing a 400 when it is not a
// positive integer.
func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		writeError(w, r, http.StatusBadRequest, ErrorResponse{
			Code:    CodeInvalidInput,
			Message: fmt.Sprintf("id must be a positive integer, got %q", raw),
		})
		return 0, false
	}
	return id, true
}

// parseOptionalInt extracts an integer from the query string.
// If the parameter is missing, it returns the defaultValue.
// It only returns an error if the parameter is present but malformed.
func parseOptionalInt(r *http.Request, key string, defaultValue int) (int, error) {
	valStr := r.URL.Query().Get(key)
	if valStr == "" {
		return defaultValue, nil
	}
	val, err := strconv.Atoi(valStr)
	if err != nil {
		return 0, fmt.Errorf("parameter '%s' must be an integer", key)
	}
	return val, nil
}

// parseOptionalBool is parseOptionalInt for booleans; a missing value is nil.
func parseOptionalBool(r *http.Request, key string) (*bool, error) {
	valStr := r.URL.Query().Get(key)
	if valStr == "" {
		return nil, nil
	}
	val, err := strconv.ParseBool(valStr)
	if err != nil {
		return nil, fmt.Errorf("parameter '%s' must be a boolean", key)
	}
	return &val, nil
}
