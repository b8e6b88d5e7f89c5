package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"lunchbadger/configstore/pkg/store"
)

// errorBody is the JSON envelope every error response carries. Stack
// content never reaches the client.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message    string `json:"message"`
	StatusCode int    `json:"statusCode"`
}

// statusFor maps the store error taxonomy to HTTP status codes.
func statusFor(err error) int {
	switch store.KindOf(err) {
	case store.KindRepoDoesNotExist, store.KindInvalidBranch, store.KindFileNotFound:
		return http.StatusNotFound
	case store.KindRevisionNotFound, store.KindValidationFailed:
		return http.StatusBadRequest
	case store.KindOptimisticConcurrency:
		return http.StatusPreconditionFailed
	case store.KindLocked:
		return http.StatusConflict
	case store.KindFileTooLarge:
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("internal error", "error", err)
	}
	writeJSON(w, status, errorBody{Error: errorDetail{
		Message:    err.Error(),
		StatusCode: status,
	}})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: errorDetail{
		Message:    message,
		StatusCode: http.StatusBadRequest,
	}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("failed to encode response", "error", err)
	}
}
