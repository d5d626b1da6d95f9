package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/rcliao/adaptive-memory/internal/feedback"
	"github.com/rcliao/adaptive-memory/internal/memory"
	"github.com/rcliao/adaptive-memory/internal/preference"
	"github.com/rcliao/adaptive-memory/internal/store"
)

// ErrorResponse is the error envelope every failed request returns.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error information.
type ErrorDetail struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Details   map[string]string `json:"details,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
}

const (
	ErrCodeBadRequest       = "BAD_REQUEST"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeValidationFailed = "VALIDATION_FAILED"
	ErrCodeRateLimited      = "RATE_LIMITED"
	ErrCodeInternalServer   = "INTERNAL_SERVER_ERROR"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]string) {
	writeJSON(w, status, ErrorResponse{Error: ErrorDetail{
		Code:      code,
		Message:   message,
		Details:   details,
		RequestID: RequestIDFrom(r.Context()),
	}})
}

// statusFromError maps domain sentinels onto HTTP statuses.
func statusFromError(err error) (int, string) {
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		return http.StatusBadRequest, ErrCodeValidationFailed
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, ErrCodeNotFound
	case errors.Is(err, memory.ErrInvalidKind),
		errors.Is(err, memory.ErrEmptyContent),
		errors.Is(err, preference.ErrEmptyPreference),
		errors.Is(err, feedback.ErrUnknownFeedback),
		errors.Is(err, feedback.ErrMissingUser):
		return http.StatusBadRequest, ErrCodeBadRequest
	default:
		return http.StatusInternalServerError, ErrCodeInternalServer
	}
}

// handleError writes the envelope for err. Server errors hide the cause.
func (h *handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFromError(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		h.log.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		message = "internal server error"
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		writeError(w, r, status, code, "invalid request", fieldDetails(verrs))
		return
	}
	writeError(w, r, status, code, message, nil)
}

func fieldDetails(verrs validator.ValidationErrors) map[string]string {
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			out[fe.Field()] = fe.Tag() + "=" + fe.Param()
		} else {
			out[fe.Field()] = fe.Tag()
		}
	}
	return out
}
