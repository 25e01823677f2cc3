package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/rl1809/dropspot/internal/core/domain"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// statusFor maps an error code onto its HTTP status.
func statusFor(code string) int {
	switch code {
	case domain.CodeValidation, domain.CodeWindowClosed:
		return http.StatusBadRequest
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeNotEligible, domain.CodeForbidden:
		return http.StatusForbidden
	case domain.CodeConflict:
		return http.StatusConflict
	case domain.CodeSoldOut:
		return http.StatusGone
	case domain.CodeUnauthorized:
		return http.StatusUnauthorized
	case domain.CodeAllocatorBusy:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}

// writeServiceError renders err in the shared error format. Business
// failures carry their message; infrastructure failures are logged and
// rendered without internals.
func (h *HTTPHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	code := domain.Code(err)
	status := statusFor(code)

	message := err.Error()
	switch {
	case code == domain.CodeAllocatorBusy:
		h.logger.Warn("allocator busy", slog.String("path", r.URL.Path), slog.Any("error", err))
		w.Header().Set("Retry-After", "1")
		message = "claim allocator is busy, retry shortly"
	case status >= http.StatusInternalServerError:
		if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
			h.logger.Debug("client went away", slog.String("path", r.URL.Path))
		} else {
			h.logger.Error("request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		}
		message = "internal error"
	}
	writeError(w, status, code, message)
}
