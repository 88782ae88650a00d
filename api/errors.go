package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/warp/loan-engine/loan"
)

// statusFor maps the loan error taxonomy onto HTTP.
func statusFor(err error) int {
	switch {
	case errors.Is(err, loan.ErrInvalidInput):
		return http.StatusBadRequest
	case loan.IsNotFound(err):
		return http.StatusNotFound
	case loan.IsConflict(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func messageFor(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "Invalid request"
	case http.StatusNotFound:
		return "Not found"
	case http.StatusConflict:
		return "Schedule conflict"
	case http.StatusUnauthorized:
		return "Unauthorized"
	default:
		return "Internal error"
	}
}

// fail writes err with the status its kind maps to. Server-side failures are
// logged and their details are not sent to the client.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	resp := ErrorResponse{
		Error:     messageFor(status),
		RequestID: middleware.GetReqID(r.Context()),
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", resp.RequestID),
			zap.Error(err),
		)
	} else {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
