package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"plantwatch-backend/internal/monitor"
)

type errorResponse struct {
	Ok      bool                  `json:"ok"`
	Code    string                `json:"code"`
	Message string                `json:"message"`
	Details []monitor.ErrorDetail `json:"details"`
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return errors.New("invalid json payload")
		}
		return err
	}
	return nil
}

// decodeOptionalJSON accepts an empty body and leaves v untouched.
func decodeOptionalJSON(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	err := decodeJSON(r, v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Code: "invalid_request", Message: message, Details: []monitor.ErrorDetail{}})
}

// writeError classifies engine errors into the HTTP status taxonomy.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *monitor.ValidationError
	switch {
	case errors.As(err, &verr):
		details := verr.Details
		if details == nil {
			details = []monitor.ErrorDetail{}
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: "validation_failed", Message: verr.Message, Details: details})
	case errors.Is(err, monitor.ErrValidation):
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: "validation_failed", Message: err.Error(), Details: []monitor.ErrorDetail{}})
	case errors.Is(err, monitor.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Code: "not_found", Message: err.Error(), Details: []monitor.ErrorDetail{}})
	case errors.Is(err, monitor.ErrConflict):
		writeJSON(w, http.StatusConflict, errorResponse{Code: "conflict", Message: err.Error(), Details: []monitor.ErrorDetail{}})
	case errors.Is(err, context.DeadlineExceeded):
		h.log.Warn("request timed out", zap.String("path", r.URL.Path), zap.Error(err))
		writeJSON(w, http.StatusGatewayTimeout, errorResponse{Code: "timeout", Message: "request timed out", Details: []monitor.ErrorDetail{}})
	default:
		h.log.Error("request failed", zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Code: "internal_error", Message: "internal error", Details: []monitor.ErrorDetail{}})
	}
}
