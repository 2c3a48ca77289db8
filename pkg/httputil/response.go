package httputil

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	apperrors "github.com/Nish7156/loyalty-client/pkg/errors"
	"github.com/Nish7156/loyalty-client/pkg/logger"
	"github.com/Nish7156/loyalty-client/pkg/validator"
)

// ErrorBody is the error shape the loyalty backend speaks: a display-ready
// message plus an optional machine code. The client's response parser relies
// on the "message" field.
type ErrorBody struct {
	Message string            `json:"message"`
	Code    string            `json:"code,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// WriteJSON writes v with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		// Headers are sent; an encode failure here has no remedy.
		_ = json.NewEncoder(w).Encode(v)
	}
}

// WriteError maps err to an HTTP status and writes the backend error shape.
// Internal errors are logged through the request-scoped logger when present.
func WriteError(w http.ResponseWriter, r *http.Request, err error, fallback *slog.Logger) {
	l := logger.FromContext(r.Context())
	if l == slog.Default() {
		l = fallback
	}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		WriteJSON(w, appErr.Status, ErrorBody{Message: appErr.Message, Code: appErr.Code})
		return
	}

	status := apperrors.HTTPStatus(err)
	message := "an internal error occurred"
	if status != http.StatusInternalServerError {
		message = err.Error()
	} else {
		l.ErrorContext(r.Context(), "internal error",
			slog.String("error", err.Error()),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)
	}

	WriteJSON(w, status, ErrorBody{Message: message})
}

// WriteValidationError writes a 400 with per-field messages when err is a
// validator.ValidationError, else a generic invalid-input body.
func WriteValidationError(w http.ResponseWriter, err error) {
	var valErr *validator.ValidationError
	if errors.As(err, &valErr) {
		WriteJSON(w, http.StatusBadRequest, ErrorBody{
			Message: valErr.Error(),
			Code:    "VALIDATION_ERROR",
			Fields:  valErr.Fields(),
		})
		return
	}

	WriteJSON(w, http.StatusBadRequest, ErrorBody{Message: err.Error(), Code: "INVALID_INPUT"})
}
