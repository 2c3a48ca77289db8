package httpclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	apperrors "github.com/Nish7156/loyalty-client/pkg/errors"
)

// backendError mirrors the loyalty backend's error body: a top-level
// "message" field, optionally with a machine code.
type backendError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ParseResponseError reads the body of a non-2xx response and translates it
// into an AppError. The server-provided message is preserved when the body
// parses; otherwise the message falls back to "HTTP <status>". The body is
// fully consumed and closed.
func ParseResponseError(resp *http.Response) error {
	defer func() { _ = resp.Body.Close() }()

	message := fmt.Sprintf("HTTP %d", resp.StatusCode)
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err == nil && len(body) > 0 {
		var be backendError
		if json.Unmarshal(body, &be) == nil && be.Message != "" {
			message = be.Message
		}
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		return &apperrors.AppError{
			Code:    "NOT_FOUND",
			Message: message,
			Status:  http.StatusNotFound,
			Err:     apperrors.ErrNotFound,
		}
	case http.StatusBadRequest:
		return apperrors.InvalidInput(message)
	case http.StatusUnauthorized:
		return apperrors.Unauthorized(message)
	case http.StatusForbidden:
		return apperrors.Forbidden(message)
	case http.StatusConflict:
		return apperrors.Conflict(message)
	case http.StatusServiceUnavailable:
		return &apperrors.AppError{
			Code:    "UNAVAILABLE",
			Message: message,
			Status:  http.StatusServiceUnavailable,
			Err:     apperrors.ErrUnavailable,
		}
	default:
		return &apperrors.AppError{
			Code:    "HTTP_ERROR",
			Message: message,
			Status:  resp.StatusCode,
		}
	}
}
