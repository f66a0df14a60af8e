package web

// errors.go provides unified error response handling for the web layer.
//
// Every error is logged with its technical detail and request id, then
// returned to the client as a core.UserMessage. statusFor picks the HTTP
// status when a handler has no more specific one.

import (
	"context"
	"errors"
	"net/http"

	"github.com/JonMunkholm/companyimport/internal/core"
	"github.com/JonMunkholm/companyimport/internal/logging"
)

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code) and human-readable (Message, Action) fields.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
	Kind    string `json:"kind,omitempty"`
}

// respondError logs err and writes the mapped user message as JSON. Errors
// without a specific user message are logged at error level whatever the status.
func respondError(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	userMsg := core.MapError(err)

	log := logging.FromContext(r.Context())
	attrs := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", statusCode,
		"error", err.Error(),
		"code", userMsg.Code,
	}
	if statusCode >= http.StatusInternalServerError || !core.IsUserFacing(err) {
		log.Error("request error", attrs...)
	} else {
		log.Warn("request error", attrs...)
	}

	writeJSON(w, statusCode, ErrorResponse{
		Error:   userMsg.Message,
		Message: userMsg.Message,
		Action:  userMsg.Action,
		Code:    userMsg.Code,
		Kind:    string(core.KindOf(err)),
	})
}

// statusFor maps a service error to an HTTP status.
func statusFor(err error) int {
	switch core.KindOf(err) {
	case core.KindFileTooLarge:
		return http.StatusRequestEntityTooLarge
	case core.KindUnsupportedFileType:
		return http.StatusUnsupportedMediaType
	case core.KindUndecodableFile, core.KindEmptyFile:
		return http.StatusUnprocessableEntity
	case core.KindStoreCommitFailure:
		return http.StatusInternalServerError
	}

	switch {
	case errors.Is(err, core.ErrCompanyNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrInvalidPatch), errors.Is(err, core.ErrNoFile):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrTooManyIngestions):
		return http.StatusServiceUnavailable
	case errors.Is(err, core.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout
	}
	return http.StatusInternalServerError
}
