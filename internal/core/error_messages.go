package core

// error_messages.go maps technical errors to user-facing messages with codes
// that users can quote to support.
//
// # Codes
//
//	DB001  company already exists (unique violation outside the upsert path)
//	DB004  database unreachable
//	DB005  database connection interrupted
//	DB006  database timeout
//	DB007  deadlock / serialization failure
//	DB010  batch commit failed, nothing was saved
//	CMP001 company not found
//	VAL001 invalid INN
//	VAL002 invalid company update
//	FILE001 file too large
//	FILE002 unsupported file type
//	FILE003 undecodable file / malformed CSV
//	FILE004 no file in request
//	FILE005 empty file
//	UPL002 too many concurrent uploads
//	UPL004 request cancelled
//	UPL005 request timed out
//	RATE001 rate limited
//	ERR000 anything else; check the logs for the technical error
//
// Typed errors (sentinels, IngestionError, CoercionError) are matched first
// with errors.Is/As. Untyped driver errors fall back to case-insensitive
// substring patterns, first match wins.

import (
	"context"
	"errors"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

// ErrNoFile is returned by transports when a request carries no file.
var ErrNoFile = errors.New("no file provided")

// ErrRateLimited is returned by transports when a client exceeds its request rate.
var ErrRateLimited = errors.New("rate limit exceeded")

type sentinelMessage struct {
	err error
	msg UserMessage
}

// sentinelMessages is checked in order with errors.Is.
var sentinelMessages = []sentinelMessage{
	{ErrFileTooLarge, UserMessage{
		Message: "File exceeds the maximum upload size",
		Action:  "Split the file into smaller parts",
		Code:    "FILE001",
	}},
	{ErrUnsupportedFileType, UserMessage{
		Message: "Only .csv files are accepted",
		Action:  "Export the registry as CSV and upload again",
		Code:    "FILE002",
	}},
	{ErrUndecodableFile, UserMessage{
		Message: "File could not be read as UTF-8 or Windows-1251 CSV",
		Action:  "Save the file as CSV (UTF-8) and upload again",
		Code:    "FILE003",
	}},
	{ErrNoFile, UserMessage{
		Message: "No file was selected",
		Action:  "Please select a CSV file to upload",
		Code:    "FILE004",
	}},
	{ErrEmptyFile, UserMessage{
		Message: "The uploaded file is empty",
		Action:  "Please upload a CSV file with a header row",
		Code:    "FILE005",
	}},
	{ErrStoreCommit, UserMessage{
		Message: "Companies could not be saved; nothing from this file was stored",
		Action:  "Please try again",
		Code:    "DB010",
	}},
	{ErrCompanyNotFound, UserMessage{
		Message: "Company not found",
		Action:  "Refresh the list; the company may have been deleted",
		Code:    "CMP001",
	}},
	{ErrInvalidPatch, UserMessage{
		Message: "The update contains invalid values",
		Action:  "Check the submitted fields",
		Code:    "VAL002",
	}},
	{ErrTooManyIngestions, UserMessage{
		Message: "System is busy processing other uploads",
		Action:  "Please wait a moment and try again",
		Code:    "UPL002",
	}},
	{ErrRateLimited, UserMessage{
		Message: "Too many requests",
		Action:  "Please wait a moment before trying again",
		Code:    "RATE001",
	}},
	{context.Canceled, UserMessage{
		Message: "Request was cancelled",
		Action:  "Please try again",
		Code:    "UPL004",
	}},
	{context.DeadlineExceeded, UserMessage{
		Message: "Request timed out",
		Action:  "Try uploading a smaller file or check your connection",
		Code:    "UPL005",
	}},
}

var invalidINNMessage = UserMessage{
	Message: "INN must contain 10 or 12 digits",
	Action:  "Correct the INN value",
	Code:    "VAL001",
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns keeps driver-level errors (pgx, sqlite3) readable.
var errorPatterns = []errorPattern{
	{"duplicate key", UserMessage{"A company with this INN already exists", "Reload and edit the existing company", "DB001"}},
	{"unique constraint", UserMessage{"A company with this INN already exists", "Reload and edit the existing company", "DB001"}},
	{"connection refused", UserMessage{"Unable to connect to database", "Please try again in a few moments", "DB004"}},
	{"connection reset", UserMessage{"Database connection was interrupted", "Please try again", "DB005"}},
	{"timeout", UserMessage{"Operation timed out", "Try uploading a smaller file or try again later", "DB006"}},
	{"deadlock", UserMessage{"Database was busy with conflicting operations", "Please try again", "DB007"}},
	{"database is locked", UserMessage{"Database was busy with conflicting operations", "Please try again", "DB007"}},
}

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// Returns the zero UserMessage for nil.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, sm := range sentinelMessages {
		if errors.Is(err, sm.err) {
			return sm.msg
		}
	}

	var ce *CoercionError
	if errors.As(err, &ce) && ce.Reason == ReasonInvalidINN {
		return invalidINNMessage
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// IsUserFacing reports whether err maps to a specific message rather than ERR000.
func IsUserFacing(err error) bool {
	return err != nil && MapError(err).Code != defaultMessage.Code
}
