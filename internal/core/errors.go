package core

import (
	"errors"
	"fmt"
)

// ErrorKind tags a fatal ingestion failure.
type ErrorKind string

const (
	KindUnsupportedFileType ErrorKind = "UnsupportedFileType"
	KindFileTooLarge        ErrorKind = "FileTooLarge"
	KindUndecodableFile     ErrorKind = "UndecodableFile"
	KindEmptyFile           ErrorKind = "EmptyFile"
	KindStoreCommitFailure  ErrorKind = "StoreCommitFailure"
)

// Sentinel errors, one per kind. IngestionError unwraps to the matching sentinel
// so callers can use errors.Is without inspecting Kind.
var (
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrFileTooLarge        = errors.New("file too large")
	ErrUndecodableFile     = errors.New("encoding error: file is not valid UTF-8 or Windows-1251")
	ErrEmptyFile           = errors.New("empty file")
	ErrStoreCommit         = errors.New("store commit failed")

	ErrCompanyNotFound = errors.New("company not found")
	ErrInvalidPatch    = errors.New("invalid company update")
)

var kindSentinels = map[ErrorKind]error{
	KindUnsupportedFileType: ErrUnsupportedFileType,
	KindFileTooLarge:        ErrFileTooLarge,
	KindUndecodableFile:     ErrUndecodableFile,
	KindEmptyFile:           ErrEmptyFile,
	KindStoreCommitFailure:  ErrStoreCommit,
}

// IngestionError is a whole-file failure. No partial result accompanies it.
type IngestionError struct {
	Kind   ErrorKind
	Detail string
	Err    error // underlying cause, may be nil
}

func (e *IngestionError) Error() string {
	msg := kindSentinels[e.Kind].Error()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *IngestionError) Unwrap() []error {
	errs := []error{kindSentinels[e.Kind]}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func newIngestionError(kind ErrorKind, cause error, format string, args ...any) *IngestionError {
	return &IngestionError{
		Kind:   kind,
		Detail: fmt.Sprintf(format, args...),
		Err:    cause,
	}
}

// KindOf returns the ErrorKind of err, or "" if err is not an IngestionError.
func KindOf(err error) ErrorKind {
	var ie *IngestionError
	if errors.As(err, &ie) {
		return ie.Kind
	}
	return ""
}

// CoercionError reports a cell that could not be converted to its field type.
type CoercionError struct {
	Field  string
	Value  string
	Reason SkipReason // set for mandatory fields only
	Msg    string
}

func (e *CoercionError) Error() string {
	return fmt.Sprintf("%s: %s (%q)", e.Field, e.Msg, e.Value)
}
