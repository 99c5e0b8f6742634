package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"livedit/api/internal/fingerprint"
	"livedit/api/internal/format"
	"livedit/api/internal/history"
	"livedit/api/internal/livesync"
	"livedit/api/internal/workspace"
)

const (
	CodeNotFound             = "NOT_FOUND"
	CodeDesync               = "DESYNC"
	CodePatchConflict        = "PATCH_CONFLICT"
	CodeInvalidPatch         = "INVALID_PATCH"
	CodeWorkspaceUnavailable = "WORKSPACE_UNAVAILABLE"
	CodeHistoryFailure       = "HISTORY_BACKEND_FAILURE"
	CodeInvalidPath          = "INVALID_PATH"
	CodeInvalidIdentity      = "INVALID_IDENTITY"
	CodeReservedName         = "RESERVED_NAME"
	CodeUnknownSnapshot      = "UNKNOWN_SNAPSHOT"
	CodeUnsupportedFormat    = "UNSUPPORTED_FORMAT"
	CodeFormatFailed         = "FORMAT_FAILED"
	CodeForbidden            = "FORBIDDEN"
	CodeInternal             = "INTERNAL"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
	cause   error
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.cause
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

// classify turns errors of the core packages into domain errors. Errors that
// already are domain errors, and context errors, pass through unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var out *DomainError
	switch {
	case errors.Is(err, workspace.ErrWorkspaceMissing):
		out = domainError(http.StatusGone, CodeWorkspaceUnavailable, "Workspace is no longer available, reload to continue", nil)
	case errors.Is(err, workspace.ErrReservedIdentity):
		out = domainError(http.StatusBadRequest, CodeReservedName, "That name is reserved", nil)
	case errors.Is(err, workspace.ErrInvalidIdentity):
		out = domainError(http.StatusBadRequest, CodeInvalidIdentity, "Invalid name", nil)
	case errors.Is(err, workspace.ErrInvalidPath):
		out = domainError(http.StatusBadRequest, CodeInvalidPath, "Invalid file path", nil)
	case errors.Is(err, livesync.ErrFileNotFound):
		out = domainError(http.StatusNotFound, CodeNotFound, "File not found", nil)
	case errors.Is(err, livesync.ErrPatchConflict):
		out = domainError(http.StatusConflict, CodePatchConflict, "Patch does not apply, resync the file", nil)
	case errors.Is(err, livesync.ErrInvalidPatch):
		out = domainError(http.StatusBadRequest, CodeInvalidPatch, "Malformed patch", nil)
	case errors.Is(err, fingerprint.ErrDesync):
		out = domainError(http.StatusConflict, CodeDesync, "File content drifted, resync the file", nil)
	case errors.Is(err, history.ErrUnknownTarget):
		out = domainError(http.StatusNotFound, CodeUnknownSnapshot, "Unknown snapshot", nil)
	case errors.Is(err, history.ErrBackend):
		out = domainError(http.StatusInternalServerError, CodeHistoryFailure, "Version history is unavailable", nil)
	case errors.Is(err, format.ErrUnsupported):
		out = domainError(http.StatusBadRequest, CodeUnsupportedFormat, "No formatter for this file type", nil)
	default:
		out = domainError(http.StatusInternalServerError, CodeInternal, "Internal error", nil)
	}
	out.cause = err
	return out
}
