package git

import (
	"errors"
	"fmt"

	"github.com/thiagokokada/repoops/internal/git/backend"
)

// Error kinds re-exported so callers of the engine do not need to import the
// backend package to branch on them.
var (
	ErrBackend             = backend.ErrBackend
	ErrRefNotFound         = backend.ErrRefNotFound
	ErrOperationInProgress = backend.ErrOperationInProgress
	ErrResourceLocked      = backend.ErrResourceLocked
	ErrConflictPending     = backend.ErrConflictPending
	ErrPathTraversal       = backend.ErrPathTraversal
	ErrValidation          = backend.ErrValidation
	ErrNoRemoteConfigured  = backend.ErrNoRemoteConfigured
	ErrRestoreFailed       = backend.ErrRestoreFailed
	ErrNothingToCommit     = backend.ErrNothingToCommit
)

type (
	BackendError    = backend.BackendError
	ConflictError   = backend.ConflictError
	ValidationError = backend.ValidationError
	RestoreError    = backend.RestoreError
)

// Kind names the error kind of err for display and structured output.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRestoreFailed):
		return "restore_failed"
	case errors.Is(err, ErrConflictPending):
		return "conflict_pending"
	case errors.Is(err, ErrOperationInProgress):
		return "operation_in_progress"
	case errors.Is(err, ErrResourceLocked):
		return "resource_locked"
	case errors.Is(err, ErrPathTraversal):
		return "path_traversal_rejected"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrRefNotFound):
		return "ref_not_found"
	case errors.Is(err, ErrNoRemoteConfigured):
		return "no_remote_configured"
	case errors.Is(err, ErrNothingToCommit):
		return "nothing_to_commit"
	case errors.Is(err, ErrBackend):
		return "backend"
	default:
		return "internal"
	}
}

func operationInProgress(op backend.Operation) error {
	return fmt.Errorf("%w: %s", ErrOperationInProgress, op)
}

// restoreFailed layers a failed restoration onto the error that triggered it.
func restoreFailed(cause error, path string, err error) error {
	return errors.Join(cause, &RestoreError{Path: path, Err: err})
}
