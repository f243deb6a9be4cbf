package backend

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Callers branch on these with errors.Is.
var (
	ErrBackend             = errors.New("backend failure")
	ErrRefNotFound         = errors.New("reference not found")
	ErrOperationInProgress = errors.New("operation in progress")
	ErrResourceLocked      = errors.New("repository is locked")
	ErrConflictPending     = errors.New("conflict pending")
	ErrPathTraversal       = errors.New("path escapes repository root")
	ErrValidation          = errors.New("invalid input")
	ErrNoRemoteConfigured  = errors.New("no remote configured")
	ErrRestoreFailed       = errors.New("working tree restore failed")
	ErrNothingToCommit     = errors.New("nothing to commit")

	// ErrEmptyCommit reports a cherry-pick whose changes are already present.
	ErrEmptyCommit = errors.New("commit is empty")
)

// BackendError is a failed backend invocation. Stderr is already redacted.
type BackendError struct {
	Args     []string
	ExitCode int
	Stderr   string
	// Kind is the classified error kind, ErrBackend when unrecognised.
	Kind error
	Err  error
}

func (e *BackendError) Error() string {
	msg := fmt.Sprintf("git %s", sanitizeArgs(e.Args))
	if e.ExitCode != 0 {
		msg += fmt.Sprintf(": exit status %d", e.ExitCode)
	}
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	} else if e.Err != nil {
		msg += ": " + Redact(e.Err.Error())
	}
	return msg
}

func (e *BackendError) Is(target error) bool {
	if target == ErrBackend {
		return true
	}
	return e.Kind != nil && e.Kind == target
}

func (e *BackendError) Unwrap() error { return e.Err }

// ConflictError reports an operation that stopped on content conflicts. The
// repository is left in the conflicted state unless Restored is set.
type ConflictError struct {
	Op       string
	Commit   string
	Paths    []string
	Restored bool
}

func (e *ConflictError) Error() string {
	msg := fmt.Sprintf("%s: conflict applying %s", e.Op, shortHash(e.Commit))
	if len(e.Paths) > 0 {
		msg += " in " + strings.Join(e.Paths, ", ")
	}
	if e.Restored {
		msg += " (repository restored)"
	}
	return msg
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflictPending }

// Resolutions lists the follow-up actions the caller can offer.
func (e *ConflictError) Resolutions() []string {
	if e.Restored {
		return nil
	}
	switch e.Op {
	case "cherry-pick":
		return []string{"continue", "abort", "skip"}
	default:
		return []string{"continue", "abort"}
	}
}

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// RestoreError is layered onto the original failure when the working tree
// could not be put back.
type RestoreError struct {
	Path string
	Err  error
}

func (e *RestoreError) Error() string {
	return fmt.Sprintf("restore %s: %v", e.Path, e.Err)
}

func (e *RestoreError) Is(target error) bool { return target == ErrRestoreFailed }

func (e *RestoreError) Unwrap() error { return e.Err }

func refNotFound(ref string) error {
	return fmt.Errorf("%w: %s", ErrRefNotFound, ref)
}

// Classify maps recognisable stderr text to an error kind.
func Classify(stderr string) error {
	s := strings.ToLower(stderr)
	switch {
	case strings.Contains(s, "index.lock"),
		strings.Contains(s, "unable to create") && strings.Contains(s, ".lock"),
		strings.Contains(s, "another git process seems to be running"):
		return ErrResourceLocked
	case strings.Contains(s, "the previous cherry-pick is now empty"):
		return ErrEmptyCommit
	case strings.Contains(s, "nothing to commit"),
		strings.Contains(s, "no changes added to commit"),
		strings.Contains(s, "no local changes to save"):
		return ErrNothingToCommit
	case strings.Contains(s, "in progress"),
		strings.Contains(s, "you have not concluded your merge"),
		strings.Contains(s, "cherry_pick_head exists"),
		strings.Contains(s, "merge_head exists"):
		return ErrOperationInProgress
	case strings.Contains(s, "would be overwritten"),
		strings.Contains(s, "please commit your changes or stash them"):
		return ErrValidation
	case strings.Contains(s, "conflict"),
		strings.Contains(s, "after resolving the conflicts"),
		strings.Contains(s, "fix conflicts"):
		return ErrConflictPending
	case strings.Contains(s, "unknown revision"),
		strings.Contains(s, "bad revision"),
		strings.Contains(s, "not a valid object name"),
		strings.Contains(s, "invalid reference"),
		strings.Contains(s, "needed a single revision"),
		strings.Contains(s, "bad object"):
		return ErrRefNotFound
	case strings.Contains(s, "no configured push destination"),
		strings.Contains(s, "no remote repository specified"),
		strings.Contains(s, "does not appear to be a git repository"):
		return ErrNoRemoteConfigured
	case strings.Contains(s, "not a valid branch name"),
		strings.Contains(s, "is not a valid"),
		strings.Contains(s, "already exists"),
		strings.Contains(s, "not fully merged"):
		return ErrValidation
	}
	return nil
}

func shortHash(h string) string {
	if len(h) > 7 {
		return h[:7]
	}
	return h
}
