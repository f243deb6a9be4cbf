package git

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// OpState is the lifecycle of one history mutation.
type OpState string

const (
	StateIdle            OpState = "idle"
	StateInProgress      OpState = "in-progress"
	StateCommitted       OpState = "committed"
	StateConflictPending OpState = "conflict-pending"
	StateAborted         OpState = "aborted"
)

// OpResult describes the outcome of a history mutation.
type OpResult struct {
	ID    string  `json:"id" yaml:"id"`
	Op    string  `json:"op" yaml:"op"`
	State OpState `json:"state" yaml:"state"`
	// Head is HEAD after the operation.
	Head string `json:"head,omitempty" yaml:"head,omitempty"`
	// Applied lists the commits created, oldest first.
	Applied []string `json:"applied,omitempty" yaml:"applied,omitempty"`
	// Skipped lists source commits whose changes were already present.
	Skipped []string `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	// Pending lists source commits not applied because the operation
	// stopped on a conflict before reaching them.
	Pending []string `json:"pending,omitempty" yaml:"pending,omitempty"`
}

// saga drives one mutation through Idle -> InProgress -> {Committed |
// ConflictPending | Aborted}. rollback, when set, returns the repository to
// its state before the mutation and runs when the saga aborts.
type saga struct {
	svc      *Service
	res      *OpResult
	start    time.Time
	rollback func(ctx context.Context) error
}

func (s *Service) newSaga(op string) *saga {
	return &saga{
		svc:   s,
		res:   &OpResult{ID: uuid.NewString(), Op: op, State: StateIdle},
		start: time.Now(),
	}
}

func (sg *saga) log() *slog.Logger {
	return slog.With(
		slog.String("op", sg.res.Op),
		slog.String("op_id", sg.res.ID),
		slog.String("repo", sg.svc.path),
	)
}

func (sg *saga) begin() {
	sg.res.State = StateInProgress
	sg.log().Debug("history operation started")
}

func (sg *saga) head(ctx context.Context) {
	if st, err := sg.svc.backend.HeadState(ctx); err == nil {
		sg.res.Head = st.Hash
	}
}

func (sg *saga) commit(ctx context.Context) (*OpResult, error) {
	sg.res.State = StateCommitted
	sg.head(ctx)
	sg.log().Info("history operation committed",
		slog.String("head", shortHash(sg.res.Head)),
		slog.Int("applied", len(sg.res.Applied)),
		slog.Int("skipped", len(sg.res.Skipped)),
		slog.Duration("elapsed", time.Since(sg.start)),
	)
	return sg.res, nil
}

// conflict leaves the repository stopped for the caller to resolve.
func (sg *saga) conflict(ctx context.Context, err error) (*OpResult, error) {
	sg.res.State = StateConflictPending
	sg.head(ctx)
	sg.log().Warn("history operation stopped on conflict", slog.Any("error", err))
	return sg.res, err
}

// abort runs the rollback and returns cause, with a restoration failure
// layered on top when the rollback did not succeed.
func (sg *saga) abort(ctx context.Context, cause error) (*OpResult, error) {
	sg.res.State = StateAborted
	err := cause
	if sg.rollback != nil {
		// The rollback must run even when ctx was what failed.
		rctx := context.WithoutCancel(ctx)
		if rerr := sg.rollback(rctx); rerr != nil {
			sg.log().Error("history operation rollback failed", slog.Any("error", rerr))
			err = restoreFailed(cause, sg.svc.path, rerr)
		}
	}
	sg.head(context.WithoutCancel(ctx))
	sg.log().Warn("history operation aborted", slog.Any("error", cause))
	return sg.res, err
}

func shortHash(h string) string {
	if len(h) > 7 {
		return h[:7]
	}
	return h
}
