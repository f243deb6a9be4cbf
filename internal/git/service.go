package git

import (
	"context"
	"sync"

	"github.com/thiagokokada/repoops/internal/git/backend"
	"github.com/thiagokokada/repoops/internal/repocache"
)

// Service runs engine operations against one repository. Services opened
// from the same Engine for the same path share a lock and a cache, so they
// may be created freely; callers that need operations serialized must share
// the Engine.
type Service struct {
	engine  *Engine
	backend backend.Backend
	path    string
	lock    *sync.RWMutex
}

// NewWithBackend wraps b in a Service with its own default engine. The
// Service shares no lock or cache with any other; use Engine.NewWithBackend
// to serialize with services of an existing engine.
func NewWithBackend(b backend.Backend) *Service {
	return NewEngine(DefaultConfig()).NewWithBackend(b)
}

func (s *Service) RepoPath() string { return s.path }

func (s *Service) GitDir() string { return s.backend.GitDir() }

func (s *Service) BackendName() string { return s.backend.Name() }

func (s *Service) Engine() *Engine { return s.engine }

// read runs fn under the repository read lock.
func (s *Service) read(fn func() error) error {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return fn()
}

// mutate runs fn under the repository write lock and drops the cached reads
// for the repository before the lock is released, whatever fn returned: a
// failed or conflicted mutation may still have changed the repository.
func (s *Service) mutate(fn func() error) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	defer s.engine.cache.Invalidate(s.path)
	return fn()
}

// mutateResult is mutate for operations with a result. The result is
// returned alongside a non-nil error so conflict reports reach the caller.
func mutateResult[T any](s *Service, fn func() (T, error)) (T, error) {
	var v T
	err := s.mutate(func() error {
		var err error
		v, err = fn()
		return err
	})
	return v, err
}

// cached serves kind from the cache, computing it under the read lock.
func cached[T any](s *Service, kind repocache.Kind, compute func() (T, error)) (T, error) {
	return repocache.GetOrCompute(s.engine.cache, kind, s.path, 0, func() (T, error) {
		var v T
		err := s.read(func() error {
			var err error
			v, err = compute()
			return err
		})
		return v, err
	})
}

// requireIdle fails when a cherry-pick, revert, merge or similar is stopped in
// the repository.
func (s *Service) requireIdle(ctx context.Context) error {
	op, err := s.backend.OperationState(ctx)
	if err != nil {
		return err
	}
	if op != backend.OpNone {
		return operationInProgress(op)
	}
	return nil
}

// OperationState reports the stopped multi-step operation, if any.
func (s *Service) OperationState(ctx context.Context) (backend.Operation, error) {
	var op backend.Operation
	err := s.read(func() error {
		var err error
		op, err = s.backend.OperationState(ctx)
		return err
	})
	return op, err
}

// dirtyTracked lists tracked paths with staged or unstaged changes.
func (s *Service) dirtyTracked(ctx context.Context) ([]string, error) {
	entries, err := s.backend.Status(ctx)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if e.Untracked {
			continue
		}
		if e.Staged != backend.ChangeNone || e.Unstaged != backend.ChangeNone {
			paths = append(paths, e.Path)
		}
	}
	return paths, nil
}

func (s *Service) requireCleanTree(ctx context.Context) error {
	dirty, err := s.dirtyTracked(ctx)
	if err != nil {
		return err
	}
	if len(dirty) > 0 {
		return backend.Invalid("worktree", "commit or stash local changes first (%d modified paths)", len(dirty))
	}
	return nil
}
