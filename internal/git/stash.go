package git

import (
	"context"
	"fmt"

	"github.com/thiagokokada/repoops/internal/git/backend"
)

type Stash = backend.Stash

// StashList returns the stash entries, newest (index 0) first.
func (s *Service) StashList(ctx context.Context) ([]Stash, error) {
	var out []Stash
	err := s.read(func() error {
		var err error
		out, err = s.backend.StashList(ctx)
		return err
	})
	return out, err
}

// StashPush saves the local changes, untracked files included when
// includeUntracked is set, and cleans the working tree.
func (s *Service) StashPush(ctx context.Context, message string, includeUntracked bool) error {
	return s.mutate(func() error {
		if err := s.requireIdle(ctx); err != nil {
			return err
		}
		return s.backend.StashPush(ctx, message, includeUntracked)
	})
}

// StashApply applies stash index, keeping the entry.
func (s *Service) StashApply(ctx context.Context, index int) error {
	return s.stashApply(ctx, index, false)
}

// StashPop applies stash index and drops it when the apply succeeded.
func (s *Service) StashPop(ctx context.Context, index int) error {
	return s.stashApply(ctx, index, true)
}

func (s *Service) stashApply(ctx context.Context, index int, pop bool) error {
	return s.mutate(func() error {
		if err := s.requireIdle(ctx); err != nil {
			return err
		}
		if _, err := s.stashAt(ctx, index); err != nil {
			return err
		}
		return s.backend.StashApply(ctx, index, pop)
	})
}

func (s *Service) StashDrop(ctx context.Context, index int) error {
	return s.mutate(func() error {
		if _, err := s.stashAt(ctx, index); err != nil {
			return err
		}
		return s.backend.StashDrop(ctx, index)
	})
}

// StashFiles lists the working tree changes recorded by stash index.
func (s *Service) StashFiles(ctx context.Context, index int) ([]backend.ChangedFile, error) {
	var files []backend.ChangedFile
	err := s.read(func() error {
		st, err := s.stashAt(ctx, index)
		if err != nil {
			return err
		}
		files, err = s.backend.CommitChanges(ctx, st.Commit)
		return err
	})
	return files, err
}

// stashAt looks index up in the current list. Indexes shift after every
// push or drop, so they are resolved again for each call.
func (s *Service) stashAt(ctx context.Context, index int) (Stash, error) {
	if index < 0 {
		return Stash{}, backend.Invalid("index", "negative stash index %d", index)
	}
	list, err := s.backend.StashList(ctx)
	if err != nil {
		return Stash{}, err
	}
	if index >= len(list) {
		return Stash{}, fmt.Errorf("%w: stash@{%d}", ErrRefNotFound, index)
	}
	return list[index], nil
}
