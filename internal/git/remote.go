package git

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/thiagokokada/repoops/internal/git/backend"
)

type (
	Remote        = backend.Remote
	RemoteOptions = backend.RemoteOptions
	Credential    = backend.Credential
	Progress      = backend.Progress
	ProgressFunc  = backend.ProgressFunc
)

func (s *Service) Remotes(ctx context.Context) ([]Remote, error) {
	var out []Remote
	err := s.read(func() error {
		var err error
		out, err = s.backend.Remotes(ctx)
		return err
	})
	return out, err
}

// Fetch updates the remote-tracking branches of opts.Remote (origin when
// empty).
func (s *Service) Fetch(ctx context.Context, opts RemoteOptions) error {
	return s.network(ctx, "fetch", opts, s.backend.Fetch)
}

// Pull fetches and merges the upstream of the current branch.
func (s *Service) Pull(ctx context.Context, opts RemoteOptions) error {
	return s.mutate(func() error {
		if err := s.requireIdle(ctx); err != nil {
			return err
		}
		if err := s.requireRemote(ctx); err != nil {
			return err
		}
		return s.timed(ctx, "pull", opts, s.backend.Pull)
	})
}

func (s *Service) Push(ctx context.Context, opts RemoteOptions) error {
	return s.network(ctx, "push", opts, s.backend.Push)
}

// network runs a transfer that only touches refs. git takes its own ref
// locks, so the CLI backend runs without the repository lock and reads stay
// available; go-git shares storer state and needs the write lock.
func (s *Service) network(ctx context.Context, op string, opts RemoteOptions, fn func(context.Context, RemoteOptions) error) error {
	if s.backend.Name() == "native" {
		return s.mutate(func() error {
			if err := s.requireRemote(ctx); err != nil {
				return err
			}
			return s.timed(ctx, op, opts, fn)
		})
	}
	if err := s.requireRemote(ctx); err != nil {
		return err
	}
	defer s.engine.cache.Invalidate(s.path)
	return s.timed(ctx, op, opts, fn)
}

func (s *Service) requireRemote(ctx context.Context) error {
	remotes, err := s.backend.Remotes(ctx)
	if err != nil {
		return err
	}
	if len(remotes) == 0 {
		return fmt.Errorf("%w: repository has no remotes", ErrNoRemoteConfigured)
	}
	return nil
}

func (s *Service) timed(ctx context.Context, op string, opts RemoteOptions, fn func(context.Context, RemoteOptions) error) error {
	start := time.Now()
	err := fn(ctx, opts)
	attrs := []any{
		slog.String("op", op),
		slog.String("repo", s.path),
		slog.String("remote", opts.Remote),
		slog.Duration("elapsed", time.Since(start)),
	}
	if err != nil {
		slog.Warn("remote operation failed", append(attrs, slog.Any("error", err))...)
		return err
	}
	slog.Info("remote operation finished", attrs...)
	return nil
}
