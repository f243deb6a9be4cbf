package git

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/thiagokokada/repoops/internal/diff"
	"github.com/thiagokokada/repoops/internal/git/backend"
)

type BlameLine = backend.BlameLine

type BlameStrategy string

const (
	// BlameAuto uses the backend blame and falls back to history replay when
	// the backend fails.
	BlameAuto     BlameStrategy = "auto"
	BlameNative   BlameStrategy = "native"
	BlameFallback BlameStrategy = "fallback"
)

func ParseBlameStrategy(s string) (BlameStrategy, error) {
	switch BlameStrategy(s) {
	case "", BlameAuto:
		return BlameAuto, nil
	case BlameNative, BlameFallback:
		return BlameStrategy(s), nil
	}
	return "", backend.Invalid("strategy", "unknown blame strategy %q", s)
}

type BlameOptions struct {
	Strategy BlameStrategy
	// MaxDepth overrides the configured fallback depth.
	MaxDepth int
}

// Blame attributes every line of path at ref (HEAD when empty) to a commit.
func (s *Service) Blame(ctx context.Context, path, ref string, opts BlameOptions) ([]BlameLine, error) {
	if ref == "" {
		ref = "HEAD"
	}
	if err := validateRef("ref", ref); err != nil {
		return nil, err
	}
	if _, err := SafeJoin(s.path, path); err != nil {
		return nil, err
	}
	strategy, err := ParseBlameStrategy(string(opts.Strategy))
	if err != nil {
		return nil, err
	}
	depth := opts.MaxDepth
	if depth <= 0 {
		depth = s.engine.cfg.BlameDepth
	}
	var lines []BlameLine
	err = s.read(func() error {
		hash, err := s.backend.ResolveRef(ctx, ref)
		if err != nil {
			return err
		}
		switch strategy {
		case BlameNative:
			lines, err = s.backend.Blame(ctx, hash, path)
		case BlameFallback:
			lines, err = s.blameHistory(ctx, hash, path, depth)
		default:
			lines, err = s.backend.Blame(ctx, hash, path)
			if err != nil && !errors.Is(err, backend.ErrRefNotFound) && ctx.Err() == nil {
				slog.Debug("native blame failed, replaying history",
					slog.String("path", path),
					slog.Any("error", err),
				)
				lines, err = s.blameHistory(ctx, hash, path, depth)
			}
		}
		return err
	})
	return lines, err
}

// blameHistory walks the history of path from newest to oldest, at most
// depth commits. A line still unattributed is given to a commit when the
// file before that commit does not contain it; whatever is left after the
// walk goes to the oldest commit examined. Moves and copies are not
// tracked, so the result is approximate.
func (s *Service) blameHistory(ctx context.Context, hash, path string, depth int) ([]BlameLine, error) {
	data, ok, err := s.backend.FileAt(ctx, hash, path)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s:%s", backend.ErrRefNotFound, shortHash(hash), path)
	}
	history, err := s.backend.Log(ctx, backend.LogOptions{From: hash, Path: path, MaxCount: depth})
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, fmt.Errorf("%w: no history for %s", backend.ErrRefNotFound, path)
	}
	current := diff.SplitLines(string(data))
	owner := make([]int, len(current))
	for i := range owner {
		owner[i] = -1
	}
	remaining := len(current)
	for ci, c := range history {
		if remaining == 0 {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var before map[string]int
		if len(c.ParentHashes) > 0 {
			older, _, err := s.backend.FileAt(ctx, c.ParentHashes[0], path)
			if err != nil {
				return nil, err
			}
			before = lineSet(string(older))
		}
		for i, line := range current {
			if owner[i] >= 0 {
				continue
			}
			if before[line] > 0 {
				before[line]--
				continue
			}
			owner[i] = ci
			remaining--
		}
	}
	oldest := len(history) - 1
	out := make([]BlameLine, len(current))
	for i, line := range current {
		ci := owner[i]
		if ci < 0 {
			ci = oldest
		}
		c := history[ci]
		out[i] = BlameLine{
			LineNo:  i + 1,
			Content: strings.TrimSuffix(line, "\n"),
			Commit:  c.Hash,
			Author:  c.Author.Name,
			Email:   c.Author.Email,
			Date:    c.Author.When,
			Summary: c.Summary(),
		}
	}
	return out, nil
}

func lineSet(text string) map[string]int {
	set := make(map[string]int)
	for _, l := range diff.SplitLines(text) {
		set[l]++
	}
	return set
}
