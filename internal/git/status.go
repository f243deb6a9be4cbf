package git

import (
	"bytes"
	"context"
	"errors"
	"os"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/thiagokokada/repoops/internal/diff"
	"github.com/thiagokokada/repoops/internal/git/backend"
	"github.com/thiagokokada/repoops/internal/repocache"
)

type ChangeKind = backend.ChangeKind

const (
	ChangeAdded      = backend.ChangeAdded
	ChangeModified   = backend.ChangeModified
	ChangeDeleted    = backend.ChangeDeleted
	ChangeRenamed    = backend.ChangeRenamed
	ChangeConflicted = backend.ChangeConflicted
)

// FileChange is one delta of the working tree status. A path with staged and
// unstaged changes appears twice, once with Staged set.
type FileChange struct {
	Path      string     `json:"path" yaml:"path"`
	OrigPath  string     `json:"orig_path,omitempty" yaml:"orig_path,omitempty"`
	Status    ChangeKind `json:"status" yaml:"status"`
	Staged    bool       `json:"staged" yaml:"staged"`
	Untracked bool       `json:"untracked,omitempty" yaml:"untracked,omitempty"`
	Additions int        `json:"additions" yaml:"additions"`
	Deletions int        `json:"deletions" yaml:"deletions"`
	Binary    bool       `json:"binary,omitempty" yaml:"binary,omitempty"`
	Patch     string     `json:"patch,omitempty" yaml:"patch,omitempty"`
}

// statusConcurrency bounds the content reads done for line counts.
const statusConcurrency = 8

// readConcurrency is the number of backend reads that may run at once. go-git
// storers are not safe for concurrent use.
func (s *Service) readConcurrency() int {
	if s.backend.Name() == "native" {
		return 1
	}
	return statusConcurrency
}

// WorkingTreeStatus returns the staged and unstaged deltas of the working
// tree with their line counts. The result is cached for a short time.
func (s *Service) WorkingTreeStatus(ctx context.Context) ([]FileChange, error) {
	return cached(s, repocache.KindStatus, func() ([]FileChange, error) {
		entries, err := s.backend.Status(ctx)
		if err != nil {
			return nil, err
		}
		changes := changesFromStatus(entries)
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.readConcurrency())
		for i := range changes {
			g.Go(func() error {
				return s.fillCounts(gctx, &changes[i])
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		return changes, nil
	})
}

// changesFromStatus splits status entries into staged and unstaged deltas.
// Conflicted paths are reported once, unstaged.
func changesFromStatus(entries []backend.StatusEntry) []FileChange {
	var changes []FileChange
	for _, e := range entries {
		switch {
		case e.Untracked:
			changes = append(changes, FileChange{Path: e.Path, Status: ChangeAdded, Untracked: true})
			continue
		case e.Staged == ChangeConflicted || e.Unstaged == ChangeConflicted:
			changes = append(changes, FileChange{Path: e.Path, Status: ChangeConflicted})
			continue
		}
		if e.Staged != backend.ChangeNone {
			changes = append(changes, FileChange{Path: e.Path, OrigPath: e.OrigPath, Status: e.Staged, Staged: true})
		}
		if e.Unstaged != backend.ChangeNone {
			changes = append(changes, FileChange{Path: e.Path, Status: e.Unstaged})
		}
	}
	sort.SliceStable(changes, func(i, j int) bool {
		if changes[i].Path != changes[j].Path {
			return changes[i].Path < changes[j].Path
		}
		return changes[i].Staged && !changes[j].Staged
	})
	return changes
}

// fillCounts computes the line counts and patch of one delta.
func (s *Service) fillCounts(ctx context.Context, c *FileChange) error {
	if c.Status == ChangeConflicted {
		return nil
	}
	oldText, newText, err := s.deltaContents(ctx, c.Path, c.OrigPath, c.Staged, c.Untracked)
	if err != nil {
		return err
	}
	if isBinary(oldText) || isBinary(newText) {
		c.Binary = true
		return nil
	}
	hunks := diff.Compute(oldText, newText)
	c.Additions, c.Deletions = diff.Stats(hunks)
	c.Patch = diff.Format(c.Path, hunks)
	return nil
}

// deltaContents returns both sides of a delta: HEAD and index for staged
// changes, index and working tree otherwise.
func (s *Service) deltaContents(ctx context.Context, path, origPath string, staged, untracked bool) (oldText, newText string, err error) {
	if staged {
		from := path
		if origPath != "" {
			from = origPath
		}
		if oldText, err = s.headContent(ctx, from); err != nil {
			return "", "", err
		}
		newText, err = s.indexContent(ctx, path)
		return oldText, newText, err
	}
	if !untracked {
		if oldText, err = s.indexContent(ctx, path); err != nil {
			return "", "", err
		}
	}
	newText, err = s.workingContent(path)
	if errors.Is(err, os.ErrNotExist) {
		return oldText, "", nil
	}
	return oldText, newText, err
}

// headContent is empty on an unborn branch or for a path missing at HEAD.
func (s *Service) headContent(ctx context.Context, path string) (string, error) {
	st, err := s.backend.HeadState(ctx)
	if err != nil {
		return "", err
	}
	if st.Unborn() {
		return "", nil
	}
	data, _, err := s.backend.FileAt(ctx, st.Hash, path)
	return string(data), err
}

func (s *Service) indexContent(ctx context.Context, path string) (string, error) {
	data, _, err := s.backend.IndexFile(ctx, path)
	return string(data), err
}

func isBinary(text string) bool {
	const sniff = 8000
	b := []byte(text)
	if len(b) > sniff {
		b = b[:sniff]
	}
	return bytes.IndexByte(b, 0) >= 0
}
