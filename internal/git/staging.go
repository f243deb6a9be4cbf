package git

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/thiagokokada/repoops/internal/diff"
	"github.com/thiagokokada/repoops/internal/git/backend"
)

// StageHunk stages hunk hunkIndex of the changes from oldContent (the index)
// to newContent (the working tree). The working file is left as it was.
func (s *Service) StageHunk(ctx context.Context, path, oldContent, newContent string, hunkIndex int) error {
	hunks := diff.Compute(oldContent, newContent)
	staged, err := diff.ApplyHunk(oldContent, hunks, hunkIndex)
	if err != nil {
		return backend.Invalid("hunk", "%v", err)
	}
	return s.mutate(func() error { return s.stageContent(ctx, path, staged) })
}

// StageLine stages a single added or removed line of hunk hunkIndex.
func (s *Service) StageLine(ctx context.Context, path, oldContent, newContent string, hunkIndex, lineIndex int) error {
	hunks := diff.Compute(oldContent, newContent)
	staged, err := diff.ApplyLine(oldContent, hunks, hunkIndex, lineIndex)
	if err != nil {
		return backend.Invalid("line", "%v", err)
	}
	return s.mutate(func() error { return s.stageContent(ctx, path, staged) })
}

// UnstageHunk removes hunk hunkIndex of the staged changes from headContent
// to indexContent from the index.
func (s *Service) UnstageHunk(ctx context.Context, path, headContent, indexContent string, hunkIndex int) error {
	hunks := diff.Compute(headContent, indexContent)
	staged, err := diff.ReverseHunk(indexContent, hunks, hunkIndex)
	if err != nil {
		return backend.Invalid("hunk", "%v", err)
	}
	return s.mutate(func() error { return s.stageContent(ctx, path, staged) })
}

// UnstageLine removes a single staged line from the index.
func (s *Service) UnstageLine(ctx context.Context, path, headContent, indexContent string, hunkIndex, lineIndex int) error {
	hunks := diff.Compute(headContent, indexContent)
	staged, err := diff.ReverseLine(indexContent, hunks, hunkIndex, lineIndex)
	if err != nil {
		return backend.Invalid("line", "%v", err)
	}
	return s.mutate(func() error { return s.stageContent(ctx, path, staged) })
}

// ApplyPatchToIndex stages the hunks of a unified patch on top of the
// current index content, leaving the working tree untouched.
func (s *Service) ApplyPatchToIndex(ctx context.Context, patch string) ([]string, error) {
	files := diff.ParseUnified(patch)
	if len(files) == 0 {
		return nil, backend.Invalid("patch", "no file sections found")
	}
	var paths []string
	err := s.mutate(func() error {
		for _, f := range files {
			if f.Binary {
				return backend.Invalid("patch", "binary patch for %s", f.Path)
			}
			if f.OldPath != f.Path {
				return backend.Invalid("patch", "renames are not supported (%s -> %s)", f.OldPath, f.Path)
			}
			current, err := s.indexContent(ctx, f.Path)
			if err != nil {
				return err
			}
			staged, err := diff.ApplyAll(current, f.Hunks)
			if err != nil {
				return backend.Invalid("patch", "%s: %v", f.Path, err)
			}
			if err := s.stageContent(ctx, f.Path, staged); err != nil {
				return err
			}
			paths = append(paths, f.Path)
		}
		return nil
	})
	return paths, err
}

// stageContent writes content to the working file, stages it and restores
// the working file. The caller holds the write lock, so no reader sees the
// intermediate file. A failed restoration is reported as a *RestoreError
// joined with the original error.
func (s *Service) stageContent(ctx context.Context, path, content string) (err error) {
	full, err := SafeJoin(s.path, path)
	if err != nil {
		return err
	}
	snap, err := snapshotFile(full)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := snap.restore(); rerr != nil {
			slog.Error("working file restore failed",
				slog.String("path", path),
				slog.Any("error", rerr),
			)
			err = restoreFailed(err, path, rerr)
		}
	}()
	if err := os.WriteFile(full, []byte(content), snap.perm()); err != nil {
		return fmt.Errorf("write intermediate content: %w", err)
	}
	return s.backend.Add(ctx, path)
}

// fileSnapshot is the state of a working file before it was overwritten.
type fileSnapshot struct {
	path   string
	exists bool
	mode   fs.FileMode
	data   []byte
}

func snapshotFile(path string) (*fileSnapshot, error) {
	fi, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &fileSnapshot{path: path}, nil
	}
	if err != nil {
		return nil, err
	}
	if !fi.Mode().IsRegular() {
		return nil, backend.Invalid("path", "%s is not a regular file", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return &fileSnapshot{path: path, exists: true, mode: fi.Mode(), data: data}, nil
}

func (f *fileSnapshot) perm() fs.FileMode {
	if f.exists {
		return f.mode.Perm()
	}
	return 0o644
}

func (f *fileSnapshot) restore() error {
	if !f.exists {
		err := os.Remove(f.path)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	if err := os.WriteFile(f.path, f.data, f.mode.Perm()); err != nil {
		return err
	}
	return os.Chmod(f.path, f.mode.Perm())
}

// StageFile stages whole files.
func (s *Service) StageFile(ctx context.Context, paths ...string) error {
	if err := s.checkPaths(paths); err != nil {
		return err
	}
	return s.mutate(func() error { return s.backend.Add(ctx, paths...) })
}

// UnstageFile resets the index entries of paths to HEAD.
func (s *Service) UnstageFile(ctx context.Context, paths ...string) error {
	if err := s.checkPaths(paths); err != nil {
		return err
	}
	return s.mutate(func() error { return s.backend.Unstage(ctx, paths...) })
}

// DiscardFile drops the unstaged changes of paths. Untracked files are
// deleted.
func (s *Service) DiscardFile(ctx context.Context, paths ...string) error {
	if err := s.checkPaths(paths); err != nil {
		return err
	}
	return s.mutate(func() error {
		var tracked []string
		for _, p := range paths {
			_, ok, err := s.backend.IndexFile(ctx, p)
			if err != nil {
				return err
			}
			if ok {
				tracked = append(tracked, p)
				continue
			}
			full, err := SafeJoin(s.path, p)
			if err != nil {
				return err
			}
			if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}
		}
		if len(tracked) == 0 {
			return nil
		}
		return s.backend.Discard(ctx, tracked...)
	})
}

// Commit records the staged changes.
func (s *Service) Commit(ctx context.Context, message string) (string, error) {
	if err := requireMessage(message); err != nil {
		return "", err
	}
	var hash string
	err := s.mutate(func() error {
		var err error
		hash, err = s.backend.Commit(ctx, backend.CommitOptions{Message: message})
		return err
	})
	return hash, err
}

func (s *Service) checkPaths(paths []string) error {
	if len(paths) == 0 {
		return backend.Invalid("path", "no paths given")
	}
	for _, p := range paths {
		if _, err := SafeJoin(s.path, p); err != nil {
			return err
		}
	}
	return nil
}
