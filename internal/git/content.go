package git

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/thiagokokada/repoops/internal/diff"
	"github.com/thiagokokada/repoops/internal/git/backend"
)

// SafeJoin joins a repository relative path onto root and rejects results
// that leave root, lexically or through a symlinked parent directory.
func SafeJoin(root, rel string) (string, error) {
	if strings.TrimSpace(rel) == "" {
		return "", backend.Invalid("path", "empty path")
	}
	if strings.ContainsRune(rel, 0) {
		return "", backend.Invalid("path", "%q contains NUL", rel)
	}
	root = filepath.Clean(root)
	var joined string
	if filepath.IsAbs(rel) {
		joined = filepath.Clean(rel)
	} else {
		joined = filepath.Join(root, filepath.FromSlash(rel))
	}
	if !within(root, joined) || joined == root {
		return "", fmt.Errorf("%w: %s", ErrPathTraversal, rel)
	}
	parent, err := filepath.EvalSymlinks(filepath.Dir(joined))
	if err != nil {
		// Nothing to follow yet; the lexical check above is all there is.
		return joined, nil
	}
	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", err
	}
	if !within(realRoot, parent) {
		return "", fmt.Errorf("%w: %s", ErrPathTraversal, rel)
	}
	return joined, nil
}

func within(root, p string) bool {
	r, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	return r != ".." && !strings.HasPrefix(r, ".."+string(filepath.Separator))
}

// workingContent reads a working tree file. Symlinks are not followed: like
// git, their content is the link target.
func (s *Service) workingContent(path string) (string, error) {
	full, err := SafeJoin(s.path, path)
	if err != nil {
		return "", err
	}
	fi, err := os.Lstat(full)
	if err != nil {
		return "", err
	}
	if fi.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(full)
		return target, err
	}
	if fi.IsDir() {
		return "", backend.Invalid("path", "%s is a directory", path)
	}
	data, err := os.ReadFile(full)
	return string(data), err
}

// WorkingFileContent reads path from the working tree. Paths resolving
// outside the repository fail with ErrPathTraversal before any read.
func (s *Service) WorkingFileContent(path string) (string, error) {
	var out string
	err := s.read(func() error {
		var err error
		out, err = s.workingContent(path)
		return err
	})
	return out, err
}

// FileContentAt returns path as of ref. A path missing at ref yields an empty
// string, an unresolvable ref fails with ErrRefNotFound.
func (s *Service) FileContentAt(ctx context.Context, ref, path string) (string, error) {
	var out string
	err := s.read(func() error {
		hash, err := s.backend.ResolveRef(ctx, ref)
		if err != nil {
			return err
		}
		data, _, err := s.backend.FileAt(ctx, hash, path)
		out = string(data)
		return err
	})
	return out, err
}

// IndexFileContent returns the staged content of path, empty when the path
// is not in the index.
func (s *Service) IndexFileContent(ctx context.Context, path string) (string, error) {
	var out string
	err := s.read(func() error {
		var err error
		out, err = s.indexContent(ctx, path)
		return err
	})
	return out, err
}

// FileDiff returns the hunks of path between HEAD and the index when staged
// is set, between the index and the working tree otherwise.
func (s *Service) FileDiff(ctx context.Context, path string, staged bool) ([]diff.Hunk, error) {
	var hunks []diff.Hunk
	err := s.read(func() error {
		untracked := false
		if !staged {
			_, tracked, err := s.backend.IndexFile(ctx, path)
			if err != nil {
				return err
			}
			untracked = !tracked
		}
		oldText, newText, err := s.deltaContents(ctx, path, "", staged, untracked)
		if err != nil {
			return err
		}
		hunks = diff.Compute(oldText, newText)
		return nil
	})
	return hunks, err
}

// CommitInfo returns the metadata of rev.
func (s *Service) CommitInfo(ctx context.Context, rev string) (*backend.Commit, error) {
	var c *backend.Commit
	err := s.read(func() error {
		var err error
		c, err = s.backend.CommitInfo(ctx, rev)
		return err
	})
	return c, err
}

// CommitChanges lists the files rev changed relative to its first parent.
func (s *Service) CommitChanges(ctx context.Context, rev string) ([]backend.ChangedFile, error) {
	var files []backend.ChangedFile
	err := s.read(func() error {
		hash, err := s.backend.ResolveRef(ctx, rev)
		if err != nil {
			return err
		}
		files, err = s.backend.CommitChanges(ctx, hash)
		return err
	})
	return files, err
}

// CommitDiff returns the per-file hunks of rev against its first parent.
func (s *Service) CommitDiff(ctx context.Context, rev string) ([]diff.FileDiff, error) {
	var out []diff.FileDiff
	err := s.read(func() error {
		c, err := s.backend.CommitInfo(ctx, rev)
		if err != nil {
			return err
		}
		files, err := s.backend.CommitChanges(ctx, c.Hash)
		if err != nil {
			return err
		}
		for _, f := range files {
			fd := diff.FileDiff{OldPath: f.Path, Path: f.Path}
			if f.OrigPath != "" {
				fd.OldPath = f.OrigPath
			}
			var oldData []byte
			if len(c.ParentHashes) > 0 {
				if oldData, _, err = s.backend.FileAt(ctx, c.ParentHashes[0], fd.OldPath); err != nil {
					return err
				}
			}
			newData, _, err := s.backend.FileAt(ctx, c.Hash, f.Path)
			if err != nil {
				return err
			}
			if isBinary(string(oldData)) || isBinary(string(newData)) {
				fd.Binary = true
			} else {
				fd.Hunks = diff.Compute(string(oldData), string(newData))
			}
			out = append(out, fd)
		}
		return nil
	})
	return out, err
}
