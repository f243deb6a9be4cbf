package git

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/thiagokokada/repoops/internal/repocache"
)

// WorktreeFile is one file of the working directory listing: a tracked path
// or an untracked one that is not ignored.
type WorktreeFile struct {
	Path       string     `json:"path" yaml:"path"`
	Size       int64      `json:"size" yaml:"size"`
	Executable bool       `json:"executable,omitempty" yaml:"executable,omitempty"`
	Symlink    bool       `json:"symlink,omitempty" yaml:"symlink,omitempty"`
	Staged     ChangeKind `json:"staged,omitempty" yaml:"staged,omitempty"`
	Unstaged   ChangeKind `json:"unstaged,omitempty" yaml:"unstaged,omitempty"`
	Untracked  bool       `json:"untracked,omitempty" yaml:"untracked,omitempty"`
}

// WorktreeFiles lists the files of the working directory, sorted by path,
// with their status. The listing is cached for a short time; callers must not
// modify it.
func (s *Service) WorktreeFiles(ctx context.Context) ([]WorktreeFile, error) {
	return cached(s, repocache.KindWorktree, func() ([]WorktreeFile, error) {
		tracked, err := s.backend.IndexPaths(ctx)
		if err != nil {
			return nil, err
		}
		entries, err := s.backend.Status(ctx)
		if err != nil {
			return nil, err
		}
		files := make(map[string]*WorktreeFile, len(tracked))
		for _, p := range tracked {
			files[p] = &WorktreeFile{Path: p}
		}
		for _, e := range entries {
			f, ok := files[e.Path]
			if !ok {
				f = &WorktreeFile{Path: e.Path}
				files[e.Path] = f
			}
			f.Staged, f.Unstaged, f.Untracked = e.Staged, e.Unstaged, e.Untracked
		}
		out := make([]WorktreeFile, 0, len(files))
		for _, f := range files {
			if err := s.statWorktreeFile(f); err != nil {
				return nil, err
			}
			out = append(out, *f)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
		return out, nil
	})
}

// statWorktreeFile fills the on-disk details of f. A tracked file missing
// from disk keeps a zero size.
func (s *Service) statWorktreeFile(f *WorktreeFile) error {
	fi, err := os.Lstat(filepath.Join(s.path, filepath.FromSlash(f.Path)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	f.Size = fi.Size()
	f.Symlink = fi.Mode()&fs.ModeSymlink != 0
	f.Executable = fi.Mode().IsRegular() && fi.Mode()&0o111 != 0
	return nil
}

// FilterWorktreeFiles keeps the files under dir ("" or "." keeps all).
func FilterWorktreeFiles(files []WorktreeFile, dir string) []WorktreeFile {
	dir = strings.Trim(filepath.ToSlash(filepath.Clean(dir)), "/")
	if dir == "" || dir == "." {
		return files
	}
	var out []WorktreeFile
	for _, f := range files {
		if f.Path == dir || strings.HasPrefix(f.Path, dir+"/") {
			out = append(out, f)
		}
	}
	return out
}
