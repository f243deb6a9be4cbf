// Package watch drops cached repository reads when the repository changes
// on disk behind the engine's back.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/thiagokokada/repoops/internal/debounce"
	"github.com/thiagokokada/repoops/internal/repocache"
)

const (
	DefaultDebounce = 350 * time.Millisecond
	// maxWatchedDirs bounds the working tree directories registered with
	// the OS watcher.
	maxWatchedDirs = 2000
)

// Invalidator is implemented by the engine.
type Invalidator interface {
	Invalidate(repoPath string, kinds ...repocache.Kind)
}

type Options struct {
	Debounce time.Duration
	// OnChange runs after each invalidation, with the kinds dropped.
	OnChange func(kinds []repocache.Kind)
}

type Watcher struct {
	inv      Invalidator
	root     string
	gitDir   string
	opts     Options
	watcher  *fsnotify.Watcher
	debounce *debounce.Debouncer

	mu      sync.Mutex
	pending map[repocache.Kind]struct{}
	dirs    int
}

// New watches the working tree at root and its git directory.
func New(inv Invalidator, root, gitDir string, opts Options) (*Watcher, error) {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("fsnotify: %w", err)
	}
	w := &Watcher{
		inv:     inv,
		root:    filepath.Clean(root),
		gitDir:  filepath.Clean(gitDir),
		opts:    opts,
		watcher: fw,
		pending: map[repocache.Kind]struct{}{},
	}
	w.debounce = debounce.New(opts.Debounce, w.flush)
	for _, p := range []string{w.gitDir, filepath.Join(w.gitDir, "refs", "heads")} {
		if err := w.add(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, errors.Join(err, fw.Close())
		}
	}
	if err := w.addTree(w.root); err != nil {
		return nil, errors.Join(err, fw.Close())
	}
	return w, nil
}

func (w *Watcher) add(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.dirs >= maxWatchedDirs {
		return nil
	}
	slog.Debug("adding path to FS watcher", slog.String("path", path))
	if err := w.watcher.Add(path); err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}
	w.dirs++
	return nil
}

// addTree registers dir and the directories below it, skipping git
// directories.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Vanished or unreadable directories are not worth failing for.
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if d.Name() == ".git" || filepath.Clean(path) == w.gitDir {
			return filepath.SkipDir
		}
		if err := w.add(path); err != nil {
			return err
		}
		w.mu.Lock()
		full := w.dirs >= maxWatchedDirs
		w.mu.Unlock()
		if full {
			slog.Warn("watch limit reached, deeper directories are not watched",
				slog.Int("limit", maxWatchedDirs),
			)
			return filepath.SkipAll
		}
		return nil
	})
}

// Run forwards file system events until ctx is done or the watcher is
// closed.
func (w *Watcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handle(ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("fsnotify error", slog.Any("error", err))
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	if shouldIgnore(ev.Name) {
		return
	}
	slog.Debug("fsnotify event",
		slog.String("op", ev.Op.String()),
		slog.String("path", ev.Name),
	)
	kinds := w.kindsFor(ev.Name)
	if ev.Op&fsnotify.Create != 0 && !w.inGitDir(ev.Name) {
		if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
			if err := w.addTree(ev.Name); err != nil {
				slog.Warn("watch new directory", slog.String("path", ev.Name), slog.Any("error", err))
			}
		}
	}
	w.mu.Lock()
	for _, k := range kinds {
		w.pending[k] = struct{}{}
	}
	w.mu.Unlock()
	w.debounce.Trigger()
}

// kindsFor maps a changed path to the cache kinds it can affect. Working
// tree edits only change status; anything in the git directory may move
// refs or the index.
func (w *Watcher) kindsFor(path string) []repocache.Kind {
	if w.inGitDir(path) {
		return repocache.Kinds
	}
	return []repocache.Kind{repocache.KindStatus, repocache.KindWorktree}
}

func (w *Watcher) inGitDir(path string) bool {
	rel, err := filepath.Rel(w.gitDir, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (w *Watcher) flush() {
	w.mu.Lock()
	kinds := make([]repocache.Kind, 0, len(w.pending))
	for _, k := range repocache.Kinds {
		if _, ok := w.pending[k]; ok {
			kinds = append(kinds, k)
		}
	}
	clear(w.pending)
	w.mu.Unlock()
	if len(kinds) == 0 {
		return
	}
	slog.Debug("repository changed on disk", slog.String("repo", w.root), slog.Any("kinds", kinds))
	w.inv.Invalidate(w.root, kinds...)
	if w.opts.OnChange != nil {
		w.opts.OnChange(kinds)
	}
}

func (w *Watcher) Close() error {
	w.debounce.Stop()
	return w.watcher.Close()
}

func shouldIgnore(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".lock" || ext == ".ipc"
}
