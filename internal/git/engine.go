package git

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/thiagokokada/repoops/internal/git/backend"
	"github.com/thiagokokada/repoops/internal/repocache"
)

const (
	DefaultBlameDepth       = 50
	DefaultAheadBehindDepth = 500
	DefaultLogLimit         = 200
)

type Config struct {
	Backend backend.Options
	Cache   repocache.Config
	// BlameDepth bounds the history replayed by the fallback blame.
	BlameDepth int
	// AheadBehindDepth bounds both logs walked by AheadBehind.
	AheadBehindDepth int
}

func DefaultConfig() Config {
	return Config{
		Backend:          backend.Options{Preference: backend.PreferAuto, GitBinary: "git"},
		Cache:            repocache.DefaultConfig(),
		BlameDepth:       DefaultBlameDepth,
		AheadBehindDepth: DefaultAheadBehindDepth,
	}
}

// Engine owns the state shared by every open repository: the read cache and
// the per-repository locks. Construct one per process.
type Engine struct {
	cfg   Config
	cache *repocache.Cache
	locks *lockTable
}

func NewEngine(cfg Config, opts ...repocache.Option) *Engine {
	if cfg.BlameDepth <= 0 {
		cfg.BlameDepth = DefaultBlameDepth
	}
	if cfg.AheadBehindDepth <= 0 {
		cfg.AheadBehindDepth = DefaultAheadBehindDepth
	}
	return &Engine{
		cfg:   cfg,
		cache: repocache.New(cfg.Cache, opts...),
		locks: newLockTable(),
	}
}

func (e *Engine) Cache() *repocache.Cache { return e.cache }

func (e *Engine) Config() Config { return e.cfg }

// Open opens the repository containing repoPath with the configured backend.
func (e *Engine) Open(repoPath string) (*Service, error) {
	b, err := backend.Open(repoPath, e.cfg.Backend)
	if err != nil {
		return nil, err
	}
	slog.Debug("repository opened",
		slog.String("repo", b.RepoPath()),
		slog.String("backend", b.Name()),
	)
	return e.NewWithBackend(b), nil
}

// NewWithBackend wraps an already opened backend.
func (e *Engine) NewWithBackend(b backend.Backend) *Service {
	path := filepath.Clean(b.RepoPath())
	return &Service{
		engine:  e,
		backend: b,
		path:    path,
		lock:    e.locks.get(path),
	}
}

// Invalidate drops every cached read for repoPath.
func (e *Engine) Invalidate(repoPath string, kinds ...repocache.Kind) {
	e.cache.Invalidate(filepath.Clean(repoPath), kinds...)
}

type CloneOptions struct {
	Branch     string
	Depth      int
	Credential backend.Credential
	Progress   backend.ProgressFunc
}

// Clone clones url into dir and opens the result.
func (e *Engine) Clone(ctx context.Context, url, dir string, opts CloneOptions) (*Service, error) {
	if dir == "" {
		return nil, backend.Invalid("dir", "empty destination")
	}
	b, err := backend.Clone(ctx, url, dir, backend.CloneOptions{
		Options:    e.cfg.Backend,
		Branch:     opts.Branch,
		Depth:      opts.Depth,
		Credential: opts.Credential,
		Progress:   opts.Progress,
	})
	if err != nil {
		return nil, err
	}
	return e.NewWithBackend(b), nil
}
