package git

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/thiagokokada/repoops/internal/git/backend"
)

func isolateGitConfig(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("GIT_CONFIG_NOSYSTEM", "1")
}

// initRepo creates an empty repository on main with a committer identity.
func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	repo, err := gogit.PlainInitWithOptions(dir, &gogit.PlainInitOptions{
		InitOptions: gogit.InitOptions{DefaultBranch: plumbing.Main},
	})
	if err != nil {
		t.Fatalf("PlainInit: %v", err)
	}
	cfg, err := repo.Config()
	if err != nil {
		t.Fatalf("Config: %v", err)
	}
	cfg.User.Name = "Test User"
	cfg.User.Email = "test@example.com"
	if err := repo.SetConfig(cfg); err != nil {
		t.Fatalf("SetConfig: %v", err)
	}
	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		t.Fatalf("EvalSymlinks: %v", err)
	}
	return resolved
}

func requireGit(t *testing.T) {
	t.Helper()
	if ok, err := backend.CLIAvailable("git"); !ok {
		t.Skipf("git executable not available: %v", err)
	}
}

type testRepo struct {
	t   *testing.T
	dir string
	svc *Service
	ctx context.Context
}

// forEachService runs fn against a fresh repository opened with each
// backend. The cli case is skipped without a git executable.
func forEachService(t *testing.T, fn func(t *testing.T, r *testRepo)) {
	for _, pref := range []backend.Preference{backend.PreferNative, backend.PreferCLI} {
		t.Run(string(pref), func(t *testing.T) {
			if pref == backend.PreferCLI {
				requireGit(t)
			}
			isolateGitConfig(t)
			dir := initRepo(t)
			cfg := DefaultConfig()
			cfg.Backend.Preference = pref
			svc, err := NewEngine(cfg).Open(dir)
			if err != nil {
				t.Fatalf("Open(%s): %v", pref, err)
			}
			fn(t, &testRepo{t: t, dir: dir, svc: svc, ctx: context.Background()})
		})
	}
}

// nativeRepo is forEachService for tests that only need one backend.
func nativeRepo(t *testing.T) *testRepo {
	t.Helper()
	isolateGitConfig(t)
	dir := initRepo(t)
	cfg := DefaultConfig()
	cfg.Backend.Preference = backend.PreferNative
	svc, err := NewEngine(cfg).Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return &testRepo{t: t, dir: dir, svc: svc, ctx: context.Background()}
}

func (r *testRepo) write(path, content string) {
	r.t.Helper()
	full := filepath.Join(r.dir, filepath.FromSlash(path))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		r.t.Fatal(err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		r.t.Fatal(err)
	}
}

func (r *testRepo) read(path string) string {
	r.t.Helper()
	data, err := os.ReadFile(filepath.Join(r.dir, filepath.FromSlash(path)))
	if err != nil {
		r.t.Fatal(err)
	}
	return string(data)
}

func (r *testRepo) exists(path string) bool {
	_, err := os.Lstat(filepath.Join(r.dir, filepath.FromSlash(path)))
	return err == nil
}

// commit writes files, stages them and commits through the service.
func (r *testRepo) commit(msg string, files map[string]string) string {
	r.t.Helper()
	var paths []string
	for p, c := range files {
		r.write(p, c)
		paths = append(paths, p)
	}
	if err := r.svc.StageFile(r.ctx, paths...); err != nil {
		r.t.Fatalf("StageFile: %v", err)
	}
	h, err := r.svc.Commit(r.ctx, msg)
	if err != nil {
		r.t.Fatalf("Commit(%q): %v", msg, err)
	}
	return h
}

func (r *testRepo) head() backend.HeadState {
	r.t.Helper()
	st, err := r.svc.backend.HeadState(r.ctx)
	if err != nil {
		r.t.Fatalf("HeadState: %v", err)
	}
	return st
}

func (r *testRepo) info(rev string) *Commit {
	r.t.Helper()
	c, err := r.svc.CommitInfo(r.ctx, rev)
	if err != nil {
		r.t.Fatalf("CommitInfo(%s): %v", rev, err)
	}
	return c
}

func (r *testRepo) fileAt(rev, path string) string {
	r.t.Helper()
	s, err := r.svc.FileContentAt(r.ctx, rev, path)
	if err != nil {
		r.t.Fatalf("FileContentAt(%s, %s): %v", rev, path, err)
	}
	return s
}

func (r *testRepo) index(path string) string {
	r.t.Helper()
	s, err := r.svc.IndexFileContent(r.ctx, path)
	if err != nil {
		r.t.Fatalf("IndexFileContent(%s): %v", path, err)
	}
	return s
}

// summaries returns the first-parent history of HEAD as commit summaries,
// newest first.
func (r *testRepo) summaries() []string {
	r.t.Helper()
	entries, err := r.svc.Log(r.ctx, LogQuery{Limit: 50})
	if err != nil {
		r.t.Fatalf("Log: %v", err)
	}
	var out []string
	for _, e := range entries {
		out = append(out, e.Commit.Summary())
	}
	return out
}

func (r *testRepo) requireClean() {
	r.t.Helper()
	dirty, err := r.svc.dirtyTracked(r.ctx)
	if err != nil {
		r.t.Fatalf("dirtyTracked: %v", err)
	}
	if len(dirty) != 0 {
		r.t.Fatalf("worktree not clean: %v", dirty)
	}
	op, err := r.svc.OperationState(r.ctx)
	if err != nil {
		r.t.Fatalf("OperationState: %v", err)
	}
	if op != backend.OpNone {
		r.t.Fatalf("OperationState() = %q, want none", op)
	}
}
