package backend

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// isolateGitConfig keeps the user's global and system git configuration
// away from the tests.
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
	// EvalSymlinks so paths compare equal with what git reports on macOS.
	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		t.Fatalf("EvalSymlinks: %v", err)
	}
	return resolved
}

type backendCase struct {
	name string
	open func(dir string) (Backend, error)
}

func backendCases() []backendCase {
	return []backendCase{
		{name: "native", open: OpenNative},
		{name: "cli", open: func(dir string) (Backend, error) { return OpenCLI(dir, "git") }},
	}
}

// forEachBackend runs fn against a fresh repository with each backend. The
// cli case is skipped when no usable git executable is installed.
func forEachBackend(t *testing.T, fn func(t *testing.T, r *testRepo)) {
	for _, bc := range backendCases() {
		t.Run(bc.name, func(t *testing.T) {
			if bc.name == "cli" {
				requireGit(t)
			}
			isolateGitConfig(t)
			dir := initRepo(t)
			b, err := bc.open(dir)
			if err != nil {
				t.Fatalf("open %s backend: %v", bc.name, err)
			}
			fn(t, &testRepo{t: t, dir: dir, b: b, ctx: context.Background()})
		})
	}
}

func requireGit(t *testing.T) {
	t.Helper()
	if ok, err := CLIAvailable("git"); !ok {
		t.Skipf("git executable not available: %v", err)
	}
}

type testRepo struct {
	t   *testing.T
	dir string
	b   Backend
	ctx context.Context
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

func (r *testRepo) remove(path string) {
	r.t.Helper()
	if err := os.Remove(filepath.Join(r.dir, filepath.FromSlash(path))); err != nil {
		r.t.Fatal(err)
	}
}

// commit writes files, stages them and commits, returning the new hash.
func (r *testRepo) commit(msg string, files map[string]string) string {
	r.t.Helper()
	var paths []string
	for p, c := range files {
		r.write(p, c)
		paths = append(paths, p)
	}
	if len(paths) > 0 {
		if err := r.b.Add(r.ctx, paths...); err != nil {
			r.t.Fatalf("Add: %v", err)
		}
	}
	h, err := r.b.Commit(r.ctx, CommitOptions{Message: msg})
	if err != nil {
		r.t.Fatalf("Commit(%q): %v", msg, err)
	}
	return h
}

func (r *testRepo) head() HeadState {
	r.t.Helper()
	st, err := r.b.HeadState(r.ctx)
	if err != nil {
		r.t.Fatalf("HeadState: %v", err)
	}
	return st
}

func (r *testRepo) status() map[string]StatusEntry {
	r.t.Helper()
	entries, err := r.b.Status(r.ctx)
	if err != nil {
		r.t.Fatalf("Status: %v", err)
	}
	m := map[string]StatusEntry{}
	for _, e := range entries {
		m[e.Path] = e
	}
	return m
}

func (r *testRepo) info(rev string) *Commit {
	r.t.Helper()
	c, err := r.b.CommitInfo(r.ctx, rev)
	if err != nil {
		r.t.Fatalf("CommitInfo(%s): %v", rev, err)
	}
	return c
}
