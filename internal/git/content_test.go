package git

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestSafeJoin(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	tests := []struct {
		rel     string
		want    string
		wantErr error
	}{
		{rel: "a.txt", want: filepath.Join(root, "a.txt")},
		{rel: "dir/../b.txt", want: filepath.Join(root, "b.txt")},
		{rel: "../escape", wantErr: ErrPathTraversal},
		{rel: "dir/../../escape", wantErr: ErrPathTraversal},
		{rel: "/etc/passwd", wantErr: ErrPathTraversal},
		{rel: ".", wantErr: ErrPathTraversal},
		{rel: "", wantErr: ErrValidation},
		{rel: "a\x00b", wantErr: ErrValidation},
	}
	for _, tt := range tests {
		got, err := SafeJoin(root, tt.rel)
		if tt.wantErr != nil {
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("SafeJoin(%q) error = %v, want %v", tt.rel, err, tt.wantErr)
			}
			continue
		}
		if err != nil {
			t.Fatalf("SafeJoin(%q) error = %v", tt.rel, err)
		}
		if got != tt.want {
			t.Fatalf("SafeJoin(%q) = %q, want %q", tt.rel, got, tt.want)
		}
	}
}

func TestSafeJoin_SymlinkedParent(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	outside := t.TempDir()
	if err := os.Symlink(outside, filepath.Join(root, "link")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	if _, err := SafeJoin(root, "link/secret"); !errors.Is(err, ErrPathTraversal) {
		t.Fatalf("SafeJoin(link/secret) error = %v, want ErrPathTraversal", err)
	}
}

func TestWorkingFileContent_Traversal(t *testing.T) {
	t.Parallel()

	fake := &fakeBackend{repoPath: t.TempDir()}
	svc := NewWithBackend(fake)
	if _, err := svc.WorkingFileContent("../../etc/passwd"); !errors.Is(err, ErrPathTraversal) {
		t.Fatalf("WorkingFileContent() error = %v, want ErrPathTraversal", err)
	}
	if n := fake.calls.Load(); n != 0 {
		t.Fatalf("backend calls = %d, want 0", n)
	}
}

func TestFileContentAt(t *testing.T) {
	forEachService(t, func(t *testing.T, r *testRepo) {
		first := r.commit("A", map[string]string{"a.txt": "v1\n"})
		r.commit("B", map[string]string{"a.txt": "v2\n"})

		if got := r.fileAt(first, "a.txt"); got != "v1\n" {
			t.Fatalf("FileContentAt(first) = %q, want %q", got, "v1\n")
		}
		if got := r.fileAt("HEAD", "missing.txt"); got != "" {
			t.Fatalf("FileContentAt(missing) = %q, want empty", got)
		}
		if _, err := r.svc.FileContentAt(r.ctx, "no-such-ref", "a.txt"); !errors.Is(err, ErrRefNotFound) {
			t.Fatalf("FileContentAt(bad ref) error = %v, want ErrRefNotFound", err)
		}
	})
}

func TestCommitDiff(t *testing.T) {
	forEachService(t, func(t *testing.T, r *testRepo) {
		r.commit("A", map[string]string{"a.txt": "a\n"})
		h := r.commit("B", map[string]string{"a.txt": "b\n", "n.txt": "n\n"})

		files, err := r.svc.CommitDiff(r.ctx, h)
		if err != nil {
			t.Fatalf("CommitDiff() error = %v", err)
		}
		if len(files) != 2 {
			t.Fatalf("CommitDiff() = %d files, want 2", len(files))
		}
		for _, f := range files {
			if len(f.Hunks) != 1 {
				t.Fatalf("CommitDiff() %s hunks = %d, want 1", f.Path, len(f.Hunks))
			}
		}
	})
}
