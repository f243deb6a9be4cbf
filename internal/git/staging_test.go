package git

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"pgregory.net/rapid"

	"github.com/thiagokokada/repoops/internal/diff"
	"github.com/thiagokokada/repoops/internal/git/backend"
)

const (
	stagingBase = "1\n2\n3\n4\n5\n6\n7\n8\n9\n10\n11\n12\n"
	stagingWork = "1\nTWO\n3\n4\n5\n6\n7\n8\n9\n10\nELEVEN\n12\n"
)

func TestStageHunk(t *testing.T) {
	forEachService(t, func(t *testing.T, r *testRepo) {
		r.commit("A", map[string]string{"f.txt": stagingBase})
		r.write("f.txt", stagingWork)

		if err := r.svc.StageHunk(r.ctx, "f.txt", stagingBase, stagingWork, 0); err != nil {
			t.Fatalf("StageHunk() error = %v", err)
		}
		want := strings.Replace(stagingBase, "2\n", "TWO\n", 1)
		if got := r.index("f.txt"); got != want {
			t.Fatalf("index = %q, want %q", got, want)
		}
		if got := r.read("f.txt"); got != stagingWork {
			t.Fatalf("working file = %q, want %q", got, stagingWork)
		}

		idx := r.index("f.txt")
		if err := r.svc.UnstageHunk(r.ctx, "f.txt", stagingBase, idx, 0); err != nil {
			t.Fatalf("UnstageHunk() error = %v", err)
		}
		if got := r.index("f.txt"); got != stagingBase {
			t.Fatalf("index after unstage = %q, want %q", got, stagingBase)
		}
		if got := r.read("f.txt"); got != stagingWork {
			t.Fatalf("working file after unstage = %q, want %q", got, stagingWork)
		}
	})
}

func TestStageLine(t *testing.T) {
	forEachService(t, func(t *testing.T, r *testRepo) {
		const (
			base = "a\nb\n"
			work = "a\nb\nc\nd\n"
		)
		r.commit("A", map[string]string{"f.txt": base})
		r.write("f.txt", work)

		hunks := diff.Compute(base, work)
		line := -1
		for i, l := range hunks[0].Lines {
			if l.Kind == diff.Add && l.Content == "d" {
				line = i
			}
		}
		if line < 0 {
			t.Fatalf("no added line d in %+v", hunks[0].Lines)
		}
		if err := r.svc.StageLine(r.ctx, "f.txt", base, work, 0, line); err != nil {
			t.Fatalf("StageLine() error = %v", err)
		}
		if got := r.index("f.txt"); got != "a\nb\nd\n" {
			t.Fatalf("index = %q, want %q", got, "a\nb\nd\n")
		}
		if got := r.read("f.txt"); got != work {
			t.Fatalf("working file = %q, want %q", got, work)
		}
	})
}

func TestStageHunk_NewFileRestoresAbsence(t *testing.T) {
	r := nativeRepo(t)
	r.commit("A", map[string]string{"a.txt": "a\n"})

	if err := r.svc.StageHunk(r.ctx, "n.txt", "", "x\n", 0); err != nil {
		t.Fatalf("StageHunk() error = %v", err)
	}
	if got := r.index("n.txt"); got != "x\n" {
		t.Fatalf("index = %q, want %q", got, "x\n")
	}
	if r.exists("n.txt") {
		t.Fatal("n.txt left in the working tree")
	}
}

func TestStageHunk_InvalidIndex(t *testing.T) {
	t.Parallel()

	fake := &fakeBackend{repoPath: t.TempDir()}
	svc := NewWithBackend(fake)
	err := svc.StageHunk(t.Context(), "f.txt", "a\n", "b\n", 3)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("StageHunk() error = %v, want ErrValidation", err)
	}
	if n := fake.calls.Load(); n != 0 {
		t.Fatalf("backend calls = %d, want 0", n)
	}
}

func TestStageContent_RestoresOnAddFailure(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	if err := os.WriteFile(path, []byte("work\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	boom := errors.New("index locked")
	fake := &fakeBackend{
		repoPath: dir,
		addFunc:  func(...string) error { return boom },
	}
	svc := NewWithBackend(fake)

	err := svc.StageHunk(t.Context(), "f.txt", "base\n", "work\n", 0)
	if !errors.Is(err, boom) {
		t.Fatalf("StageHunk() error = %v, want %v", err, boom)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "work\n" {
		t.Fatalf("working file = %q, want %q", data, "work\n")
	}
	fi, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if fi.Mode().Perm() != 0o600 {
		t.Fatalf("mode = %v, want 0600", fi.Mode().Perm())
	}
}

func TestStageContent_ReportsRestoreFailure(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	if err := os.WriteFile(path, []byte("work\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	fake := &fakeBackend{
		repoPath: dir,
		// Replacing the file with a directory makes the restore write fail.
		addFunc: func(...string) error {
			if err := os.Remove(path); err != nil {
				return err
			}
			return os.Mkdir(path, 0o755)
		},
	}
	svc := NewWithBackend(fake)

	err := svc.StageHunk(t.Context(), "f.txt", "base\n", "work\n", 0)
	if !errors.Is(err, ErrRestoreFailed) {
		t.Fatalf("StageHunk() error = %v, want ErrRestoreFailed", err)
	}
	var re *RestoreError
	if !errors.As(err, &re) || re.Path != "f.txt" {
		t.Fatalf("StageHunk() error = %v, want RestoreError for f.txt", err)
	}
}

func TestStageContent_RejectsSymlink(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := os.Symlink("target", filepath.Join(dir, "link")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	fake := &fakeBackend{repoPath: dir}
	svc := NewWithBackend(fake)
	if err := svc.StageHunk(t.Context(), "link", "target", "other", 0); !errors.Is(err, backend.ErrValidation) {
		t.Fatalf("StageHunk(symlink) error = %v, want ErrValidation", err)
	}
}

func TestApplyPatchToIndex(t *testing.T) {
	r := nativeRepo(t)
	r.commit("A", map[string]string{"f.txt": stagingBase})
	r.write("f.txt", stagingWork)

	patch := "diff --git a/f.txt b/f.txt\n" + diff.Format("f.txt", diff.Compute(stagingBase, stagingWork))
	paths, err := r.svc.ApplyPatchToIndex(r.ctx, patch)
	if err != nil {
		t.Fatalf("ApplyPatchToIndex() error = %v", err)
	}
	if len(paths) != 1 || paths[0] != "f.txt" {
		t.Fatalf("ApplyPatchToIndex() = %v, want [f.txt]", paths)
	}
	if got := r.index("f.txt"); got != stagingWork {
		t.Fatalf("index = %q, want %q", got, stagingWork)
	}
	if got := r.read("f.txt"); got != stagingWork {
		t.Fatalf("working file = %q, want %q", got, stagingWork)
	}
}

// Staging hunks one at a time, always the first remaining one, ends with
// the index equal to the working file, which itself never changes.
func TestPropertyStageAllHunksOneByOne(t *testing.T) {
	r := nativeRepo(t)
	r.commit("A", map[string]string{"f.txt": "seed\n"})

	lineGen := rapid.SampledFrom([]string{"a\n", "b\n", "c\n", "d\n"})
	textGen := rapid.Custom(func(t *rapid.T) string {
		return strings.Join(rapid.SliceOfN(lineGen, 0, 12).Draw(t, "lines"), "")
	})
	rapid.Check(t, func(rt *rapid.T) {
		base := textGen.Draw(rt, "base")
		work := textGen.Draw(rt, "work")
		r.write("f.txt", base)
		if err := r.svc.StageFile(r.ctx, "f.txt"); err != nil {
			rt.Fatalf("StageFile: %v", err)
		}
		r.write("f.txt", work)

		for range 64 {
			idx := r.index("f.txt")
			if len(diff.Compute(idx, work)) == 0 {
				break
			}
			if err := r.svc.StageHunk(r.ctx, "f.txt", idx, work, 0); err != nil {
				rt.Fatalf("StageHunk() error = %v", err)
			}
			if got := r.read("f.txt"); got != work {
				rt.Fatalf("working file = %q, want %q", got, work)
			}
		}
		if got := r.index("f.txt"); got != work {
			rt.Fatalf("index = %q, want %q", got, work)
		}
	})
}
