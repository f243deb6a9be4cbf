package git

import (
	"reflect"
	"testing"

	"github.com/thiagokokada/repoops/internal/git/backend"
)

func TestChangesFromStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		entries []backend.StatusEntry
		want    []FileChange
	}{
		{
			name:    "empty",
			entries: nil,
			want:    nil,
		},
		{
			name: "staged and unstaged split",
			entries: []backend.StatusEntry{
				{Path: "b.txt", Staged: ChangeModified, Unstaged: ChangeModified},
				{Path: "a.txt", Unstaged: ChangeDeleted},
			},
			want: []FileChange{
				{Path: "a.txt", Status: ChangeDeleted},
				{Path: "b.txt", Status: ChangeModified, Staged: true},
				{Path: "b.txt", Status: ChangeModified},
			},
		},
		{
			name: "untracked is added",
			entries: []backend.StatusEntry{
				{Path: "new.txt", Untracked: true},
			},
			want: []FileChange{
				{Path: "new.txt", Status: ChangeAdded, Untracked: true},
			},
		},
		{
			name: "conflict reported once",
			entries: []backend.StatusEntry{
				{Path: "c.txt", Staged: ChangeConflicted, Unstaged: ChangeConflicted},
			},
			want: []FileChange{
				{Path: "c.txt", Status: ChangeConflicted},
			},
		},
		{
			name: "rename keeps origin",
			entries: []backend.StatusEntry{
				{Path: "new.txt", OrigPath: "old.txt", Staged: ChangeRenamed},
			},
			want: []FileChange{
				{Path: "new.txt", OrigPath: "old.txt", Status: ChangeRenamed, Staged: true},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := changesFromStatus(tt.entries)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("changesFromStatus() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestWorkingTreeStatus(t *testing.T) {
	forEachService(t, func(t *testing.T, r *testRepo) {
		r.commit("A", map[string]string{"a.txt": "one\ntwo\n", "bin.dat": "x"})
		r.write("a.txt", "one\nTWO\nthree\n")
		r.write("new.txt", "n\n")
		r.write("bin.dat", "x\x00y")

		changes, err := r.svc.WorkingTreeStatus(r.ctx)
		if err != nil {
			t.Fatalf("WorkingTreeStatus() error = %v", err)
		}
		byPath := map[string]FileChange{}
		for _, c := range changes {
			byPath[c.Path] = c
		}
		a := byPath["a.txt"]
		if a.Additions != 2 || a.Deletions != 1 || a.Staged {
			t.Fatalf("a.txt = %+v, want +2 -1 unstaged", a)
		}
		if a.Patch == "" {
			t.Fatal("a.txt has no patch")
		}
		if n := byPath["new.txt"]; !n.Untracked || n.Additions != 1 {
			t.Fatalf("new.txt = %+v, want untracked +1", n)
		}
		if b := byPath["bin.dat"]; !b.Binary {
			t.Fatalf("bin.dat = %+v, want binary", b)
		}
	})
}

func TestWorkingTreeStatus_InvalidatedByMutation(t *testing.T) {
	forEachService(t, func(t *testing.T, r *testRepo) {
		r.commit("A", map[string]string{"a.txt": "a\n"})
		r.write("a.txt", "b\n")

		before, err := r.svc.WorkingTreeStatus(r.ctx)
		if err != nil {
			t.Fatalf("WorkingTreeStatus() error = %v", err)
		}
		if len(before) != 1 || before[0].Staged {
			t.Fatalf("WorkingTreeStatus() = %+v, want one unstaged change", before)
		}
		if err := r.svc.StageFile(r.ctx, "a.txt"); err != nil {
			t.Fatalf("StageFile: %v", err)
		}
		after, err := r.svc.WorkingTreeStatus(r.ctx)
		if err != nil {
			t.Fatalf("WorkingTreeStatus() error = %v", err)
		}
		if len(after) != 1 || !after[0].Staged {
			t.Fatalf("WorkingTreeStatus() after stage = %+v, want one staged change", after)
		}
	})
}
