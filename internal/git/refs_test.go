package git

import (
	"errors"
	"reflect"
	"testing"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/thiagokokada/repoops/internal/git/backend"
)

func TestRefLabels(t *testing.T) {
	t.Parallel()

	const (
		commit1 = "1111111111111111111111111111111111111111"
		commit2 = "2222222222222222222222222222222222222222"
	)
	refs := []Ref{
		{Hash: commit1, Kind: RefKindBranch, Name: "main"},
		{Hash: commit1, Kind: RefKindRemoteBranch, Name: "origin/main"},
		{Hash: commit1, Kind: RefKindRemoteBranch, Name: "origin/HEAD"},
		{Hash: commit2, Kind: RefKindTag, Name: "v1.0"},
	}

	tests := []struct {
		name string
		head backend.HeadState
		want map[string][]string
	}{
		{
			name: "on branch",
			head: backend.HeadState{Hash: commit1, Branch: "main"},
			want: map[string][]string{
				commit1: {"HEAD -> main", "origin/main"},
				commit2: {"tag: v1.0"},
			},
		},
		{
			name: "detached",
			head: backend.HeadState{Hash: commit2},
			want: map[string][]string{
				commit1: {"main", "origin/main"},
				commit2: {"HEAD", "tag: v1.0"},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := refLabels(refs, tt.head)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("refLabels() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCountDivergence(t *testing.T) {
	t.Parallel()

	chain := func(hashes ...string) []Commit {
		out := make([]Commit, len(hashes))
		for i, h := range hashes {
			out[i] = Commit{Hash: h}
		}
		return out
	}
	tests := []struct {
		name          string
		local, remote []Commit
		ahead, behind int
		found         bool
	}{
		{name: "equal", local: chain("a", "b"), remote: chain("a", "b"), found: true},
		{name: "ahead", local: chain("c", "b", "a"), remote: chain("a"), ahead: 2, found: true},
		{name: "diverged", local: chain("x", "y", "a"), remote: chain("z", "a"), ahead: 2, behind: 1, found: true},
		{name: "unrelated", local: chain("x"), remote: chain("y", "z"), ahead: 1, behind: 2, found: false},
	}
	for _, tt := range tests {
		ahead, behind, found := countDivergence(tt.local, tt.remote)
		if ahead != tt.ahead || behind != tt.behind || found != tt.found {
			t.Fatalf("%s: countDivergence() = (%d, %d, %v), want (%d, %d, %v)",
				tt.name, ahead, behind, found, tt.ahead, tt.behind, tt.found)
		}
	}
}

func TestCurrentBranch(t *testing.T) {
	forEachService(t, func(t *testing.T, r *testRepo) {
		first := r.commit("A", map[string]string{"a.txt": "a\n"})
		r.commit("B", map[string]string{"b.txt": "b\n"})

		if got, err := r.svc.CurrentBranch(r.ctx); err != nil || got != "main" {
			t.Fatalf("CurrentBranch() = %q, %v, want main", got, err)
		}
		if err := r.svc.CheckoutDetached(r.ctx, first); err != nil {
			t.Fatalf("CheckoutDetached: %v", err)
		}
		if got, err := r.svc.CurrentBranch(r.ctx); err != nil || got != "HEAD" {
			t.Fatalf("CurrentBranch() detached = %q, %v, want HEAD", got, err)
		}
		if _, err := r.svc.ResolveRef(r.ctx, "does-not-exist"); !errors.Is(err, ErrRefNotFound) {
			t.Fatalf("ResolveRef() error = %v, want ErrRefNotFound", err)
		}
		if _, err := r.svc.ResolveRef(r.ctx, "--all"); !errors.Is(err, ErrValidation) {
			t.Fatalf("ResolveRef(--all) error = %v, want ErrValidation", err)
		}
	})
}

func TestBranchMutations(t *testing.T) {
	forEachService(t, func(t *testing.T, r *testRepo) {
		first := r.commit("A", map[string]string{"a.txt": "a\n"})
		second := r.commit("B", map[string]string{"b.txt": "b\n"})

		if err := r.svc.CreateBranch(r.ctx, "topic", first); err != nil {
			t.Fatalf("CreateBranch() error = %v", err)
		}
		if err := r.svc.CreateBranch(r.ctx, "-bad", ""); !errors.Is(err, ErrValidation) {
			t.Fatalf("CreateBranch(-bad) error = %v, want ErrValidation", err)
		}
		branches, err := r.svc.Branches(r.ctx)
		if err != nil {
			t.Fatalf("Branches() error = %v", err)
		}
		want := []Branch{
			{Name: "main", Hash: second, Active: true},
			{Name: "topic", Hash: first},
		}
		if !reflect.DeepEqual(branches, want) {
			t.Fatalf("Branches() = %+v, want %+v", branches, want)
		}

		if err := r.svc.ResetBranch(r.ctx, "topic", second); err != nil {
			t.Fatalf("ResetBranch() error = %v", err)
		}
		if err := r.svc.ResetBranch(r.ctx, "main", first); !errors.Is(err, ErrValidation) {
			t.Fatalf("ResetBranch(current) error = %v, want ErrValidation", err)
		}
		if err := r.svc.RenameBranch(r.ctx, "topic", "renamed"); err != nil {
			t.Fatalf("RenameBranch() error = %v", err)
		}
		if h, err := r.svc.ResolveRef(r.ctx, "renamed"); err != nil || h != second {
			t.Fatalf("ResolveRef(renamed) = %s, %v, want %s", h, err, second)
		}
		if err := r.svc.DeleteBranch(r.ctx, "main", true); !errors.Is(err, ErrValidation) {
			t.Fatalf("DeleteBranch(current) error = %v, want ErrValidation", err)
		}
		if err := r.svc.DeleteBranch(r.ctx, "renamed", false); err != nil {
			t.Fatalf("DeleteBranch() error = %v", err)
		}
		if _, err := r.svc.ResolveRef(r.ctx, "refs/heads/renamed"); !errors.Is(err, ErrRefNotFound) {
			t.Fatalf("ResolveRef(deleted) error = %v, want ErrRefNotFound", err)
		}
	})
}

func TestLog_GraphAndLabels(t *testing.T) {
	forEachService(t, func(t *testing.T, r *testRepo) {
		r.commit("A", map[string]string{"a.txt": "a\n"})
		b := r.commit("B", map[string]string{"b.txt": "b\n"})

		entries, err := r.svc.Log(r.ctx, LogQuery{})
		if err != nil {
			t.Fatalf("Log() error = %v", err)
		}
		if len(entries) != 2 {
			t.Fatalf("Log() = %d entries, want 2", len(entries))
		}
		if entries[0].Commit.Hash != b || entries[0].Graph != "*" {
			t.Fatalf("Log()[0] = %+v, want %s with graph *", entries[0], b)
		}
		if !reflect.DeepEqual(entries[0].Labels, []string{"HEAD -> main"}) {
			t.Fatalf("Log()[0].Labels = %v, want [HEAD -> main]", entries[0].Labels)
		}
	})
}

func TestAheadBehind(t *testing.T) {
	forEachService(t, func(t *testing.T, r *testRepo) {
		r.commit("A", map[string]string{"a.txt": "a\n"})
		if err := r.svc.CreateBranch(r.ctx, "feature", ""); err != nil {
			t.Fatalf("CreateBranch: %v", err)
		}
		r.commit("M", map[string]string{"m.txt": "m\n"})
		if err := r.svc.Checkout(r.ctx, "feature"); err != nil {
			t.Fatalf("Checkout: %v", err)
		}
		r.commit("F1", map[string]string{"f1.txt": "1\n"})
		r.commit("F2", map[string]string{"f2.txt": "2\n"})
		setUpstream(t, r.dir, "feature", ".", "main")

		got, err := r.svc.AheadBehind(r.ctx, "")
		if err != nil {
			t.Fatalf("AheadBehind() error = %v", err)
		}
		want := &AheadBehind{Branch: "feature", Upstream: "main", Ahead: 2, Behind: 1}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("AheadBehind() = %+v, want %+v", got, want)
		}

		if _, err := r.svc.AheadBehind(r.ctx, "main"); !errors.Is(err, ErrRefNotFound) {
			t.Fatalf("AheadBehind(no upstream) error = %v, want ErrRefNotFound", err)
		}
	})
}

func setUpstream(t *testing.T, dir, branch, remote, merge string) {
	t.Helper()
	repo, err := gogit.PlainOpen(dir)
	if err != nil {
		t.Fatalf("PlainOpen: %v", err)
	}
	cfg, err := repo.Config()
	if err != nil {
		t.Fatalf("Config: %v", err)
	}
	cfg.Branches[branch] = &config.Branch{
		Name:   branch,
		Remote: remote,
		Merge:  plumbing.NewBranchReferenceName(merge),
	}
	if err := repo.SetConfig(cfg); err != nil {
		t.Fatalf("SetConfig: %v", err)
	}
}
