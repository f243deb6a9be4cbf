package backend

import (
	"errors"
	"reflect"
	"slices"
	"strings"
	"testing"
	"time"
)

func TestBackend_Status(t *testing.T) {
	forEachBackend(t, func(t *testing.T, r *testRepo) {
		r.commit("init", map[string]string{"a.txt": "a\n", "gone.txt": "x\n"})
		r.write("a.txt", "a changed\n")
		r.write("dir/new.txt", "n\n")
		r.write("staged.txt", "s\n")
		if err := r.b.Add(r.ctx, "staged.txt"); err != nil {
			t.Fatalf("Add: %v", err)
		}
		r.remove("gone.txt")

		got := r.status()
		want := map[string]StatusEntry{
			"a.txt":       {Path: "a.txt", Unstaged: ChangeModified},
			"dir/new.txt": {Path: "dir/new.txt", Untracked: true},
			"staged.txt":  {Path: "staged.txt", Staged: ChangeAdded},
			"gone.txt":    {Path: "gone.txt", Unstaged: ChangeDeleted},
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("Status() = %+v\nwant %+v", got, want)
		}
	})
}

func TestBackend_CommitLogAndContent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, r *testRepo) {
		if st := r.head(); !st.Unborn() || st.Branch != "main" {
			t.Fatalf("fresh repository HeadState = %+v", st)
		}
		h1 := r.commit("first", map[string]string{"a.txt": "1\n"})
		h2 := r.commit("second\n\nbody", map[string]string{"a.txt": "2\n", "b.txt": "b\n"})

		if st := r.head(); st.Hash != h2 || st.Branch != "main" || st.Detached() {
			t.Fatalf("HeadState = %+v", st)
		}
		commits, err := r.b.Log(r.ctx, LogOptions{})
		if err != nil {
			t.Fatalf("Log: %v", err)
		}
		if len(commits) != 2 || commits[0].Hash != h2 || !slices.Equal(commits[0].ParentHashes, []string{h1}) {
			t.Fatalf("Log() = %+v", commits)
		}
		if c := commits[0]; c.Summary() != "second" || c.Author.Name != "Test User" || c.Tree == "" {
			t.Fatalf("unexpected commit %+v", c)
		}
		if commits, _ := r.b.Log(r.ctx, LogOptions{MaxCount: 1}); len(commits) != 1 {
			t.Fatalf("MaxCount ignored: %d commits", len(commits))
		}
		if commits, _ := r.b.Log(r.ctx, LogOptions{Path: "b.txt"}); len(commits) != 1 || commits[0].Hash != h2 {
			t.Fatalf("path filter ignored: %+v", commits)
		}

		changes, err := r.b.CommitChanges(r.ctx, h2)
		if err != nil {
			t.Fatalf("CommitChanges: %v", err)
		}
		byPath := map[string]ChangeKind{}
		for _, c := range changes {
			byPath[c.Path] = c.Kind
		}
		if !reflect.DeepEqual(byPath, map[string]ChangeKind{"a.txt": ChangeModified, "b.txt": ChangeAdded}) {
			t.Fatalf("CommitChanges(h2) = %+v", changes)
		}
		root, err := r.b.CommitChanges(r.ctx, h1)
		if err != nil || len(root) != 1 || root[0].Kind != ChangeAdded {
			t.Fatalf("CommitChanges(root) = %+v, %v", root, err)
		}

		data, ok, err := r.b.FileAt(r.ctx, h1, "a.txt")
		if err != nil || !ok || string(data) != "1\n" {
			t.Fatalf("FileAt(h1, a.txt) = %q, %v, %v", data, ok, err)
		}
		if _, ok, err := r.b.FileAt(r.ctx, h1, "b.txt"); ok || err != nil {
			t.Fatalf("FileAt(h1, b.txt) = %v, %v; want missing", ok, err)
		}
		if data, ok, err := r.b.IndexFile(r.ctx, "b.txt"); err != nil || !ok || string(data) != "b\n" {
			t.Fatalf("IndexFile(b.txt) = %q, %v, %v", data, ok, err)
		}

		if ok, err := r.b.IsAncestor(r.ctx, h1, h2); err != nil || !ok {
			t.Fatalf("IsAncestor(h1, h2) = %v, %v", ok, err)
		}
		if ok, err := r.b.IsAncestor(r.ctx, h2, h1); err != nil || ok {
			t.Fatalf("IsAncestor(h2, h1) = %v, %v", ok, err)
		}
		if got, err := r.b.ResolveRef(r.ctx, "HEAD~1"); err != nil || got != h1 {
			t.Fatalf("ResolveRef(HEAD~1) = %q, %v", got, err)
		}
		if _, err := r.b.ResolveRef(r.ctx, "nope"); !errors.Is(err, ErrRefNotFound) {
			t.Fatalf("ResolveRef(nope) = %v, want ErrRefNotFound", err)
		}
		if _, err := r.b.ResolveRef(r.ctx, "--all"); !errors.Is(err, ErrValidation) {
			t.Fatalf("ResolveRef(--all) = %v, want ErrValidation", err)
		}

		if _, err := r.b.Commit(r.ctx, CommitOptions{Message: "again"}); !errors.Is(err, ErrNothingToCommit) {
			t.Fatalf("empty Commit() = %v, want ErrNothingToCommit", err)
		}
		h3, err := r.b.Commit(r.ctx, CommitOptions{Message: "second, reworded", Amend: true})
		if err != nil {
			t.Fatalf("amend: %v", err)
		}
		if c := r.info(h3); c.Summary() != "second, reworded" || !slices.Equal(c.ParentHashes, []string{h1}) {
			t.Fatalf("amended commit = %+v", c)
		}
	})
}

func TestBackend_UnstageAndDiscard(t *testing.T) {
	forEachBackend(t, func(t *testing.T, r *testRepo) {
		r.commit("init", map[string]string{"a.txt": "a\n"})
		r.write("a.txt", "changed\n")
		r.write("n.txt", "new\n")
		if err := r.b.Add(r.ctx, "a.txt", "n.txt"); err != nil {
			t.Fatalf("Add: %v", err)
		}
		st := r.status()
		if st["a.txt"].Staged != ChangeModified || st["n.txt"].Staged != ChangeAdded {
			t.Fatalf("after Add: %+v", st)
		}

		if err := r.b.Unstage(r.ctx, "a.txt", "n.txt"); err != nil {
			t.Fatalf("Unstage: %v", err)
		}
		st = r.status()
		if e := st["a.txt"]; e.Staged != ChangeNone || e.Unstaged != ChangeModified {
			t.Fatalf("a.txt after Unstage: %+v", e)
		}
		if !st["n.txt"].Untracked {
			t.Fatalf("n.txt after Unstage: %+v", st["n.txt"])
		}

		if err := r.b.Discard(r.ctx, "a.txt"); err != nil {
			t.Fatalf("Discard: %v", err)
		}
		if got := r.read("a.txt"); got != "a\n" {
			t.Fatalf("a.txt after Discard = %q", got)
		}
		if _, ok := r.status()["a.txt"]; ok {
			t.Fatal("a.txt still reported after Discard")
		}
	})
}

func TestBackend_Branches(t *testing.T) {
	forEachBackend(t, func(t *testing.T, r *testRepo) {
		h1 := r.commit("init", map[string]string{"a.txt": "a\n"})
		if err := r.b.CreateBranch(r.ctx, "feature", ""); err != nil {
			t.Fatalf("CreateBranch: %v", err)
		}
		if err := r.b.CreateBranch(r.ctx, "feature", ""); !errors.Is(err, ErrValidation) {
			t.Fatalf("duplicate CreateBranch = %v, want ErrValidation", err)
		}
		if err := r.b.CreateBranch(r.ctx, "bad name", ""); !errors.Is(err, ErrValidation) {
			t.Fatalf("CreateBranch(bad name) = %v, want ErrValidation", err)
		}
		if err := r.b.Checkout(r.ctx, "feature"); err != nil {
			t.Fatalf("Checkout: %v", err)
		}
		h2 := r.commit("feature work", map[string]string{"b.txt": "b\n"})
		if err := r.b.Checkout(r.ctx, "main"); err != nil {
			t.Fatalf("Checkout main: %v", err)
		}
		if r.exists("b.txt") {
			t.Fatal("b.txt left behind after switching to main")
		}

		refs, err := r.b.ListRefs(r.ctx)
		if err != nil {
			t.Fatalf("ListRefs: %v", err)
		}
		if !slices.Contains(refs, Ref{Hash: h2, Kind: RefKindBranch, Name: "feature"}) ||
			!slices.Contains(refs, Ref{Hash: h1, Kind: RefKindBranch, Name: "main"}) {
			t.Fatalf("ListRefs() = %+v", refs)
		}

		if err := r.b.DeleteBranch(r.ctx, "feature", false); !errors.Is(err, ErrValidation) {
			t.Fatalf("DeleteBranch(unmerged) = %v, want ErrValidation", err)
		}
		if err := r.b.RenameBranch(r.ctx, "feature", "topic"); err != nil {
			t.Fatalf("RenameBranch: %v", err)
		}
		if _, err := r.b.ResolveRef(r.ctx, "feature"); !errors.Is(err, ErrRefNotFound) {
			t.Fatalf("old name still resolves: %v", err)
		}
		if err := r.b.SetBranch(r.ctx, "topic", h1); err != nil {
			t.Fatalf("SetBranch: %v", err)
		}
		if got, _ := r.b.ResolveRef(r.ctx, "topic"); got != h1 {
			t.Fatalf("topic = %s, want %s", got, h1)
		}
		if err := r.b.DeleteBranch(r.ctx, "topic", false); err != nil {
			t.Fatalf("DeleteBranch(merged): %v", err)
		}

		if err := r.b.CheckoutDetached(r.ctx, h1); err != nil {
			t.Fatalf("CheckoutDetached: %v", err)
		}
		if st := r.head(); !st.Detached() || st.Hash != h1 {
			t.Fatalf("HeadState after detach = %+v", st)
		}
	})
}

func TestBackend_CheckoutRefusesToOverwrite(t *testing.T) {
	forEachBackend(t, func(t *testing.T, r *testRepo) {
		r.commit("init", map[string]string{"a.txt": "a\n"})
		if err := r.b.CreateBranch(r.ctx, "other", ""); err != nil {
			t.Fatal(err)
		}
		if err := r.b.Checkout(r.ctx, "other"); err != nil {
			t.Fatal(err)
		}
		r.commit("other", map[string]string{"a.txt": "other\n"})
		if err := r.b.Checkout(r.ctx, "main"); err != nil {
			t.Fatal(err)
		}
		r.write("a.txt", "local edit\n")
		if err := r.b.Checkout(r.ctx, "other"); err == nil {
			t.Fatal("Checkout overwrote a local change")
		}
		if got := r.read("a.txt"); got != "local edit\n" {
			t.Fatalf("a.txt = %q", got)
		}
		if st := r.head(); st.Branch != "main" {
			t.Fatalf("branch = %q, want main", st.Branch)
		}
	})
}

// sideCommit commits files on a new branch and returns to main.
func sideCommit(t *testing.T, r *testRepo, branch, msg string, files map[string]string, author *Signature) string {
	t.Helper()
	if _, err := r.b.ResolveRef(r.ctx, branch); err != nil {
		if err := r.b.CreateBranch(r.ctx, branch, ""); err != nil {
			t.Fatalf("CreateBranch: %v", err)
		}
	}
	if err := r.b.Checkout(r.ctx, branch); err != nil {
		t.Fatalf("Checkout %s: %v", branch, err)
	}
	for p, c := range files {
		r.write(p, c)
		if err := r.b.Add(r.ctx, p); err != nil {
			t.Fatal(err)
		}
	}
	h, err := r.b.Commit(r.ctx, CommitOptions{Message: msg, Author: author})
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := r.b.Checkout(r.ctx, "main"); err != nil {
		t.Fatalf("Checkout main: %v", err)
	}
	return h
}

func TestBackend_CherryPick(t *testing.T) {
	forEachBackend(t, func(t *testing.T, r *testRepo) {
		r.commit("base", map[string]string{"f.txt": "1\n2\n3\n"})
		other := &Signature{Name: "Other", Email: "other@example.com", When: time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)}
		picked := sideCommit(t, r, "side", "side change", map[string]string{"g.txt": "g\n"}, other)

		if err := r.b.CherryPick(r.ctx, picked); err != nil {
			t.Fatalf("CherryPick: %v", err)
		}
		head := r.info("HEAD")
		if head.Summary() != "side change" || head.Author.Name != "Other" || head.Committer.Name != "Test User" {
			t.Fatalf("picked commit = %+v", head)
		}
		if !r.exists("g.txt") {
			t.Fatal("g.txt missing after pick")
		}

		if err := r.b.CherryPick(r.ctx, picked); !errors.Is(err, ErrEmptyCommit) {
			t.Fatalf("second CherryPick = %v, want ErrEmptyCommit", err)
		}
		if op, _ := r.b.OperationState(r.ctx); op != OpNone {
			t.Fatalf("operation left behind: %q", op)
		}
		if r.head().Hash != head.Hash {
			t.Fatal("empty pick moved HEAD")
		}
	})
}

func TestBackend_CherryPickConflict(t *testing.T) {
	forEachBackend(t, func(t *testing.T, r *testRepo) {
		r.commit("base", map[string]string{"f.txt": "1\n2\n3\n"})
		picked := sideCommit(t, r, "side", "side edit", map[string]string{"f.txt": "1\nside\n3\n"}, nil)
		mainHead := r.commit("main edit", map[string]string{"f.txt": "1\nmain\n3\n"})

		err := r.b.CherryPick(r.ctx, picked)
		var ce *ConflictError
		if !errors.As(err, &ce) {
			t.Fatalf("CherryPick = %v, want *ConflictError", err)
		}
		if ce.Op != "cherry-pick" || ce.Commit != picked || !slices.Equal(ce.Paths, []string{"f.txt"}) {
			t.Fatalf("conflict = %+v", ce)
		}
		if op, _ := r.b.OperationState(r.ctx); op != OpCherryPick {
			t.Fatalf("OperationState = %q", op)
		}
		if e := r.status()["f.txt"]; e.Staged != ChangeConflicted || e.Unstaged != ChangeConflicted {
			t.Fatalf("f.txt status = %+v", e)
		}
		if !strings.Contains(r.read("f.txt"), "<<<<<<< ") {
			t.Fatalf("no conflict markers in %q", r.read("f.txt"))
		}
		if data, ok, _ := r.b.IndexFile(r.ctx, "f.txt"); !ok || string(data) != "1\nmain\n3\n" {
			t.Fatalf("IndexFile of a conflicted path = %q, %v; want our side", data, ok)
		}

		if err := r.b.CherryPickAbort(r.ctx); err != nil {
			t.Fatalf("CherryPickAbort: %v", err)
		}
		if got := r.read("f.txt"); got != "1\nmain\n3\n" {
			t.Fatalf("f.txt after abort = %q", got)
		}
		if op, _ := r.b.OperationState(r.ctx); op != OpNone || r.head().Hash != mainHead {
			t.Fatalf("abort left state %q at %s", op, r.head().Hash)
		}

		if err := r.b.CherryPick(r.ctx, picked); !errors.Is(err, ErrConflictPending) {
			t.Fatalf("CherryPick = %v", err)
		}
		r.write("f.txt", "1\nresolved\n3\n")
		if err := r.b.Add(r.ctx, "f.txt"); err != nil {
			t.Fatalf("Add: %v", err)
		}
		if err := r.b.CherryPickContinue(r.ctx); err != nil {
			t.Fatalf("CherryPickContinue: %v", err)
		}
		head := r.info("HEAD")
		if head.Summary() != "side edit" || !slices.Equal(head.ParentHashes, []string{mainHead}) {
			t.Fatalf("continued commit = %+v", head)
		}
		if op, _ := r.b.OperationState(r.ctx); op != OpNone {
			t.Fatalf("OperationState after continue = %q", op)
		}
	})
}

func TestBackend_Revert(t *testing.T) {
	forEachBackend(t, func(t *testing.T, r *testRepo) {
		r.commit("add a", map[string]string{"a.txt": "a\n"})
		h2 := r.commit("add b", map[string]string{"b.txt": "b\n"})
		if err := r.b.Revert(r.ctx, h2); err != nil {
			t.Fatalf("Revert: %v", err)
		}
		if r.exists("b.txt") {
			t.Fatal("b.txt still present after revert")
		}
		head := r.info("HEAD")
		if head.Summary() != `Revert "add b"` || !strings.Contains(head.Message, "This reverts commit "+h2) {
			t.Fatalf("revert commit message = %q", head.Message)
		}
	})
}

func TestBackend_Merge(t *testing.T) {
	forEachBackend(t, func(t *testing.T, r *testRepo) {
		base := r.commit("init", map[string]string{"a.txt": "a\n"})
		feat := sideCommit(t, r, "feature", "feat", map[string]string{"f.txt": "f\n"}, nil)

		if err := r.b.Merge(r.ctx, "feature", ""); err != nil {
			t.Fatalf("Merge: %v", err)
		}
		head := r.info("HEAD")
		if !slices.Equal(head.ParentHashes, []string{base, feat}) {
			t.Fatalf("fast-forwardable merge did not record a merge commit: %+v", head)
		}
		if head.Summary() != "Merge branch 'feature'" {
			t.Fatalf("merge message = %q", head.Message)
		}
		if !r.exists("f.txt") {
			t.Fatal("f.txt missing after merge")
		}
		if err := r.b.Merge(r.ctx, "feature", ""); err != nil {
			t.Fatalf("merge of merged branch: %v", err)
		}
		if r.head().Hash != head.Hash {
			t.Fatal("merging an already merged branch created a commit")
		}
	})
}

func TestBackend_MergeConflictAbort(t *testing.T) {
	forEachBackend(t, func(t *testing.T, r *testRepo) {
		r.commit("init", map[string]string{"a.txt": "base\n"})
		sideCommit(t, r, "feature", "theirs", map[string]string{"a.txt": "theirs\n"}, nil)
		ours := r.commit("ours", map[string]string{"a.txt": "ours\n"})

		err := r.b.Merge(r.ctx, "feature", "")
		var ce *ConflictError
		if !errors.As(err, &ce) || ce.Op != "merge" {
			t.Fatalf("Merge = %v, want merge conflict", err)
		}
		if op, _ := r.b.OperationState(r.ctx); op != OpMerge {
			t.Fatalf("OperationState = %q", op)
		}
		if err := r.b.MergeAbort(r.ctx); err != nil {
			t.Fatalf("MergeAbort: %v", err)
		}
		if got := r.read("a.txt"); got != "ours\n" || r.head().Hash != ours {
			t.Fatalf("after abort: a.txt = %q, HEAD = %s", got, r.head().Hash)
		}
	})
}

func TestBackend_Reset(t *testing.T) {
	forEachBackend(t, func(t *testing.T, r *testRepo) {
		h1 := r.commit("one", map[string]string{"a.txt": "a\n"})
		h2 := r.commit("two", map[string]string{"b.txt": "b\n"})
		r.write("a.txt", "dirty\n")
		r.write("untracked.txt", "keep me\n")

		if err := r.b.Reset(r.ctx, h1, ResetHard); err != nil {
			t.Fatalf("hard Reset: %v", err)
		}
		if r.head().Hash != h1 || r.read("a.txt") != "a\n" || r.exists("b.txt") {
			t.Fatal("hard reset did not restore the tree")
		}
		if !r.exists("untracked.txt") {
			t.Fatal("hard reset removed an untracked file")
		}

		if err := r.b.Reset(r.ctx, h2, ResetSoft); err != nil {
			t.Fatalf("soft Reset: %v", err)
		}
		if e := r.status()["b.txt"]; r.head().Hash != h2 || e.Staged != ChangeDeleted {
			t.Fatalf("after soft reset b.txt = %+v", e)
		}

		if err := r.b.Reset(r.ctx, h2, ResetMixed); err != nil {
			t.Fatalf("mixed Reset: %v", err)
		}
		if e := r.status()["b.txt"]; e.Staged != ChangeNone || e.Unstaged != ChangeDeleted {
			t.Fatalf("after mixed reset b.txt = %+v", e)
		}
	})
}

func TestBackend_Stash(t *testing.T) {
	forEachBackend(t, func(t *testing.T, r *testRepo) {
		r.commit("init", map[string]string{"a.txt": "a\n"})
		if err := r.b.StashPush(r.ctx, "", false); !errors.Is(err, ErrNothingToCommit) {
			t.Fatalf("StashPush on a clean tree = %v", err)
		}

		r.write("a.txt", "changed\n")
		if err := r.b.StashPush(r.ctx, "", false); err != nil {
			t.Fatalf("StashPush: %v", err)
		}
		if got := r.read("a.txt"); got != "a\n" {
			t.Fatalf("a.txt after stash = %q", got)
		}

		r.write("u.txt", "untracked\n")
		if err := r.b.StashPush(r.ctx, "with untracked", true); err != nil {
			t.Fatalf("StashPush(untracked): %v", err)
		}
		if r.exists("u.txt") {
			t.Fatal("untracked file not stashed")
		}

		list, err := r.b.StashList(r.ctx)
		if err != nil {
			t.Fatalf("StashList: %v", err)
		}
		if len(list) != 2 || list[0].Message != "On main: with untracked" || list[1].Branch != "main" ||
			!strings.HasPrefix(list[1].Message, "WIP on main: ") {
			t.Fatalf("StashList() = %+v", list)
		}

		if err := r.b.StashApply(r.ctx, 0, true); err != nil {
			t.Fatalf("StashApply(0, pop): %v", err)
		}
		if r.read("u.txt") != "untracked\n" {
			t.Fatal("untracked file not restored")
		}
		if err := r.b.StashApply(r.ctx, 0, false); err != nil {
			t.Fatalf("StashApply(0): %v", err)
		}
		if got := r.read("a.txt"); got != "changed\n" {
			t.Fatalf("a.txt after apply = %q", got)
		}
		if list, _ := r.b.StashList(r.ctx); len(list) != 1 {
			t.Fatalf("apply without pop dropped the stash: %+v", list)
		}
		if err := r.b.StashDrop(r.ctx, 0); err != nil {
			t.Fatalf("StashDrop: %v", err)
		}
		if err := r.b.StashDrop(r.ctx, 0); !errors.Is(err, ErrRefNotFound) {
			t.Fatalf("StashDrop on empty list = %v, want ErrRefNotFound", err)
		}
	})
}

func TestBackend_Blame(t *testing.T) {
	forEachBackend(t, func(t *testing.T, r *testRepo) {
		c1 := r.commit("one", map[string]string{"f.txt": "l1\nl2\n"})
		c2 := r.commit("two", map[string]string{"f.txt": "l1\nL2\nl3\n"})

		lines, err := r.b.Blame(r.ctx, "", "f.txt")
		if err != nil {
			t.Fatalf("Blame: %v", err)
		}
		if len(lines) != 3 {
			t.Fatalf("got %d lines, want 3", len(lines))
		}
		want := []struct{ commit, content, summary string }{
			{c1, "l1", "one"}, {c2, "L2", "two"}, {c2, "l3", "two"},
		}
		for i, w := range want {
			l := lines[i]
			if l.LineNo != i+1 || l.Commit != w.commit || l.Content != w.content || l.Summary != w.summary {
				t.Fatalf("line %d = %+v, want %+v", i+1, l, w)
			}
			if l.Author != "Test User" || l.Email != "test@example.com" {
				t.Fatalf("line %d author = %q <%s>", i+1, l.Author, l.Email)
			}
		}
	})
}

func TestBackend_RemotesWithoutRemote(t *testing.T) {
	forEachBackend(t, func(t *testing.T, r *testRepo) {
		r.commit("init", map[string]string{"a.txt": "a\n"})
		remotes, err := r.b.Remotes(r.ctx)
		if err != nil || len(remotes) != 0 {
			t.Fatalf("Remotes() = %+v, %v", remotes, err)
		}
		if err := r.b.Fetch(r.ctx, RemoteOptions{}); !errors.Is(err, ErrNoRemoteConfigured) {
			t.Fatalf("Fetch without remote = %v, want ErrNoRemoteConfigured", err)
		}
	})
}
