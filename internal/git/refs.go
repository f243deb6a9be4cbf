package git

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/thiagokokada/repoops/internal/git/backend"
	"github.com/thiagokokada/repoops/internal/repocache"
)

type (
	Ref       = backend.Ref
	RefKind   = backend.RefKind
	Commit    = backend.Commit
	Signature = backend.Signature
	ResetMode = backend.ResetMode
)

const (
	RefKindBranch       = backend.RefKindBranch
	RefKindRemoteBranch = backend.RefKindRemoteBranch
	RefKindTag          = backend.RefKindTag

	ResetMixed = backend.ResetMixed
	ResetSoft  = backend.ResetSoft
	ResetHard  = backend.ResetHard
)

type Branch struct {
	Name     string `json:"name" yaml:"name"`
	Hash     string `json:"hash" yaml:"hash"`
	Remote   bool   `json:"remote,omitempty" yaml:"remote,omitempty"`
	Active   bool   `json:"active,omitempty" yaml:"active,omitempty"`
	Upstream string `json:"upstream,omitempty" yaml:"upstream,omitempty"`
}

// ResolveRef returns the commit hash ref points at.
func (s *Service) ResolveRef(ctx context.Context, ref string) (string, error) {
	if err := validateRef("ref", ref); err != nil {
		return "", err
	}
	var hash string
	err := s.read(func() error {
		var err error
		hash, err = s.backend.ResolveRef(ctx, ref)
		return err
	})
	return hash, err
}

// CurrentBranch returns the checked out branch, or "HEAD" when detached.
func (s *Service) CurrentBranch(ctx context.Context) (string, error) {
	var st backend.HeadState
	err := s.read(func() error {
		var err error
		st, err = s.backend.HeadState(ctx)
		return err
	})
	if err != nil {
		return "", err
	}
	if st.Branch == "" {
		return "HEAD", nil
	}
	return st.Branch, nil
}

func (s *Service) refs(ctx context.Context) ([]Ref, error) {
	return cached(s, repocache.KindRefs, func() ([]Ref, error) {
		return s.backend.ListRefs(ctx)
	})
}

// Refs lists branches, remote-tracking branches and tags.
func (s *Service) Refs(ctx context.Context) ([]Ref, error) {
	return s.refs(ctx)
}

// Branches lists local branches followed by remote-tracking branches, each
// group sorted by name.
func (s *Service) Branches(ctx context.Context) ([]Branch, error) {
	return cached(s, repocache.KindBranches, func() ([]Branch, error) {
		refs, err := s.backend.ListRefs(ctx)
		if err != nil {
			return nil, err
		}
		st, err := s.backend.HeadState(ctx)
		if err != nil {
			return nil, err
		}
		var branches []Branch
		for _, r := range refs {
			switch r.Kind {
			case RefKindBranch:
				b := Branch{Name: r.Name, Hash: r.Hash, Active: r.Name == st.Branch}
				up, err := s.backend.Upstream(ctx, r.Name)
				switch {
				case err == nil:
					b.Upstream = up
				case !errors.Is(err, backend.ErrRefNotFound):
					return nil, err
				}
				branches = append(branches, b)
			case RefKindRemoteBranch:
				if strings.HasSuffix(r.Name, "/HEAD") {
					continue
				}
				branches = append(branches, Branch{Name: r.Name, Hash: r.Hash, Remote: true})
			}
		}
		slices.SortStableFunc(branches, func(a, b Branch) int {
			if a.Remote != b.Remote {
				if a.Remote {
					return 1
				}
				return -1
			}
			return strings.Compare(a.Name, b.Name)
		})
		return branches, nil
	})
}

// RefLabels maps commit hashes to their decorations: "HEAD -> main",
// "origin/main", "tag: v1".
func (s *Service) RefLabels(ctx context.Context) (map[string][]string, error) {
	refs, err := s.refs(ctx)
	if err != nil {
		return nil, err
	}
	var st backend.HeadState
	err = s.read(func() error {
		var err error
		st, err = s.backend.HeadState(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return refLabels(refs, st), nil
}

func refLabels(refs []Ref, st backend.HeadState) map[string][]string {
	labels := map[string][]string{}
	for _, ref := range refs {
		if ref.Hash == "" || ref.Name == "" {
			continue
		}
		if ref.Kind == RefKindRemoteBranch && strings.HasSuffix(ref.Name, "/HEAD") {
			continue
		}
		label := ref.Name
		if ref.Kind == RefKindTag {
			label = fmt.Sprintf("tag: %s", ref.Name)
		}
		labels[ref.Hash] = append(labels[ref.Hash], label)
	}
	if st.Hash != "" {
		label := "HEAD"
		if st.Branch != "" {
			label = fmt.Sprintf("HEAD -> %s", st.Branch)
			labels[st.Hash] = slices.DeleteFunc(labels[st.Hash], func(l string) bool { return l == st.Branch })
		}
		labels[st.Hash] = append([]string{label}, labels[st.Hash]...)
	}
	return labels
}

type LogQuery struct {
	// Ref is where the walk starts, HEAD when empty.
	Ref   string
	Path  string
	Limit int
}

type LogEntry struct {
	Commit Commit   `json:"commit" yaml:"commit"`
	Graph  string   `json:"graph,omitempty" yaml:"graph,omitempty"`
	Labels []string `json:"labels,omitempty" yaml:"labels,omitempty"`
}

// Log lists commits reachable from q.Ref, newest first, with a text graph
// and ref decorations. The default query is cached.
func (s *Service) Log(ctx context.Context, q LogQuery) ([]LogEntry, error) {
	if q.Ref != "" {
		if err := validateRef("ref", q.Ref); err != nil {
			return nil, err
		}
	}
	if q.Limit <= 0 {
		q.Limit = DefaultLogLimit
	}
	if q.Ref == "" && q.Path == "" && q.Limit == DefaultLogLimit {
		return cached(s, repocache.KindLog, func() ([]LogEntry, error) {
			return s.log(ctx, q)
		})
	}
	var entries []LogEntry
	err := s.read(func() error {
		var err error
		entries, err = s.log(ctx, q)
		return err
	})
	return entries, err
}

func (s *Service) log(ctx context.Context, q LogQuery) ([]LogEntry, error) {
	st, err := s.backend.HeadState(ctx)
	if err != nil {
		return nil, err
	}
	if q.Ref == "" && st.Unborn() {
		return nil, nil
	}
	commits, err := s.backend.Log(ctx, backend.LogOptions{From: q.Ref, Path: q.Path, MaxCount: q.Limit})
	if err != nil {
		return nil, err
	}
	refs, err := s.backend.ListRefs(ctx)
	if err != nil {
		return nil, err
	}
	labels := refLabels(refs, st)
	graph := newGraphBuilder()
	entries := make([]LogEntry, len(commits))
	for i, c := range commits {
		entries[i] = LogEntry{Commit: c, Labels: labels[c.Hash]}
		// A path-limited walk skips commits, so parent links do not connect.
		if q.Path == "" {
			entries[i].Graph = graph.Line(c.Hash, c.ParentHashes)
		}
	}
	return entries, nil
}

type AheadBehind struct {
	Branch   string `json:"branch" yaml:"branch"`
	Upstream string `json:"upstream" yaml:"upstream"`
	Ahead    int    `json:"ahead" yaml:"ahead"`
	Behind   int    `json:"behind" yaml:"behind"`
	// Approximate is set when no common commit was found within the walk
	// depth, so the counts are lower bounds.
	Approximate bool `json:"approximate,omitempty" yaml:"approximate,omitempty"`
}

// AheadBehind counts the commits branch (the current branch when empty) and
// its upstream have that the other lacks. Both walks stop at the configured
// depth.
func (s *Service) AheadBehind(ctx context.Context, branch string) (*AheadBehind, error) {
	if branch != "" {
		if err := backend.ValidateBranchName(branch); err != nil {
			return nil, err
		}
	}
	var res *AheadBehind
	err := s.read(func() error {
		if branch == "" {
			st, err := s.backend.HeadState(ctx)
			if err != nil {
				return err
			}
			if st.Branch == "" {
				return backend.Invalid("branch", "HEAD is detached")
			}
			branch = st.Branch
		}
		upstream, err := s.backend.Upstream(ctx, branch)
		if err != nil {
			return err
		}
		depth := s.engine.cfg.AheadBehindDepth
		var local, remote []Commit
		g, gctx := errgroup.WithContext(ctx)
		if s.readConcurrency() == 1 {
			g.SetLimit(1)
		}
		g.Go(func() error {
			var err error
			local, err = s.backend.Log(gctx, backend.LogOptions{From: "refs/heads/" + branch, MaxCount: depth})
			return err
		})
		g.Go(func() error {
			var err error
			remote, err = s.backend.Log(gctx, backend.LogOptions{From: upstream, MaxCount: depth})
			return err
		})
		if err := g.Wait(); err != nil {
			return err
		}
		ahead, behind, found := countDivergence(local, remote)
		res = &AheadBehind{
			Branch:      branch,
			Upstream:    upstream,
			Ahead:       ahead,
			Behind:      behind,
			Approximate: !found,
		}
		if !found {
			slog.Debug("ahead/behind walk found no common commit",
				slog.String("branch", branch),
				slog.Int("depth", depth),
			)
		}
		return nil
	})
	return res, err
}

// countDivergence counts the commits of each side that come before the first
// commit the other side also has.
func countDivergence(local, remote []Commit) (ahead, behind int, found bool) {
	inLocal := make(map[string]struct{}, len(local))
	for _, c := range local {
		inLocal[c.Hash] = struct{}{}
	}
	inRemote := make(map[string]struct{}, len(remote))
	for _, c := range remote {
		inRemote[c.Hash] = struct{}{}
	}
	count := func(side []Commit, other map[string]struct{}) (int, bool) {
		for i, c := range side {
			if _, ok := other[c.Hash]; ok {
				return i, true
			}
		}
		return len(side), false
	}
	ahead, foundA := count(local, inRemote)
	behind, foundB := count(remote, inLocal)
	return ahead, behind, foundA && foundB
}

// CreateBranch creates name at start (HEAD when empty) without checking it
// out.
func (s *Service) CreateBranch(ctx context.Context, name, start string) error {
	if err := backend.ValidateBranchName(name); err != nil {
		return err
	}
	if start == "" {
		start = "HEAD"
	}
	if err := validateRef("start", start); err != nil {
		return err
	}
	return s.mutate(func() error {
		hash, err := s.backend.ResolveRef(ctx, start)
		if err != nil {
			return err
		}
		return s.backend.CreateBranch(ctx, name, hash)
	})
}

// DeleteBranch deletes a local branch. Without force an unmerged branch is
// kept.
func (s *Service) DeleteBranch(ctx context.Context, name string, force bool) error {
	if err := backend.ValidateBranchName(name); err != nil {
		return err
	}
	return s.mutate(func() error {
		st, err := s.backend.HeadState(ctx)
		if err != nil {
			return err
		}
		if st.Branch == name {
			return backend.Invalid("branch", "cannot delete the checked out branch %s", name)
		}
		return s.backend.DeleteBranch(ctx, name, force)
	})
}

func (s *Service) RenameBranch(ctx context.Context, oldName, newName string) error {
	if err := backend.ValidateBranchName(oldName); err != nil {
		return err
	}
	if err := backend.ValidateBranchName(newName); err != nil {
		return err
	}
	return s.mutate(func() error { return s.backend.RenameBranch(ctx, oldName, newName) })
}

// ResetBranch force-moves a branch that is not checked out to ref.
func (s *Service) ResetBranch(ctx context.Context, name, ref string) error {
	if err := backend.ValidateBranchName(name); err != nil {
		return err
	}
	if err := validateRef("ref", ref); err != nil {
		return err
	}
	return s.mutate(func() error {
		st, err := s.backend.HeadState(ctx)
		if err != nil {
			return err
		}
		if st.Branch == name {
			return backend.Invalid("branch", "%s is checked out, use reset instead", name)
		}
		if _, err := s.backend.ResolveRef(ctx, "refs/heads/"+name); err != nil {
			return err
		}
		hash, err := s.backend.ResolveRef(ctx, ref)
		if err != nil {
			return err
		}
		return s.backend.SetBranch(ctx, name, hash)
	})
}

// Checkout switches to a local branch. Local changes that would be
// overwritten make it fail.
func (s *Service) Checkout(ctx context.Context, name string) error {
	if err := backend.ValidateBranchName(name); err != nil {
		return err
	}
	return s.mutate(func() error {
		if err := s.requireIdle(ctx); err != nil {
			return err
		}
		return s.backend.Checkout(ctx, name)
	})
}

// CheckoutDetached detaches HEAD at ref.
func (s *Service) CheckoutDetached(ctx context.Context, ref string) error {
	if err := validateRef("ref", ref); err != nil {
		return err
	}
	return s.mutate(func() error {
		if err := s.requireIdle(ctx); err != nil {
			return err
		}
		hash, err := s.backend.ResolveRef(ctx, ref)
		if err != nil {
			return err
		}
		return s.backend.CheckoutDetached(ctx, hash)
	})
}

// Reset moves HEAD (and the branch it names) to ref.
func (s *Service) Reset(ctx context.Context, ref string, mode ResetMode) error {
	if err := validateRef("ref", ref); err != nil {
		return err
	}
	return s.mutate(func() error {
		hash, err := s.backend.ResolveRef(ctx, ref)
		if err != nil {
			return err
		}
		return s.backend.Reset(ctx, hash, mode)
	})
}
