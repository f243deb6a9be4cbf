package backend

import (
	"strings"
	"time"
)

type Signature struct {
	Name  string    `json:"name" yaml:"name"`
	Email string    `json:"email" yaml:"email"`
	When  time.Time `json:"when" yaml:"when"`
}

type Commit struct {
	Hash         string    `json:"hash" yaml:"hash"`
	ParentHashes []string  `json:"parents" yaml:"parents"`
	Tree         string    `json:"tree" yaml:"tree"`
	Author       Signature `json:"author" yaml:"author"`
	Committer    Signature `json:"committer" yaml:"committer"`
	Message      string    `json:"message" yaml:"message"`
}

func (c *Commit) ShortHash() string { return shortHash(c.Hash) }

// Summary returns the first line of the message.
func (c *Commit) Summary() string {
	summary, _, _ := strings.Cut(strings.TrimSpace(c.Message), "\n")
	return strings.TrimSpace(summary)
}

type RefKind uint8

const (
	RefKindBranch RefKind = iota
	RefKindRemoteBranch
	RefKindTag
)

type Ref struct {
	Hash string  `json:"hash" yaml:"hash"`
	Kind RefKind `json:"kind" yaml:"kind"`
	Name string  `json:"name" yaml:"name"` // short name: main, origin/main, v1
}

// HeadState describes what HEAD points at. Branch is empty when detached;
// Hash is empty when the current branch has no commits yet.
type HeadState struct {
	Hash   string
	Branch string
}

func (h HeadState) Detached() bool { return h.Branch == "" && h.Hash != "" }

func (h HeadState) Unborn() bool { return h.Hash == "" }

type ChangeKind string

const (
	ChangeNone       ChangeKind = ""
	ChangeAdded      ChangeKind = "added"
	ChangeModified   ChangeKind = "modified"
	ChangeDeleted    ChangeKind = "deleted"
	ChangeRenamed    ChangeKind = "renamed"
	ChangeConflicted ChangeKind = "conflicted"
)

// StatusEntry is one path of the working tree status. Staged compares HEAD
// with the index, Unstaged compares the index with the working tree.
type StatusEntry struct {
	Path      string
	OrigPath  string
	Staged    ChangeKind
	Unstaged  ChangeKind
	Untracked bool
}

// ChangedFile is one path touched by a commit relative to its first parent.
type ChangedFile struct {
	Path     string     `json:"path" yaml:"path"`
	OrigPath string     `json:"orig_path,omitempty" yaml:"orig_path,omitempty"`
	Kind     ChangeKind `json:"kind" yaml:"kind"`
}

type LogOptions struct {
	From     string
	Path     string
	MaxCount int
}

type CommitOptions struct {
	Message string
	Amend   bool
	// AllowEmpty permits a commit whose tree equals its parent's.
	AllowEmpty bool
	// Author overrides the configured identity, used when replaying commits.
	Author *Signature
}

type ResetMode uint8

const (
	ResetMixed ResetMode = iota
	ResetSoft
	ResetHard
)

func (m ResetMode) flag() string {
	switch m {
	case ResetSoft:
		return "--soft"
	case ResetHard:
		return "--hard"
	default:
		return "--mixed"
	}
}

// Operation is a multi-step operation left in progress in the git directory.
type Operation string

const (
	OpNone       Operation = ""
	OpCherryPick Operation = "cherry-pick"
	OpRevert     Operation = "revert"
	OpMerge      Operation = "merge"
	OpRebase     Operation = "rebase"
	OpBisect     Operation = "bisect"
)

type BlameLine struct {
	LineNo  int       `json:"line_no" yaml:"line_no"`
	Content string    `json:"content" yaml:"content"`
	Commit  string    `json:"commit" yaml:"commit"`
	Author  string    `json:"author" yaml:"author"`
	Email   string    `json:"email" yaml:"email"`
	Date    time.Time `json:"date" yaml:"date"`
	Summary string    `json:"summary" yaml:"summary"`
}

type Stash struct {
	Index   int    `json:"index" yaml:"index"`
	Message string `json:"message" yaml:"message"`
	Branch  string `json:"branch" yaml:"branch"`
	Commit  string `json:"commit" yaml:"commit"`
}

type Remote struct {
	Name string   `json:"name" yaml:"name"`
	URLs []string `json:"urls" yaml:"urls"`
}

// Credential is a transient secret for one authenticated call.
type Credential struct {
	Username string
	Token    string
}

func (c Credential) Empty() bool { return c.Token == "" }

type RemoteOptions struct {
	Remote     string
	Branch     string
	Force      bool
	Credential Credential
	Progress   ProgressFunc
}
