package git

import (
	"fmt"
	"strings"

	"github.com/thiagokokada/repoops/internal/diff"
	"github.com/thiagokokada/repoops/internal/git/backend"
)

// FormatCommitHeader renders c the way "git show" prints a commit header.
func FormatCommitHeader(c *backend.Commit) string {
	var b strings.Builder
	fmt.Fprintf(&b, "commit %s\n", c.Hash)
	if len(c.ParentHashes) > 1 {
		short := make([]string, len(c.ParentHashes))
		for i, p := range c.ParentHashes {
			short[i] = shortHash(p)
		}
		fmt.Fprintf(&b, "Merge: %s\n", strings.Join(short, " "))
	}
	appendSignatureLine(&b, "Author", c.Author)
	committer := c.Committer
	if committer.Name == "" && committer.Email == "" && committer.When.IsZero() {
		committer = c.Author
	}
	appendSignatureLine(&b, "Committer", committer)
	b.WriteString("\n")
	message := strings.TrimRight(c.Message, "\n")
	if message == "" {
		b.WriteString("    (no commit message)\n")
		return b.String()
	}
	for line := range strings.SplitSeq(message, "\n") {
		if line == "" {
			b.WriteString("\n")
			continue
		}
		fmt.Fprintf(&b, "    %s\n", line)
	}
	return b.String()
}

func appendSignatureLine(b *strings.Builder, label string, sig backend.Signature) {
	fmt.Fprintf(b, "%s: %s <%s>", label, sig.Name, sig.Email)
	if !sig.When.IsZero() {
		fmt.Fprintf(b, "  %s", sig.When.Format("2006-01-02 15:04:05 -0700"))
	}
	b.WriteByte('\n')
}

// FormatCommitPatch renders the header of c followed by the patch of every
// file in files.
func FormatCommitPatch(c *backend.Commit, files []diff.FileDiff) string {
	var b strings.Builder
	b.WriteString(FormatCommitHeader(c))
	for _, f := range files {
		b.WriteString("\n")
		fmt.Fprintf(&b, "diff --git a/%s b/%s\n", f.OldPath, f.Path)
		if f.Binary {
			fmt.Fprintf(&b, "Binary files a/%s and b/%s differ\n", f.OldPath, f.Path)
			continue
		}
		b.WriteString(diff.Format(f.Path, f.Hunks))
	}
	return b.String()
}
