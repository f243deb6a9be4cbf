package backend

import (
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
)

// ValidateBranchName rejects names git would refuse, before any backend call.
func ValidateBranchName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return Invalid("branch", "empty name")
	case strings.HasPrefix(name, "-"):
		return Invalid("branch", "%q must not start with '-'", name)
	case name == "HEAD":
		return Invalid("branch", "HEAD is not a valid branch name")
	}
	if err := plumbing.NewBranchReferenceName(name).Validate(); err != nil {
		return Invalid("branch", "%q is not a valid branch name", name)
	}
	return nil
}
