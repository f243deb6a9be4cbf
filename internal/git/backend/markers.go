package backend

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Marker files git leaves in the git directory while an operation waits for
// the user.
const (
	cherryPickHead = "CHERRY_PICK_HEAD"
	revertHead     = "REVERT_HEAD"
	mergeHead      = "MERGE_HEAD"
	mergeMsg       = "MERGE_MSG"
	mergeMode      = "MERGE_MODE"
	origHead       = "ORIG_HEAD"
)

// operationFromGitDir inspects gitDir the same way git's own prompt helper
// does.
func operationFromGitDir(gitDir string) (Operation, error) {
	checks := []struct {
		name string
		op   Operation
	}{
		{"rebase-merge", OpRebase},
		{"rebase-apply", OpRebase},
		{mergeHead, OpMerge},
		{cherryPickHead, OpCherryPick},
		{revertHead, OpRevert},
		{"BISECT_LOG", OpBisect},
	}
	for _, c := range checks {
		_, err := os.Stat(filepath.Join(gitDir, c.name))
		if err == nil {
			return c.op, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return OpNone, err
		}
	}
	return OpNone, nil
}

func readMarker(gitDir, name string) (string, bool, error) {
	data, err := os.ReadFile(filepath.Join(gitDir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(data), true, nil
}

func writeMarker(gitDir, name, content string) error {
	return os.WriteFile(filepath.Join(gitDir, name), []byte(content), 0o644)
}

func removeMarkers(gitDir string, names ...string) error {
	var errs []error
	for _, name := range names {
		err := os.Remove(filepath.Join(gitDir, name))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// markerHash reads a marker holding a single object id.
func markerHash(gitDir, name string) (string, bool, error) {
	s, ok, err := readMarker(gitDir, name)
	if err != nil || !ok {
		return "", ok, err
	}
	first, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(first), true, nil
}
