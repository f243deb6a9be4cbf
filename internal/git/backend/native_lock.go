package backend

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/go-git/go-git/v5/plumbing"
)

const lockSuffix = ".lock"

// lock takes git's lock for the file name (relative to the git directory) by
// creating name.lock exclusively, so git and other engines see it held.
func (n *native) lock(name string) error {
	p := filepath.Join(n.gitDir, filepath.FromSlash(name)+lockSuffix)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(p, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o666)
	if errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("%w: unable to create %s: file exists; another git process seems to be running", ErrResourceLocked, p)
	}
	if err != nil {
		return err
	}
	return f.Close()
}

func (n *native) unlock(name string) {
	_ = os.Remove(filepath.Join(n.gitDir, filepath.FromSlash(name)+lockSuffix))
}

// lockIndex is held by every operation that writes the index, the working
// tree or HEAD.
func (n *native) lockIndex() error { return n.lock("index") }

func (n *native) unlockIndex() { n.unlock("index") }

func (n *native) lockRef(name plumbing.ReferenceName) error { return n.lock(name.String()) }

func (n *native) unlockRef(name plumbing.ReferenceName) { n.unlock(name.String()) }
