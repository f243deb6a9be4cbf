package backend

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/format/index"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Index stages of a conflicted path. index.Merged shares its value with
// AncestorMode, so stage 0 is spelled out.
const (
	stageNormal index.Stage = 0
	stageBase               = index.AncestorMode
	stageOurs               = index.OurMode
	stageTheirs             = index.TheirMode
)

var nowFunc = time.Now

type treeFile struct {
	hash plumbing.Hash
	mode filemode.FileMode
}

// fileSet maps slash separated paths to blobs.
type fileSet map[string]treeFile

func (n *native) commitFiles(c *object.Commit) (fileSet, error) {
	files := fileSet{}
	if c == nil {
		return files, nil
	}
	tree, err := c.Tree()
	if err != nil {
		return nil, err
	}
	err = tree.Files().ForEach(func(f *object.File) error {
		files[f.Name] = treeFile{hash: f.Hash, mode: f.Mode}
		return nil
	})
	return files, err
}

func (n *native) writeBlob(data []byte) (plumbing.Hash, error) {
	obj := n.repo.Storer.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	obj.SetSize(int64(len(data)))
	w, err := obj.Writer()
	if err != nil {
		return plumbing.ZeroHash, err
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return plumbing.ZeroHash, err
	}
	if err := w.Close(); err != nil {
		return plumbing.ZeroHash, err
	}
	return n.repo.Storer.SetEncodedObject(obj)
}

// writeTree stores the nested trees for files and returns the root tree id.
func (n *native) writeTree(files fileSet) (plumbing.Hash, error) {
	type dir struct {
		files map[string]treeFile
		dirs  map[string]*dir
	}
	newDir := func() *dir { return &dir{files: map[string]treeFile{}, dirs: map[string]*dir{}} }
	root := newDir()
	for p, f := range files {
		parts := strings.Split(p, "/")
		d := root
		for _, part := range parts[:len(parts)-1] {
			sub, ok := d.dirs[part]
			if !ok {
				sub = newDir()
				d.dirs[part] = sub
			}
			d = sub
		}
		d.files[parts[len(parts)-1]] = f
	}
	var write func(d *dir) (plumbing.Hash, error)
	write = func(d *dir) (plumbing.Hash, error) {
		tree := &object.Tree{}
		for name, f := range d.files {
			tree.Entries = append(tree.Entries, object.TreeEntry{Name: name, Mode: f.mode, Hash: f.hash})
		}
		for name, sub := range d.dirs {
			h, err := write(sub)
			if err != nil {
				return plumbing.ZeroHash, err
			}
			tree.Entries = append(tree.Entries, object.TreeEntry{Name: name, Mode: filemode.Dir, Hash: h})
		}
		sort.Sort(object.TreeEntrySorter(tree.Entries))
		obj := n.repo.Storer.NewEncodedObject()
		if err := tree.Encode(obj); err != nil {
			return plumbing.ZeroHash, err
		}
		return n.repo.Storer.SetEncodedObject(obj)
	}
	return write(root)
}

func (n *native) writeCommit(c *object.Commit) (plumbing.Hash, error) {
	obj := n.repo.Storer.NewEncodedObject()
	if err := c.Encode(obj); err != nil {
		return plumbing.ZeroHash, err
	}
	return n.repo.Storer.SetEncodedObject(obj)
}

// updateHead moves the checked out branch, or HEAD itself when detached.
func (n *native) updateHead(h plumbing.Hash) error {
	head, err := n.repo.Storer.Reference(plumbing.HEAD)
	if err != nil {
		return err
	}
	name := plumbing.HEAD
	if head.Type() == plumbing.SymbolicReference {
		name = head.Target()
	}
	return n.repo.Storer.SetReference(plumbing.NewHashReference(name, h))
}

func (n *native) abs(p string) string {
	return filepath.Join(n.root, filepath.FromSlash(p))
}

// writeWorktreeFile materialises blob h at p.
func (n *native) writeWorktreeFile(p string, f treeFile) error {
	data, err := n.readBlob(f.hash)
	if err != nil {
		return err
	}
	return n.writeWorktreeData(p, data, f.mode)
}

func (n *native) writeWorktreeData(p string, data []byte, mode filemode.FileMode) error {
	full := n.abs(p)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	if fi, err := os.Lstat(full); err == nil && (fi.IsDir() || fi.Mode()&fs.ModeSymlink != 0) {
		if err := os.RemoveAll(full); err != nil {
			return err
		}
	}
	if mode == filemode.Symlink {
		_ = os.Remove(full)
		return os.Symlink(string(data), full)
	}
	perm := os.FileMode(0o644)
	if isExecutable(mode) {
		perm = 0o755
	}
	if err := os.WriteFile(full, data, perm); err != nil {
		return err
	}
	return os.Chmod(full, perm)
}

// removeWorktreeFile deletes p and any parent directories left empty.
func (n *native) removeWorktreeFile(p string) error {
	full := n.abs(p)
	if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	for dir := filepath.Dir(full); dir != n.root && strings.HasPrefix(dir, n.root); dir = filepath.Dir(dir) {
		if err := os.Remove(dir); err != nil {
			break
		}
	}
	return nil
}

func (n *native) stat(p string, e *index.Entry) {
	fi, err := os.Lstat(n.abs(p))
	if err != nil {
		return
	}
	e.Size = uint32(fi.Size())
	e.ModifiedAt = fi.ModTime()
}

// setEntries drops every stage of p from idx and appends entries.
func setEntries(idx *index.Index, p string, entries ...*index.Entry) {
	kept := idx.Entries[:0]
	for _, e := range idx.Entries {
		if e.Name != p {
			kept = append(kept, e)
		}
	}
	idx.Entries = append(kept, entries...)
}

func sortIndex(idx *index.Index) {
	sort.SliceStable(idx.Entries, func(i, j int) bool {
		a, b := idx.Entries[i], idx.Entries[j]
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.Stage < b.Stage
	})
}

// applyFiles writes each changed path to the working tree and the index. A
// nil entry deletes the path.
func (n *native) applyFiles(idx *index.Index, changes map[string]*treeFile) error {
	paths := make([]string, 0, len(changes))
	for p := range changes {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		f := changes[p]
		if f == nil {
			if err := n.removeWorktreeFile(p); err != nil {
				return fmt.Errorf("remove %s: %w", p, err)
			}
			setEntries(idx, p)
			continue
		}
		if err := n.writeWorktreeFile(p, *f); err != nil {
			return fmt.Errorf("write %s: %w", p, err)
		}
		e := &index.Entry{Name: p, Hash: f.hash, Mode: f.mode, Stage: stageNormal}
		n.stat(p, e)
		setEntries(idx, p, e)
	}
	sortIndex(idx)
	return nil
}

// diffSets returns the changes turning from into to.
func diffSets(from, to fileSet) map[string]*treeFile {
	changes := map[string]*treeFile{}
	for p, f := range to {
		if old, ok := from[p]; !ok || old != f {
			f := f
			changes[p] = &f
		}
	}
	for p := range from {
		if _, ok := to[p]; !ok {
			changes[p] = nil
		}
	}
	return changes
}

// worktreeMatches reports whether the working file still holds e.
func (n *native) worktreeMatches(e *index.Entry) bool {
	full := n.abs(e.Name)
	fi, err := os.Lstat(full)
	if err != nil {
		return false
	}
	if fi.Mode()&fs.ModeSymlink != 0 {
		target, err := os.Readlink(full)
		return err == nil && plumbing.ComputeHash(plumbing.BlobObject, []byte(target)) == e.Hash
	}
	if !fi.Mode().IsRegular() {
		return false
	}
	if uint32(fi.Size()) == e.Size && fi.ModTime().Equal(e.ModifiedAt) {
		return true
	}
	data, err := os.ReadFile(full)
	return err == nil && plumbing.ComputeHash(plumbing.BlobObject, data) == e.Hash
}

// trackedChanges lists paths whose index differs from head or whose working
// file differs from the index. Untracked files are not considered.
func (n *native) trackedChanges(idx *index.Index, head fileSet) []string {
	seen := map[string]bool{}
	var dirty []string
	mark := func(p string) {
		if !seen[p] {
			seen[p] = true
			dirty = append(dirty, p)
		}
	}
	for _, e := range idx.Entries {
		if e.Stage != stageNormal {
			mark(e.Name)
			continue
		}
		if h, ok := head[e.Name]; !ok || h.hash != e.Hash {
			mark(e.Name)
			continue
		}
		if !n.worktreeMatches(e) {
			mark(e.Name)
		}
	}
	inIndex := map[string]bool{}
	for _, e := range idx.Entries {
		inIndex[e.Name] = true
	}
	for p := range head {
		if !inIndex[p] {
			mark(p)
		}
	}
	sort.Strings(dirty)
	return dirty
}

func (n *native) requireClean(head fileSet) error {
	idx, err := n.repo.Storer.Index()
	if err != nil {
		return err
	}
	if dirty := n.trackedChanges(idx, head); len(dirty) > 0 {
		return Invalid("worktree", "local changes would be overwritten: %s", strings.Join(dirty, ", "))
	}
	return nil
}

// resetHard makes the index and working tree match target, like
// `git reset --hard`. Untracked files are left alone.
func (n *native) resetHard(target *object.Commit) error {
	want, err := n.commitFiles(target)
	if err != nil {
		return err
	}
	idx, err := n.repo.Storer.Index()
	if err != nil {
		return err
	}
	changes := map[string]*treeFile{}
	for _, e := range idx.Entries {
		f, ok := want[e.Name]
		switch {
		case !ok:
			changes[e.Name] = nil
		case e.Stage != stageNormal || f.hash != e.Hash || f.mode != e.Mode || !n.worktreeMatches(e):
			f := f
			changes[e.Name] = &f
		}
	}
	inIndex := map[string]bool{}
	for _, e := range idx.Entries {
		inIndex[e.Name] = true
	}
	for p, f := range want {
		if !inIndex[p] {
			f := f
			changes[p] = &f
		}
	}
	if err := n.applyFiles(idx, changes); err != nil {
		return err
	}
	return n.repo.Storer.SetIndex(idx)
}

// switchTree moves from the commit from to the commit to, touching only the
// paths that differ between them. Local changes to those paths are refused.
func (n *native) switchTree(from, to *object.Commit) error {
	fromFiles, err := n.commitFiles(from)
	if err != nil {
		return err
	}
	toFiles, err := n.commitFiles(to)
	if err != nil {
		return err
	}
	idx, err := n.repo.Storer.Index()
	if err != nil {
		return err
	}
	changes := diffSets(fromFiles, toFiles)
	dirty := map[string]bool{}
	for _, p := range n.trackedChanges(idx, fromFiles) {
		dirty[p] = true
	}
	var blocked []string
	for p, f := range changes {
		if dirty[p] {
			blocked = append(blocked, p)
			continue
		}
		if _, tracked := fromFiles[p]; !tracked && f != nil {
			if _, err := os.Lstat(n.abs(p)); err == nil && !n.sameContent(p, *f) {
				blocked = append(blocked, p)
			}
		}
	}
	if len(blocked) > 0 {
		sort.Strings(blocked)
		return Invalid("worktree", "local changes would be overwritten: %s", strings.Join(blocked, ", "))
	}
	if err := n.applyFiles(idx, changes); err != nil {
		return err
	}
	return n.repo.Storer.SetIndex(idx)
}

func (n *native) sameContent(p string, f treeFile) bool {
	data, err := os.ReadFile(n.abs(p))
	return err == nil && plumbing.ComputeHash(plumbing.BlobObject, data) == f.hash
}

// cleanupMessage mimics `git commit --cleanup=strip`.
func cleanupMessage(msg string) string {
	var lines []string
	for _, l := range strings.Split(msg, "\n") {
		if strings.HasPrefix(l, "#") {
			continue
		}
		lines = append(lines, strings.TrimRight(l, " \t\r"))
	}
	var out []string
	blank := false
	for _, l := range lines {
		if l == "" {
			blank = len(out) > 0
			continue
		}
		if blank {
			out = append(out, "")
			blank = false
		}
		out = append(out, l)
	}
	if len(out) == 0 {
		return ""
	}
	return strings.Join(out, "\n") + "\n"
}
