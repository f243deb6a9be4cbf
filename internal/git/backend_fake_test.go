package git

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/thiagokokada/repoops/internal/git/backend"
)

// fakeBackend answers the calls a test sets a func for and fails the others.
// Methods it does not define come from the nil embedded interface and panic,
// which is what a test wants when an operation must not reach the backend.
type fakeBackend struct {
	backend.Backend

	repoPath string
	calls    atomic.Int64

	headStateFunc      func() (backend.HeadState, error)
	resolveRefFunc     func(ref string) (string, error)
	operationStateFunc func() (backend.Operation, error)
	statusFunc         func() ([]backend.StatusEntry, error)
	indexFileFunc      func(path string) ([]byte, bool, error)
	fileAtFunc         func(rev, path string) ([]byte, bool, error)
	addFunc            func(paths ...string) error
	listRefsFunc       func() ([]backend.Ref, error)
	logFunc            func(opts backend.LogOptions) ([]backend.Commit, error)
	blameFunc          func(rev, path string) ([]backend.BlameLine, error)
	remotesFunc        func() ([]backend.Remote, error)
}

var errUnexpectedCall = errors.New("unexpected backend call")

func (f *fakeBackend) Name() string     { return "fake" }
func (f *fakeBackend) RepoPath() string { return f.repoPath }

func (f *fakeBackend) HeadState(context.Context) (backend.HeadState, error) {
	f.calls.Add(1)
	if f.headStateFunc != nil {
		return f.headStateFunc()
	}
	return backend.HeadState{}, errUnexpectedCall
}

func (f *fakeBackend) ResolveRef(_ context.Context, ref string) (string, error) {
	f.calls.Add(1)
	if f.resolveRefFunc != nil {
		return f.resolveRefFunc(ref)
	}
	return "", errUnexpectedCall
}

func (f *fakeBackend) OperationState(context.Context) (backend.Operation, error) {
	f.calls.Add(1)
	if f.operationStateFunc != nil {
		return f.operationStateFunc()
	}
	return backend.OpNone, errUnexpectedCall
}

func (f *fakeBackend) Status(context.Context) ([]backend.StatusEntry, error) {
	f.calls.Add(1)
	if f.statusFunc != nil {
		return f.statusFunc()
	}
	return nil, errUnexpectedCall
}

func (f *fakeBackend) IndexFile(_ context.Context, path string) ([]byte, bool, error) {
	f.calls.Add(1)
	if f.indexFileFunc != nil {
		return f.indexFileFunc(path)
	}
	return nil, false, errUnexpectedCall
}

func (f *fakeBackend) FileAt(_ context.Context, rev, path string) ([]byte, bool, error) {
	f.calls.Add(1)
	if f.fileAtFunc != nil {
		return f.fileAtFunc(rev, path)
	}
	return nil, false, errUnexpectedCall
}

func (f *fakeBackend) Add(_ context.Context, paths ...string) error {
	f.calls.Add(1)
	if f.addFunc != nil {
		return f.addFunc(paths...)
	}
	return errUnexpectedCall
}

func (f *fakeBackend) ListRefs(context.Context) ([]backend.Ref, error) {
	f.calls.Add(1)
	if f.listRefsFunc != nil {
		return f.listRefsFunc()
	}
	return nil, errUnexpectedCall
}

func (f *fakeBackend) Log(_ context.Context, opts backend.LogOptions) ([]backend.Commit, error) {
	f.calls.Add(1)
	if f.logFunc != nil {
		return f.logFunc(opts)
	}
	return nil, errUnexpectedCall
}

func (f *fakeBackend) Blame(_ context.Context, rev, path string) ([]backend.BlameLine, error) {
	f.calls.Add(1)
	if f.blameFunc != nil {
		return f.blameFunc(rev, path)
	}
	return nil, errUnexpectedCall
}

func (f *fakeBackend) Remotes(context.Context) ([]backend.Remote, error) {
	f.calls.Add(1)
	if f.remotesFunc != nil {
		return f.remotesFunc()
	}
	return nil, errUnexpectedCall
}
