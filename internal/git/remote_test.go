package git

import (
	"errors"
	"testing"

	"github.com/thiagokokada/repoops/internal/git/backend"
)

func TestNetwork_NoRemote(t *testing.T) {
	t.Parallel()

	fake := &fakeBackend{
		repoPath:    t.TempDir(),
		remotesFunc: func() ([]backend.Remote, error) { return nil, nil },
	}
	svc := NewWithBackend(fake)
	for name, fn := range map[string]func() error{
		"fetch": func() error { return svc.Fetch(t.Context(), RemoteOptions{}) },
		"push":  func() error { return svc.Push(t.Context(), RemoteOptions{}) },
	} {
		if err := fn(); !errors.Is(err, ErrNoRemoteConfigured) {
			t.Fatalf("%s error = %v, want ErrNoRemoteConfigured", name, err)
		}
	}
}

func TestPull_NoRemote(t *testing.T) {
	forEachService(t, func(t *testing.T, r *testRepo) {
		r.commit("A", map[string]string{"a.txt": "a\n"})

		if err := r.svc.Pull(r.ctx, RemoteOptions{}); !errors.Is(err, ErrNoRemoteConfigured) {
			t.Fatalf("Pull() error = %v, want ErrNoRemoteConfigured", err)
		}
	})
}
