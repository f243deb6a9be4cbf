package git

import (
	"errors"
	"testing"

	"github.com/thiagokokada/repoops/internal/git/backend"
)

func TestBlame_Fallback(t *testing.T) {
	forEachService(t, func(t *testing.T, r *testRepo) {
		a := r.commit("A", map[string]string{"f.txt": "one\ntwo\n"})
		b := r.commit("B", map[string]string{"f.txt": "one\nTWO\nthree\n"})
		r.commit("C", map[string]string{"other.txt": "x\n"})

		for _, strategy := range []BlameStrategy{BlameFallback, BlameNative, BlameAuto} {
			lines, err := r.svc.Blame(r.ctx, "f.txt", "", BlameOptions{Strategy: strategy})
			if err != nil {
				t.Fatalf("Blame(%s) error = %v", strategy, err)
			}
			want := []struct {
				content string
				commit  string
			}{
				{"one", a},
				{"TWO", b},
				{"three", b},
			}
			if len(lines) != len(want) {
				t.Fatalf("Blame(%s) = %d lines, want %d", strategy, len(lines), len(want))
			}
			for i, w := range want {
				got := lines[i]
				if got.Content != w.content || got.Commit != w.commit || got.LineNo != i+1 {
					t.Fatalf("Blame(%s) line %d = %+v, want %q from %s", strategy, i+1, got, w.content, w.commit)
				}
			}
		}
	})
}

func TestBlame_FallbackDepthAttributesToOldest(t *testing.T) {
	r := nativeRepo(t)
	r.commit("A", map[string]string{"f.txt": "a\n"})
	b := r.commit("B", map[string]string{"f.txt": "a\nb\n"})
	c := r.commit("C", map[string]string{"f.txt": "a\nb\nc\n"})

	lines, err := r.svc.Blame(r.ctx, "f.txt", "HEAD", BlameOptions{Strategy: BlameFallback, MaxDepth: 2})
	if err != nil {
		t.Fatalf("Blame() error = %v", err)
	}
	want := []string{b, b, c}
	for i, w := range want {
		if lines[i].Commit != w {
			t.Fatalf("Blame() line %d commit = %s, want %s", i+1, lines[i].Commit, w)
		}
	}
}

func TestBlame_MissingFile(t *testing.T) {
	forEachService(t, func(t *testing.T, r *testRepo) {
		r.commit("A", map[string]string{"f.txt": "a\n"})

		_, err := r.svc.Blame(r.ctx, "nope.txt", "", BlameOptions{Strategy: BlameFallback})
		if !errors.Is(err, ErrRefNotFound) {
			t.Fatalf("Blame(missing) error = %v, want ErrRefNotFound", err)
		}
	})
}

func TestBlame_AutoFallsBack(t *testing.T) {
	t.Parallel()

	const hash = "1111111111111111111111111111111111111111"
	fake := &fakeBackend{
		repoPath:       t.TempDir(),
		resolveRefFunc: func(string) (string, error) { return hash, nil },
		blameFunc: func(string, string) ([]backend.BlameLine, error) {
			return nil, &backend.BackendError{Args: []string{"blame"}, ExitCode: 128, Err: backend.ErrBackend}
		},
		fileAtFunc: func(string, string) ([]byte, bool, error) { return []byte("x\n"), true, nil },
		logFunc: func(backend.LogOptions) ([]backend.Commit, error) {
			return []backend.Commit{{Hash: hash, Message: "root\n"}}, nil
		},
	}
	svc := NewWithBackend(fake)

	lines, err := svc.Blame(t.Context(), "f.txt", "", BlameOptions{})
	if err != nil {
		t.Fatalf("Blame() error = %v", err)
	}
	if len(lines) != 1 || lines[0].Commit != hash || lines[0].Summary != "root" {
		t.Fatalf("Blame() = %+v, want one line from %s", lines, hash)
	}
}

func TestParseBlameStrategy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    BlameStrategy
		wantErr bool
	}{
		{in: "", want: BlameAuto},
		{in: "auto", want: BlameAuto},
		{in: "native", want: BlameNative},
		{in: "fallback", want: BlameFallback},
		{in: "magic", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseBlameStrategy(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseBlameStrategy(%q) error = %v, want error %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Fatalf("ParseBlameStrategy(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
