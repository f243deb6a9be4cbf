package backend

import (
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestParseNameStatusZ(t *testing.T) {
	t.Parallel()

	in := strings.Join([]string{"M", "a.txt", "A", "dir/b.txt", "R087", "old.txt", "new.txt", "D", "gone.txt", ""}, "\x00")
	got, err := parseNameStatusZ(in)
	if err != nil {
		t.Fatalf("parseNameStatusZ: %v", err)
	}
	want := []ChangedFile{
		{Path: "a.txt", Kind: ChangeModified},
		{Path: "dir/b.txt", Kind: ChangeAdded},
		{Path: "new.txt", OrigPath: "old.txt", Kind: ChangeRenamed},
		{Path: "gone.txt", Kind: ChangeDeleted},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("parseNameStatusZ() = %+v, want %+v", got, want)
	}
}

func TestParseNameStatusZ_Truncated(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"M\x00", "R100\x00old.txt\x00"} {
		if _, err := parseNameStatusZ(in); err == nil {
			t.Fatalf("parseNameStatusZ(%q) expected error", in)
		}
	}
}

func TestParseBlamePorcelain(t *testing.T) {
	t.Parallel()

	const (
		h1 = "1111111111111111111111111111111111111111"
		h2 = "2222222222222222222222222222222222222222"
	)
	out := strings.Join([]string{
		h1 + " 1 1 2",
		"author Alice",
		"author-mail <alice@example.com>",
		"author-time 1704164645",
		"author-tz +0100",
		"summary First",
		"filename f.txt",
		"\tone",
		h1 + " 2 2",
		"\ttwo",
		h2 + " 3 3 1",
		"author Bob",
		"author-mail <bob@example.com>",
		"author-time 1704251045",
		"author-tz -0500",
		"summary Second",
		"previous " + h1 + " f.txt",
		"filename f.txt",
		"\tthree",
		"",
	}, "\n")

	lines, err := parseBlamePorcelain(out)
	if err != nil {
		t.Fatalf("parseBlamePorcelain: %v", err)
	}
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3", len(lines))
	}
	if lines[1].Commit != h1 || lines[1].Author != "Alice" || lines[1].Summary != "First" || lines[1].Content != "two" {
		t.Fatalf("repeated commit lost its metadata: %+v", lines[1])
	}
	if lines[2].LineNo != 3 || lines[2].Email != "bob@example.com" {
		t.Fatalf("unexpected third line: %+v", lines[2])
	}
	if _, off := lines[2].Date.Zone(); off != -5*3600 {
		t.Fatalf("unexpected zone offset %d", off)
	}
	if !lines[0].Date.Equal(time.Unix(1704164645, 0)) {
		t.Fatalf("unexpected date %v", lines[0].Date)
	}
}

func TestParseBlamePorcelain_MissingContent(t *testing.T) {
	t.Parallel()

	_, err := parseBlamePorcelain("1111111111111111111111111111111111111111 1 1 1\nauthor A\n")
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestReflogLineRoundTrip(t *testing.T) {
	t.Parallel()

	line := "0000000000000000000000000000000000000000 1111111111111111111111111111111111111111 Jane Doe <jane@example.com> 1704164645 +0200\tWIP on main: 1111111 subject\n"
	e, err := parseReflogLine(line)
	if err != nil {
		t.Fatalf("parseReflogLine: %v", err)
	}
	if e.Name != "Jane Doe" || e.Email != "jane@example.com" || e.Message != "WIP on main: 1111111 subject" {
		t.Fatalf("unexpected entry: %+v", e)
	}
	if got := formatReflogLine(e); got != line {
		t.Fatalf("formatReflogLine() = %q, want %q", got, line)
	}
}

func TestParseReflogLine_Malformed(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "abc def", "a b name <mail> notanumber +0000\tmsg"} {
		if _, err := parseReflogLine(in); err == nil {
			t.Fatalf("parseReflogLine(%q) expected error", in)
		}
	}
}

func TestParseStashList(t *testing.T) {
	t.Parallel()

	out := "aaaa\x00WIP on main: 1234567 subject\nbbbb\x00On feature/x: my message\n"
	got, err := parseStashList(out)
	if err != nil {
		t.Fatalf("parseStashList: %v", err)
	}
	want := []Stash{
		{Index: 0, Commit: "aaaa", Message: "WIP on main: 1234567 subject", Branch: "main"},
		{Index: 1, Commit: "bbbb", Message: "On feature/x: my message", Branch: "feature/x"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("parseStashList() = %+v, want %+v", got, want)
	}
}

func TestParseRemotes(t *testing.T) {
	t.Parallel()

	out := strings.Join([]string{
		"origin\thttps://ghp_secret@github.com/o/r.git (fetch)",
		"origin\thttps://ghp_secret@github.com/o/r.git (push)",
		"upstream\tgit@github.com:u/r.git (fetch)",
		"upstream\tgit@github.com:u/r.git (push)",
		"",
	}, "\n")
	got := parseRemotes(out)
	want := []Remote{
		{Name: "origin", URLs: []string{"https://***@github.com/o/r.git"}},
		{Name: "upstream", URLs: []string{"git@github.com:u/r.git"}},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("parseRemotes() = %+v, want %+v", got, want)
	}
}

func TestParseTZ(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		off  int
		isOK bool
	}{
		{"+0000", 0, true},
		{"+0130", 5400, true},
		{"-0800", -28800, true},
		{"0800", 0, false},
		{"+08", 0, false},
		{"+08x0", 0, false},
	}
	for _, tt := range tests {
		loc, ok := parseTZ(tt.in)
		if ok != tt.isOK {
			t.Fatalf("parseTZ(%q) ok = %v, want %v", tt.in, ok, tt.isOK)
		}
		if !ok {
			continue
		}
		if _, off := time.Unix(0, 0).In(loc).Zone(); off != tt.off {
			t.Fatalf("parseTZ(%q) offset = %d, want %d", tt.in, off, tt.off)
		}
	}
}
