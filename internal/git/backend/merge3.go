package backend

import (
	"bytes"
	"slices"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// change replaces base[bs:be] with side[ss:se].
type change struct {
	bs, be int
	ss, se int
	theirs bool
}

func sideChanges(base, side []string, theirs bool) []change {
	m := difflib.NewMatcherWithJunk(base, side, false, nil)
	var out []change
	for _, op := range m.GetOpCodes() {
		if op.Tag == 'e' {
			continue
		}
		out = append(out, change{bs: op.I1, be: op.I2, ss: op.J1, se: op.J2, theirs: theirs})
	}
	return out
}

// mergeLabels name the sides in conflict markers.
type mergeLabels struct {
	Ours   string
	Theirs string
}

// merge3 merges the edits base→ours and base→theirs line by line. Edits from
// both sides that overlap or touch the same base region conflict unless they
// are identical; conflicting regions are written with git style markers.
func merge3(base, ours, theirs []byte, labels mergeLabels) ([]byte, bool) {
	b := splitKeepNL(base)
	o := splitKeepNL(ours)
	t := splitKeepNL(theirs)

	changes := append(sideChanges(b, o, false), sideChanges(b, t, true)...)
	slices.SortStableFunc(changes, func(x, y change) int {
		if x.bs != y.bs {
			return x.bs - y.bs
		}
		return x.be - y.be
	})

	var (
		out      bytes.Buffer
		conflict bool
		pos      int
	)
	for i := 0; i < len(changes); {
		gbs, gbe := changes[i].bs, changes[i].be
		j := i + 1
		// Touching edits are grouped too, as git does.
		for j < len(changes) && changes[j].bs <= gbe {
			gbe = max(gbe, changes[j].be)
			j++
		}
		group := changes[i:j]
		i = j

		writeLines(&out, b[pos:gbs])
		pos = gbe

		oursText, oursChanged := sideText(group, b, o, gbs, gbe, false)
		theirsText, theirsChanged := sideText(group, b, t, gbs, gbe, true)
		switch {
		case !theirsChanged:
			writeLines(&out, oursText)
		case !oursChanged:
			writeLines(&out, theirsText)
		case slices.Equal(oursText, theirsText):
			writeLines(&out, oursText)
		default:
			conflict = true
			writeConflict(&out, oursText, theirsText, labels)
		}
	}
	writeLines(&out, b[pos:])
	return out.Bytes(), !conflict
}

// sideText maps the base region [gbs, gbe) onto one side. Outside its own
// edits a side equals base, so the offsets are linear around them.
func sideText(group []change, base, side []string, gbs, gbe int, theirs bool) ([]string, bool) {
	first, last := -1, -1
	for k, c := range group {
		if c.theirs != theirs {
			continue
		}
		if first < 0 {
			first = k
		}
		last = k
	}
	if first < 0 {
		return base[gbs:gbe], false
	}
	ss := group[first].ss - (group[first].bs - gbs)
	se := group[last].se + (gbe - group[last].be)
	return side[ss:se], true
}

func writeLines(buf *bytes.Buffer, lines []string) {
	for _, l := range lines {
		buf.WriteString(l)
	}
}

func writeConflict(buf *bytes.Buffer, ours, theirs []string, labels mergeLabels) {
	buf.WriteString("<<<<<<< " + labels.Ours + "\n")
	writeTerminated(buf, ours)
	buf.WriteString("=======\n")
	writeTerminated(buf, theirs)
	buf.WriteString(">>>>>>> " + labels.Theirs + "\n")
}

func writeTerminated(buf *bytes.Buffer, lines []string) {
	for _, l := range lines {
		buf.WriteString(l)
		if !strings.HasSuffix(l, "\n") {
			buf.WriteByte('\n')
		}
	}
}

func splitKeepNL(data []byte) []string {
	if len(data) == 0 {
		return nil
	}
	lines := strings.SplitAfter(string(data), "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func isBinary(data []byte) bool {
	n := min(len(data), 8000)
	return bytes.IndexByte(data[:n], 0) >= 0
}
