package diff

import (
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// annotateIntraLine pairs every remove run with the add run that immediately
// follows it and records character level highlights on both lines of each
// positional pair. Runs separated by context lines are never paired.
func annotateIntraLine(lines []Line) {
	for i := 0; i < len(lines); {
		if lines[i].Kind != Remove {
			i++
			continue
		}
		remStart := i
		for i < len(lines) && lines[i].Kind == Remove {
			i++
		}
		addStart := i
		for i < len(lines) && lines[i].Kind == Add {
			i++
		}
		removed := addStart - remStart
		added := i - addStart
		for k := 0; k < min(removed, added); k++ {
			oldLine := &lines[remStart+k]
			newLine := &lines[addStart+k]
			oldLine.IntraChanges, newLine.IntraChanges = IntraLine(oldLine.Content, newLine.Content)
		}
	}
}

// IntraLine returns the changed rune ranges of oldText and newText. Ranges
// always satisfy 0 <= From <= To <= rune length of the respective text.
func IntraLine(oldText, newText string) (oldRanges, newRanges []Range) {
	if oldText == newText {
		return nil, nil
	}
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffCleanupSemantic(dmp.DiffMain(oldText, newText, false))
	oldPos, newPos := 0, 0
	for _, d := range diffs {
		n := utf8.RuneCountInString(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			oldPos += n
			newPos += n
		case diffmatchpatch.DiffDelete:
			oldRanges = appendRange(oldRanges, Range{From: oldPos, To: oldPos + n})
			oldPos += n
		case diffmatchpatch.DiffInsert:
			newRanges = appendRange(newRanges, Range{From: newPos, To: newPos + n})
			newPos += n
		}
	}
	return oldRanges, newRanges
}

func appendRange(ranges []Range, r Range) []Range {
	if r.From == r.To {
		return ranges
	}
	if n := len(ranges); n > 0 && ranges[n-1].To == r.From {
		ranges[n-1].To = r.To
		return ranges
	}
	return append(ranges, r)
}
