package diff

// Row is one row of a two column rendering. A nil side is an empty cell.
type Row struct {
	Left  *Line `json:"left,omitempty" yaml:"left,omitempty"`
	Right *Line `json:"right,omitempty" yaml:"right,omitempty"`
}

// SideBySide pairs hunk lines into rows. Context lines fill both columns; a
// remove run is paired index-for-index with the add run that immediately
// follows it, padding the shorter side; a lone add run only fills the right
// column.
func SideBySide(lines []Line) []Row {
	rows := make([]Row, 0, len(lines))
	for i := 0; i < len(lines); {
		switch lines[i].Kind {
		case Context:
			l := lines[i]
			rows = append(rows, Row{Left: &l, Right: &l})
			i++
		case Add:
			l := lines[i]
			rows = append(rows, Row{Right: &l})
			i++
		case Remove:
			remStart := i
			for i < len(lines) && lines[i].Kind == Remove {
				i++
			}
			addStart := i
			for i < len(lines) && lines[i].Kind == Add {
				i++
			}
			removed := lines[remStart:addStart]
			added := lines[addStart:i]
			for k := 0; k < max(len(removed), len(added)); k++ {
				var row Row
				if k < len(removed) {
					l := removed[k]
					row.Left = &l
				}
				if k < len(added) {
					l := added[k]
					row.Right = &l
				}
				rows = append(rows, row)
			}
		}
	}
	return rows
}
