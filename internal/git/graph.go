package git

import "strings"

// graphBuilder draws one text column per open line of history, "*" marking
// the commit of the current row. Commits must be fed newest first.
type graphBuilder struct {
	columns []string
}

func newGraphBuilder() *graphBuilder {
	return &graphBuilder{}
}

func (g *graphBuilder) Line(hash string, parents []string) string {
	if hash == "" {
		return ""
	}
	idx := g.columnIndex(hash)
	if idx == -1 {
		g.columns = append([]string{hash}, g.columns...)
		idx = 0
	}
	var b strings.Builder
	for i := range g.columns {
		if i == idx {
			b.WriteString("*")
		} else {
			b.WriteString("|")
		}
		if i != len(g.columns)-1 {
			b.WriteString(" ")
		}
	}
	g.advance(idx, parents)
	return b.String()
}

func (g *graphBuilder) columnIndex(hash string) int {
	for i, h := range g.columns {
		if h == hash {
			return i
		}
	}
	return -1
}

func (g *graphBuilder) advance(idx int, parents []string) {
	if len(parents) == 0 {
		g.columns = append(g.columns[:idx], g.columns[idx+1:]...)
		return
	}
	g.columns[idx] = parents[0]
	// A first parent already tracked by another column joins it.
	for i, h := range g.columns {
		if i != idx && h == parents[0] {
			g.columns = append(g.columns[:idx], g.columns[idx+1:]...)
			idx = min(idx, i)
			break
		}
	}
	for i := 1; i < len(parents); i++ {
		parent := parents[i]
		if g.columnIndex(parent) != -1 {
			continue
		}
		pos := min(idx+i, len(g.columns))
		g.columns = append(g.columns[:pos], append([]string{parent}, g.columns[pos:]...)...)
	}
}
