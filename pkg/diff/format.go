package diff

import (
	"fmt"
	"strings"

	"github.com/odvcencio/docstore/pkg/diff3"
	"github.com/odvcencio/docstore/pkg/object"
)

const (
	nullHash       = "0000000"
	maxFuncnameLen = 80
)

func countLines(lines []diff3.DiffLine) (additions, deletions int) {
	for _, l := range lines {
		switch l.Type {
		case diff3.Insert:
			additions++
		case diff3.Delete:
			deletions++
		}
	}
	return additions, deletions
}

// hunk is a half-open range [start, end) of a line diff.
type hunk struct {
	start int
	end   int
}

// buildHunks groups changed lines with contextLines of surrounding
// unchanged lines; hunks whose context would touch or overlap are joined.
func buildHunks(lines []diff3.DiffLine, contextLines int) []hunk {
	var hunks []hunk
	for i, dl := range lines {
		if dl.Type == diff3.Equal {
			continue
		}
		start := max(i-contextLines, 0)
		end := min(i+contextLines+1, len(lines))

		if len(hunks) == 0 || start > hunks[len(hunks)-1].end {
			hunks = append(hunks, hunk{start: start, end: end})
			continue
		}
		if end > hunks[len(hunks)-1].end {
			hunks[len(hunks)-1].end = end
		}
	}
	return hunks
}

// lineRange returns the 1-based old and new line ranges a hunk covers. An
// empty side reports the line before the hunk, as unified diffs do.
func (h hunk) lineRange(lines []diff3.DiffLine) (oldStart, oldCount, newStart, newCount int) {
	oldLine, newLine := 1, 1
	for i := 0; i < h.start; i++ {
		switch lines[i].Type {
		case diff3.Equal:
			oldLine++
			newLine++
		case diff3.Delete:
			oldLine++
		case diff3.Insert:
			newLine++
		}
	}
	oldStart, newStart = oldLine, newLine

	for i := h.start; i < h.end; i++ {
		switch lines[i].Type {
		case diff3.Equal:
			oldCount++
			newCount++
		case diff3.Delete:
			oldCount++
		case diff3.Insert:
			newCount++
		}
	}
	if oldCount == 0 {
		oldStart--
	}
	if newCount == 0 {
		newStart--
	}
	return oldStart, oldCount, newStart, newCount
}

// funcname finds the nearest old-side line above the hunk that starts with
// a letter, '_' or '$'.
func (h hunk) funcname(lines []diff3.DiffLine) string {
	for i := h.start - 1; i >= 0; i-- {
		l := lines[i]
		if l.Type == diff3.Insert || l.Content == "" {
			continue
		}
		c := l.Content[0]
		if c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') {
			name := strings.TrimRight(l.Content, " \t\r")
			if len(name) > maxFuncnameLen {
				name = name[:maxFuncnameLen]
			}
			return name
		}
	}
	return ""
}

func formatRange(start, count int) string {
	if count == 1 {
		return fmt.Sprintf("%d", start)
	}
	return fmt.Sprintf("%d,%d", start, count)
}

func shortHash(h object.Hash) string {
	if h == "" {
		return nullHash
	}
	return h.Short()
}

// formatPatch renders c in git's patch format.
func formatPatch(c *FileChange, lines []diff3.DiffLine, hunks []hunk) string {
	oldName, newName := c.OldPath, c.NewPath
	if oldName == "" {
		oldName = newName
	}
	if newName == "" {
		newName = oldName
	}

	var b strings.Builder
	fmt.Fprintf(&b, "diff --git a/%s b/%s\n", oldName, newName)

	contentChanged := c.OldHash != c.NewHash
	indexMode := ""
	switch c.Type {
	case Added:
		fmt.Fprintf(&b, "new file mode %s\n", c.NewMode)
	case Deleted:
		fmt.Fprintf(&b, "deleted file mode %s\n", c.OldMode)
	case Modified, Renamed:
		if c.OldMode != c.NewMode {
			fmt.Fprintf(&b, "old mode %s\nnew mode %s\n", c.OldMode, c.NewMode)
		} else {
			indexMode = " " + c.NewMode
		}
		if c.Type == Renamed {
			fmt.Fprintf(&b, "similarity index %d%%\nrename from %s\nrename to %s\n", c.Similarity, c.OldPath, c.NewPath)
		}
	}
	if !contentChanged {
		return b.String()
	}
	fmt.Fprintf(&b, "index %s..%s%s\n", shortHash(c.OldHash), shortHash(c.NewHash), indexMode)

	from, to := "a/"+oldName, "b/"+newName
	if c.Type == Added {
		from = "/dev/null"
	}
	if c.Type == Deleted {
		to = "/dev/null"
	}
	if c.Binary {
		fmt.Fprintf(&b, "Binary files %s and %s differ\n", from, to)
		return b.String()
	}
	if len(hunks) == 0 {
		return b.String()
	}

	fmt.Fprintf(&b, "--- %s\n+++ %s\n", from, to)
	for _, h := range hunks {
		oldStart, oldCount, newStart, newCount := h.lineRange(lines)
		fmt.Fprintf(&b, "@@ -%s +%s @@", formatRange(oldStart, oldCount), formatRange(newStart, newCount))
		if fn := h.funcname(lines); fn != "" {
			b.WriteString(" " + fn)
		}
		b.WriteByte('\n')

		for _, dl := range lines[h.start:h.end] {
			switch dl.Type {
			case diff3.Equal:
				b.WriteByte(' ')
			case diff3.Insert:
				b.WriteByte('+')
			case diff3.Delete:
				b.WriteByte('-')
			}
			b.WriteString(dl.Content)
			b.WriteByte('\n')
			if dl.NoNewline {
				b.WriteString("\\ No newline at end of file\n")
			}
		}
	}
	return b.String()
}
