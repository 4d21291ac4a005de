package diff3

import (
	"bytes"
	"slices"
	"strings"
)

// HunkType classifies a hunk in a three-way merge result.
type HunkType int

const (
	HunkClean    HunkType = iota // Hunk was merged cleanly.
	HunkConflict                 // Hunk has a conflict that requires manual resolution.
)

// Hunk represents a contiguous section of the merge output.
type Hunk struct {
	Type                       HunkType
	Base, Ours, Theirs, Merged []byte
}

// Result holds the outcome of a three-way merge.
type Result struct {
	Merged       []byte // Full merged content (with conflict markers if conflicts exist).
	HasConflicts bool
	Hunks        []Hunk // Individual hunks in document order.
}

// Labels name the two sides in conflict markers. Empty labels render the
// bare "<<<<<<< ours" / ">>>>>>> theirs" markers.
type Labels struct {
	Ours   string
	Theirs string
}

// Markers returns the opening and closing conflict marker lines, each
// ending in a newline.
func (l Labels) Markers() (string, string) {
	ours, theirs := "<<<<<<< ours", ">>>>>>> theirs"
	if l.Ours != "" {
		ours += ":" + l.Ours
	}
	if l.Theirs != "" {
		theirs += ":" + l.Theirs
	}
	return ours + "\n", theirs + "\n"
}

// DiffLine is a single line in the output of LineDiff. Content excludes the
// line terminator; NoNewline marks a final line that had none.
type DiffLine struct {
	Type      DiffType
	Content   string
	NoNewline bool
}

// LineDiff computes a line-level diff between byte slices a and b.
func LineDiff(a, b []byte) []DiffLine {
	ops := MyersDiff(SplitLines(a), SplitLines(b))
	result := make([]DiffLine, len(ops))
	for i, op := range ops {
		content, hadNewline := strings.CutSuffix(op.Line, "\n")
		result[i] = DiffLine{Type: op.Type, Content: content, NoNewline: !hadNewline}
	}
	return result
}

// SplitLines splits data into lines that keep their "\n" terminator. A
// final line without a terminator is kept as-is, so joining the result
// reproduces data exactly.
func SplitLines(data []byte) []string {
	if len(data) == 0 {
		return nil
	}
	lines := strings.SplitAfter(string(data), "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// Merge performs a three-way merge of base, ours, and theirs with
// unlabeled conflict markers.
func Merge(base, ours, theirs []byte) Result {
	return MergeLabeled(base, ours, theirs, Labels{})
}

// MergeLabeled performs a three-way merge of base, ours, and theirs.
//
// Both sides are diffed against base and converted into chunks aligned on
// base line ranges. Walking the two chunk lists together, a region changed
// by one side takes that side; a region changed identically by both takes
// either; a region changed differently by both becomes a conflict.
func MergeLabeled(base, ours, theirs []byte, labels Labels) Result {
	baseLines := SplitLines(base)
	m := merger{
		base:   baseLines,
		labels: labels,
	}
	m.run(buildChunks(baseLines, SplitLines(ours)), buildChunks(baseLines, SplitLines(theirs)))
	return Result{
		Merged:       m.out.Bytes(),
		HasConflicts: m.conflicts,
		Hunks:        m.hunks,
	}
}

// chunk represents a contiguous region relative to the base.
type chunk struct {
	baseStart, baseEnd int      // range [baseStart, baseEnd) in base
	lines              []string // replacement lines for this region
	changed            bool     // true if this region differs from base
}

// buildChunks converts a two-way diff (base → side) into a list of chunks.
func buildChunks(base, side []string) []chunk {
	ops := MyersDiff(base, side)

	var chunks []chunk
	baseIdx := 0
	for i := 0; i < len(ops); {
		if ops[i].Type == Equal {
			chunks = append(chunks, chunk{
				baseStart: baseIdx,
				baseEnd:   baseIdx + 1,
				lines:     []string{ops[i].Line},
			})
			baseIdx++
			i++
			continue
		}

		start := baseIdx
		var sideLines []string
		for i < len(ops) && ops[i].Type != Equal {
			if ops[i].Type == Delete {
				baseIdx++
			} else {
				sideLines = append(sideLines, ops[i].Line)
			}
			i++
		}
		chunks = append(chunks, chunk{
			baseStart: start,
			baseEnd:   baseIdx,
			lines:     sideLines,
			changed:   true,
		})
	}
	return chunks
}

type merger struct {
	base      []string
	labels    Labels
	out       bytes.Buffer
	hunks     []Hunk
	conflicts bool
}

// run walks the ours and theirs chunk sequences in parallel, aligned by
// base-line positions.
func (m *merger) run(oursChunks, theirsChunks []chunk) {
	oi, ti := 0, 0
	for oi < len(oursChunks) || ti < len(theirsChunks) {
		switch {
		case oi >= len(oursChunks):
			m.resolve(m.region(theirsChunks[ti:ti+1]), nil, theirsChunks[ti:ti+1])
			ti++
			continue
		case ti >= len(theirsChunks):
			m.resolve(m.region(oursChunks[oi:oi+1]), oursChunks[oi:oi+1], nil)
			oi++
			continue
		}

		oc, tc := oursChunks[oi], theirsChunks[ti]
		if oc.baseStart == tc.baseStart && oc.baseEnd == tc.baseEnd {
			m.resolve(m.base[oc.baseStart:oc.baseEnd], oursChunks[oi:oi+1], theirsChunks[ti:ti+1])
			oi++
			ti++
			continue
		}

		// Misaligned: one side's change spans several chunks of the other.
		// Grow the region until both sides end on the same base line.
		regionStart := min(oc.baseStart, tc.baseStart)
		regionEnd := max(oc.baseEnd, tc.baseEnd)
		oStart, tStart := oi, ti
		for {
			grew := false
			for oi < len(oursChunks) && oursChunks[oi].baseStart < regionEnd {
				regionEnd = max(regionEnd, oursChunks[oi].baseEnd)
				oi++
				grew = true
			}
			for ti < len(theirsChunks) && theirsChunks[ti].baseStart < regionEnd {
				regionEnd = max(regionEnd, theirsChunks[ti].baseEnd)
				ti++
				grew = true
			}
			if !grew {
				break
			}
		}
		m.resolve(m.base[regionStart:regionEnd], oursChunks[oStart:oi], theirsChunks[tStart:ti])
	}
}

func (m *merger) region(chunks []chunk) []string {
	if len(chunks) == 0 {
		return nil
	}
	return m.base[chunks[0].baseStart:chunks[len(chunks)-1].baseEnd]
}

// resolve decides one aligned region. A nil side means that side has no
// chunks left, which is equivalent to leaving the base untouched.
func (m *merger) resolve(baseRegion []string, ours, theirs []chunk) {
	oursOut, oursChanged := assemble(ours, baseRegion)
	theirsOut, theirsChanged := assemble(theirs, baseRegion)

	h := Hunk{Type: HunkClean, Base: joinLines(baseRegion)}
	switch {
	case !oursChanged && !theirsChanged:
		m.write(baseRegion)
		h.Merged = joinLines(baseRegion)
	case oursChanged && !theirsChanged:
		m.write(oursOut)
		h.Ours, h.Merged = joinLines(oursOut), joinLines(oursOut)
	case !oursChanged && theirsChanged:
		m.write(theirsOut)
		h.Theirs, h.Merged = joinLines(theirsOut), joinLines(theirsOut)
	case slices.Equal(oursOut, theirsOut):
		m.write(oursOut)
		h.Ours, h.Theirs, h.Merged = joinLines(oursOut), joinLines(theirsOut), joinLines(oursOut)
	default:
		m.conflicts = true
		m.writeConflict(oursOut, theirsOut)
		h.Type = HunkConflict
		h.Ours, h.Theirs = joinLines(oursOut), joinLines(theirsOut)
	}
	m.hunks = append(m.hunks, h)
}

func assemble(chunks []chunk, baseRegion []string) ([]string, bool) {
	if chunks == nil {
		return baseRegion, false
	}
	var lines []string
	changed := false
	for _, c := range chunks {
		lines = append(lines, c.lines...)
		changed = changed || c.changed
	}
	return lines, changed
}

func (m *merger) write(lines []string) {
	for _, l := range lines {
		m.out.WriteString(l)
	}
}

func (m *merger) writeConflict(oursLines, theirsLines []string) {
	open, closing := m.labels.Markers()
	m.ensureNewline()
	m.out.WriteString(open)
	m.write(oursLines)
	m.ensureNewline()
	m.out.WriteString("=======\n")
	m.write(theirsLines)
	m.ensureNewline()
	m.out.WriteString(closing)
}

func (m *merger) ensureNewline() {
	if b := m.out.Bytes(); len(b) > 0 && b[len(b)-1] != '\n' {
		m.out.WriteByte('\n')
	}
}

func joinLines(lines []string) []byte {
	if len(lines) == 0 {
		return nil
	}
	return []byte(strings.Join(lines, ""))
}
