package repo

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/odvcencio/docstore/pkg/diff3"
	"github.com/odvcencio/docstore/pkg/object"
)

// FileConflict describes one path the three-way merge could not resolve.
// A nil side was absent in that tree. MergeFileText is the ours/theirs
// content with conflict markers around every unresolved region.
type FileConflict struct {
	Path          string
	Ancestor      *TreeFileEntry
	Ours          *TreeFileEntry
	Theirs        *TreeFileEntry
	MergeFileText []byte
}

// TreeMergeResult holds the merged index and any conflicts. With no
// conflicts, Index.WriteTree yields the merged tree.
type TreeMergeResult struct {
	Index     *Index
	Conflicts []FileConflict
}

// Clean reports whether every path merged without conflict.
func (m *TreeMergeResult) Clean() bool { return len(m.Conflicts) == 0 }

// MergeTrees performs a path-by-path three-way merge of ours and theirs
// against base. The result index starts from ours, so directories only ours
// touched keep their subtree hashes. Paths are visited in sorted order and
// the outcome depends only on the three trees.
//
// Per path (B=base, O=ours, T=theirs, compared by blob hash and mode):
//   - O = T: keep O.
//   - O = B: take T, including a deletion on their side.
//   - T = B: keep O, including a deletion on our side.
//   - otherwise, with both sides present: line-level three-way merge
//     (empty base when B is absent); a clean result is kept, else conflict.
//   - otherwise one side deleted what the other modified: conflict.
//
// When the merged tree would hold a file at p and anything under p/, or a
// conflict at either of them, both paths are conflicts.
func MergeTrees(store *object.Store, base, ours, theirs object.Hash, labels diff3.Labels) (*TreeMergeResult, error) {
	baseMap, err := FlattenTreeMap(store, base)
	if err != nil {
		return nil, fmt.Errorf("merge trees: flatten base: %w", err)
	}
	oursMap, err := FlattenTreeMap(store, ours)
	if err != nil {
		return nil, fmt.Errorf("merge trees: flatten ours: %w", err)
	}
	theirsMap, err := FlattenTreeMap(store, theirs)
	if err != nil {
		return nil, fmt.Errorf("merge trees: flatten theirs: %w", err)
	}
	idx, err := LoadIndex(store, ours)
	if err != nil {
		return nil, fmt.Errorf("merge trees: %w", err)
	}

	var plan []pathMerge
	for _, path := range collectAllPaths(baseMap, oursMap, theirsMap) {
		pm := pathMerge{path: path, b: lookupSide(baseMap, path), o: lookupSide(oursMap, path), t: lookupSide(theirsMap, path)}
		switch {
		case sameSide(pm.o, pm.t), sameSide(pm.t, pm.b):
			pm.action = keepOurs
		case sameSide(pm.o, pm.b):
			pm.action = takeTheirs
		default:
			if err := mergeFile(store, &pm, labels); err != nil {
				return nil, fmt.Errorf("merge file %q: %w", path, err)
			}
		}
		plan = append(plan, pm)
	}
	if err := markClashes(store, plan, labels); err != nil {
		return nil, fmt.Errorf("merge trees: %w", err)
	}

	// Removals first so a later Add never sees a stale entry; conflicts
	// last so no Add can clear their stages.
	for _, pm := range plan {
		if pm.action == takeTheirs && pm.t == nil {
			idx.Remove(pm.path)
		}
	}
	for _, pm := range plan {
		var err error
		switch {
		case pm.action == takeTheirs && pm.t != nil:
			err = idx.Add(pm.path, pm.t.BlobHash, pm.t.Mode)
		case pm.action == takeMerged:
			err = idx.Add(pm.path, pm.blob, pm.mode)
		}
		if err != nil {
			return nil, fmt.Errorf("merge trees: %w", err)
		}
	}
	result := &TreeMergeResult{Index: idx}
	for _, pm := range plan {
		if pm.action != conflicted {
			continue
		}
		mode := mergedMode(pm.b, pm.o, pm.t)
		if err := idx.AddConflict(pm.path, sideHash(pm.b), sideHash(pm.o), sideHash(pm.t), mode); err != nil {
			return nil, fmt.Errorf("merge trees: %w", err)
		}
		result.Conflicts = append(result.Conflicts, FileConflict{
			Path:          pm.path,
			Ancestor:      pm.b,
			Ours:          pm.o,
			Theirs:        pm.t,
			MergeFileText: pm.text,
		})
	}
	return result, nil
}

type mergeAction int

const (
	keepOurs mergeAction = iota
	takeTheirs
	takeMerged
	conflicted
)

// pathMerge is the decided outcome for one path before it touches the index.
type pathMerge struct {
	path    string
	b, o, t *TreeFileEntry
	action  mergeAction
	blob    object.Hash
	mode    string
	text    []byte
}

// present reports whether the path holds a file in the merged tree.
func (pm *pathMerge) present() bool {
	switch pm.action {
	case keepOurs:
		return pm.o != nil
	case takeTheirs:
		return pm.t != nil
	default:
		return true
	}
}

// mergeFile handles a path both sides changed differently.
func mergeFile(store *object.Store, pm *pathMerge, labels diff3.Labels) error {
	if pm.o == nil || pm.t == nil {
		// Modify/delete: no silent data loss.
		return pm.conflict(store, labels)
	}
	oursData, err := readSide(store, pm.o)
	if err != nil {
		return err
	}
	theirsData, err := readSide(store, pm.t)
	if err != nil {
		return err
	}
	baseData, err := readSide(store, pm.b)
	if err != nil {
		return err
	}
	merged := diff3.MergeLabeled(baseData, oursData, theirsData, labels)
	if merged.HasConflicts {
		pm.action = conflicted
		pm.text = merged.Merged
		return nil
	}
	h, err := store.WriteBlob(&object.Blob{Data: merged.Merged})
	if err != nil {
		return err
	}
	pm.action = takeMerged
	pm.blob = h
	pm.mode = mergedMode(pm.b, pm.o, pm.t)
	return nil
}

// conflict turns pm into a conflict showing both whole sides.
func (pm *pathMerge) conflict(store *object.Store, labels diff3.Labels) error {
	if pm.action == conflicted {
		return nil
	}
	oursData, err := readSide(store, pm.o)
	if err != nil {
		return err
	}
	theirsData, err := readSide(store, pm.t)
	if err != nil {
		return err
	}
	pm.action = conflicted
	pm.text = renderFileConflict(oursData, theirsData, labels)
	return nil
}

// markClashes turns both ends of a file/directory clash into conflicts.
// plan is sorted, so an ancestor file is seen before anything under it.
func markClashes(store *object.Store, plan []pathMerge, labels diff3.Labels) error {
	occupied := make(map[string]int, len(plan))
	for i := range plan {
		if plan[i].present() {
			occupied[plan[i].path] = i
		}
	}
	for i := range plan {
		if !plan[i].present() {
			continue
		}
		for dir := parentDir(plan[i].path); dir != ""; dir = parentDir(dir) {
			j, ok := occupied[dir]
			if !ok {
				continue
			}
			if err := plan[j].conflict(store, labels); err != nil {
				return err
			}
			if err := plan[i].conflict(store, labels); err != nil {
				return err
			}
		}
	}
	return nil
}

// renderFileConflict shows both sides of a modify/delete conflict; the
// deleted side renders as an empty region.
func renderFileConflict(ours, theirs []byte, labels diff3.Labels) []byte {
	open, closing := labels.Markers()
	var buf bytes.Buffer
	buf.WriteString(open)
	writeWithNewline(&buf, ours)
	buf.WriteString("=======\n")
	writeWithNewline(&buf, theirs)
	buf.WriteString(closing)
	return buf.Bytes()
}

func writeWithNewline(buf *bytes.Buffer, data []byte) {
	buf.Write(data)
	if len(data) > 0 && data[len(data)-1] != '\n' {
		buf.WriteByte('\n')
	}
}

func lookupSide(m map[string]TreeFileEntry, path string) *TreeFileEntry {
	e, ok := m[path]
	if !ok {
		return nil
	}
	return &e
}

func sameSide(a, b *TreeFileEntry) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.BlobHash == b.BlobHash && a.Mode == b.Mode
}

func sideHash(e *TreeFileEntry) object.Hash {
	if e == nil {
		return ""
	}
	return e.BlobHash
}

// mergedMode keeps a mode change made by exactly one side.
func mergedMode(b, o, t *TreeFileEntry) string {
	switch {
	case o == nil && t == nil:
		return object.TreeModeFile
	case o == nil:
		return t.Mode
	case t == nil, b == nil:
		return o.Mode
	case o.Mode == b.Mode:
		return t.Mode
	default:
		return o.Mode
	}
}

func readSide(store *object.Store, e *TreeFileEntry) ([]byte, error) {
	if e == nil {
		return nil, nil
	}
	blob, err := store.ReadBlob(e.BlobHash)
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", e.BlobHash, err)
	}
	return blob.Data, nil
}

// indexByPath creates a map from file path to TreeFileEntry.
func indexByPath(entries []TreeFileEntry) map[string]TreeFileEntry {
	m := make(map[string]TreeFileEntry, len(entries))
	for _, e := range entries {
		m[e.Path] = e
	}
	return m
}

// collectAllPaths returns a sorted, deduplicated list of all file paths
// across three file maps.
func collectAllPaths(base, ours, theirs map[string]TreeFileEntry) []string {
	seen := make(map[string]struct{}, len(ours)+len(theirs))
	for _, m := range []map[string]TreeFileEntry{base, ours, theirs} {
		for p := range m {
			seen[p] = struct{}{}
		}
	}
	paths := make([]string, 0, len(seen))
	for p := range seen {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
