// Package diff compares two trees and renders the changes as git-style
// patches with per-file and aggregate line statistics.
package diff

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/odvcencio/docstore/pkg/diff3"
	"github.com/odvcencio/docstore/pkg/object"
	"github.com/odvcencio/docstore/pkg/repo"
)

// ChangeType classifies what happened to a path between two trees.
type ChangeType int

const (
	Added    ChangeType = iota // Path exists only in the new tree.
	Modified                   // Same path, different content or mode.
	Deleted                    // Path exists only in the old tree.
	Renamed                    // Content moved from OldPath to NewPath.
)

func (t ChangeType) String() string {
	switch t {
	case Added:
		return "added"
	case Modified:
		return "modified"
	case Deleted:
		return "deleted"
	case Renamed:
		return "renamed"
	default:
		return fmt.Sprintf("ChangeType(%d)", int(t))
	}
}

const (
	// DefaultContext is the number of unchanged lines around each hunk.
	DefaultContext = 3
	// DefaultRenameThreshold is the minimum similarity, in percent, for an
	// added/deleted pair to be reported as a rename.
	DefaultRenameThreshold = 50
)

// Options control Trees.
type Options struct {
	// Paths restricts the diff to these paths and everything beneath them.
	Paths []string
	// Context lines around each hunk; <= 0 means DefaultContext.
	Context int
	// NoRenames reports moves as a deletion plus an addition.
	NoRenames bool
	// RenameThreshold in percent; <= 0 means DefaultRenameThreshold.
	RenameThreshold int
	// NoPatch skips rendering patch text. Line counts are still computed.
	NoPatch bool
}

// FileChange is one changed path. OldPath is empty for additions and
// NewPath is empty for deletions.
type FileChange struct {
	Type       ChangeType
	OldPath    string
	NewPath    string
	OldHash    object.Hash
	NewHash    object.Hash
	OldMode    string
	NewMode    string
	Similarity int // percent, renames only
	Binary     bool
	Additions  int
	Deletions  int
	Patch      string
}

// Path returns the path the change is filed under: the new path, or the old
// one for deletions.
func (c FileChange) Path() string {
	if c.NewPath != "" {
		return c.NewPath
	}
	return c.OldPath
}

// Result is the outcome of comparing two trees.
type Result struct {
	Changes      []FileChange
	FilesChanged int
	Additions    int
	Deletions    int
}

// Trees compares oldTree with newTree. Either hash may be empty, meaning an
// empty tree. Changes are sorted by path.
func Trees(store *object.Store, oldTree, newTree object.Hash, opts Options) (*Result, error) {
	if opts.Context <= 0 {
		opts.Context = DefaultContext
	}
	if opts.RenameThreshold <= 0 {
		opts.RenameThreshold = DefaultRenameThreshold
	}

	oldFiles, err := repo.FlattenTreeMap(store, oldTree)
	if err != nil {
		return nil, fmt.Errorf("diff: old tree: %w", err)
	}
	newFiles, err := repo.FlattenTreeMap(store, newTree)
	if err != nil {
		return nil, fmt.Errorf("diff: new tree: %w", err)
	}

	d := &differ{store: store, opts: opts, blobs: make(map[object.Hash][]byte)}
	var added, deleted []repo.TreeFileEntry
	var changes []FileChange
	for _, p := range unionPaths(oldFiles, newFiles) {
		if !matchesPaths(p, opts.Paths) {
			continue
		}
		o, inOld := oldFiles[p]
		n, inNew := newFiles[p]
		switch {
		case inOld && inNew:
			if o.BlobHash == n.BlobHash && o.Mode == n.Mode {
				continue
			}
			changes = append(changes, FileChange{
				Type: Modified, OldPath: p, NewPath: p,
				OldHash: o.BlobHash, NewHash: n.BlobHash, OldMode: o.Mode, NewMode: n.Mode,
			})
		case inOld:
			deleted = append(deleted, o)
		default:
			added = append(added, n)
		}
	}

	if !opts.NoRenames {
		renames, err := d.detectRenames(&added, &deleted)
		if err != nil {
			return nil, err
		}
		changes = append(changes, renames...)
	}
	for _, e := range added {
		changes = append(changes, FileChange{Type: Added, NewPath: e.Path, NewHash: e.BlobHash, NewMode: e.Mode})
	}
	for _, e := range deleted {
		changes = append(changes, FileChange{Type: Deleted, OldPath: e.Path, OldHash: e.BlobHash, OldMode: e.Mode})
	}
	sort.SliceStable(changes, func(i, j int) bool { return changes[i].Path() < changes[j].Path() })

	res := &Result{Changes: changes, FilesChanged: len(changes)}
	for i := range res.Changes {
		if err := d.fill(&res.Changes[i]); err != nil {
			return nil, err
		}
		res.Additions += res.Changes[i].Additions
		res.Deletions += res.Changes[i].Deletions
	}
	return res, nil
}

type differ struct {
	store *object.Store
	opts  Options
	blobs map[object.Hash][]byte
}

func (d *differ) blob(h object.Hash) ([]byte, error) {
	if h == "" {
		return nil, nil
	}
	if data, ok := d.blobs[h]; ok {
		return data, nil
	}
	b, err := d.store.ReadBlob(h)
	if err != nil {
		return nil, fmt.Errorf("diff: read blob %s: %w", h, err)
	}
	d.blobs[h] = b.Data
	return b.Data, nil
}

// fill computes line counts and, unless disabled, the patch text.
func (d *differ) fill(c *FileChange) error {
	before, err := d.blob(c.OldHash)
	if err != nil {
		return err
	}
	after, err := d.blob(c.NewHash)
	if err != nil {
		return err
	}
	c.Binary = isBinary(before) || isBinary(after)

	var lines []diff3.DiffLine
	if !c.Binary && c.OldHash != c.NewHash {
		lines = diff3.LineDiff(before, after)
		c.Additions, c.Deletions = countLines(lines)
	}
	if !d.opts.NoPatch {
		c.Patch = formatPatch(c, lines, buildHunks(lines, d.opts.Context))
	}
	return nil
}

// isBinary reports whether data has a NUL byte in its first 8000 bytes.
func isBinary(data []byte) bool {
	if len(data) > 8000 {
		data = data[:8000]
	}
	return bytes.IndexByte(data, 0) >= 0
}

func unionPaths(a, b map[string]repo.TreeFileEntry) []string {
	paths := make([]string, 0, len(a)+len(b))
	for p := range a {
		paths = append(paths, p)
	}
	for p := range b {
		if _, ok := a[p]; !ok {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	return paths
}

func matchesPaths(p string, filters []string) bool {
	if len(filters) == 0 {
		return true
	}
	for _, f := range filters {
		f = strings.Trim(f, "/")
		if f == "" || p == f || strings.HasPrefix(p, f+"/") {
			return true
		}
	}
	return false
}
