package repo

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/odvcencio/docstore/pkg/object"
)

// ErrUnresolvedConflicts is returned by WriteTree while conflict stages
// remain in the index.
var ErrUnresolvedConflicts = errors.New("index has unresolved conflicts")

// Stage distinguishes a resolved entry from the three sides of a conflict.
type Stage int

const (
	StageResolved Stage = 0
	StageBase     Stage = 1
	StageOurs     Stage = 2
	StageTheirs   Stage = 3
)

// IndexEntry is one row of the staging table.
type IndexEntry struct {
	Path     string
	Stage    Stage
	BlobHash object.Hash
	Mode     string
}

// ConflictEntry groups the conflict stages recorded for one path. A nil
// side was absent (added on one side only, or deleted).
type ConflictEntry struct {
	Path   string
	Base   *IndexEntry
	Ours   *IndexEntry
	Theirs *IndexEntry
}

type indexKey struct {
	path  string
	stage Stage
}

// Index is a transient staging table used to assemble a tree. It is loaded
// from an existing tree, edited by path, and written back with WriteTree.
// Directories no edit touched keep the subtree hash they were loaded with.
type Index struct {
	store   *object.Store
	entries map[indexKey]IndexEntry

	loaded map[string]object.Hash // dir -> subtree hash at load time
	dirty  map[string]struct{}    // dirs whose contents changed since load
}

// NewIndex returns an empty index writing to store.
func NewIndex(store *object.Store) *Index {
	return &Index{
		store:   store,
		entries: make(map[indexKey]IndexEntry),
		loaded:  make(map[string]object.Hash),
		dirty:   make(map[string]struct{}),
	}
}

// LoadIndex fills a new index with every file of tree. An empty tree hash
// yields an empty index.
func LoadIndex(store *object.Store, tree object.Hash) (*Index, error) {
	idx := NewIndex(store)
	if tree == "" {
		return idx, nil
	}
	if err := idx.load(tree, ""); err != nil {
		return nil, fmt.Errorf("load index: %w", err)
	}
	return idx, nil
}

func (idx *Index) load(tree object.Hash, dir string) error {
	treeObj, err := idx.store.ReadTree(tree)
	if err != nil {
		return fmt.Errorf("read tree %s: %w", tree, err)
	}
	idx.loaded[dir] = tree
	for _, e := range treeObj.Entries {
		p := joinPath(dir, e.Name)
		if e.IsDir {
			if err := idx.load(e.SubtreeHash, p); err != nil {
				return err
			}
			continue
		}
		idx.entries[indexKey{p, StageResolved}] = IndexEntry{
			Path:     p,
			BlobHash: e.BlobHash,
			Mode:     normalizeFileMode(e.Mode),
		}
	}
	return nil
}

// markDirty flags every ancestor directory of p.
func (idx *Index) markDirty(p string) {
	dir := parentDir(p)
	for {
		idx.dirty[dir] = struct{}{}
		if dir == "" {
			return
		}
		dir = parentDir(dir)
	}
}

// Add records a resolved entry for p, clearing any conflict stages. A file
// at an ancestor of p is replaced, and anything stored under p/ is dropped.
func (idx *Index) Add(p string, blob object.Hash, mode string) error {
	p, err := CleanPath(p)
	if err != nil {
		return err
	}
	for dir := parentDir(p); dir != ""; dir = parentDir(dir) {
		idx.removeAllStages(dir)
	}
	idx.removeUnder(p + "/")
	idx.removeAllStages(p)
	idx.entries[indexKey{p, StageResolved}] = IndexEntry{
		Path:     p,
		BlobHash: blob,
		Mode:     normalizeFileMode(mode),
	}
	idx.markDirty(p)
	return nil
}

// AddBlob writes data as a blob and adds it at p as a regular file.
func (idx *Index) AddBlob(p string, data []byte) (object.Hash, error) {
	h, err := idx.store.WriteBlob(&object.Blob{Data: data})
	if err != nil {
		return "", fmt.Errorf("index add %q: %w", p, err)
	}
	if err := idx.Add(p, h, object.TreeModeFile); err != nil {
		return "", err
	}
	return h, nil
}

// Remove drops every stage recorded for p and reports whether anything was
// there.
func (idx *Index) Remove(p string) bool {
	return idx.removeAllStages(p)
}

func (idx *Index) removeAllStages(p string) bool {
	removed := false
	for s := StageResolved; s <= StageTheirs; s++ {
		k := indexKey{p, s}
		if _, ok := idx.entries[k]; ok {
			delete(idx.entries, k)
			removed = true
		}
	}
	if removed {
		idx.markDirty(p)
	}
	return removed
}

func (idx *Index) removeUnder(prefix string) {
	for k := range idx.entries {
		if strings.HasPrefix(k.path, prefix) {
			delete(idx.entries, k)
			idx.markDirty(k.path)
		}
	}
}

// AddConflict replaces p with conflict stages. Empty hashes mark absent
// sides.
func (idx *Index) AddConflict(p string, base, ours, theirs object.Hash, mode string) error {
	p, err := CleanPath(p)
	if err != nil {
		return err
	}
	idx.removeAllStages(p)
	mode = normalizeFileMode(mode)
	for stage, h := range map[Stage]object.Hash{StageBase: base, StageOurs: ours, StageTheirs: theirs} {
		if h == "" {
			continue
		}
		idx.entries[indexKey{p, stage}] = IndexEntry{Path: p, Stage: stage, BlobHash: h, Mode: mode}
	}
	idx.markDirty(p)
	return nil
}

// Get returns the resolved entry for p.
func (idx *Index) Get(p string) (IndexEntry, bool) {
	e, ok := idx.entries[indexKey{p, StageResolved}]
	return e, ok
}

// Len returns the number of resolved entries.
func (idx *Index) Len() int {
	n := 0
	for k := range idx.entries {
		if k.stage == StageResolved {
			n++
		}
	}
	return n
}

// HasConflicts reports whether any conflict stage is present.
func (idx *Index) HasConflicts() bool {
	for k := range idx.entries {
		if k.stage != StageResolved {
			return true
		}
	}
	return false
}

// Conflicts returns the conflicted paths in sorted order.
func (idx *Index) Conflicts() []ConflictEntry {
	byPath := make(map[string]*ConflictEntry)
	for k, e := range idx.entries {
		if k.stage == StageResolved {
			continue
		}
		c, ok := byPath[k.path]
		if !ok {
			c = &ConflictEntry{Path: k.path}
			byPath[k.path] = c
		}
		switch k.stage {
		case StageBase:
			c.Base = &e
		case StageOurs:
			c.Ours = &e
		case StageTheirs:
			c.Theirs = &e
		}
	}
	out := make([]ConflictEntry, 0, len(byPath))
	for _, c := range byPath {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func normalizeFileMode(mode string) string {
	if mode == object.TreeModeExecutable {
		return mode
	}
	return object.TreeModeFile
}
