package repo

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/odvcencio/docstore/pkg/object"
)

// TreeFileEntry represents a single file in a flattened tree.
type TreeFileEntry struct {
	Path     string
	BlobHash object.Hash
	Mode     string
}

// WriteTree writes the resolved entries as a tree hierarchy and returns the
// root hash. Directories whose contents did not change since load reuse
// their loaded hash without rewriting anything beneath them.
func (idx *Index) WriteTree() (object.Hash, error) {
	if idx.HasConflicts() {
		return "", ErrUnresolvedConflicts
	}

	files := make(map[string][]IndexEntry)     // dir -> direct files
	subdirs := make(map[string]map[string]bool) // dir -> child dir names
	for k, e := range idx.entries {
		dir := parentDir(k.path)
		files[dir] = append(files[dir], e)
		for d := dir; d != ""; d = parentDir(d) {
			parent := parentDir(d)
			if subdirs[parent] == nil {
				subdirs[parent] = make(map[string]bool)
			}
			if subdirs[parent][baseName(d)] {
				break
			}
			subdirs[parent][baseName(d)] = true
		}
	}

	h, err := idx.writeTreeDir("", files, subdirs)
	if err != nil {
		return "", err
	}
	idx.dirty = make(map[string]struct{})
	return h, nil
}

func (idx *Index) writeTreeDir(dir string, files map[string][]IndexEntry, subdirs map[string]map[string]bool) (object.Hash, error) {
	if _, changed := idx.dirty[dir]; !changed {
		if h, ok := idx.loaded[dir]; ok {
			return h, nil
		}
	}

	entries := make([]object.TreeEntry, 0, len(files[dir])+len(subdirs[dir]))
	for _, f := range files[dir] {
		entries = append(entries, object.TreeEntry{
			Name:     baseName(f.Path),
			Mode:     f.Mode,
			BlobHash: f.BlobHash,
		})
	}
	for name := range subdirs[dir] {
		child := joinPath(dir, name)
		subHash, err := idx.writeTreeDir(child, files, subdirs)
		if err != nil {
			return "", err
		}
		entries = append(entries, object.TreeEntry{
			Name:        name,
			IsDir:       true,
			Mode:        object.TreeModeDir,
			SubtreeHash: subHash,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	h, err := idx.store.WriteTree(&object.TreeObj{Entries: entries})
	if err != nil {
		return "", fmt.Errorf("write tree (prefix=%q): %w", dir, err)
	}
	idx.loaded[dir] = h
	return h, nil
}

// FlattenTree walks a tree object recursively, returning all file entries
// with their full paths in tree order. An empty hash yields no entries.
func FlattenTree(store *object.Store, h object.Hash) ([]TreeFileEntry, error) {
	if h == "" {
		return nil, nil
	}
	return flattenTreeRec(store, h, "")
}

// FlattenSubtree flattens the directory at dir inside tree, keeping full
// paths. A dir that is missing or names a file yields nothing.
func FlattenSubtree(store *object.Store, h object.Hash, dir string) ([]TreeFileEntry, error) {
	sub, err := SubtreeAt(store, h, dir)
	if err != nil || sub == "" {
		return nil, err
	}
	return flattenTreeRec(store, sub, strings.Trim(dir, "/"))
}

func flattenTreeRec(store *object.Store, h object.Hash, prefix string) ([]TreeFileEntry, error) {
	treeObj, err := store.ReadTree(h)
	if err != nil {
		return nil, fmt.Errorf("flatten tree: read %s: %w", h, err)
	}

	var result []TreeFileEntry
	for _, entry := range treeObj.Entries {
		fullPath := entry.Name
		if prefix != "" {
			fullPath = path.Join(prefix, entry.Name)
		}

		if entry.IsDir {
			sub, err := flattenTreeRec(store, entry.SubtreeHash, fullPath)
			if err != nil {
				return nil, err
			}
			result = append(result, sub...)
			continue
		}
		result = append(result, TreeFileEntry{
			Path:     fullPath,
			BlobHash: entry.BlobHash,
			Mode:     normalizeFileMode(entry.Mode),
		})
	}
	return result, nil
}

// FlattenTreeMap is FlattenTree keyed by path.
func FlattenTreeMap(store *object.Store, h object.Hash) (map[string]TreeFileEntry, error) {
	files, err := FlattenTree(store, h)
	if err != nil {
		return nil, err
	}
	return indexByPath(files), nil
}
