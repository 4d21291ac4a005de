package repo

import (
	"fmt"
	"strings"

	"github.com/odvcencio/docstore/pkg/object"
)

// EntryAtPath looks up relPath in tree. Directories are returned as well as
// files; callers check IsDir. A missing path reports found=false with no
// error.
func EntryAtPath(store *object.Store, treeHash object.Hash, relPath string) (object.TreeEntry, bool, error) {
	if treeHash == "" {
		return object.TreeEntry{}, false, nil
	}
	parts := strings.Split(strings.Trim(relPath, "/"), "/")
	current := treeHash

	for i, part := range parts {
		treeObj, err := store.ReadTree(current)
		if err != nil {
			return object.TreeEntry{}, false, fmt.Errorf("read tree %s: %w", current, err)
		}
		entry, found := treeObj.Find(part)
		if !found {
			return object.TreeEntry{}, false, nil
		}
		if i == len(parts)-1 {
			return entry, true, nil
		}
		if !entry.IsDir || entry.SubtreeHash == "" {
			return object.TreeEntry{}, false, nil
		}
		current = entry.SubtreeHash
	}
	return object.TreeEntry{}, false, nil
}

// SubtreeAt returns the hash of the directory at dir inside tree, the tree
// itself for "", or "" when dir does not name a directory.
func SubtreeAt(store *object.Store, treeHash object.Hash, dir string) (object.Hash, error) {
	dir = strings.Trim(dir, "/")
	if dir == "" {
		return treeHash, nil
	}
	entry, found, err := EntryAtPath(store, treeHash, dir)
	if err != nil || !found || !entry.IsDir {
		return "", err
	}
	return entry.SubtreeHash, nil
}
