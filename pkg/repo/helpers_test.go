package repo

import (
	"testing"
	"time"

	"github.com/odvcencio/docstore/pkg/object"
)

var testAuthor = object.Ident{Name: "Test Author", Email: "test@example.com"}

func newTestRepo(t *testing.T) *Repo {
	t.Helper()
	r, err := Init(t.TempDir(), Config{})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	return r
}

// writeFiles builds a tree containing exactly files.
func writeFiles(t *testing.T, r *Repo, files map[string]string) object.Hash {
	t.Helper()
	idx := NewIndex(r.Store)
	for p, content := range files {
		if _, err := idx.AddBlob(p, []byte(content)); err != nil {
			t.Fatalf("AddBlob(%q): %v", p, err)
		}
	}
	tree, err := idx.WriteTree()
	if err != nil {
		t.Fatalf("WriteTree: %v", err)
	}
	return tree
}

// commitFiles writes a commit whose tree is exactly files. at is the commit
// time in seconds past a fixed epoch.
func commitFiles(t *testing.T, r *Repo, parents []object.Hash, files map[string]string, message string, at int64) object.Hash {
	t.Helper()
	h, err := r.CommitTree(CommitRequest{
		Tree:       writeFiles(t, r, files),
		Parents:    parents,
		Author:     testAuthor,
		AuthorTime: time.Unix(1_700_000_000+at, 0),
		Message:    message,
	})
	if err != nil {
		t.Fatalf("CommitTree(%q): %v", message, err)
	}
	return h
}

func readPath(t *testing.T, r *Repo, tree object.Hash, p string) (string, bool) {
	t.Helper()
	entry, ok, err := EntryAtPath(r.Store, tree, p)
	if err != nil {
		t.Fatalf("EntryAtPath(%q): %v", p, err)
	}
	if !ok || entry.IsDir {
		return "", false
	}
	blob, err := r.Store.ReadBlob(entry.BlobHash)
	if err != nil {
		t.Fatalf("ReadBlob(%q): %v", p, err)
	}
	return string(blob.Data), true
}
