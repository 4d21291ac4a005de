package repo

import (
	"errors"
	"fmt"
	"strings"

	"github.com/odvcencio/docstore/pkg/object"
)

// ErrInvalidPath is returned for document keys that cannot name a tree
// entry: absolute paths, empty segments, "." or ".." segments.
var ErrInvalidPath = errors.New("invalid path")

// CleanPath validates a repository-relative slash path and returns it
// unchanged. A single trailing slash is tolerated and removed.
func CleanPath(p string) (string, error) {
	p = strings.TrimSuffix(p, "/")
	if p == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidPath)
	}
	if strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("%w: %q is absolute", ErrInvalidPath, p)
	}
	for _, seg := range strings.Split(p, "/") {
		if err := object.ValidateEntryName(seg); err != nil {
			return "", fmt.Errorf("%w: %q: %v", ErrInvalidPath, p, err)
		}
	}
	return p, nil
}

// parentDir returns the slash-separated parent of p, "" for top-level
// entries.
func parentDir(p string) string {
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[:i]
	}
	return ""
}

func baseName(p string) string {
	return p[strings.LastIndexByte(p, '/')+1:]
}

func joinPath(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}
