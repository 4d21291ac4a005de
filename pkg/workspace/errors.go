package workspace

import (
	"errors"
	"fmt"

	"github.com/odvcencio/docstore/pkg/object"
	"github.com/odvcencio/docstore/pkg/repo"
)

var (
	// ErrOutOfScope is returned for keys outside the workspace directory.
	ErrOutOfScope = errors.New("path outside workspace directory")
	// ErrInvalidPath is returned for keys that cannot name a document.
	ErrInvalidPath = repo.ErrInvalidPath
	// ErrBranchNotFound is returned when an operation needs a branch or
	// commit that does not resolve.
	ErrBranchNotFound = errors.New("branch not found")
	// ErrStaleMerge is matched by *StaleMergeError.
	ErrStaleMerge = errors.New("merge heads moved")
)

// StaleMergeError reports a ref that moved between a conflicting merge and
// its completion.
type StaleMergeError struct {
	Ref      string
	Expected object.Hash
	Actual   object.Hash
}

func (e *StaleMergeError) Error() string {
	return fmt.Sprintf("stale merge: %s is at %s, expected %s", e.Ref, displayHash(e.Actual), displayHash(e.Expected))
}

func (e *StaleMergeError) Is(target error) bool { return target == ErrStaleMerge }

// TransportError wraps a failed exchange with origin. Local refs are left
// as they were before the operation.
type TransportError struct {
	Op  string // "clone", "fetch" or "push"
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func displayHash(h object.Hash) string {
	if h == "" {
		return "(none)"
	}
	return h.Short()
}
