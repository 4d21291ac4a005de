// Package remote moves objects and refs between a local clone and its
// origin, either over the HTTP protocol or against a bare repository
// directory.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/odvcencio/docstore/pkg/object"
)

// ErrRejected is returned when the origin refuses a ref update because the
// ref no longer holds the expected hash.
var ErrRejected = errors.New("ref update rejected")

// Credentials authenticate against an HTTP origin. A token takes precedence
// over username and password.
type Credentials struct {
	Token    string `json:"token,omitempty" yaml:"token" toml:"token"`
	Username string `json:"username,omitempty" yaml:"username" toml:"username"`
	Password string `json:"password,omitempty" yaml:"password" toml:"password"`
}

// IsZero reports whether no credential is set.
func (c Credentials) IsZero() bool {
	return strings.TrimSpace(c.Token) == "" && strings.TrimSpace(c.Username) == ""
}

// ObjectRecord is an object payload used by push/pull operations.
type ObjectRecord struct {
	Hash object.Hash
	Type object.ObjectType
	Data []byte
}

// RefUpdate is one compare-and-swap ref update. Name is relative to refs/,
// e.g. "heads/master". A nil Old skips the check; a pointer to "" requires
// the ref to be absent. A nil New deletes the ref.
type RefUpdate struct {
	Name string
	Old  *object.Hash
	New  *object.Hash
}

// Transport is the origin as seen by a clone.
type Transport interface {
	// ListRefs returns every ref keyed by its name relative to refs/.
	ListRefs(ctx context.Context) (map[string]object.Hash, error)
	// BatchObjects returns objects reachable from wants that are not
	// reachable from haves, at most maxObjects of them.
	BatchObjects(ctx context.Context, wants, haves []object.Hash, maxObjects int) ([]ObjectRecord, bool, error)
	GetObject(ctx context.Context, hash object.Hash) (ObjectRecord, error)
	PushObjects(ctx context.Context, objects []ObjectRecord) error
	// UpdateRefs applies all updates or none. A stale expectation fails
	// with an error wrapping ErrRejected.
	UpdateRefs(ctx context.Context, updates []RefUpdate) (map[string]object.Hash, error)
}

// Open returns the transport for locator: an http(s) URL yields a protocol
// Client, a file:// URL or plain path yields a Dir.
func Open(locator string, creds Credentials) (Transport, error) {
	locator = strings.TrimSpace(locator)
	if locator == "" {
		return nil, fmt.Errorf("remote locator is required")
	}
	u, err := url.Parse(locator)
	if err == nil {
		switch u.Scheme {
		case "http", "https":
			return NewClientWithOptions(locator, ClientOptions{Credentials: creds})
		case "file":
			return OpenDir(u.Path)
		}
	}
	return OpenDir(locator)
}

func hashPtr(h object.Hash) *object.Hash { return &h }

// Set returns an update that moves name from old to h. An empty old
// requires the ref to be absent.
func Set(name string, old, h object.Hash) RefUpdate {
	return RefUpdate{Name: name, Old: hashPtr(old), New: hashPtr(h)}
}

// Delete returns an update that removes name if it still holds old.
func Delete(name string, old object.Hash) RefUpdate {
	return RefUpdate{Name: name, Old: hashPtr(old)}
}
