package object

import (
	"fmt"
	"strings"
)

// Hash is a 64-character hex-encoded SHA-256 digest.
type Hash string

// Short returns the 7-character abbreviation used in patch headers and logs.
func (h Hash) Short() string {
	if len(h) <= 7 {
		return string(h)
	}
	return string(h[:7])
}

// ObjectType identifies the kind of object stored.
type ObjectType string

const (
	TypeBlob   ObjectType = "blob"
	TypeTree   ObjectType = "tree"
	TypeCommit ObjectType = "commit"
)

// ParseObjectType validates a wire or envelope type name.
func ParseObjectType(raw string) (ObjectType, error) {
	switch t := ObjectType(strings.TrimSpace(raw)); t {
	case TypeBlob, TypeTree, TypeCommit:
		return t, nil
	default:
		return "", fmt.Errorf("unsupported object type %q", raw)
	}
}

const (
	// Tree mode constants compatible with Git's canonical mode strings.
	TreeModeDir        = "40000"
	TreeModeFile       = "100644"
	TreeModeExecutable = "100755"
)

// Blob holds raw file data.
type Blob struct {
	Data []byte
}

// TreeEntry is one entry in a tree object. Exactly one of BlobHash and
// SubtreeHash is set, depending on IsDir.
type TreeEntry struct {
	Name        string
	IsDir       bool
	Mode        string
	BlobHash    Hash
	SubtreeHash Hash
}

// Hash returns the object the entry points at.
func (e TreeEntry) Hash() Hash {
	if e.IsDir {
		return e.SubtreeHash
	}
	return e.BlobHash
}

// TreeObj holds a sorted list of tree entries.
type TreeObj struct {
	Entries []TreeEntry // sorted by Name
}

// Find returns the entry with the given name.
func (t *TreeObj) Find(name string) (TreeEntry, bool) {
	for _, e := range t.Entries {
		if e.Name == name {
			return e, true
		}
	}
	return TreeEntry{}, false
}

// CommitObj represents a commit pointing to a tree with metadata. Author and
// Committer hold identities in "Name <email>" form; timestamps are Unix
// seconds.
type CommitObj struct {
	TreeHash           Hash
	Parents            []Hash
	Author             string
	Timestamp          int64
	Committer          string
	CommitterTimestamp int64
	Signature          string
	Message            string
}

// Ident is a commit author or committer identity.
type Ident struct {
	Name  string `json:"name" yaml:"name" toml:"name"`
	Email string `json:"email" yaml:"email" toml:"email"`
}

// String renders the identity as stored in commit headers.
func (id Ident) String() string {
	switch {
	case id.Email == "":
		return id.Name
	case id.Name == "":
		return "<" + id.Email + ">"
	default:
		return id.Name + " <" + id.Email + ">"
	}
}

// IsZero reports whether neither field is set.
func (id Ident) IsZero() bool {
	return id.Name == "" && id.Email == ""
}

// ParseIdent splits "Name <email>" into its parts. Input without an email
// bracket is treated as a bare name.
func ParseIdent(s string) Ident {
	s = strings.TrimSpace(s)
	open := strings.LastIndexByte(s, '<')
	if open < 0 || !strings.HasSuffix(s, ">") {
		return Ident{Name: s}
	}
	return Ident{
		Name:  strings.TrimSpace(s[:open]),
		Email: strings.TrimSpace(s[open+1 : len(s)-1]),
	}
}
