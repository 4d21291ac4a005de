package workspace

import (
	"time"

	"github.com/odvcencio/docstore/pkg/diff"
	"github.com/odvcencio/docstore/pkg/object"
	"github.com/odvcencio/docstore/pkg/repo"
)

// CommitInfo describes one commit.
type CommitInfo struct {
	Commit     object.Hash   `json:"commit"`
	Tree       object.Hash   `json:"tree"`
	Parents    []object.Hash `json:"parents"`
	Message    string        `json:"message"`
	Author     object.Ident  `json:"author"`
	AuthorTime time.Time     `json:"author_time"`
	Committer  object.Ident  `json:"committer"`
	Time       time.Time     `json:"time"`
}

func newCommitInfo(h object.Hash, c *object.CommitObj) *CommitInfo {
	return &CommitInfo{
		Commit:     h,
		Tree:       c.TreeHash,
		Parents:    append([]object.Hash(nil), c.Parents...),
		Message:    c.Message,
		Author:     object.ParseIdent(c.Author),
		AuthorTime: time.Unix(c.Timestamp, 0).UTC(),
		Committer:  object.ParseIdent(c.Committer),
		Time:       time.Unix(commitTime(c), 0).UTC(),
	}
}

func commitTime(c *object.CommitObj) int64 {
	if c.CommitterTimestamp != 0 {
		return c.CommitterTimestamp
	}
	return c.Timestamp
}

// Entry is one file in a listing.
type Entry struct {
	Path string      `json:"path"`
	Hash object.Hash `json:"hash"`
	Mode string      `json:"mode"`
}

// Document is a file read at a commit together with the most recent
// commits that changed it.
type Document struct {
	Path    string        `json:"path"`
	Content []byte        `json:"content"`
	Hash    object.Hash   `json:"hash"`
	Mode    string        `json:"mode"`
	Commit  *CommitInfo   `json:"commit"`
	Commits []*CommitInfo `json:"commits"`
}

// File is a document inside a Snapshot.
type File struct {
	Path    string      `json:"path"`
	Content []byte      `json:"content"`
	Hash    object.Hash `json:"hash"`
	Mode    string      `json:"mode"`
}

// Dir is a directory node of a nested Snapshot.
type Dir struct {
	Name  string `json:"name"`
	Path  string `json:"path"`
	Files []File `json:"files,omitempty"`
	Dirs  []*Dir `json:"dirs,omitempty"`
}

// ReadAllMode selects the shape of a Snapshot.
type ReadAllMode int

const (
	Flat ReadAllMode = iota
	Nested
)

// Snapshot is every file in scope at one commit. Files is set in Flat mode,
// Root in Nested mode.
type Snapshot struct {
	Commit *CommitInfo `json:"commit"`
	Files  []File      `json:"files,omitempty"`
	Root   *Dir        `json:"root,omitempty"`
}

// ReadOptions select the commit a read sees: Ref when set, else the tip of
// Branch, else the default branch.
type ReadOptions struct {
	Branch string
	Ref    string
}

// ReadAllOptions extend ReadOptions with the snapshot shape.
type ReadAllOptions struct {
	Branch string
	Ref    string
	Mode   ReadAllMode
}

// RefChange is one journaled move of a local branch. Old is empty when the
// branch was created and New is empty when it was deleted.
type RefChange struct {
	Ref    string      `json:"ref"`
	Old    object.Hash `json:"old,omitempty"`
	New    object.Hash `json:"new,omitempty"`
	Time   time.Time   `json:"time"`
	Reason string      `json:"reason"`
}

// LogOptions bound a history walk. Limit <= 0 means DefaultLogLimit.
type LogOptions struct {
	Branch string
	Ref    string
	Limit  int
}

// WriteOptions apply to Write, WriteMany and Delete. Empty fields take the
// default branch, the configured committer and the default messages.
type WriteOptions struct {
	Branch  string
	Author  object.Ident
	Message string
}

// Edit is one change of a WriteMany call.
type Edit struct {
	Path    string
	Content []byte
	Delete  bool
}

// CreateBranchOptions choose where a new branch starts. Head is resolved
// like ResolveCommit; empty means the default branch tip.
type CreateBranchOptions struct {
	Head string
}

// MergeOptions apply to merges. Head is the target branch, the default
// branch when empty.
type MergeOptions struct {
	Head    string
	Message string
	Author  object.Ident
}

// BranchesOptions filter and annotate Branches. Base defaults to the
// default branch.
type BranchesOptions struct {
	Base     string
	Author   string
	DiffStat bool
}

// DiffStat summarizes a diff.
type DiffStat struct {
	FilesChanged int `json:"files_changed"`
	Additions    int `json:"additions"`
	Deletions    int `json:"deletions"`
}

// BranchInfo describes one branch.
type BranchInfo struct {
	Name   string      `json:"name"`
	Commit *CommitInfo `json:"commit"`
	Stat   *DiffStat   `json:"stat,omitempty"`
}

// DiffOptions restrict a diff. Paths must lie inside the workspace
// directory.
type DiffOptions struct {
	Paths     []string
	NoRenames bool
	NoPatch   bool
}

// DiffResult is a tree diff between two commits. Commits holds the from and
// to commit; from is nil when diffing against an empty tree.
type DiffResult struct {
	Commits      [2]*CommitInfo    `json:"commits"`
	FilesChanged int               `json:"files_changed"`
	Additions    int               `json:"additions"`
	Deletions    int               `json:"deletions"`
	Changes      []diff.FileChange `json:"changes"`
}

// ByType groups the changes by kind.
func (d *DiffResult) ByType() map[diff.ChangeType][]diff.FileChange {
	out := make(map[diff.ChangeType][]diff.FileChange)
	for _, c := range d.Changes {
		out[c.Type] = append(out[c.Type], c)
	}
	return out
}

// Stat returns the aggregate counts.
func (d *DiffResult) Stat() DiffStat {
	return DiffStat{FilesChanged: d.FilesChanged, Additions: d.Additions, Deletions: d.Deletions}
}

// Analysis classifies a merge of a source commit into a target branch.
type Analysis int

const (
	UpToDate    Analysis = iota // source already reachable from target
	FastForward                 // target is an ancestor of source
	Normal                      // histories diverged; three-way merge
	Unborn                      // target has no commits
)

func (a Analysis) String() string {
	switch a {
	case UpToDate:
		return "up-to-date"
	case FastForward:
		return "fast-forward"
	case Normal:
		return "normal"
	case Unborn:
		return "unborn"
	default:
		return "unknown"
	}
}

// ConflictSide is one side of a conflicted path. Content is the blob data.
type ConflictSide struct {
	Path    string      `json:"path"`
	Hash    object.Hash `json:"hash"`
	Mode    string      `json:"mode"`
	Content []byte      `json:"content"`
}

// Conflict is a path the three-way merge could not resolve. A nil side was
// absent in that tree. MergeFile is ours and theirs with conflict markers.
type Conflict struct {
	Path      string        `json:"path"`
	Ancestor  *ConflictSide `json:"ancestor"`
	Ours      *ConflictSide `json:"ours"`
	Theirs    *ConflictSide `json:"theirs"`
	MergeFile string        `json:"merge_file"`
}

// MergeResult is the outcome of MergeBranch. On success Commit is the new
// target tip; otherwise Conflicts lists every unresolved path and nothing
// was committed.
type MergeResult struct {
	Success   bool        `json:"success"`
	Analysis  Analysis    `json:"analysis"`
	Commit    *CommitInfo `json:"commit,omitempty"`
	OrigHead  *CommitInfo `json:"orig_head,omitempty"`
	MergeHead *CommitInfo `json:"merge_head,omitempty"`
	MergeBase *CommitInfo `json:"merge_base,omitempty"`
	Conflicts []Conflict  `json:"conflicts,omitempty"`
}

func conflictSide(store *object.Store, e *repo.TreeFileEntry) (*ConflictSide, error) {
	if e == nil {
		return nil, nil
	}
	b, err := store.ReadBlob(e.BlobHash)
	if err != nil {
		return nil, err
	}
	return &ConflictSide{Path: e.Path, Hash: e.BlobHash, Mode: e.Mode, Content: b.Data}, nil
}
