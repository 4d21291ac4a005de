package workspace

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/odvcencio/docstore/pkg/diff"
	"github.com/odvcencio/docstore/pkg/object"
	"github.com/odvcencio/docstore/pkg/repo"
)

// ResolveCommit resolves ref to a commit: "" or HEAD is the default branch
// tip, then a branch name, a full ref name, a full hash, or a unique hash
// prefix of at least 4 characters. Anything that does not resolve to a
// commit yields nil.
func (w *Workspace) ResolveCommit(ctx context.Context, ref string) *CommitInfo {
	var out *CommitInfo
	err := w.run(ctx, opResolveCommit, func(ctx context.Context) error {
		h, err := w.resolve(ref)
		if err != nil || h == "" {
			return err
		}
		out, err = w.commitInfo(h)
		return err
	})
	if err != nil {
		return nil
	}
	return out
}

// resolve returns "" for anything that is not a commit.
func (w *Workspace) resolve(ref string) (object.Hash, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" || ref == "HEAD" {
		return w.defaultTip()
	}
	if strings.HasPrefix(ref, "refs/") {
		h, err := w.repo.ResolveRef(ref)
		if errors.Is(err, repo.ErrInvalidRefName) || errors.Is(err, repo.ErrRefNotFound) {
			return "", nil
		}
		if err != nil {
			return "", err
		}
		return w.ifCommit(h)
	}
	if repo.ValidateBranchName(ref) == nil {
		tip, exists, err := w.branchTip(ref)
		if err != nil {
			return "", err
		}
		if exists {
			return tip, nil
		}
	}
	if object.ValidateHash(object.Hash(ref)) == nil {
		return w.ifCommit(object.Hash(ref))
	}
	matches, err := w.repo.Store.FindPrefix(ref)
	if err != nil {
		return "", nil
	}
	var found object.Hash
	for _, h := range matches {
		c, err := w.ifCommit(h)
		if err != nil {
			return "", err
		}
		if c == "" {
			continue
		}
		if found != "" {
			return "", nil
		}
		found = c
	}
	return found, nil
}

func (w *Workspace) ifCommit(h object.Hash) (object.Hash, error) {
	if h == "" {
		return "", nil
	}
	typ, _, err := w.repo.Store.Read(h)
	if errors.Is(err, object.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if typ != object.TypeCommit {
		return "", nil
	}
	return h, nil
}

// readCommit picks the commit a read sees. A missing branch or unknown
// ref yields "".
func (w *Workspace) readCommit(branch, ref string) (object.Hash, error) {
	if strings.TrimSpace(ref) != "" {
		return w.resolve(ref)
	}
	b, err := w.branchOrDefault(branch)
	if err != nil {
		return "", nil
	}
	tip, _, err := w.branchTip(b)
	return tip, err
}

// List returns every file in scope at the selected commit, sorted by path.
// It returns nil when the branch or ref does not resolve.
func (w *Workspace) List(ctx context.Context, opts ReadOptions) ([]Entry, error) {
	var out []Entry
	err := w.run(ctx, opList, func(ctx context.Context) error {
		h, err := w.readCommit(opts.Branch, opts.Ref)
		if err != nil || h == "" {
			return err
		}
		files, err := w.scopedFiles(h)
		if err != nil {
			return err
		}
		out = make([]Entry, 0, len(files))
		for _, f := range files {
			out = append(out, Entry{Path: f.Path, Hash: f.BlobHash, Mode: f.Mode})
		}
		return nil
	})
	return out, err
}

func (w *Workspace) scopedFiles(commit object.Hash) ([]repo.TreeFileEntry, error) {
	tree, err := w.repo.CommitTreeHash(commit)
	if err != nil {
		return nil, err
	}
	return repo.FlattenSubtree(w.repo.Store, tree, w.directory)
}

// Log returns up to opts.Limit commits reachable from the selected commit,
// newest committer time first.
func (w *Workspace) Log(ctx context.Context, opts LogOptions) ([]*CommitInfo, error) {
	var out []*CommitInfo
	err := w.run(ctx, opLog, func(ctx context.Context) error {
		h, err := w.readCommit(opts.Branch, opts.Ref)
		if err != nil || h == "" {
			return err
		}
		limit := opts.Limit
		if limit <= 0 {
			limit = DefaultLogLimit
		}
		entries, err := w.repo.Log(h, limit)
		if err != nil {
			return err
		}
		out = make([]*CommitInfo, 0, len(entries))
		for _, e := range entries {
			out = append(out, newCommitInfo(e.Hash, e.Commit))
		}
		return nil
	})
	return out, err
}

// Read returns the document at path together with the most recent
// single-parent commits that changed it, newest first. It returns nil when
// the branch, ref or path does not exist.
func (w *Workspace) Read(ctx context.Context, path string, opts ReadOptions) (*Document, error) {
	var out *Document
	err := w.run(ctx, opRead, func(ctx context.Context) error {
		p, err := w.checkPath(path)
		if err != nil {
			return err
		}
		h, err := w.readCommit(opts.Branch, opts.Ref)
		if err != nil || h == "" {
			return err
		}
		tree, err := w.repo.CommitTreeHash(h)
		if err != nil {
			return err
		}
		entry, found, err := repo.EntryAtPath(w.repo.Store, tree, p)
		if err != nil || !found || entry.IsDir {
			return err
		}
		blob, err := w.repo.Store.ReadBlob(entry.BlobHash)
		if err != nil {
			return err
		}
		commit, err := w.commitInfo(h)
		if err != nil {
			return err
		}
		commits, err := w.pathHistory(h, p, DefaultLogLimit)
		if err != nil {
			return err
		}
		out = &Document{
			Path:    p,
			Content: blob.Data,
			Hash:    entry.BlobHash,
			Mode:    entry.Mode,
			Commit:  commit,
			Commits: commits,
		}
		return nil
	})
	return out, err
}

// pathHistory walks history from start and keeps single-parent commits
// whose entry at p differs from their parent's.
func (w *Workspace) pathHistory(start object.Hash, p string, limit int) ([]*CommitInfo, error) {
	out := []*CommitInfo{}
	var walkErr error
	err := w.repo.WalkLog(start, func(e repo.LogEntry) bool {
		if len(e.Commit.Parents) != 1 {
			return true
		}
		changed, err := w.touches(e.Commit, p)
		if err != nil {
			walkErr = err
			return false
		}
		if changed {
			out = append(out, newCommitInfo(e.Hash, e.Commit))
		}
		return len(out) < limit
	})
	if err != nil {
		return nil, err
	}
	return out, walkErr
}

func (w *Workspace) touches(c *object.CommitObj, p string) (bool, error) {
	parentTree, err := w.repo.CommitTreeHash(c.Parents[0])
	if err != nil {
		return false, err
	}
	before, inBefore, err := repo.EntryAtPath(w.repo.Store, parentTree, p)
	if err != nil {
		return false, err
	}
	after, inAfter, err := repo.EntryAtPath(w.repo.Store, c.TreeHash, p)
	if err != nil {
		return false, err
	}
	if inBefore != inAfter {
		return true, nil
	}
	return inAfter && (before.Hash() != after.Hash() || before.Mode != after.Mode), nil
}

// ReadAll returns every file in scope at the selected commit, flat or as a
// directory tree rooted at the workspace directory. It returns nil when the
// branch or ref does not resolve.
func (w *Workspace) ReadAll(ctx context.Context, opts ReadAllOptions) (*Snapshot, error) {
	var out *Snapshot
	err := w.run(ctx, opReadAll, func(ctx context.Context) error {
		h, err := w.readCommit(opts.Branch, opts.Ref)
		if err != nil || h == "" {
			return err
		}
		entries, err := w.scopedFiles(h)
		if err != nil {
			return err
		}
		files := make([]File, 0, len(entries))
		for _, e := range entries {
			blob, err := w.repo.Store.ReadBlob(e.BlobHash)
			if err != nil {
				return err
			}
			files = append(files, File{Path: e.Path, Content: blob.Data, Hash: e.BlobHash, Mode: e.Mode})
		}
		commit, err := w.commitInfo(h)
		if err != nil {
			return err
		}
		out = &Snapshot{Commit: commit}
		if opts.Mode == Nested {
			out.Root = w.nest(files)
		} else {
			out.Files = files
		}
		return nil
	})
	return out, err
}

// nest arranges path-sorted files into directories below the workspace
// directory.
func (w *Workspace) nest(files []File) *Dir {
	root := &Dir{Path: w.directory}
	if i := strings.LastIndexByte(w.directory, '/'); i >= 0 {
		root.Name = w.directory[i+1:]
	} else {
		root.Name = w.directory
	}
	dirs := map[string]*Dir{w.directory: root}

	var dirFor func(p string) *Dir
	dirFor = func(p string) *Dir {
		if d, ok := dirs[p]; ok {
			return d
		}
		parent, name := "", p
		if i := strings.LastIndexByte(p, '/'); i >= 0 {
			parent, name = p[:i], p[i+1:]
		}
		d := &Dir{Name: name, Path: p}
		pd := dirFor(parent)
		pd.Dirs = append(pd.Dirs, d)
		dirs[p] = d
		return d
	}

	for _, f := range files {
		parent := ""
		if i := strings.LastIndexByte(f.Path, '/'); i >= 0 {
			parent = f.Path[:i]
		}
		d := dirFor(parent)
		d.Files = append(d.Files, f)
	}
	return root
}

// Diff compares two commits. An empty to means the default branch tip. It
// returns nil when either side does not resolve.
func (w *Workspace) Diff(ctx context.Context, from, to string, opts DiffOptions) (*DiffResult, error) {
	var out *DiffResult
	err := w.run(ctx, opDiff, func(ctx context.Context) error {
		a, err := w.resolve(from)
		if err != nil || a == "" {
			return err
		}
		b, err := w.resolve(to)
		if err != nil || b == "" {
			return err
		}
		out, err = w.diffCommits(a, b, opts)
		return err
	})
	return out, err
}

// Show diffs a commit against its first parent, or against the empty tree
// for a root commit. It returns nil when ref does not resolve.
func (w *Workspace) Show(ctx context.Context, ref string) (*DiffResult, error) {
	var out *DiffResult
	err := w.run(ctx, opShow, func(ctx context.Context) error {
		h, err := w.resolve(ref)
		if err != nil || h == "" {
			return err
		}
		c, err := w.repo.Store.ReadCommit(h)
		if err != nil {
			return err
		}
		var parent object.Hash
		if len(c.Parents) > 0 {
			parent = c.Parents[0]
		}
		out, err = w.diffCommits(parent, h, DiffOptions{})
		return err
	})
	return out, err
}

// diffCommits diffs the trees of two commits within scope. from may be ""
// for the empty tree.
func (w *Workspace) diffCommits(from, to object.Hash, opts DiffOptions) (*DiffResult, error) {
	paths := w.scopePaths()
	if len(opts.Paths) > 0 {
		paths = paths[:0]
		for _, p := range opts.Paths {
			clean, err := w.checkPath(p)
			if err != nil {
				return nil, err
			}
			paths = append(paths, clean)
		}
	}
	fromTree, err := w.repo.CommitTreeHash(from)
	if err != nil {
		return nil, err
	}
	toTree, err := w.repo.CommitTreeHash(to)
	if err != nil {
		return nil, err
	}
	res, err := diff.Trees(w.repo.Store, fromTree, toTree, diff.Options{
		Paths:     paths,
		NoRenames: opts.NoRenames,
		NoPatch:   opts.NoPatch,
	})
	if err != nil {
		return nil, err
	}
	out := &DiffResult{
		FilesChanged: res.FilesChanged,
		Additions:    res.Additions,
		Deletions:    res.Deletions,
		Changes:      res.Changes,
	}
	if out.Commits[0], err = w.commitInfo(from); err != nil {
		return nil, err
	}
	if out.Commits[1], err = w.commitInfo(to); err != nil {
		return nil, err
	}
	return out, nil
}

// Reflog returns how the local copy of branch (default: the default
// branch) moved, newest first, up to limit entries (<= 0 means
// DefaultLogLimit). It reads the local journal and never fetches.
func (w *Workspace) Reflog(ctx context.Context, branch string, limit int) ([]RefChange, error) {
	var out []RefChange
	err := w.run(ctx, opReflog, func(ctx context.Context) error {
		b, err := w.branchOrDefault(branch)
		if err != nil {
			return err
		}
		if limit <= 0 {
			limit = DefaultLogLimit
		}
		entries, err := w.repo.ReadReflog(repo.BranchRef(b), limit)
		if err != nil {
			return err
		}
		out = make([]RefChange, 0, len(entries))
		for _, e := range entries {
			out = append(out, RefChange{
				Ref:    e.Ref,
				Old:    e.OldHash,
				New:    e.NewHash,
				Time:   time.Unix(e.Timestamp, 0).UTC(),
				Reason: e.Reason,
			})
		}
		return nil
	})
	return out, err
}
