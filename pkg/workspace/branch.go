package workspace

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/odvcencio/docstore/pkg/diff"
	"github.com/odvcencio/docstore/pkg/object"
	"github.com/odvcencio/docstore/pkg/repo"
)

// CreateBranch creates a branch with a generated name at opts.Head, or at
// the default branch tip, publishes it and returns its name.
func (w *Workspace) CreateBranch(ctx context.Context, opts CreateBranchOptions) (string, error) {
	var name string
	err := w.run(ctx, opCreateBranch, func(ctx context.Context) error {
		var at object.Hash
		if strings.TrimSpace(opts.Head) != "" {
			h, err := w.resolve(opts.Head)
			if err != nil {
				return err
			}
			if h == "" {
				return fmt.Errorf("create branch at %q: %w", opts.Head, ErrBranchNotFound)
			}
			at = h
		} else {
			tip, err := w.defaultTip()
			if err != nil {
				return err
			}
			if tip == "" {
				return fmt.Errorf("create branch: default branch %q has no commits", w.defaultBranch)
			}
			at = tip
		}

		name = uuid.NewString()
		if err := w.publish(ctx, name, at); err != nil {
			name = ""
			return err
		}
		return nil
	})
	return name, err
}

// DeleteBranch removes a branch on origin and locally. The default branch
// cannot be deleted.
func (w *Workspace) DeleteBranch(ctx context.Context, name string) error {
	return w.run(ctx, opDeleteBranch, func(ctx context.Context) error {
		if err := repo.ValidateBranchName(name); err != nil {
			return err
		}
		if name == w.defaultBranch {
			return fmt.Errorf("delete branch: cannot delete default branch %q", name)
		}
		_, exists, err := w.branchTip(name)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("delete branch %q: %w", name, ErrBranchNotFound)
		}
		return w.unpublish(ctx, name)
	})
}

// Branches lists every branch except the base. With an author filter only
// branches holding a commit not reachable from the base whose author name
// or email matches are kept. DiffStat annotates each branch with the diff
// from its merge base with the base branch.
func (w *Workspace) Branches(ctx context.Context, opts BranchesOptions) ([]BranchInfo, error) {
	var out []BranchInfo
	err := w.run(ctx, opBranches, func(ctx context.Context) error {
		base, err := w.branchOrDefault(opts.Base)
		if err != nil {
			return err
		}
		baseTip, _, err := w.branchTip(base)
		if err != nil {
			return err
		}
		names, err := w.branchNames()
		if err != nil {
			return err
		}

		var baseCommits map[object.Hash]struct{}
		author := strings.TrimSpace(opts.Author)
		if author != "" {
			if baseCommits, err = w.commitSet(baseTip); err != nil {
				return err
			}
		}

		out = []BranchInfo{}
		for _, name := range names {
			if name == base {
				continue
			}
			tip, exists, err := w.branchTip(name)
			if err != nil {
				return err
			}
			if !exists {
				continue
			}
			if author != "" {
				ok, err := w.authoredSince(tip, baseCommits, author)
				if err != nil {
					return err
				}
				if !ok {
					continue
				}
			}
			info, err := w.commitInfo(tip)
			if err != nil {
				return err
			}
			bi := BranchInfo{Name: name, Commit: info}
			if opts.DiffStat {
				if bi.Stat, err = w.branchStat(baseTip, tip); err != nil {
					return err
				}
			}
			out = append(out, bi)
		}
		return nil
	})
	return out, err
}

// branchNames is the sorted union of local and origin branches.
func (w *Workspace) branchNames() ([]string, error) {
	local, err := w.repo.ListBranches()
	if err != nil {
		return nil, err
	}
	tracking, err := w.repo.TrackingBranches()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(local)+len(tracking))
	names := make([]string, 0, len(local)+len(tracking))
	for _, b := range local {
		seen[b] = struct{}{}
		names = append(names, b)
	}
	for b := range tracking {
		if _, ok := seen[b]; !ok {
			names = append(names, b)
		}
	}
	sort.Strings(names)
	return names, nil
}

// commitSet collects every commit reachable from tip.
func (w *Workspace) commitSet(tip object.Hash) (map[object.Hash]struct{}, error) {
	set := make(map[object.Hash]struct{})
	err := w.repo.WalkLog(tip, func(e repo.LogEntry) bool {
		set[e.Hash] = struct{}{}
		return true
	})
	return set, err
}

// authoredSince reports whether a commit reachable from tip but not in
// exclude has an author whose name or email equals who.
func (w *Workspace) authoredSince(tip object.Hash, exclude map[object.Hash]struct{}, who string) (bool, error) {
	found := false
	err := w.repo.WalkLog(tip, func(e repo.LogEntry) bool {
		if _, ok := exclude[e.Hash]; ok {
			return true
		}
		id := object.ParseIdent(e.Commit.Author)
		if strings.EqualFold(id.Email, who) || id.Name == who {
			found = true
			return false
		}
		return true
	})
	return found, err
}

func (w *Workspace) branchStat(baseTip, tip object.Hash) (*DiffStat, error) {
	from := object.Hash("")
	if baseTip != "" {
		mb, err := w.repo.FindMergeBase(baseTip, tip)
		if err != nil {
			return nil, err
		}
		from = mb
	}
	fromTree, err := w.repo.CommitTreeHash(from)
	if err != nil {
		return nil, err
	}
	toTree, err := w.repo.CommitTreeHash(tip)
	if err != nil {
		return nil, err
	}
	res, err := diff.Trees(w.repo.Store, fromTree, toTree, diff.Options{Paths: w.scopePaths(), NoPatch: true})
	if err != nil {
		return nil, err
	}
	return &DiffStat{FilesChanged: res.FilesChanged, Additions: res.Additions, Deletions: res.Deletions}, nil
}

func (w *Workspace) scopePaths() []string {
	if w.directory == "" {
		return nil
	}
	return []string{w.directory}
}
