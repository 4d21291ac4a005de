package workspace

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/odvcencio/docstore/pkg/diff3"
	"github.com/odvcencio/docstore/pkg/object"
	"github.com/odvcencio/docstore/pkg/repo"
)

// MergeAnalysis classifies merging source into the target branch without
// touching origin.
func (w *Workspace) MergeAnalysis(ctx context.Context, target, source string) (Analysis, error) {
	var out Analysis
	err := w.run(ctx, opMergeAnalysis, func(ctx context.Context) error {
		branch, err := w.branchOrDefault(target)
		if err != nil {
			return err
		}
		tip, _, err := w.branchTip(branch)
		if err != nil {
			return err
		}
		src, err := w.resolve(source)
		if err != nil {
			return err
		}
		if src == "" {
			return fmt.Errorf("merge analysis: %q: %w", source, ErrBranchNotFound)
		}
		out, err = w.analyze(tip, src)
		return err
	})
	return out, err
}

func (w *Workspace) analyze(tip, src object.Hash) (Analysis, error) {
	if tip == "" {
		return Unborn, nil
	}
	upToDate, err := w.repo.IsAncestor(src, tip)
	if err != nil {
		return 0, err
	}
	if upToDate {
		return UpToDate, nil
	}
	ff, err := w.repo.IsAncestor(tip, src)
	if err != nil {
		return 0, err
	}
	if ff {
		return FastForward, nil
	}
	return Normal, nil
}

// MergeBranch merges source into opts.Head. Up-to-date merges change
// nothing; fast-forward and unborn merges move the target to source; a
// normal merge commits with parents [target tip, source] when every path
// merges cleanly and otherwise reports the conflicts without committing.
func (w *Workspace) MergeBranch(ctx context.Context, source string, opts MergeOptions) (*MergeResult, error) {
	var out *MergeResult
	err := w.run(ctx, opMergeBranch, func(ctx context.Context) error {
		target, err := w.branchOrDefault(opts.Head)
		if err != nil {
			return err
		}
		tip, _, err := w.branchTip(target)
		if err != nil {
			return err
		}
		src, err := w.resolve(source)
		if err != nil {
			return err
		}
		if src == "" {
			return fmt.Errorf("merge %q: %w", source, ErrBranchNotFound)
		}
		analysis, err := w.analyze(tip, src)
		if err != nil {
			return err
		}

		res := &MergeResult{Analysis: analysis}
		if res.OrigHead, err = w.commitInfo(tip); err != nil {
			return err
		}
		if res.MergeHead, err = w.commitInfo(src); err != nil {
			return err
		}
		base, err := w.repo.FindMergeBase(tip, src)
		if err != nil {
			return err
		}
		if res.MergeBase, err = w.commitInfo(base); err != nil {
			return err
		}

		switch analysis {
		case UpToDate:
			res.Success = true
			res.Commit = res.OrigHead
			out = res
			return nil
		case FastForward, Unborn:
			if err := w.publish(ctx, target, src); err != nil {
				return err
			}
			res.Success = true
			res.Commit = res.MergeHead
			out = res
			return nil
		}

		merged, err := w.mergeTrees(base, tip, src, target, source)
		if err != nil {
			return err
		}
		if !merged.Clean() {
			if err := w.checkConflictScope(merged.Conflicts, target, source); err != nil {
				return err
			}
			if res.Conflicts, err = w.conflicts(merged.Conflicts); err != nil {
				return err
			}
			w.logger.Info("merge has conflicts", "branch", target, "source", source,
				"conflicts", len(res.Conflicts))
			out = res
			return nil
		}
		commit, err := w.commitMerge(ctx, merged.Index, tip, src, target, source, opts)
		if err != nil {
			return err
		}
		res.Success = true
		res.Commit = commit
		out = res
		return nil
	})
	return out, err
}

// MergePreview returns the changes merging source would bring: the diff
// from the merge base to source. It returns nil when source does not
// resolve.
func (w *Workspace) MergePreview(ctx context.Context, source string, opts MergeOptions) (*DiffResult, error) {
	var out *DiffResult
	err := w.run(ctx, opMergePreview, func(ctx context.Context) error {
		target, err := w.branchOrDefault(opts.Head)
		if err != nil {
			return err
		}
		tip, _, err := w.branchTip(target)
		if err != nil {
			return err
		}
		src, err := w.resolve(source)
		if err != nil || src == "" {
			return err
		}
		base, err := w.repo.FindMergeBase(tip, src)
		if err != nil {
			return err
		}
		out, err = w.diffCommits(base, src, DiffOptions{})
		return err
	})
	return out, err
}

// WriteMergeBranch completes a conflicted merge of source into opts.Head.
// origHead and mergeHead are the heads the conflicts were reported for; if
// either branch moved since, it fails with a *StaleMergeError. files holds
// the resolution of every conflicted path and may override any other path
// in scope. A nil value resolves the path by removing it; use an empty
// slice for an empty file.
func (w *Workspace) WriteMergeBranch(ctx context.Context, files map[string][]byte, source string, origHead, mergeHead object.Hash, opts MergeOptions) (*CommitInfo, error) {
	var out *CommitInfo
	err := w.run(ctx, opWriteMergeBranch, func(ctx context.Context) error {
		target, err := w.branchOrDefault(opts.Head)
		if err != nil {
			return err
		}
		tip, _, err := w.branchTip(target)
		if err != nil {
			return err
		}
		if tip != origHead {
			return &StaleMergeError{Ref: target, Expected: origHead, Actual: tip}
		}
		src, err := w.resolve(source)
		if err != nil {
			return err
		}
		if src != mergeHead {
			return &StaleMergeError{Ref: source, Expected: mergeHead, Actual: src}
		}
		if tip == "" || src == "" {
			return fmt.Errorf("write merge: %w", ErrBranchNotFound)
		}

		base, err := w.repo.FindMergeBase(tip, src)
		if err != nil {
			return err
		}
		merged, err := w.mergeTrees(base, tip, src, target, source)
		if err != nil {
			return err
		}
		if err := w.checkConflictScope(merged.Conflicts, target, source); err != nil {
			return err
		}
		paths := make([]string, 0, len(files))
		for p := range files {
			paths = append(paths, p)
		}
		sort.Strings(paths)
		resolved := make(map[string]bool, len(paths))
		for _, p := range paths {
			clean, err := w.checkPath(p)
			if err != nil {
				return err
			}
			resolved[clean] = true
			if files[p] == nil {
				merged.Index.Remove(clean)
				continue
			}
			if _, err := merged.Index.AddBlob(clean, files[p]); err != nil {
				return err
			}
		}
		if left := unresolved(merged, resolved); len(left) > 0 {
			return fmt.Errorf("write merge: %w: %s", repo.ErrUnresolvedConflicts, strings.Join(left, ", "))
		}
		out, err = w.commitMerge(ctx, merged.Index, tip, src, target, source, opts)
		return err
	})
	return out, err
}

// checkConflictScope refuses a merge with any conflict outside the
// workspace directory. The error counts those paths without naming them.
func (w *Workspace) checkConflictScope(conflicts []repo.FileConflict, target, source string) error {
	outside := 0
	for _, c := range conflicts {
		if !w.inScope(c.Path) {
			outside++
		}
	}
	if outside > 0 {
		return fmt.Errorf("merge %s into %s: %d conflicting paths outside %q: %w",
			source, target, outside, w.directory, ErrOutOfScope)
	}
	return nil
}

// unresolved lists the conflicts files did not cover plus any conflict
// stage still in the index, sorted.
func unresolved(merged *repo.TreeMergeResult, resolved map[string]bool) []string {
	seen := map[string]bool{}
	var left []string
	for _, c := range merged.Conflicts {
		if !resolved[c.Path] && !seen[c.Path] {
			seen[c.Path] = true
			left = append(left, c.Path)
		}
	}
	for _, c := range merged.Index.Conflicts() {
		if !seen[c.Path] {
			seen[c.Path] = true
			left = append(left, c.Path)
		}
	}
	sort.Strings(left)
	return left
}

func (w *Workspace) mergeTrees(base, tip, src object.Hash, target, source string) (*repo.TreeMergeResult, error) {
	baseTree, err := w.repo.CommitTreeHash(base)
	if err != nil {
		return nil, err
	}
	oursTree, err := w.repo.CommitTreeHash(tip)
	if err != nil {
		return nil, err
	}
	theirsTree, err := w.repo.CommitTreeHash(src)
	if err != nil {
		return nil, err
	}
	return repo.MergeTrees(w.repo.Store, baseTree, oursTree, theirsTree, diff3.Labels{Ours: target, Theirs: source})
}

func (w *Workspace) commitMerge(ctx context.Context, idx *repo.Index, tip, src object.Hash, target, source string, opts MergeOptions) (*CommitInfo, error) {
	tree, err := idx.WriteTree()
	if err != nil {
		return nil, err
	}
	message := opts.Message
	if message == "" {
		message = fmt.Sprintf("Merge branch '%s' into %s", source, target)
	}
	commit, err := w.commit(tree, []object.Hash{tip, src}, opts.Author, message)
	if err != nil {
		return nil, err
	}
	if err := w.publish(ctx, target, commit); err != nil {
		return nil, err
	}
	return w.commitInfo(commit)
}

func (w *Workspace) conflicts(in []repo.FileConflict) ([]Conflict, error) {
	out := make([]Conflict, 0, len(in))
	for _, fc := range in {
		c := Conflict{Path: fc.Path, MergeFile: string(fc.MergeFileText)}
		var err error
		if c.Ancestor, err = conflictSide(w.repo.Store, fc.Ancestor); err != nil {
			return nil, err
		}
		if c.Ours, err = conflictSide(w.repo.Store, fc.Ours); err != nil {
			return nil, err
		}
		if c.Theirs, err = conflictSide(w.repo.Store, fc.Theirs); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
