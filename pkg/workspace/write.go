package workspace

import (
	"context"
	"fmt"

	"github.com/odvcencio/docstore/pkg/object"
	"github.com/odvcencio/docstore/pkg/repo"
)

// Write stores content at path and commits it. It returns nil when the
// file already holds exactly content.
func (w *Workspace) Write(ctx context.Context, path string, content []byte, opts WriteOptions) (*CommitInfo, error) {
	var out *CommitInfo
	err := w.run(ctx, opWrite, func(ctx context.Context) error {
		var err error
		out, err = w.commitEdits(ctx, []Edit{{Path: path, Content: content}}, opts, DefaultWriteMessage)
		return err
	})
	return out, err
}

// WriteMany applies every edit in one commit. It returns nil when the
// edits leave the tree unchanged.
func (w *Workspace) WriteMany(ctx context.Context, edits []Edit, opts WriteOptions) (*CommitInfo, error) {
	var out *CommitInfo
	err := w.run(ctx, opWriteMany, func(ctx context.Context) error {
		var err error
		out, err = w.commitEdits(ctx, edits, opts, DefaultWriteMessage)
		return err
	})
	return out, err
}

// Delete removes path and commits. It returns nil when path does not
// exist.
func (w *Workspace) Delete(ctx context.Context, path string, opts WriteOptions) (*CommitInfo, error) {
	var out *CommitInfo
	err := w.run(ctx, opDelete, func(ctx context.Context) error {
		var err error
		out, err = w.commitEdits(ctx, []Edit{{Path: path, Delete: true}}, opts, DefaultDeleteMessage)
		return err
	})
	return out, err
}

// commitEdits stages edits on top of the branch tip. A branch that exists
// neither locally nor on origin starts at the default branch tip and is
// published even when the edits change nothing.
func (w *Workspace) commitEdits(ctx context.Context, edits []Edit, opts WriteOptions, defaultMessage string) (*CommitInfo, error) {
	if len(edits) == 0 {
		return nil, nil
	}
	for i := range edits {
		p, err := w.checkPath(edits[i].Path)
		if err != nil {
			return nil, err
		}
		edits[i].Path = p
	}
	branch, err := w.branchOrDefault(opts.Branch)
	if err != nil {
		return nil, err
	}
	tip, exists, err := w.branchTip(branch)
	if err != nil {
		return nil, err
	}
	if !exists && branch != w.defaultBranch {
		if tip, err = w.defaultTip(); err != nil {
			return nil, err
		}
	}

	tree, err := w.repo.CommitTreeHash(tip)
	if err != nil {
		return nil, err
	}
	idx, err := repo.LoadIndex(w.repo.Store, tree)
	if err != nil {
		return nil, err
	}
	for _, e := range edits {
		if e.Delete {
			idx.Remove(e.Path)
			continue
		}
		if _, err := idx.AddBlob(e.Path, e.Content); err != nil {
			return nil, err
		}
	}
	newTree := tree
	if tree != "" || idx.Len() > 0 {
		if newTree, err = idx.WriteTree(); err != nil {
			return nil, err
		}
	}

	if newTree == tree {
		if !exists && tip != "" {
			if err := w.publish(ctx, branch, tip); err != nil {
				return nil, err
			}
		}
		w.logger.Debug("no-op write", "branch", branch)
		return nil, nil
	}

	message := opts.Message
	if message == "" {
		message = defaultMessage
	}
	var parents []object.Hash
	if tip != "" {
		parents = []object.Hash{tip}
	}
	commit, err := w.commit(newTree, parents, opts.Author, message)
	if err != nil {
		return nil, err
	}
	if err := w.publish(ctx, branch, commit); err != nil {
		return nil, err
	}
	return w.commitInfo(commit)
}

// commit writes a commit object stamped with the workspace clock. author
// defaults to the configured committer.
func (w *Workspace) commit(tree object.Hash, parents []object.Hash, author object.Ident, message string) (object.Hash, error) {
	if author.IsZero() {
		author = w.committer
	}
	now := w.now()
	h, err := w.repo.CommitTree(repo.CommitRequest{
		Tree:       tree,
		Parents:    parents,
		Author:     author,
		AuthorTime: now,
		Committer:  w.committer,
		CommitTime: now,
		Message:    message,
		Signer:     w.signer,
	})
	if err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return h, nil
}
