package repo

import (
	"fmt"
	"time"

	"github.com/odvcencio/docstore/pkg/object"
)

// CommitSigner signs canonical commit payload bytes and returns an encoded
// signature string to be persisted in CommitObj.Signature.
type CommitSigner func(payload []byte) (string, error)

// CommitRequest describes a commit to write. Committer and CommitTime
// default to Author and AuthorTime.
type CommitRequest struct {
	Tree       object.Hash
	Parents    []object.Hash
	Author     object.Ident
	AuthorTime time.Time
	Committer  object.Ident
	CommitTime time.Time
	Message    string
	Signer     CommitSigner
}

// CommitTree writes a commit object for req and returns its hash. Refs are
// not touched; callers publish the commit themselves.
func (r *Repo) CommitTree(req CommitRequest) (object.Hash, error) {
	if req.Tree == "" {
		return "", fmt.Errorf("commit: tree hash is required")
	}
	if req.AuthorTime.IsZero() {
		req.AuthorTime = time.Now()
	}
	if req.Committer.IsZero() {
		req.Committer = req.Author
	}
	if req.CommitTime.IsZero() {
		req.CommitTime = req.AuthorTime
	}

	commitObj := &object.CommitObj{
		TreeHash:           req.Tree,
		Parents:            append([]object.Hash(nil), req.Parents...),
		Author:             req.Author.String(),
		Timestamp:          req.AuthorTime.Unix(),
		Committer:          req.Committer.String(),
		CommitterTimestamp: req.CommitTime.Unix(),
		Message:            req.Message,
	}
	if req.Signer != nil {
		signature, err := req.Signer(object.CommitSigningPayload(commitObj))
		if err != nil {
			return "", fmt.Errorf("commit: sign commit: %w", err)
		}
		commitObj.Signature = signature
	}

	commitHash, err := r.Store.WriteCommit(commitObj)
	if err != nil {
		return "", fmt.Errorf("commit: write commit: %w", err)
	}
	return commitHash, nil
}

// CommitTreeHash returns the root tree of a commit, or "" for an empty
// commit hash (an unborn branch).
func (r *Repo) CommitTreeHash(commit object.Hash) (object.Hash, error) {
	if commit == "" {
		return "", nil
	}
	c, err := r.Store.ReadCommit(commit)
	if err != nil {
		return "", fmt.Errorf("read commit %s: %w", commit, err)
	}
	return c.TreeHash, nil
}
