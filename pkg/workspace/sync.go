package workspace

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/odvcencio/docstore/pkg/object"
	"github.com/odvcencio/docstore/pkg/remote"
	"github.com/odvcencio/docstore/pkg/repo"
)

// Fetch retrieves every origin branch into the origin-tracking refs and
// fast-forwards the default branch. A diverged default branch is left
// alone. On a workspace that has not cloned yet the clone is the fetch.
func (w *Workspace) Fetch(ctx context.Context) error {
	return w.run(ctx, opFetch, func(context.Context) error { return nil })
}

// Push publishes local branches that are ahead of origin. With no names,
// every local branch is considered. Only fast-forwards are sent; origin
// rejects the update if it moved since the last fetch.
func (w *Workspace) Push(ctx context.Context, branches ...string) error {
	return w.run(ctx, opPush, func(ctx context.Context) error {
		if len(branches) == 0 {
			all, err := w.repo.ListBranches()
			if err != nil {
				return err
			}
			branches = all
		}
		for _, b := range branches {
			if err := w.pushBranch(ctx, b); err != nil {
				return err
			}
		}
		return nil
	})
}

func (w *Workspace) pushBranch(ctx context.Context, branch string) error {
	local, err := w.repo.LookupRef(repo.BranchRef(branch))
	if err != nil {
		return err
	}
	if local == "" {
		return fmt.Errorf("push %q: %w", branch, ErrBranchNotFound)
	}
	tracking, err := w.repo.LookupRef(repo.TrackingRef(branch))
	if err != nil {
		return err
	}
	if local == tracking {
		return nil
	}
	if tracking != "" {
		ff, err := w.repo.IsAncestor(tracking, local)
		if err != nil {
			return err
		}
		if !ff {
			return &TransportError{Op: "push", Err: fmt.Errorf("%w: %s would not fast-forward origin %s",
				remote.ErrRejected, branch, tracking.Short())}
		}
	}
	return w.publish(ctx, branch, local)
}

func (w *Workspace) fetch(ctx context.Context) error {
	refs, err := w.transport.ListRefs(ctx)
	if err != nil {
		w.metrics.ObserveSync(w.name, "fetch", 0, err)
		return &TransportError{Op: "fetch", Err: err}
	}
	_, err = w.fetchRefs(ctx, refs)
	return err
}

// fetchRefs downloads the objects behind refs, mirrors the origin branches
// into the tracking refs and fast-forwards the default branch.
func (w *Workspace) fetchRefs(ctx context.Context, refs map[string]object.Hash) (int, error) {
	start := time.Now()
	heads := make(map[string]object.Hash)
	var wants []object.Hash
	for name, h := range refs {
		branch, ok := strings.CutPrefix(name, "heads/")
		if !ok || h == "" {
			continue
		}
		heads[branch] = h
		if !w.repo.Store.Has(h) {
			wants = append(wants, h)
		}
	}

	n := 0
	if len(wants) > 0 {
		haves, err := w.localTips()
		if err != nil {
			return 0, err
		}
		n, err = remote.FetchIntoStore(ctx, w.transport, w.repo.Store, object.UniqueHashes(wants), haves)
		w.metrics.ObserveSync(w.name, "fetch", n, err)
		if err != nil {
			return 0, &TransportError{Op: "fetch", Err: err}
		}
	} else {
		w.metrics.ObserveSync(w.name, "fetch", 0, nil)
	}

	tracking, err := w.repo.TrackingBranches()
	if err != nil {
		return n, err
	}
	names := make([]string, 0, len(heads))
	for b := range heads {
		names = append(names, b)
	}
	sort.Strings(names)
	for _, b := range names {
		if tracking[b] == heads[b] {
			continue
		}
		if err := w.repo.UpdateRef(repo.TrackingRef(b), heads[b], "fetch"); err != nil {
			return n, err
		}
	}
	for b := range tracking {
		if _, ok := heads[b]; ok {
			continue
		}
		if err := w.repo.DeleteRef(repo.TrackingRef(b)); err != nil && !errors.Is(err, repo.ErrRefNotFound) {
			return n, err
		}
	}

	if err := w.fastForwardDefault(heads[w.defaultBranch]); err != nil {
		return n, err
	}
	w.logger.Info("fetched", "branches", len(heads), "objects", n, "duration", time.Since(start))
	return n, nil
}

func (w *Workspace) fastForwardDefault(remoteTip object.Hash) error {
	if remoteTip == "" {
		return nil
	}
	ref := repo.BranchRef(w.defaultBranch)
	local, err := w.repo.LookupRef(ref)
	if err != nil {
		return err
	}
	switch {
	case local == remoteTip:
		return nil
	case local == "":
		return w.repo.CreateBranch(w.defaultBranch, remoteTip)
	}
	ff, err := w.repo.IsAncestor(local, remoteTip)
	if err != nil {
		return err
	}
	if !ff {
		w.logger.Warn("default branch diverged from origin, not fast-forwarding",
			"branch", w.defaultBranch, "local", local.Short(), "origin", remoteTip.Short())
		return nil
	}
	return w.repo.UpdateRefCAS(ref, remoteTip, local)
}

func (w *Workspace) localTips() ([]object.Hash, error) {
	refs, err := w.repo.ListRefs("")
	if err != nil {
		return nil, err
	}
	tips := make([]object.Hash, 0, len(refs))
	for _, h := range refs {
		if h != "" {
			tips = append(tips, h)
		}
	}
	return object.UniqueHashes(tips), nil
}

// publish makes tip the new head of branch: objects go to origin first,
// then origin's ref moves by compare-and-swap from the last fetched value,
// and only then do the local and tracking refs follow. A rejection leaves
// local refs untouched.
func (w *Workspace) publish(ctx context.Context, branch string, tip object.Hash) error {
	start := time.Now()
	old, err := w.repo.LookupRef(repo.TrackingRef(branch))
	if err != nil {
		return err
	}
	stops, err := w.trackingTips()
	if err != nil {
		return err
	}
	objs, err := remote.CollectObjectsForPush(w.repo.Store, []object.Hash{tip}, stops)
	if err != nil {
		return err
	}
	if len(objs) > 0 {
		if err := w.transport.PushObjects(ctx, objs); err != nil {
			w.metrics.ObserveSync(w.name, "push", 0, err)
			return &TransportError{Op: "push", Err: err}
		}
	}
	if _, err := w.transport.UpdateRefs(ctx, []remote.RefUpdate{remote.Set("heads/"+branch, old, tip)}); err != nil {
		w.metrics.ObserveSync(w.name, "push", len(objs), err)
		return &TransportError{Op: "push", Err: err}
	}
	w.metrics.ObserveSync(w.name, "push", len(objs), nil)

	if err := w.repo.UpdateRef(repo.TrackingRef(branch), tip, "push"); err != nil {
		return err
	}
	if err := w.repo.UpdateRef(repo.BranchRef(branch), tip, "push"); err != nil {
		return err
	}
	w.logger.Info("pushed", "branch", branch, "commit", tip.Short(), "objects", len(objs),
		"duration", time.Since(start))
	return nil
}

// unpublish deletes branch on origin, then locally.
func (w *Workspace) unpublish(ctx context.Context, branch string) error {
	old, err := w.repo.LookupRef(repo.TrackingRef(branch))
	if err != nil {
		return err
	}
	if old != "" {
		if _, err := w.transport.UpdateRefs(ctx, []remote.RefUpdate{remote.Delete("heads/"+branch, old)}); err != nil {
			w.metrics.ObserveSync(w.name, "push", 0, err)
			return &TransportError{Op: "push", Err: err}
		}
		w.metrics.ObserveSync(w.name, "push", 0, nil)
		if err := w.repo.DeleteRef(repo.TrackingRef(branch)); err != nil && !errors.Is(err, repo.ErrRefNotFound) {
			return err
		}
	}
	local, err := w.repo.LookupRef(repo.BranchRef(branch))
	if err != nil {
		return err
	}
	if local != "" {
		if err := w.repo.DeleteBranch(branch); err != nil {
			return err
		}
	}
	w.logger.Info("branch deleted", "branch", branch)
	return nil
}

func (w *Workspace) trackingTips() ([]object.Hash, error) {
	tracking, err := w.repo.TrackingBranches()
	if err != nil {
		return nil, err
	}
	tips := make([]object.Hash, 0, len(tracking))
	for _, h := range tracking {
		if h != "" && w.repo.Store.Has(h) {
			tips = append(tips, h)
		}
	}
	return object.UniqueHashes(tips), nil
}
