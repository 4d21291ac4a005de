package repo

import (
	"container/heap"
	"fmt"

	"github.com/odvcencio/docstore/pkg/object"
)

// LogEntry is one commit yielded by Log.
type LogEntry struct {
	Hash   object.Hash
	Commit *object.CommitObj
}

type logQueueItem struct {
	hash   object.Hash
	commit *object.CommitObj
	seq    int // discovery order
}

// logQueue orders commits newest committer time first, then by discovery.
type logQueue []logQueueItem

func (q logQueue) Len() int { return len(q) }

func (q logQueue) Less(i, j int) bool {
	ti, tj := commitTime(q[i].commit), commitTime(q[j].commit)
	if ti == tj {
		return q[i].seq < q[j].seq
	}
	return ti > tj
}

func (q logQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *logQueue) Push(x any) { *q = append(*q, x.(logQueueItem)) }

func (q *logQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

func commitTime(c *object.CommitObj) int64 {
	if c.CommitterTimestamp != 0 {
		return c.CommitterTimestamp
	}
	return c.Timestamp
}

// Log walks every parent of start and returns up to limit commits ordered by
// committer time, newest first. Ties keep discovery order, so a first parent
// precedes a second parent. limit <= 0 returns the whole history.
func (r *Repo) Log(start object.Hash, limit int) ([]LogEntry, error) {
	var out []LogEntry
	err := r.WalkLog(start, func(e LogEntry) bool {
		out = append(out, e)
		return limit <= 0 || len(out) < limit
	})
	return out, err
}

// WalkLog visits commits in Log order until fn returns false.
func (r *Repo) WalkLog(start object.Hash, fn func(LogEntry) bool) error {
	if start == "" {
		return nil
	}
	seen := map[object.Hash]struct{}{start: {}}
	seq := 0
	q := &logQueue{}

	push := func(h object.Hash) error {
		c, err := r.Store.ReadCommit(h)
		if err != nil {
			return fmt.Errorf("log: read commit %s: %w", h, err)
		}
		heap.Push(q, logQueueItem{hash: h, commit: c, seq: seq})
		seq++
		return nil
	}
	if err := push(start); err != nil {
		return err
	}

	for q.Len() > 0 {
		item := heap.Pop(q).(logQueueItem)
		if !fn(LogEntry{Hash: item.hash, Commit: item.commit}) {
			return nil
		}
		for _, p := range item.commit.Parents {
			if _, ok := seen[p]; ok || p == "" {
				continue
			}
			seen[p] = struct{}{}
			if err := push(p); err != nil {
				return err
			}
		}
	}
	return nil
}
