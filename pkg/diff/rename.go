package diff

import (
	"sort"

	"github.com/odvcencio/docstore/pkg/diff3"
	"github.com/odvcencio/docstore/pkg/repo"
)

type renameCandidate struct {
	added, deleted int
	score          int
}

// detectRenames pairs added and deleted files, removing every paired entry
// from both lists. Identical content pairs first; the remaining files pair
// by line similarity, best score first.
func (d *differ) detectRenames(added, deleted *[]repo.TreeFileEntry) ([]FileChange, error) {
	if len(*added) == 0 || len(*deleted) == 0 {
		return nil, nil
	}
	usedAdded := make([]bool, len(*added))
	usedDeleted := make([]bool, len(*deleted))
	var out []FileChange

	byHash := make(map[string][]int)
	for i, e := range *deleted {
		byHash[string(e.BlobHash)] = append(byHash[string(e.BlobHash)], i)
	}
	for i, a := range *added {
		for _, j := range byHash[string(a.BlobHash)] {
			if usedDeleted[j] {
				continue
			}
			usedAdded[i], usedDeleted[j] = true, true
			out = append(out, renameChange((*deleted)[j], a, 100))
			break
		}
	}

	var candidates []renameCandidate
	for i, a := range *added {
		if usedAdded[i] {
			continue
		}
		after, err := d.blob(a.BlobHash)
		if err != nil {
			return nil, err
		}
		if isBinary(after) {
			continue
		}
		for j, del := range *deleted {
			if usedDeleted[j] {
				continue
			}
			before, err := d.blob(del.BlobHash)
			if err != nil {
				return nil, err
			}
			if isBinary(before) {
				continue
			}
			if score := similarity(before, after); score >= d.opts.RenameThreshold {
				candidates = append(candidates, renameCandidate{added: i, deleted: j, score: score})
			}
		}
	}
	sort.SliceStable(candidates, func(x, y int) bool { return candidates[x].score > candidates[y].score })
	for _, c := range candidates {
		if usedAdded[c.added] || usedDeleted[c.deleted] {
			continue
		}
		usedAdded[c.added], usedDeleted[c.deleted] = true, true
		out = append(out, renameChange((*deleted)[c.deleted], (*added)[c.added], c.score))
	}

	*added = keepUnused(*added, usedAdded)
	*deleted = keepUnused(*deleted, usedDeleted)
	return out, nil
}

func renameChange(from, to repo.TreeFileEntry, score int) FileChange {
	return FileChange{
		Type:       Renamed,
		OldPath:    from.Path,
		NewPath:    to.Path,
		OldHash:    from.BlobHash,
		NewHash:    to.BlobHash,
		OldMode:    from.Mode,
		NewMode:    to.Mode,
		Similarity: score,
	}
}

func keepUnused(entries []repo.TreeFileEntry, used []bool) []repo.TreeFileEntry {
	out := entries[:0]
	for i, e := range entries {
		if !used[i] {
			out = append(out, e)
		}
	}
	return out
}

// similarity is the share of lines the two texts have in common, in
// percent of their combined length.
func similarity(a, b []byte) int {
	al, bl := diff3.SplitLines(a), diff3.SplitLines(b)
	total := len(al) + len(bl)
	if total == 0 {
		return 0
	}
	common := 0
	for _, op := range diff3.MyersDiff(al, bl) {
		if op.Type == diff3.Equal {
			common++
		}
	}
	return 200 * common / total
}
