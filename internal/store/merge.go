package store

import (
	"errors"
	"strings"

	pkgstore "github.com/wondertwin-ai/taskjournal/pkg/store"
)

// MergeResult describes a completed task merge.
type MergeResult struct {
	Task    pkgstore.Resource[Task] `json:"task"`
	Merged  []int                   `json:"merged"`
	Missing []int                   `json:"missing"`
}

// MergeTasks combines the listed tasks into one new task and removes the
// sources.
//
// The sources are read under one lock: texts are joined with newlines in
// the order given and the result is done only if every task found is done.
// The new task is created next, and only then is each source deleted in its
// own critical section. Readers can observe the new task alongside its
// sources until the deletes land. Ids that were gone by then are reported
// in Missing; a failed create deletes nothing.
func (s *MemoryStore) MergeTasks(ids []int) (MergeResult, error) {
	found := s.Tasks.Lookup(ids)

	texts := make([]string, 0, len(found))
	done := true
	for _, res := range found {
		texts = append(texts, res.Payload.Text)
		done = done && res.Payload.Done
	}

	created, err := s.Tasks.Create(Task{Text: strings.Join(texts, "\n"), Done: done})
	if err != nil {
		return MergeResult{}, err
	}

	result := MergeResult{Task: created, Merged: []int{}, Missing: []int{}}
	seen := make(map[int]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		// An id that did not exist can be the one the new task just took.
		if id == created.ID {
			result.Missing = append(result.Missing, id)
			continue
		}
		if err := s.Tasks.Delete(id); err != nil {
			if errors.Is(err, pkgstore.ErrNotFound) {
				result.Missing = append(result.Missing, id)
				continue
			}
			return result, err
		}
		result.Merged = append(result.Merged, id)
	}
	return result, nil
}
