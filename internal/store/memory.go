package store

import (
	"encoding/json"
	"fmt"

	pkgstore "github.com/wondertwin-ai/taskjournal/pkg/store"
	"github.com/wondertwin-ai/taskjournal/pkg/token"
)

// MemoryStore holds all server state in memory: the two collections, the
// write-token ledger and the simulated clock the ledger reads.
type MemoryStore struct {
	Journals *pkgstore.Store[Journal]
	Tasks    *pkgstore.Store[Task]
	Tokens   *token.Ledger
	Clock    *pkgstore.Clock

	journalSeed pkgstore.Batch[Journal]
	taskSeed    pkgstore.Batch[Task]
}

// New creates a MemoryStore populated from seed. Ledger options are applied
// after the store's clock, so they can override it. It panics if a seed
// payload cannot be encoded, which Journal and Task always can.
func New(seed Seed, opts ...token.Option) *MemoryStore {
	journals, err := pkgstore.PrepareSeed(seed.Journals...)
	if err != nil {
		panic(fmt.Sprintf("store: journal seed: %v", err))
	}
	tasks, err := pkgstore.PrepareSeed(seed.Tasks...)
	if err != nil {
		panic(fmt.Sprintf("store: task seed: %v", err))
	}

	clock := pkgstore.NewClock()
	s := &MemoryStore{
		Journals:    pkgstore.New[Journal]("journals"),
		Tasks:       pkgstore.New[Task]("tasks"),
		Tokens:      token.NewLedger(append([]token.Option{token.WithClock(clock)}, opts...)...),
		Clock:       clock,
		journalSeed: journals,
		taskSeed:    tasks,
	}
	s.reseed()
	return s
}

func (s *MemoryStore) reseed() {
	s.Journals.Apply(s.journalSeed)
	s.Tasks.Apply(s.taskSeed)
}

// stateSnapshot is the JSON-serializable state for admin endpoints.
type stateSnapshot struct {
	Journals []pkgstore.Resource[Journal] `json:"journals"`
	Tasks    []pkgstore.Resource[Task]    `json:"tasks"`
}

// Snapshot returns the full state as a JSON-serializable value.
func (s *MemoryStore) Snapshot() any {
	return stateSnapshot{
		Journals: s.Journals.Snapshot(),
		Tasks:    s.Tasks.Snapshot(),
	}
}

// LoadState replaces both collections from a JSON body. Etags are
// recomputed from the payloads. Nothing changes unless both collections are
// valid.
func (s *MemoryStore) LoadState(data []byte) error {
	var snap stateSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}
	journals, err := pkgstore.Prepare(snap.Journals)
	if err != nil {
		return fmt.Errorf("journals: %w", err)
	}
	tasks, err := pkgstore.Prepare(snap.Tasks)
	if err != nil {
		return fmt.Errorf("tasks: %w", err)
	}
	s.Journals.Apply(journals)
	s.Tasks.Apply(tasks)
	return nil
}

// Reset restores the seed, forgets every issued token and rewinds the clock.
func (s *MemoryStore) Reset() {
	s.reseed()
	s.Tokens.Reset()
	s.Clock.Reset()
}
