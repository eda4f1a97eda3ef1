// Package store provides a generic, thread-safe, in-memory resource store.
// Every stored payload carries an etag derived from its canonical encoding,
// and writes to existing resources are compare-and-swap on that etag.
package store

import (
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"sort"
	"sync"

	"github.com/wondertwin-ai/taskjournal/pkg/etag"
)

// Resource is a stored payload with its id and current etag.
type Resource[T any] struct {
	ID      int    `json:"id"`
	Payload T      `json:"payload"`
	ETag    string `json:"etag"`
}

// MaxID is the largest id a store accepts. Keeping it below math.MaxInt
// lets the next id always be represented.
const MaxID = math.MaxInt - 1

func validID(id int) bool { return id >= 0 && id <= MaxID }

// Store is a generic, thread-safe, in-memory collection of T keyed by
// non-negative integer ids. T must be JSON-encodable.
type Store[T any] struct {
	mu    sync.RWMutex
	items map[int]Resource[T]
	next  int // never decreases, so deleted ids are not handed out again
	name  string
}

// New creates an empty Store. The name identifies the collection in logs
// and metrics (e.g., "journals").
func New[T any](name string) *Store[T] {
	return &Store[T]{
		items: make(map[int]Resource[T]),
		name:  name,
	}
}

// Name returns the collection name.
func (s *Store[T]) Name() string {
	return s.name
}

func stamp[T any](id int, payload T) (Resource[T], error) {
	tag, err := etag.Compute(payload)
	if err != nil {
		return Resource[T]{}, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return Resource[T]{ID: id, Payload: payload, ETag: tag}, nil
}

func checkPrecondition[T any](current Resource[T], ifMatch string) error {
	if ifMatch == "" {
		return ErrPreconditionRequired
	}
	if ifMatch != current.ETag {
		return &PreconditionError{ID: current.ID, Expected: ifMatch, Current: current.ETag}
	}
	return nil
}

// Create assigns the next id to payload and stores it.
func (s *Store[T]) Create(payload T) (Resource[T], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next > MaxID {
		return Resource[T]{}, ErrIDsExhausted
	}
	res, err := stamp(s.next, payload)
	if err != nil {
		return Resource[T]{}, err
	}
	s.items[res.ID] = res
	s.next++
	return res, nil
}

// Get retrieves a resource by id.
func (s *Store[T]) Get(id int) (Resource[T], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res, ok := s.items[id]
	if !ok {
		return Resource[T]{}, ErrNotFound
	}
	return res, nil
}

// Update replaces the payload of an existing resource. ifMatch must equal
// the stored etag.
func (s *Store[T]) Update(id int, payload T, ifMatch string) (Resource[T], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.items[id]
	if !ok {
		return Resource[T]{}, ErrNotFound
	}
	if err := checkPrecondition(current, ifMatch); err != nil {
		return Resource[T]{}, err
	}
	return s.putLocked(id, payload)
}

// Upsert replaces the resource at id, or inserts it when absent. Inserts
// skip the etag check; replacements follow the same rules as Update.
// The boolean result reports whether the resource was inserted.
func (s *Store[T]) Upsert(id int, payload T, ifMatch string) (Resource[T], bool, error) {
	if !validID(id) {
		return Resource[T]{}, false, ErrInvalidID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, exists := s.items[id]
	if exists {
		if err := checkPrecondition(current, ifMatch); err != nil {
			return Resource[T]{}, false, err
		}
	}
	res, err := s.putLocked(id, payload)
	if err != nil {
		return Resource[T]{}, false, err
	}
	return res, !exists, nil
}

// Patch applies a partial update. apply receives the current payload and
// returns the next payload and whether any field changed. Nothing is written
// when apply fails or reports no change.
func (s *Store[T]) Patch(id int, ifMatch string, apply func(T) (T, bool, error)) (Resource[T], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.items[id]
	if !ok {
		return Resource[T]{}, ErrNotFound
	}
	if err := checkPrecondition(current, ifMatch); err != nil {
		return Resource[T]{}, err
	}
	next, changed, err := apply(current.Payload)
	if err != nil {
		return Resource[T]{}, err
	}
	if !changed {
		return Resource[T]{}, ErrNothingToUpdate
	}
	return s.putLocked(id, next)
}

func (s *Store[T]) putLocked(id int, payload T) (Resource[T], error) {
	res, err := stamp(id, payload)
	if err != nil {
		return Resource[T]{}, err
	}
	s.items[id] = res
	if id >= s.next {
		s.next = id + 1
	}
	return res, nil
}

// Delete removes a resource by id.
func (s *Store[T]) Delete(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[id]; !exists {
		return ErrNotFound
	}
	delete(s.items, id)
	return nil
}

func (s *Store[T]) snapshotLocked() []Resource[T] {
	out := make([]Resource[T], 0, len(s.items))
	for _, res := range s.items {
		out = append(out, res)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Snapshot returns a point-in-time copy of all resources in ascending id order.
func (s *Store[T]) Snapshot() []Resource[T] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Lookup returns the resources for ids, in the order given, read under a
// single lock. Missing ids are skipped; repeated ids are repeated.
func (s *Store[T]) Lookup(ids []int) []Resource[T] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Resource[T], 0, len(ids))
	for _, id := range ids {
		if res, ok := s.items[id]; ok {
			out = append(out, res)
		}
	}
	return out
}

// Page lists one page of a snapshot. When keep is non-nil only resources it
// accepts are counted and windowed.
func (s *Store[T]) Page(page, perPage int, keep func(Resource[T]) (bool, error)) (Page[Resource[T]], error) {
	items := s.Snapshot()
	if keep != nil {
		filtered := items[:0]
		for _, res := range items {
			ok, err := keep(res)
			if err != nil {
				return Page[Resource[T]]{}, err
			}
			if ok {
				filtered = append(filtered, res)
			}
		}
		items = filtered
	}
	return Paginate(items, page, perPage)
}

// Count returns the number of resources in the store.
func (s *Store[T]) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Reset clears all resources and restarts id assignment at zero.
func (s *Store[T]) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[int]Resource[T])
	s.next = 0
}

// Batch is a validated, etag-stamped set of resources that can replace a
// store's contents without failing.
type Batch[T any] struct {
	items map[int]Resource[T]
	next  int
}

// Len returns the number of resources in the batch.
func (b Batch[T]) Len() int { return len(b.items) }

// Prepare validates resources and recomputes their etags. Ids must be unique
// and within [0, MaxID]. No store is touched.
func Prepare[T any](resources []Resource[T]) (Batch[T], error) {
	b := Batch[T]{items: make(map[int]Resource[T], len(resources))}
	for _, r := range resources {
		if !validID(r.ID) {
			return Batch[T]{}, fmt.Errorf("%w: %d", ErrInvalidID, r.ID)
		}
		if _, dup := b.items[r.ID]; dup {
			return Batch[T]{}, fmt.Errorf("duplicate id %d", r.ID)
		}
		res, err := stamp(r.ID, r.Payload)
		if err != nil {
			return Batch[T]{}, err
		}
		b.items[r.ID] = res
		b.next = max(b.next, r.ID+1)
	}
	return b, nil
}

// PrepareSeed builds a batch holding one resource per payload, ids from zero.
func PrepareSeed[T any](payloads ...T) (Batch[T], error) {
	resources := make([]Resource[T], len(payloads))
	for i, p := range payloads {
		resources[i] = Resource[T]{ID: i, Payload: p}
	}
	return Prepare(resources)
}

// Apply replaces all resources with a copy of b, so b can be applied again.
// Id assignment resumes after the highest id in b.
func (s *Store[T]) Apply(b Batch[T]) {
	items := make(map[int]Resource[T], len(b.items))
	maps.Copy(items, b.items)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = items
	s.next = b.next
}

// Seed resets the store and creates one resource per payload, ids from zero.
func (s *Store[T]) Seed(payloads ...T) error {
	b, err := PrepareSeed(payloads...)
	if err != nil {
		return err
	}
	s.Apply(b)
	return nil
}

// Load replaces all resources. Stored etags are recomputed from the payloads
// and id assignment resumes after the highest loaded id. On error the store
// is unchanged.
func (s *Store[T]) Load(resources []Resource[T]) error {
	b, err := Prepare(resources)
	if err != nil {
		return err
	}
	s.Apply(b)
	return nil
}

// MarshalJSON serializes the store as its snapshot.
func (s *Store[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Snapshot())
}

// UnmarshalJSON replaces the store contents from a serialized snapshot.
func (s *Store[T]) UnmarshalJSON(data []byte) error {
	var resources []Resource[T]
	if err := json.Unmarshal(data, &resources); err != nil {
		return err
	}
	return s.Load(resources)
}
