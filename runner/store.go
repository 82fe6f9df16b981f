package runner

import (
	"slices"
	"sync"

	"github.com/ethereum-optimism/infra/ut-runner/types"
)

// ResultStore holds the result records of one run, indexed by test id.
// Only Apply mutates records. Next to the live records it keeps an immutable
// clone of each, replaced only for the record an Apply touched, so handing all
// records to a reader never deep-copies the whole run.
type ResultStore struct {
	mu         sync.RWMutex
	records    []*types.ResultRecord
	view       []types.ResultRecord
	index      map[string]int
	duplicates []string
	version    uint64
}

// NewResultStore takes ownership of records. If an id occurs more than once the
// first record keeps it and the later ids are reported by Duplicates.
func NewResultStore(records []*types.ResultRecord) *ResultStore {
	s := &ResultStore{
		records: records,
		view:    make([]types.ResultRecord, len(records)),
		index:   make(map[string]int, len(records)),
	}
	for i, r := range records {
		s.view[i] = r.Clone()
		if _, exists := s.index[r.ID]; exists {
			s.duplicates = append(s.duplicates, r.ID)
			continue
		}
		s.index[r.ID] = i
	}
	return s
}

// Apply merges a test outcome into the record with the same id and returns a copy
// of the updated record. An unknown id yields a MissingRecordError and leaves the
// store untouched.
func (s *ResultStore) Apply(outcome *types.TestOutcome) (types.ResultRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[outcome.ID]
	if !ok {
		return types.ResultRecord{}, &MissingRecordError{ID: outcome.ID}
	}
	rec := s.records[i]
	rec.Merge(outcome)
	s.view[i] = rec.Clone()
	s.version++
	return rec.Clone(), nil
}

// Get returns a copy of the record with the given id
func (s *ResultStore) Get(id string) (types.ResultRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.index[id]
	if !ok {
		return types.ResultRecord{}, false
	}
	return s.records[i].Clone(), true
}

// Records returns all records in flattened order. The slice is the caller's own,
// but SuitePath and FailedExpectations are shared between readers and must not
// be modified in place.
func (s *ResultStore) Records() []types.ResultRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.view)
}

// Len returns the number of records
func (s *ResultStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Version increases by one with every successful Apply
func (s *ResultStore) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Duplicates returns the ids that were announced more than once
func (s *ResultStore) Duplicates() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.duplicates...)
}
