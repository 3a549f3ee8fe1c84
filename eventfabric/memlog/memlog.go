// Package memlog provides an in-memory eventfabric.Log for tests and local
// development, adapted from the teacher's runlog/inmem append+cursor
// pattern but keyed by project rather than by run and queried by timestamp
// rather than by opaque cursor, per spec.md's replay(since) contract.
package memlog

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/geniusboywonder/bmad-core/domain"
)

// Store implements eventfabric.Log in memory. Not durable across restarts.
type Store struct {
	mu     sync.Mutex
	byProj map[string][]domain.Event
}

// New returns an empty Store.
func New() *Store {
	return &Store{byProj: make(map[string][]domain.Event)}
}

// Append implements eventfabric.Log.
func (s *Store) Append(_ context.Context, e domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byProj[e.ProjectID] = append(s.byProj[e.ProjectID], e)
	return nil
}

// Since implements eventfabric.Log, returning events for projectID with
// Timestamp strictly after since, ordered oldest first.
func (s *Store) Since(_ context.Context, projectID string, since time.Time) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.byProj[projectID]
	out := make([]domain.Event, 0, len(all))
	for _, e := range all {
		if e.Timestamp.After(since) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}
