package scheduler

import (
	"sort"
	"sync/atomic"
	"time"
)

// FastClients is the advisory set of clients that returned enough games in
// the trailing window to be trusted with match games. Readers always see a
// complete snapshot; Replace swaps in a new one.
type FastClients struct {
	set atomic.Pointer[clientSet]
}

type clientSet struct {
	ids         map[string]struct{}
	refreshedAt time.Time
}

// NewFastClients returns an empty set.
func NewFastClients() *FastClients {
	f := &FastClients{}
	f.set.Store(&clientSet{ids: map[string]struct{}{}})
	return f
}

// Contains reports whether id is in the current snapshot.
func (f *FastClients) Contains(id string) bool {
	_, ok := f.set.Load().ids[id]
	return ok
}

// Replace installs a new snapshot.
func (f *FastClients) Replace(ids []string, at time.Time) {
	next := &clientSet{ids: make(map[string]struct{}, len(ids)), refreshedAt: at}
	for _, id := range ids {
		next.ids[id] = struct{}{}
	}
	f.set.Store(next)
}

// List returns the clients in the current snapshot, sorted, and when it was built.
func (f *FastClients) List() ([]string, time.Time) {
	s := f.set.Load()
	out := make([]string, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, s.refreshedAt
}

// Len returns the snapshot size.
func (f *FastClients) Len() int {
	return len(f.set.Load().ids)
}
