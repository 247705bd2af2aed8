// Package presence tracks which users hold live connections on this process.
package presence

import (
	"sort"
	"sync"
)

// Observer is told when a user goes from zero to one connection and back.
// Calls happen outside the registry lock, in transition order per user.
type Observer interface {
	Online(userID string)
	Offline(userID string)
}

// Registry maps user ids to the set of their open connection ids. Several
// tabs or devices of one user are all tracked; the user is online while
// any of them is open.
type Registry struct {
	mu        sync.RWMutex
	conns     map[string]map[string]struct{}
	observers []Observer
}

func NewRegistry(observers ...Observer) *Registry {
	return &Registry{
		conns:     make(map[string]map[string]struct{}),
		observers: observers,
	}
}

// Register records connID for userID and reports whether it is the user's
// first open connection.
func (r *Registry) Register(userID, connID string) bool {
	r.mu.Lock()
	set, ok := r.conns[userID]
	if !ok {
		set = make(map[string]struct{})
		r.conns[userID] = set
	}
	set[connID] = struct{}{}
	first := !ok
	r.mu.Unlock()

	if first {
		for _, o := range r.observers {
			o.Online(userID)
		}
	}
	return first
}

// Unregister drops connID and reports whether userID has no connection left.
// Unknown pairs are ignored.
func (r *Registry) Unregister(userID, connID string) bool {
	r.mu.Lock()
	set, ok := r.conns[userID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	if _, ok := set[connID]; !ok {
		r.mu.Unlock()
		return false
	}
	delete(set, connID)
	last := len(set) == 0
	if last {
		delete(r.conns, userID)
	}
	r.mu.Unlock()

	if last {
		for _, o := range r.observers {
			o.Offline(userID)
		}
	}
	return last
}

func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[userID]
	return ok
}

// ListOnline returns online user ids in ascending order.
func (r *Registry) ListOnline() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.conns))
	for id := range r.conns {
		out = append(out, id)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Connections returns userID's open connection ids.
func (r *Registry) Connections(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.conns[userID]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
