// Package server owns the connection registry: the authoritative mapping of
// live WebSocket connections to their identity records.
package server

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// record holds the per-connection state tracked by the Registry. Records are
// only ever read or written under the registry mutex and never escape it.
type record struct {
	id          int64
	username    string
	addr        string
	connectedAt time.Time
	alive       bool
}

// RecordView is a point-in-time value copy of a connection's record,
// safe to hand out beyond the registry lock.
type RecordView struct {
	ID          int64
	Username    string
	Addr        string
	ConnectedAt time.Time
}

// Registry maps connected clients to their records. The id counter is
// strictly increasing and ids are never reused within a process lifetime.
// Every read-modify-write sequence runs under the mutex so the readPump
// goroutines, the hub loop, and the liveness sweep can all touch it safely.
type Registry struct {
	mutex   sync.RWMutex
	nextID  int64
	entries map[*Client]*record
}

// NewRegistry creates an empty Registry with the id counter at zero, so the
// first registered connection receives id 1.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[*Client]*record),
	}
}

// Register allocates the next connection id and inserts a record with a
// generated default username. It never fails.
func (r *Registry) Register(client *Client, addr string, now time.Time) RecordView {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.nextID++
	rec := &record{
		id:          r.nextID,
		username:    fmt.Sprintf("User_%d", r.nextID),
		addr:        addr,
		connectedAt: now,
		alive:       true,
	}
	r.entries[client] = rec
	return viewOf(rec)
}

// Unregister removes the client's record if present. Removing an absent
// client is a no-op, not an error: the disconnect and eviction paths may
// race and both attempt removal.
func (r *Registry) Unregister(client *Client) (RecordView, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	rec, ok := r.entries[client]
	if !ok {
		return RecordView{}, false
	}
	delete(r.entries, client)
	return viewOf(rec), true
}

// Lookup returns a copy of the client's record.
func (r *Registry) Lookup(client *Client) (RecordView, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	rec, ok := r.entries[client]
	if !ok {
		return RecordView{}, false
	}
	return viewOf(rec), true
}

// LookupByID resolves an application-assigned id back to its client. This is
// a linear scan over the map values; fine at chat-scale connection counts
// but a known scaling limit for anything larger.
func (r *Registry) LookupByID(id int64) (*Client, RecordView, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	for client, rec := range r.entries {
		if rec.id == id {
			return client, viewOf(rec), true
		}
	}
	return nil, RecordView{}, false
}

// Rename updates the client's display name and reports the previous one.
func (r *Registry) Rename(client *Client, username string) (RecordView, string, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	rec, ok := r.entries[client]
	if !ok {
		return RecordView{}, "", false
	}
	old := rec.username
	rec.username = username
	return viewOf(rec), old, true
}

// Snapshot returns value copies of all current records, sorted by id so
// iteration order is deterministic.
func (r *Registry) Snapshot() []RecordView {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	views := make([]RecordView, 0, len(r.entries))
	for _, rec := range r.entries {
		views = append(views, viewOf(rec))
	}
	sort.Slice(views, func(i, j int) bool { return views[i].ID < views[j].ID })
	return views
}

// Clients returns the current set of clients, sorted by id.
func (r *Registry) Clients() []*Client {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	clients := make([]*Client, 0, len(r.entries))
	for client := range r.entries {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool {
		return r.entries[clients[i]].id < r.entries[clients[j]].id
	})
	return clients
}

// Contains reports whether the client is currently registered.
func (r *Registry) Contains(client *Client) bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	_, ok := r.entries[client]
	return ok
}

// Size returns the current connection count.
func (r *Registry) Size() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return len(r.entries)
}

// MarkAlive records a liveness acknowledgment. Valid in any state, at any
// time relative to the sweep.
func (r *Registry) MarkAlive(client *Client) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if rec, ok := r.entries[client]; ok {
		rec.alive = true
	}
}

// SweepProbeCandidates advances the liveness state machine one tick, in one
// atomic pass: connections that never acknowledged the previous probe are
// returned as stale, everything else is transitioned to pending-check and
// returned as the set to probe. Both slices are sorted by id.
func (r *Registry) SweepProbeCandidates() (stale, probed []*Client) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for client, rec := range r.entries {
		if rec.alive {
			rec.alive = false
			probed = append(probed, client)
		} else {
			stale = append(stale, client)
		}
	}
	sort.Slice(stale, func(i, j int) bool {
		return r.entries[stale[i]].id < r.entries[stale[j]].id
	})
	sort.Slice(probed, func(i, j int) bool {
		return r.entries[probed[i]].id < r.entries[probed[j]].id
	})
	return stale, probed
}

func viewOf(rec *record) RecordView {
	return RecordView{
		ID:          rec.id,
		Username:    rec.username,
		Addr:        rec.addr,
		ConnectedAt: rec.connectedAt,
	}
}
