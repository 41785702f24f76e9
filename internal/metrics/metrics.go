// Package metrics is a minimal, concurrency-safe counter registry with a
// plaintext exposition handler.
package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"sync"
)

// Counter names.
const (
	ConnectionsOpened = "connections_opened_total"
	ConnectionsClosed = "connections_closed_total"
	UsersRegistered   = "users_registered_total"
	CallsInitiated    = "calls_initiated_total"
	CallsConnected    = "calls_connected_total"
	CallsFailed       = "calls_failed_total"
	CallsTerminated   = "calls_terminated_total"
	SignalsRelayed    = "signals_relayed_total"
	SignalsDropped    = "signals_dropped_total"
	MessagesRejected  = "messages_rejected_total"
)

type Registry struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Registry {
	return &Registry{
		m: make(map[string]uint64),
	}
}

func (r *Registry) Inc(name string) {
	r.mu.Lock()
	r.m[name]++
	r.mu.Unlock()
}

func (r *Registry) Get(name string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.m[name]
}

func (r *Registry) snapshot() map[string]uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]uint64, len(r.m))
	for k, v := range r.m {
		out[k] = v
	}
	return out
}

// Handler writes every counter as "name value" lines, sorted by name.
func (r *Registry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		snap := r.snapshot()
		names := make([]string, 0, len(snap))
		for name := range snap {
			names = append(names, name)
		}
		sort.Strings(names)

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		for _, name := range names {
			fmt.Fprintf(w, "%s %d\n", name, snap[name])
		}
	}
}
