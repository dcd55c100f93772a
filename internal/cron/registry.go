package cron

import (
	"context"
	"sync"

	"github.com/televine/broadcast-api/internal/queue"
)

// HandlerFunc is the body of one scheduled job.
type HandlerFunc func(ctx context.Context) error

// Definition pairs a stable job key with its cron expression and handler.
// The schedule state lives in the database; the definition lives here.
type Definition struct {
	Key      string
	Schedule string
	Handler  HandlerFunc
}

// Registry is the static set of scheduled jobs. It is built explicitly at
// startup and handed to both the scheduler (for reconciliation) and the
// dispatch handler (for execution).
type Registry struct {
	mu    sync.RWMutex
	defs  map[string]Definition
	order []string
}

func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]Definition)}
}

func (r *Registry) Add(def Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[def.Key]; !exists {
		r.order = append(r.order, def.Key)
	}
	r.defs[def.Key] = def
}

func (r *Registry) Get(key string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[key]
	return def, ok
}

// Schedules returns the key/expression pairs in registration order, for the
// scheduler's startup reconciliation.
func (r *Registry) Schedules() []queue.Schedule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	schedules := make([]queue.Schedule, 0, len(r.order))
	for _, key := range r.order {
		schedules = append(schedules, queue.Schedule{Key: key, Spec: r.defs[key].Schedule})
	}
	return schedules
}
