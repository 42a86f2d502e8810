package signal

import (
	"sort"
	"sync"
	"time"
)

// HistoryDepth is the number of values kept per signal.
const HistoryDepth = 3

// Update is delivered to listeners after every Set.
type Update struct {
	Name      string    `json:"name"`
	Value     any       `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

type Listener func(Update)

type entry struct {
	history []any
}

// Registry holds named signal values with a short history.
type Registry struct {
	mu      sync.RWMutex
	signals map[string]*entry

	lmu       sync.RWMutex
	listeners map[int]Listener
	nextID    int
}

func NewRegistry() *Registry {
	return &Registry{
		signals:   make(map[string]*entry),
		listeners: make(map[int]Listener),
	}
}

func (r *Registry) Set(name string, value any) {
	now := time.Now()

	r.mu.Lock()
	e, ok := r.signals[name]
	if !ok {
		e = &entry{}
		r.signals[name] = e
	}
	e.history = append(e.history, value)
	if len(e.history) > HistoryDepth {
		e.history = e.history[len(e.history)-HistoryDepth:]
	}
	r.mu.Unlock()

	r.notify(Update{Name: name, Value: value, Timestamp: now})
}

// Get returns the latest value of name.
func (r *Registry) Get(name string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.signals[name]
	if !ok || len(e.history) == 0 {
		return nil, false
	}
	return e.history[len(e.history)-1], true
}

// History returns up to HistoryDepth values, oldest first.
func (r *Registry) History(name string) []any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.signals[name]
	if !ok {
		return nil
	}
	return append([]any(nil), e.history...)
}

func (r *Registry) Exists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.signals[name]
	return ok
}

// Names returns a sorted snapshot of all signal names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.signals))
	for name := range r.signals {
		names = append(names, name)
	}
	r.mu.RUnlock()

	sort.Strings(names)
	return names
}

// Snapshot returns the latest value of every signal.
func (r *Registry) Snapshot() map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]any, len(r.signals))
	for name, e := range r.signals {
		if len(e.history) > 0 {
			out[name] = e.history[len(e.history)-1]
		}
	}
	return out
}

// Subscribe registers l for every update and returns a function that
// removes it.
func (r *Registry) Subscribe(l Listener) func() {
	r.lmu.Lock()
	id := r.nextID
	r.nextID++
	r.listeners[id] = l
	r.lmu.Unlock()

	return func() {
		r.lmu.Lock()
		delete(r.listeners, id)
		r.lmu.Unlock()
	}
}

func (r *Registry) notify(u Update) {
	r.lmu.RLock()
	listeners := make([]Listener, 0, len(r.listeners))
	for _, l := range r.listeners {
		listeners = append(listeners, l)
	}
	r.lmu.RUnlock()

	for _, l := range listeners {
		l(u)
	}
}
