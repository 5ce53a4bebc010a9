package monitoring

import (
	"sort"
	"sync"
	"time"
)

// Counter names recorded by the lifecycle engine.
const (
	CounterTrainings        = "trainings"
	CounterTrainingFailures = "training_failures"
	CounterPredictions      = "predictions"
	CounterSavedPrimary     = "saved_primary"
	CounterSavedFallback    = "saved_fallback"
	CounterSaveFailures     = "save_failures"
	CounterResets           = "resets"
)

// Counters is a set of monotonically increasing named counts.
type Counters struct {
	mu        sync.RWMutex
	values    map[string]int64
	updated   map[string]time.Time
	startTime time.Time
}

func NewCounters() *Counters {
	return &Counters{
		values:    make(map[string]int64),
		updated:   make(map[string]time.Time),
		startTime: time.Now(),
	}
}

// Add increments name by delta.
func (c *Counters) Add(name string, delta int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[name] += delta
	c.updated[name] = time.Now().UTC()
}

func (c *Counters) Get(name string) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.values[name]
}

type CounterValue struct {
	Name    string    `json:"name"`
	Value   int64     `json:"value"`
	Updated time.Time `json:"updated"`
}

type Snapshot struct {
	Uptime   string         `json:"uptime"`
	Counters []CounterValue `json:"counters"`
}

// Snapshot copies every counter, sorted by name.
func (c *Counters) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]CounterValue, 0, len(c.values))
	for name, v := range c.values {
		out = append(out, CounterValue{Name: name, Value: v, Updated: c.updated[name]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return Snapshot{
		Uptime:   time.Since(c.startTime).Round(time.Second).String(),
		Counters: out,
	}
}
