package scheduler

import (
	"sync"
	"time"

	"github.com/rpeltola/slostat/internal/budget"
	"github.com/rpeltola/slostat/internal/burnrate"
	"github.com/rpeltola/slostat/internal/slo"
)

// Evaluation is the cached outcome of one SLO evaluation.
type Evaluation struct {
	Definition slo.Definition     `json:"definition"`
	Budget     budget.ErrorBudget `json:"error_budget"`
	Burn       burnrate.BurnRate  `json:"burn_rate"`
	UpdatedAt  time.Time          `json:"updated_at"`
	TTL        time.Duration      `json:"-"`
}

// IsStale reports whether the evaluation is older than its TTL.
func (e *Evaluation) IsStale(now time.Time) bool {
	return now.Sub(e.UpdatedAt) > e.TTL
}

// Cache holds the latest evaluation per SLO key ("service/name"). Safe for
// concurrent use.
type Cache struct {
	mu          sync.RWMutex
	evaluations map[string]*Evaluation
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{
		evaluations: make(map[string]*Evaluation),
	}
}

// Get retrieves the cached evaluation for an SLO key.
func (c *Cache) Get(key string) (*Evaluation, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.evaluations[key]
	return e, ok
}

// Set stores the evaluation for an SLO key.
func (c *Cache) Set(key string, e *Evaluation) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.evaluations[key] = e
}

// GetAll returns a snapshot of every cached evaluation.
func (c *Cache) GetAll() map[string]*Evaluation {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snapshot := make(map[string]*Evaluation, len(c.evaluations))
	for k, v := range c.evaluations {
		snapshot[k] = v
	}
	return snapshot
}

// Delete removes the cached evaluation for an SLO key.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.evaluations, key)
}

// Clear removes all cached evaluations.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.evaluations = make(map[string]*Evaluation)
}

// Size returns the number of cached evaluations.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.evaluations)
}
