package scheduler

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rpeltola/slostat/internal/budget"
	"github.com/rpeltola/slostat/internal/slo"
)

func cachedEvaluation(key string, at time.Time) *Evaluation {
	return &Evaluation{
		Definition: slo.Definition{Name: key, ServiceName: "svc"},
		Budget:     budget.ErrorBudget{SLOName: key, CurrentSLI: 99.9},
		UpdatedAt:  at,
		TTL:        30 * time.Second,
	}
}

func TestCache_Basics(t *testing.T) {
	cache := NewCache()

	if cache.Size() != 0 {
		t.Errorf("expected empty cache, got size %d", cache.Size())
	}

	cache.Set("svc/a", cachedEvaluation("a", time.Now()))

	if cache.Size() != 1 {
		t.Errorf("expected size 1, got %d", cache.Size())
	}

	got, ok := cache.Get("svc/a")
	if !ok {
		t.Fatal("expected to retrieve evaluation")
	}
	if got.Budget.SLOName != "a" {
		t.Errorf("expected budget for a, got %s", got.Budget.SLOName)
	}

	cache.Delete("svc/a")
	if cache.Size() != 0 {
		t.Errorf("expected size 0 after delete, got %d", cache.Size())
	}
	if _, ok := cache.Get("svc/a"); ok {
		t.Error("expected not to find deleted evaluation")
	}
}

func TestCache_GetAll(t *testing.T) {
	cache := NewCache()

	for i := 0; i < 3; i++ {
		key := fmt.Sprintf("svc/slo-%d", i)
		cache.Set(key, cachedEvaluation(key, time.Now()))
	}

	all := cache.GetAll()
	if len(all) != 3 {
		t.Errorf("expected 3 evaluations, got %d", len(all))
	}

	// The snapshot must be detached from the cache.
	delete(all, "svc/slo-0")
	if cache.Size() != 3 {
		t.Errorf("mutating the snapshot changed the cache, size %d", cache.Size())
	}
}

func TestCache_Clear(t *testing.T) {
	cache := NewCache()

	cache.Set("svc/a", cachedEvaluation("a", time.Now()))
	cache.Set("svc/b", cachedEvaluation("b", time.Now()))

	cache.Clear()
	if cache.Size() != 0 {
		t.Errorf("expected empty cache after clear, got size %d", cache.Size())
	}
}

func TestEvaluation_IsStale(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	e := cachedEvaluation("a", now)

	if e.IsStale(now.Add(10 * time.Second)) {
		t.Error("evaluation within TTL reported stale")
	}
	if !e.IsStale(now.Add(31 * time.Second)) {
		t.Error("evaluation past TTL not reported stale")
	}
}

func TestCache_ConcurrentAccess(t *testing.T) {
	cache := NewCache()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := fmt.Sprintf("svc/slo-%d", n)
			for j := 0; j < 50; j++ {
				cache.Set(key, cachedEvaluation(key, time.Now()))
				cache.Get(key)
				cache.GetAll()
			}
		}(i)
	}
	wg.Wait()

	if cache.Size() != 8 {
		t.Errorf("expected 8 evaluations after concurrent writes, got %d", cache.Size())
	}
}
