// Package scheduler drives periodic SLO evaluation: one loop per
// definition, results cached for read paths and persisted for history.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rpeltola/slostat/internal/budget"
	"github.com/rpeltola/slostat/internal/burnrate"
	"github.com/rpeltola/slostat/internal/metrics"
	"github.com/rpeltola/slostat/internal/slo"
	"github.com/rpeltola/slostat/internal/storage"
	"github.com/rpeltola/slostat/internal/store"
)

// Options configures the scheduler.
type Options struct {
	// Directory holds the SLO definition files.
	Directory string

	// DefaultInterval is the evaluation cadence for definitions that do
	// not override it.
	DefaultInterval time.Duration

	// CacheTTL is how long a cached evaluation may serve reads before
	// callers should treat it as stale.
	CacheTTL time.Duration

	// ShortWindowHours and LongWindowHours are the multi-window burn rate
	// lookbacks.
	ShortWindowHours float64
	LongWindowHours  float64

	// Retention bounds persisted evaluation age; zero disables pruning.
	Retention     time.Duration
	PruneInterval time.Duration
}

// Scheduler evaluates every loaded definition on its own cadence.
type Scheduler struct {
	calc     *budget.Calculator
	analyzer *burnrate.Analyzer
	store    *store.Store
	logger   *zap.Logger
	cache    *Cache
	opts     Options

	mu      sync.RWMutex
	defs    []slo.Definition
	history storage.HistoryStore
	set     *metrics.Set
	cancel  context.CancelFunc
	running bool
	wg      sync.WaitGroup

	debounce time.Duration
	now      func() time.Time
}

// New creates a scheduler. Evaluation starts with LoadDefinitions and Start.
func New(calc *budget.Calculator, analyzer *burnrate.Analyzer, st *store.Store, logger *zap.Logger, opts Options) *Scheduler {
	if opts.DefaultInterval <= 0 {
		opts.DefaultInterval = 30 * time.Second
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 2 * opts.DefaultInterval
	}
	return &Scheduler{
		calc:     calc,
		analyzer: analyzer,
		store:    st,
		logger:   logger,
		cache:    NewCache(),
		opts:     opts,
		debounce: 500 * time.Millisecond,
		now:      time.Now,
	}
}

// SetHistoryStore attaches the optional evaluation history backend.
func (s *Scheduler) SetHistoryStore(h storage.HistoryStore) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = h
}

// SetMetrics attaches the optional metrics set.
func (s *Scheduler) SetMetrics(set *metrics.Set) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set = set
}

// LoadDefinitions validates and loads the definition directory, replacing
// the current set. Evaluations cached for definitions that no longer exist
// are dropped, along with their metric series.
func (s *Scheduler) LoadDefinitions() error {
	validator, err := slo.NewValidator()
	if err != nil {
		return fmt.Errorf("create validator: %w", err)
	}
	if errs := validator.ValidateDirectory(s.opts.Directory); len(errs) > 0 {
		for _, e := range errs {
			s.logger.Error("definition rejected",
				zap.String("file", e.File),
				zap.String("detail", e.Error()))
		}
		return fmt.Errorf("definition validation failed: %d errors", len(errs))
	}

	defs, err := slo.LoadDefinitions(s.opts.Directory)
	if err != nil {
		return fmt.Errorf("load definitions: %w", err)
	}
	if len(defs) == 0 {
		return fmt.Errorf("no definitions found in %s", s.opts.Directory)
	}

	s.mu.Lock()
	old := s.defs
	s.defs = defs
	set := s.set
	s.mu.Unlock()

	current := make(map[string]bool, len(defs))
	for _, d := range defs {
		current[d.Key()] = true
	}
	for _, d := range old {
		if current[d.Key()] {
			continue
		}
		s.cache.Delete(d.Key())
		if set != nil {
			set.ForgetSLO(d.ServiceName, d.Name)
		}
		s.logger.Info("definition removed", zap.String("slo", d.Key()))
	}

	s.logger.Info("definitions loaded",
		zap.Int("count", len(defs)),
		zap.String("dir", s.opts.Directory))
	return nil
}

// Start launches one evaluation loop per definition, plus the retention
// sweep when a history store is attached.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	if len(s.defs) == 0 {
		s.mu.Unlock()
		return fmt.Errorf("no definitions loaded, call LoadDefinitions first")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true
	defs := s.defs
	history := s.history
	s.mu.Unlock()

	for _, def := range defs {
		s.wg.Add(1)
		go s.evaluateLoop(ctx, def)
	}
	if history != nil && s.opts.Retention > 0 {
		s.wg.Add(1)
		go s.pruneLoop(ctx)
	}

	s.logger.Info("scheduler started", zap.Int("slos", len(defs)))
	return nil
}

// Stop cancels all loops and waits for in-flight evaluations to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.running = false
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// Reload swaps in the current state of the definition directory. When the
// scheduler is running, its loops restart against the new set; a failed
// load keeps the previous definitions running untouched.
func (s *Scheduler) Reload() error {
	if err := s.LoadDefinitions(); err != nil {
		return err
	}

	s.mu.RLock()
	running := s.running
	s.mu.RUnlock()
	if !running {
		return nil
	}

	s.Stop()
	return s.Start()
}

// EvaluateNow forces an immediate evaluation of one SLO, bypassing its
// cadence.
func (s *Scheduler) EvaluateNow(service, name string) error {
	s.mu.RLock()
	var target *slo.Definition
	for i := range s.defs {
		if s.defs[i].ServiceName == service && s.defs[i].Name == name {
			target = &s.defs[i]
			break
		}
	}
	s.mu.RUnlock()

	if target == nil {
		return fmt.Errorf("slo not found: %s/%s", service, name)
	}
	s.evaluateOnce(*target)
	return nil
}

// Cache returns the evaluation cache.
func (s *Scheduler) Cache() *Cache {
	return s.cache
}

// Definitions returns a copy of the loaded definitions.
func (s *Scheduler) Definitions() []slo.Definition {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]slo.Definition, len(s.defs))
	copy(out, s.defs)
	return out
}

// History returns the attached history store, or nil.
func (s *Scheduler) History() storage.HistoryStore {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.history
}

func (s *Scheduler) evaluateLoop(ctx context.Context, def slo.Definition) {
	defer s.wg.Done()

	interval := def.EvaluationInterval(s.opts.DefaultInterval)
	s.evaluateOnce(def)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.evaluateOnce(def)
		}
	}
}

// evaluateOnce takes one history snapshot and derives both the budget and
// the burn rate from it, so the two views never disagree about the data.
func (s *Scheduler) evaluateOnce(def slo.Definition) {
	at := s.now()

	samples := s.store.History(store.Query{
		Service: def.ServiceName,
		Type:    def.Type,
		End:     at,
	})

	bud, err := s.calc.Calculate(def, samples, at)
	if err != nil {
		s.logger.Error("budget calculation failed",
			zap.String("slo", def.Key()), zap.Error(err))
		return
	}
	rate, err := s.analyzer.MultiWindowAnalyze(def, samples,
		s.opts.ShortWindowHours, s.opts.LongWindowHours, at)
	if err != nil {
		s.logger.Error("burn rate analysis failed",
			zap.String("slo", def.Key()), zap.Error(err))
		return
	}

	s.cache.Set(def.Key(), &Evaluation{
		Definition: def,
		Budget:     bud,
		Burn:       rate,
		UpdatedAt:  at,
		TTL:        s.opts.CacheTTL,
	})

	s.mu.RLock()
	set := s.set
	history := s.history
	s.mu.RUnlock()

	if set != nil {
		set.ObserveEvaluation(def.ServiceName, def.Name, bud, rate)
	}
	if history != nil {
		rec := storage.EvaluationRecord{
			Service:     def.ServiceName,
			SLOName:     def.Name,
			Status:      bud.Status,
			Severity:    rate.AlertSeverity,
			Budget:      bud,
			BurnRate:    rate,
			EvaluatedAt: at,
		}
		if err := history.SaveEvaluation(rec); err != nil {
			s.logger.Warn("evaluation not persisted",
				zap.String("slo", def.Key()), zap.Error(err))
		}
	}

	s.logger.Debug("slo evaluated",
		zap.String("slo", def.Key()),
		zap.String("status", string(bud.Status)),
		zap.Float64("sli", bud.CurrentSLI),
		zap.Float64("burn_rate", rate.Rate))
}

func (s *Scheduler) pruneLoop(ctx context.Context) {
	defer s.wg.Done()

	interval := s.opts.PruneInterval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := s.now().Add(-s.opts.Retention)
			removed, err := s.History().Prune(cutoff)
			if err != nil {
				s.logger.Warn("history prune failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				s.logger.Info("history pruned",
					zap.Int64("removed", removed),
					zap.Time("cutoff", cutoff))
			}
		}
	}
}
