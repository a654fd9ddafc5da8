// Package ingest polls Prometheus exposition endpoints and converts counter
// movement between polls into indicator samples.
package ingest

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	dto "github.com/prometheus/client_model/go"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/rpeltola/slostat/internal/config"
	"github.com/rpeltola/slostat/internal/metrics"
	"github.com/rpeltola/slostat/internal/slo"
	"github.com/rpeltola/slostat/internal/store"
)

// retryDelay is the base pause between attempts against one target; the
// pause grows linearly with the attempt number.
const retryDelay = 250 * time.Millisecond

// counters holds the raw totals observed at the previous poll of a target.
type counters struct {
	good  float64
	total float64
}

// Scraper turns remote counter totals into per-interval event deltas. The
// first poll of a target only establishes a baseline; every later poll
// records the movement since the one before.
type Scraper struct {
	cfg    config.ScrapeConfig
	store  *store.Store
	set    *metrics.Set
	logger *zap.Logger
	client *http.Client
	sem    *semaphore.Weighted

	mu   sync.Mutex
	prev map[string]counters

	now func() time.Time
}

// New creates a scraper for the configured targets.
func New(cfg config.ScrapeConfig, st *store.Store, set *metrics.Set, logger *zap.Logger) *Scraper {
	return &Scraper{
		cfg:    cfg,
		store:  st,
		set:    set,
		logger: logger,
		client: &http.Client{Timeout: cfg.Timeout},
		sem:    semaphore.NewWeighted(cfg.MaxConcurrent),
		prev:   make(map[string]counters),
		now:    time.Now,
	}
}

// Run polls all targets once immediately to establish baselines, then on
// every interval tick until the context is cancelled.
func (s *Scraper) Run(ctx context.Context) {
	if len(s.cfg.Targets) == 0 {
		return
	}

	s.Poll(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Poll(ctx)
		}
	}
}

// Poll scrapes every target concurrently, bounded by the configured limit,
// and blocks until the cycle completes.
func (s *Scraper) Poll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, target := range s.cfg.Targets {
		target := target
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.poll(ctx, target); err != nil {
				if ctx.Err() != nil {
					return
				}
				s.set.ObserveScrapeFailure(target.Name)
				s.logger.Warn("scrape failed",
					zap.String("target", target.Name),
					zap.String("url", target.URL),
					zap.Error(err))
			}
		}()
	}
	wg.Wait()
}

func (s *Scraper) poll(ctx context.Context, target config.ScrapeTarget) error {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire slot: %w", err)
	}
	defer s.sem.Release(1)

	mfs, err := s.fetch(ctx, target.URL)
	if err != nil {
		return err
	}

	goodFam, ok := mfs[target.GoodMetric]
	if !ok {
		return fmt.Errorf("metric %q not exposed", target.GoodMetric)
	}
	totalFam, ok := mfs[target.TotalMetric]
	if !ok {
		return fmt.Errorf("metric %q not exposed", target.TotalMetric)
	}

	s.observe(target, sumFamily(goodFam), sumFamily(totalFam))
	return nil
}

// fetch retries transient failures with a linearly growing pause.
func (s *Scraper) fetch(ctx context.Context, url string) (map[string]*dto.MetricFamily, error) {
	var lastErr error
	for attempt := 0; attempt <= s.cfg.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * retryDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
		mfs, err := fetchExposition(attemptCtx, s.client, url)
		cancel()
		if err == nil {
			return mfs, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("after %d attempts: %w", s.cfg.Retries+1, lastErr)
}

// observe folds one poll's raw totals into a recorded delta sample.
func (s *Scraper) observe(target config.ScrapeTarget, good, total float64) {
	s.mu.Lock()
	prev, seen := s.prev[target.Name]
	s.prev[target.Name] = counters{good: good, total: total}
	s.mu.Unlock()

	if !seen {
		s.logger.Debug("scrape baseline established", zap.String("target", target.Name))
		return
	}

	dGood, dTotal := good-prev.good, total-prev.total
	if dGood < 0 || dTotal < 0 {
		// Counter reset upstream. The post-reset totals are the best
		// available estimate of movement since the last poll.
		dGood, dTotal = good, total
	}

	goodEvents := int64(math.Round(dGood))
	totalEvents := int64(math.Round(dTotal))
	if goodEvents > totalEvents {
		goodEvents = totalEvents
	}
	if totalEvents == 0 {
		return
	}

	m := slo.Metric{
		Timestamp:   s.now().UTC(),
		ServiceName: target.Service,
		Type:        target.Type,
		GoodEvents:  goodEvents,
		TotalEvents: totalEvents,
	}
	if err := s.store.Record(m); err != nil {
		s.logger.Warn("scrape sample rejected",
			zap.String("target", target.Name),
			zap.Error(err))
		return
	}
	s.set.ObserveIngest("scrape:"+target.Name, 1)
	s.logger.Debug("scrape sample recorded",
		zap.String("target", target.Name),
		zap.String("service", target.Service),
		zap.Int64("good", goodEvents),
		zap.Int64("total", totalEvents))
}
