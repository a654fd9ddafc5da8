package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rpeltola/slostat/internal/slo"
)

// Query selects samples from the store. Zero values match everything for
// their dimension. Days takes precedence over Start: when set, the range
// becomes [End − Days, End]. A zero End means "now".
type Query struct {
	Service string
	Type    slo.Type
	Days    int
	Start   time.Time
	End     time.Time
}

// Bucket is one fixed-size aggregation bucket aligned to Unix-epoch
// boundaries.
type Bucket struct {
	Start       time.Time `json:"bucket_start"`
	GoodEvents  int64     `json:"good_events"`
	TotalEvents int64     `json:"total_events"`
	BadEvents   int64     `json:"bad_events"`
	SampleCount int       `json:"sample_count"`
	SuccessRate float64   `json:"success_rate"`
}

// Store holds SLI samples in memory and answers range and filter queries.
// It computes no SLO semantics. Writers are serialized; readers run
// concurrently and always receive copies, never views into internal state.
type Store struct {
	mu        sync.RWMutex
	samples   []slo.Metric
	byService map[string][]slo.Metric
	byType    map[slo.Type][]slo.Metric
	now       func() time.Time
}

// New creates an empty store.
func New() *Store {
	return NewWithClock(time.Now)
}

// NewWithClock creates an empty store that uses now for default query
// bounds. Tests use it to pin time.
func NewWithClock(now func() time.Time) *Store {
	return &Store{
		byService: make(map[string][]slo.Metric),
		byType:    make(map[slo.Type][]slo.Metric),
		now:       now,
	}
}

// Record appends one sample after checking the metric invariants.
func (s *Store) Record(m slo.Metric) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("invalid metric: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.append(m)
	return nil
}

// RecordBatch appends many samples under one lock. The batch is validated
// up front; an invalid sample rejects the whole batch and nothing is
// applied.
func (s *Store) RecordBatch(ms []slo.Metric) error {
	for i, m := range ms {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("invalid metric at index %d: %w", i, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range ms {
		s.append(m)
	}
	return nil
}

// append adds to the sample log and both indexes. Caller holds the write lock.
func (s *Store) append(m slo.Metric) {
	s.samples = append(s.samples, m)
	s.byService[m.ServiceName] = append(s.byService[m.ServiceName], m)
	s.byType[m.Type] = append(s.byType[m.Type], m)
}

// History returns matching samples ordered by timestamp ascending. The
// returned slice is a copy and stays valid after later writes; callers
// computing several windows from the same history should call History once
// and share the result.
func (s *Store) History(q Query) []slo.Metric {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start, end := s.bounds(q)

	candidates := s.candidates(q)
	matched := make([]slo.Metric, 0, len(candidates))
	for _, m := range candidates {
		if matches(m, q, start, end) {
			matched = append(matched, m)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].Timestamp.Before(matched[j].Timestamp)
	})
	return matched
}

// Latest returns the most recent sample for a service, optionally narrowed
// by type. The second return is false when no sample matches.
func (s *Store) Latest(service string, typ slo.Type) (slo.Metric, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest slo.Metric
	var found bool
	for _, m := range s.byService[service] {
		if typ != "" && m.Type != typ {
			continue
		}
		if !found || m.Timestamp.After(latest.Timestamp) {
			latest = m
			found = true
		}
	}
	return latest, found
}

// AggregateByBucket groups matching samples into fixed-size buckets aligned
// to Unix-epoch boundaries, summing events per bucket. Buckets with no
// samples are omitted. Results are ordered by bucket start ascending.
func (s *Store) AggregateByBucket(q Query, bucketHours int) []Bucket {
	if bucketHours < 1 {
		return nil
	}
	bucketSeconds := int64(bucketHours) * 3600

	samples := s.History(q)
	byStart := make(map[int64]*Bucket)
	for _, m := range samples {
		aligned := (m.Timestamp.Unix() / bucketSeconds) * bucketSeconds
		b, ok := byStart[aligned]
		if !ok {
			b = &Bucket{Start: time.Unix(aligned, 0).UTC()}
			byStart[aligned] = b
		}
		b.GoodEvents += m.GoodEvents
		b.TotalEvents += m.TotalEvents
		b.SampleCount++
	}

	buckets := make([]Bucket, 0, len(byStart))
	for _, b := range byStart {
		b.BadEvents = b.TotalEvents - b.GoodEvents
		if b.TotalEvents > 0 {
			b.SuccessRate = float64(b.GoodEvents) / float64(b.TotalEvents)
		} else {
			b.SuccessRate = 1.0
		}
		buckets = append(buckets, *b)
	}
	sort.Slice(buckets, func(i, j int) bool {
		return buckets[i].Start.Before(buckets[j].Start)
	})
	return buckets
}

// Clear removes all samples, or only one service's when service is
// non-empty. Indexes are rebuilt.
func (s *Store) Clear(service string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if service == "" {
		s.samples = nil
		s.byService = make(map[string][]slo.Metric)
		s.byType = make(map[slo.Type][]slo.Metric)
		return
	}

	kept := make([]slo.Metric, 0, len(s.samples))
	for _, m := range s.samples {
		if m.ServiceName != service {
			kept = append(kept, m)
		}
	}
	s.samples = kept
	s.byService = make(map[string][]slo.Metric)
	s.byType = make(map[slo.Type][]slo.Metric)
	for _, m := range kept {
		s.byService[m.ServiceName] = append(s.byService[m.ServiceName], m)
		s.byType[m.Type] = append(s.byType[m.Type], m)
	}
}

// Services returns the distinct service names with samples, sorted.
func (s *Store) Services() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	services := make([]string, 0, len(s.byService))
	for svc := range s.byService {
		services = append(services, svc)
	}
	sort.Strings(services)
	return services
}

// Types returns the distinct indicator types with samples, sorted. When
// service is non-empty only that service's samples are considered.
func (s *Store) Types(service string) []slo.Type {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[slo.Type]struct{})
	if service == "" {
		for t := range s.byType {
			seen[t] = struct{}{}
		}
	} else {
		for _, m := range s.byService[service] {
			seen[m.Type] = struct{}{}
		}
	}

	types := make([]slo.Type, 0, len(seen))
	for t := range seen {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Count returns the number of samples matching the query.
func (s *Store) Count(q Query) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start, end := s.bounds(q)
	count := 0
	for _, m := range s.candidates(q) {
		if matches(m, q, start, end) {
			count++
		}
	}
	return count
}

// bounds resolves the query's effective time range. Caller holds a lock.
func (s *Store) bounds(q Query) (start, end time.Time) {
	end = q.End
	if end.IsZero() {
		end = s.now()
	}
	start = q.Start
	if q.Days > 0 {
		start = end.AddDate(0, 0, -q.Days)
	}
	return start, end
}

// candidates picks the narrowest index for the query. Caller holds a lock.
func (s *Store) candidates(q Query) []slo.Metric {
	switch {
	case q.Service != "":
		return s.byService[q.Service]
	case q.Type != "":
		return s.byType[q.Type]
	default:
		return s.samples
	}
}

func matches(m slo.Metric, q Query, start, end time.Time) bool {
	if q.Service != "" && m.ServiceName != q.Service {
		return false
	}
	if q.Type != "" && m.Type != q.Type {
		return false
	}
	if !start.IsZero() && m.Timestamp.Before(start) {
		return false
	}
	if m.Timestamp.After(end) {
		return false
	}
	return true
}
