package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/rpeltola/slostat/internal/budget"
	"github.com/rpeltola/slostat/internal/burnrate"
	"github.com/rpeltola/slostat/internal/metrics"
	"github.com/rpeltola/slostat/internal/report"
	"github.com/rpeltola/slostat/internal/scheduler"
	"github.com/rpeltola/slostat/internal/slo"
	"github.com/rpeltola/slostat/internal/storage"
	"github.com/rpeltola/slostat/internal/store"
)

// incidentStepHours is the re-evaluation cadence used when incidents are
// recomputed from raw samples instead of read from persisted history.
const incidentStepHours = 0.25

// Deps are the collaborators the HTTP server exposes. Metrics and Stream
// are optional; their endpoints are mounted only when provided.
type Deps struct {
	Scheduler *scheduler.Scheduler
	Store     *store.Store
	Calc      *budget.Calculator
	Analyzer  *burnrate.Analyzer
	Builder   *report.Builder
	Metrics   *metrics.Set
	Stream    http.Handler
	Logger    *zap.Logger
}

// Options configure the HTTP server.
type Options struct {
	Addr string

	// Multi-window pair used by the burn rate and report endpoints when
	// the request does not override it.
	ShortWindowHours float64
	LongWindowHours  float64
}

// Server is the HTTP API server.
type Server struct {
	sched    *scheduler.Scheduler
	store    *store.Store
	calc     *budget.Calculator
	analyzer *burnrate.Analyzer
	builder  *report.Builder
	metrics  *metrics.Set
	logger   *zap.Logger
	opts     Options
	server   *http.Server

	now func() time.Time
}

// NewServer wires the API routes and returns a server ready to Start.
func NewServer(deps Deps, opts Options) *Server {
	if opts.Addr == "" {
		opts.Addr = ":8080"
	}
	if opts.ShortWindowHours <= 0 {
		opts.ShortWindowHours = 1
	}
	if opts.LongWindowHours <= 0 {
		opts.LongWindowHours = 6
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		sched:    deps.Scheduler,
		store:    deps.Store,
		calc:     deps.Calc,
		analyzer: deps.Analyzer,
		builder:  deps.Builder,
		metrics:  deps.Metrics,
		logger:   logger,
		opts:     opts,
		now:      time.Now,
	}

	mux := http.NewServeMux()

	// Health endpoints
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)

	// SLO endpoints
	mux.HandleFunc("/v1/slos", s.handleSLOList)
	mux.HandleFunc("/v1/slos/", s.handleSLO)

	// Sample endpoints
	mux.HandleFunc("/v1/services", s.handleServices)
	mux.HandleFunc("/v1/samples", s.handleSamples)

	// History and report endpoints
	mux.HandleFunc("/v1/evaluations", s.handleEvaluations)
	mux.HandleFunc("/v1/reports", s.handleReports)
	mux.HandleFunc("/v1/reports/", s.handleServiceReport)

	if deps.Metrics != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(deps.Metrics.Registry(), promhttp.HandlerOpts{}))
	}
	if deps.Stream != nil {
		mux.Handle("/v1/stream", deps.Stream)
	}

	// No WriteTimeout: /v1/stream holds connections open and manages its
	// own write deadlines.
	s.server = &http.Server{
		Addr:        opts.Addr,
		Handler:     s.loggingMiddleware(mux),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	return s
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("starting API server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")
	return s.server.Shutdown(ctx)
}

// Handler returns the server's root handler, routes and middleware included.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// handleHealth handles GET /healthz
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	respondJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// handleReady handles GET /readyz
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	defs := s.sched.Definitions()
	cacheSize := s.sched.Cache().Size()

	ready := len(defs) > 0
	reasons := []string{}

	if len(defs) == 0 {
		reasons = append(reasons, "no SLO definitions loaded")
	}
	if cacheSize == 0 {
		reasons = append(reasons, "no evaluations cached yet")
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}

	respondJSON(w, status, ReadyResponse{
		Ready:             ready,
		SLOsLoaded:        len(defs),
		EvaluationsCached: cacheSize,
		Reasons:           reasons,
	})
}

// handleSLOList handles GET /v1/slos
func (s *Server) handleSLOList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	defs := s.sched.Definitions()
	cache := s.sched.Cache()

	summaries := make([]SLOSummary, 0, len(defs))
	for _, def := range defs {
		summary := SLOSummary{
			Service:    def.ServiceName,
			Name:       def.Name,
			Type:       def.Type,
			Target:     def.Target,
			WindowDays: def.WindowDays,
			Status:     slo.StatusUnknown,
		}
		if e, ok := cache.Get(def.Key()); ok {
			sli := e.Budget.CurrentSLI
			updated := e.UpdatedAt
			summary.Status = e.Budget.Status
			summary.CurrentSLI = &sli
			summary.UpdatedAt = &updated
		}
		summaries = append(summaries, summary)
	}

	respondJSON(w, http.StatusOK, SLOListResponse{SLOs: summaries})
}

// handleSLO dispatches the /v1/slos/{service}/{name} subtree:
//
//	GET /v1/slos/{service}/{name}               definition + latest evaluation
//	GET /v1/slos/{service}/{name}/budget        budget over the SLO window
//	GET /v1/slos/{service}/{name}/budget/daily  per-day budget breakdown
//	GET /v1/slos/{service}/{name}/burnrate      burn rate analysis
//	GET /v1/slos/{service}/{name}/incidents     reconstructed incidents
func (s *Server) handleSLO(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/v1/slos/")
	parts := strings.SplitN(path, "/", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		respondError(w, http.StatusBadRequest, "invalid path format, expected /v1/slos/{service}/{name}")
		return
	}
	service, name := parts[0], parts[1]
	rest := ""
	if len(parts) == 3 {
		rest = strings.TrimSuffix(parts[2], "/")
	}

	def, ok := s.findDefinition(service, name)
	if !ok {
		respondError(w, http.StatusNotFound, fmt.Sprintf("unknown SLO: %s/%s", service, name))
		return
	}

	switch rest {
	case "":
		s.sloDetail(w, r, def)
	case "budget":
		s.sloBudget(w, r, def)
	case "budget/daily":
		s.sloDailyBudget(w, r, def)
	case "burnrate":
		s.sloBurnRate(w, r, def)
	case "incidents":
		s.sloIncidents(w, r, def)
	default:
		respondError(w, http.StatusNotFound, fmt.Sprintf("unknown resource: %s", rest))
	}
}

// sloDetail returns the definition plus the latest cached evaluation.
// ?fresh=true forces a synchronous re-evaluation first.
func (s *Server) sloDetail(w http.ResponseWriter, r *http.Request, def slo.Definition) {
	if r.URL.Query().Get("fresh") == "true" {
		if err := s.sched.EvaluateNow(def.ServiceName, def.Name); err != nil {
			respondError(w, http.StatusInternalServerError, fmt.Sprintf("evaluation failed: %v", err))
			return
		}
	}

	resp := SLODetailResponse{Definition: def}
	if e, ok := s.sched.Cache().Get(def.Key()); ok {
		bud := e.Budget
		rate := e.Burn
		updated := e.UpdatedAt
		resp.Budget = &bud
		resp.BurnRate = &rate
		resp.UpdatedAt = &updated
		resp.Stale = e.IsStale(s.now())
	}

	respondJSON(w, http.StatusOK, resp)
}

// sloBudget computes the error budget over the SLO's own window, or over
// each window in ?windows=7,30 when given.
func (s *Server) sloBudget(w http.ResponseWriter, r *http.Request, def slo.Definition) {
	at := s.now()
	samples := s.store.History(store.Query{Service: def.ServiceName, Type: def.Type, End: at})

	var budgets []budget.ErrorBudget
	if param := r.URL.Query().Get("windows"); param != "" {
		windows, err := parseWindows(param)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		budgets, err = s.calc.CalculateMultiWindow(def, samples, windows, at)
		if err != nil {
			respondError(w, http.StatusInternalServerError, fmt.Sprintf("budget calculation failed: %v", err))
			return
		}
	} else {
		bud, err := s.calc.Calculate(def, samples, at)
		if err != nil {
			respondError(w, http.StatusInternalServerError, fmt.Sprintf("budget calculation failed: %v", err))
			return
		}
		budgets = []budget.ErrorBudget{bud}
	}

	respondJSON(w, http.StatusOK, BudgetResponse{
		Service: def.ServiceName,
		SLOName: def.Name,
		Budgets: budgets,
	})
}

// sloDailyBudget breaks the budget into per-day slices, ?days=7 by default.
func (s *Server) sloDailyBudget(w http.ResponseWriter, r *http.Request, def slo.Definition) {
	days := 7
	if v := r.URL.Query().Get("days"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			days = n
		}
	}

	at := s.now()
	samples := s.store.History(store.Query{Service: def.ServiceName, Type: def.Type, End: at})

	budgets, err := s.calc.DailyBudgets(def, samples, days, at)
	if err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("budget calculation failed: %v", err))
		return
	}

	respondJSON(w, http.StatusOK, BudgetResponse{
		Service: def.ServiceName,
		SLOName: def.Name,
		Budgets: budgets,
	})
}

// sloBurnRate runs the multi-window analysis, or a single window when
// ?window={hours} is given.
func (s *Server) sloBurnRate(w http.ResponseWriter, r *http.Request, def slo.Definition) {
	at := s.now()
	samples := s.store.History(store.Query{Service: def.ServiceName, Type: def.Type, End: at})

	if param := r.URL.Query().Get("window"); param != "" {
		hours, err := strconv.ParseFloat(param, 64)
		if err != nil || hours <= 0 {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid window: %s", param))
			return
		}
		rate, err := s.analyzer.Analyze(def, samples, hours, at)
		if err != nil {
			respondError(w, http.StatusInternalServerError, fmt.Sprintf("burn rate analysis failed: %v", err))
			return
		}
		respondJSON(w, http.StatusOK, rate)
		return
	}

	rate, err := s.analyzer.MultiWindowAnalyze(def, samples, s.opts.ShortWindowHours, s.opts.LongWindowHours, at)
	if err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("burn rate analysis failed: %v", err))
		return
	}
	respondJSON(w, http.StatusOK, rate)
}

// sloIncidents reconstructs incidents over ?history={hours} (24 by default).
// Persisted evaluation history is preferred; without it the burn rate series
// is recomputed from raw samples.
func (s *Server) sloIncidents(w http.ResponseWriter, r *http.Request, def slo.Definition) {
	query := r.URL.Query()

	historyHours := 24.0
	if v := query.Get("history"); v != "" {
		if h, err := strconv.ParseFloat(v, 64); err == nil && h > 0 {
			historyHours = h
		}
	}
	minDuration := 0.0
	if v := query.Get("min_duration"); v != "" {
		if d, err := strconv.ParseFloat(v, 64); err == nil && d >= 0 {
			minDuration = d
		}
	}

	at := s.now()
	since := at.Add(-time.Duration(historyHours * float64(time.Hour)))

	var series []burnrate.BurnRate
	source := "recomputed"
	if history := s.sched.History(); history != nil {
		persisted, err := history.BurnRateSeries(def.ServiceName, def.Name, since)
		if err != nil {
			respondError(w, http.StatusInternalServerError, fmt.Sprintf("failed to load burn rate series: %v", err))
			return
		}
		if len(persisted) > 0 {
			series = persisted
			source = "persisted"
		}
	}
	if source == "recomputed" {
		samples := s.store.History(store.Query{Service: def.ServiceName, Type: def.Type, End: at})
		recomputed, err := s.analyzer.AnalyzeHistory(def, samples, s.opts.ShortWindowHours, historyHours, incidentStepHours, at)
		if err != nil {
			respondError(w, http.StatusInternalServerError, fmt.Sprintf("burn rate analysis failed: %v", err))
			return
		}
		series = recomputed
	}

	incidents := s.analyzer.DetectIncidents(series, minDuration)
	if incidents == nil {
		incidents = []burnrate.Incident{}
	}

	respondJSON(w, http.StatusOK, IncidentsResponse{
		Service:      def.ServiceName,
		SLOName:      def.Name,
		HistoryHours: historyHours,
		Source:       source,
		Incidents:    incidents,
	})
}

// handleServices handles GET /v1/services
func (s *Server) handleServices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	names := s.store.Services()
	infos := make([]ServiceInfo, 0, len(names))
	for _, name := range names {
		infos = append(infos, ServiceInfo{
			Name:        name,
			Types:       s.store.Types(name),
			SampleCount: s.store.Count(store.Query{Service: name}),
		})
	}

	respondJSON(w, http.StatusOK, ServicesResponse{Services: infos})
}

// handleSamples handles POST /v1/samples (ingest) and DELETE /v1/samples
// (purge, optionally scoped by ?service=).
func (s *Server) handleSamples(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.ingestSamples(w, r)
	case http.MethodDelete:
		s.clearSamples(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) ingestSamples(w http.ResponseWriter, r *http.Request) {
	var req SamplesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}
	if len(req.Samples) == 0 {
		respondError(w, http.StatusBadRequest, "no samples provided")
		return
	}

	now := s.now().UTC()
	for i := range req.Samples {
		if req.Samples[i].Timestamp.IsZero() {
			req.Samples[i].Timestamp = now
		}
	}

	if err := s.store.RecordBatch(req.Samples); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid sample: %v", err))
		return
	}
	if s.metrics != nil {
		s.metrics.ObserveIngest("api", len(req.Samples))
	}

	respondJSON(w, http.StatusAccepted, SamplesResponse{Accepted: len(req.Samples)})
}

func (s *Server) clearSamples(w http.ResponseWriter, r *http.Request) {
	service := r.URL.Query().Get("service")
	s.store.Clear(service)

	cleared := service
	if cleared == "" {
		cleared = "all"
	}
	respondJSON(w, http.StatusOK, ClearResponse{Cleared: cleared})
}

// handleEvaluations handles GET /v1/evaluations with
// ?service=&slo=&status=&since=&until=&limit=&offset= filters.
func (s *Server) handleEvaluations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	history := s.sched.History()
	if history == nil {
		respondError(w, http.StatusServiceUnavailable, "evaluation history not configured")
		return
	}

	query := r.URL.Query()
	filter := storage.Filter{
		Service: query.Get("service"),
		SLOName: query.Get("slo"),
		Status:  slo.ComplianceStatus(query.Get("status")),
	}
	if v := query.Get("since"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.Since = t
		}
	}
	if v := query.Get("until"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.Until = t
		}
	}
	if v := query.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := query.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	records, err := history.Evaluations(filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("failed to query evaluations: %v", err))
		return
	}
	if records == nil {
		records = []storage.EvaluationRecord{}
	}

	respondJSON(w, http.StatusOK, EvaluationsResponse{Evaluations: records, Total: len(records)})
}

// handleReports handles GET /v1/reports: a compliance report per service.
func (s *Server) handleReports(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	reports, err := s.builder.Sweep(s.store, s.sched.Definitions(), s.now(), s.reportOptions())
	if err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("report generation failed: %v", err))
		return
	}
	if reports == nil {
		reports = []report.Report{}
	}

	respondJSON(w, http.StatusOK, ReportsResponse{Reports: reports})
}

// handleServiceReport handles GET /v1/reports/{service}
func (s *Server) handleServiceReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	service := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/reports/"), "/")
	if service == "" {
		respondError(w, http.StatusBadRequest, "service required")
		return
	}

	defs := slo.GroupByService(s.sched.Definitions())[service]
	if len(defs) == 0 {
		respondError(w, http.StatusNotFound, fmt.Sprintf("no SLO definitions for service: %s", service))
		return
	}

	rep, err := s.builder.BuildForService(s.store, service, defs, s.now(), s.reportOptions())
	if err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("report generation failed: %v", err))
		return
	}

	respondJSON(w, http.StatusOK, rep)
}

func (s *Server) reportOptions() report.Options {
	return report.Options{
		ShortWindowHours: s.opts.ShortWindowHours,
		LongWindowHours:  s.opts.LongWindowHours,
	}
}

func (s *Server) findDefinition(service, name string) (slo.Definition, bool) {
	for _, def := range s.sched.Definitions() {
		if def.ServiceName == service && def.Name == name {
			return def, true
		}
	}
	return slo.Definition{}, false
}

// parseWindows parses a comma-separated list of window lengths in days.
func parseWindows(param string) ([]int, error) {
	fields := strings.Split(param, ",")
	windows := make([]int, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid window: %s", f)
		}
		windows = append(windows, n)
	}
	return windows, nil
}

// Helper functions

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, ErrorResponse{Error: message})
}

// loggingMiddleware logs each request. It deliberately does not wrap the
// ResponseWriter so /v1/stream still sees the http.Hijacker it needs.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request handled",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}
