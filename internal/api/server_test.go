package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/rpeltola/slostat/internal/budget"
	"github.com/rpeltola/slostat/internal/burnrate"
	"github.com/rpeltola/slostat/internal/metrics"
	"github.com/rpeltola/slostat/internal/report"
	"github.com/rpeltola/slostat/internal/scheduler"
	"github.com/rpeltola/slostat/internal/slo"
	"github.com/rpeltola/slostat/internal/storage"
	"github.com/rpeltola/slostat/internal/storage/sqlite"
	"github.com/rpeltola/slostat/internal/store"
)

var refTime = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

const testDefs = `slos:
  - name: checkout-availability
    service: checkout
    type: availability
    target: 99.0
    window_days: 30
  - name: search-availability
    service: search
    type: availability
    target: 99.5
    window_days: 30
`

func setupTestServer(t *testing.T) (*Server, *scheduler.Scheduler, *store.Store) {
	t.Helper()
	return setupServer(t, true)
}

func setupServer(t *testing.T, loadDefs bool) (*Server, *scheduler.Scheduler, *store.Store) {
	t.Helper()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "slos.yaml"), []byte(testDefs), 0o644); err != nil {
		t.Fatalf("write definitions: %v", err)
	}

	calc, err := budget.New(budget.DefaultConfig())
	if err != nil {
		t.Fatalf("budget.New: %v", err)
	}
	analyzer, err := burnrate.New(burnrate.DefaultConfig())
	if err != nil {
		t.Fatalf("burnrate.New: %v", err)
	}
	st := store.NewWithClock(func() time.Time { return refTime })

	sched := scheduler.New(calc, analyzer, st, zap.NewNop(), scheduler.Options{
		Directory:       dir,
		DefaultInterval: time.Minute,
		CacheTTL:        time.Minute,
	})
	if loadDefs {
		if err := sched.LoadDefinitions(); err != nil {
			t.Fatalf("LoadDefinitions: %v", err)
		}
	}

	server := NewServer(Deps{
		Scheduler: sched,
		Store:     st,
		Calc:      calc,
		Analyzer:  analyzer,
		Builder:   report.NewBuilder(calc, analyzer),
		Logger:    zap.NewNop(),
	}, Options{Addr: ":0"})
	server.now = func() time.Time { return refTime }

	return server, sched, st
}

func seedSamples(t *testing.T, st *store.Store, service string, good, total int64) {
	t.Helper()
	err := st.Record(slo.Metric{
		Timestamp:   refTime.Add(-time.Hour),
		ServiceName: service,
		Type:        slo.TypeAvailability,
		GoodEvents:  good,
		TotalEvents: total,
	})
	if err != nil {
		t.Fatalf("seed samples: %v", err)
	}
}

func findDef(t *testing.T, sched *scheduler.Scheduler, service string) slo.Definition {
	t.Helper()
	for _, def := range sched.Definitions() {
		if def.ServiceName == service {
			return def
		}
	}
	t.Fatalf("no definition loaded for service %s", service)
	return slo.Definition{}
}

func cacheEvaluation(sched *scheduler.Scheduler, def slo.Definition, status slo.ComplianceStatus, sli float64) {
	sched.Cache().Set(def.Key(), &scheduler.Evaluation{
		Definition: def,
		Budget: budget.ErrorBudget{
			SLOName:    def.Name,
			SLOTarget:  def.Target,
			CurrentSLI: sli,
			Status:     status,
		},
		Burn:      burnrate.BurnRate{SLOName: def.Name, Rate: 0.5},
		UpdatedAt: refTime.Add(-10 * time.Second),
		TTL:       time.Minute,
	})
}

func TestHealthEndpoint(t *testing.T) {
	server, _, _ := setupTestServer(t)

	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()

	server.handleHealth(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var resp HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("expected status=ok, got %s", resp.Status)
	}
}

func TestReadyEndpoint(t *testing.T) {
	tests := []struct {
		name           string
		loadDefs       bool
		expectedStatus int
		expectedReady  bool
	}{
		{
			name:           "ready with definitions",
			loadDefs:       true,
			expectedStatus: http.StatusOK,
			expectedReady:  true,
		},
		{
			name:           "not ready without definitions",
			loadDefs:       false,
			expectedStatus: http.StatusServiceUnavailable,
			expectedReady:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, _, _ := setupServer(t, tt.loadDefs)

			req := httptest.NewRequest("GET", "/readyz", nil)
			w := httptest.NewRecorder()

			server.handleReady(w, req)

			if w.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d", tt.expectedStatus, w.Code)
			}

			var resp ReadyResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp.Ready != tt.expectedReady {
				t.Errorf("expected ready=%v, got %v", tt.expectedReady, resp.Ready)
			}
			if tt.loadDefs && resp.SLOsLoaded != 2 {
				t.Errorf("expected 2 SLOs loaded, got %d", resp.SLOsLoaded)
			}
		})
	}
}

func TestSLOListEndpoint(t *testing.T) {
	server, sched, _ := setupTestServer(t)

	req := httptest.NewRequest("GET", "/v1/slos", nil)
	w := httptest.NewRecorder()
	server.handleSLOList(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var resp SLOListResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.SLOs) != 2 {
		t.Fatalf("expected 2 SLOs, got %d", len(resp.SLOs))
	}
	for _, summary := range resp.SLOs {
		if summary.Status != slo.StatusUnknown {
			t.Errorf("uncached SLO %s/%s: expected status unknown, got %s",
				summary.Service, summary.Name, summary.Status)
		}
		if summary.CurrentSLI != nil {
			t.Errorf("uncached SLO %s/%s: expected no current SLI", summary.Service, summary.Name)
		}
	}

	// A cached evaluation fills in status and SLI.
	cacheEvaluation(sched, findDef(t, sched, "checkout"), slo.StatusCompliant, 99.95)

	w = httptest.NewRecorder()
	server.handleSLOList(w, httptest.NewRequest("GET", "/v1/slos", nil))
	resp = SLOListResponse{}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	var checkout *SLOSummary
	for i := range resp.SLOs {
		if resp.SLOs[i].Service == "checkout" {
			checkout = &resp.SLOs[i]
		}
	}
	if checkout == nil {
		t.Fatal("checkout SLO missing from list")
	}
	if checkout.Status != slo.StatusCompliant {
		t.Errorf("expected status compliant, got %s", checkout.Status)
	}
	if checkout.CurrentSLI == nil || *checkout.CurrentSLI != 99.95 {
		t.Errorf("expected current SLI 99.95, got %v", checkout.CurrentSLI)
	}
	if checkout.UpdatedAt == nil {
		t.Error("expected updated_at to be set")
	}
}

func TestSLODetailEndpoint(t *testing.T) {
	server, sched, _ := setupTestServer(t)
	def := findDef(t, sched, "checkout")
	cacheEvaluation(sched, def, slo.StatusAtRisk, 99.1)

	req := httptest.NewRequest("GET", "/v1/slos/checkout/checkout-availability", nil)
	w := httptest.NewRecorder()
	server.handleSLO(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp SLODetailResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Definition.Key() != "checkout/checkout-availability" {
		t.Errorf("wrong definition: %s", resp.Definition.Key())
	}
	if resp.Budget == nil || resp.Budget.Status != slo.StatusAtRisk {
		t.Errorf("expected at_risk budget, got %+v", resp.Budget)
	}
	if resp.BurnRate == nil {
		t.Error("expected burn rate to be set")
	}
	if resp.Stale {
		t.Error("fresh evaluation reported as stale")
	}
}

func TestSLODetailStale(t *testing.T) {
	server, sched, _ := setupTestServer(t)
	def := findDef(t, sched, "checkout")

	sched.Cache().Set(def.Key(), &scheduler.Evaluation{
		Definition: def,
		Budget:     budget.ErrorBudget{Status: slo.StatusCompliant},
		UpdatedAt:  refTime.Add(-2 * time.Minute),
		TTL:        time.Minute,
	})

	w := httptest.NewRecorder()
	server.handleSLO(w, httptest.NewRequest("GET", "/v1/slos/checkout/checkout-availability", nil))

	var resp SLODetailResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.Stale {
		t.Error("expected evaluation past its TTL to be reported stale")
	}
}

func TestSLODetailFreshEvaluation(t *testing.T) {
	server, _, st := setupTestServer(t)
	seedSamples(t, st, "checkout", 9950, 10000)

	req := httptest.NewRequest("GET", "/v1/slos/checkout/checkout-availability?fresh=true", nil)
	w := httptest.NewRecorder()
	server.handleSLO(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp SLODetailResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Budget == nil {
		t.Fatal("expected fresh evaluation to populate the budget")
	}
	if resp.UpdatedAt == nil {
		t.Error("expected updated_at after fresh evaluation")
	}
}

func TestSLOEndpointErrors(t *testing.T) {
	server, _, _ := setupTestServer(t)

	tests := []struct {
		name           string
		path           string
		expectedStatus int
	}{
		{"unknown SLO", "/v1/slos/checkout/no-such-slo", http.StatusNotFound},
		{"unknown service", "/v1/slos/nope/checkout-availability", http.StatusNotFound},
		{"missing name", "/v1/slos/checkout", http.StatusBadRequest},
		{"unknown resource", "/v1/slos/checkout/checkout-availability/bogus", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			server.handleSLO(w, httptest.NewRequest("GET", tt.path, nil))
			if w.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d", tt.expectedStatus, w.Code)
			}
		})
	}
}

func TestBudgetEndpoint(t *testing.T) {
	server, _, st := setupTestServer(t)
	seedSamples(t, st, "checkout", 9950, 10000)

	req := httptest.NewRequest("GET", "/v1/slos/checkout/checkout-availability/budget", nil)
	w := httptest.NewRecorder()
	server.handleSLO(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp BudgetResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Budgets) != 1 {
		t.Fatalf("expected 1 budget, got %d", len(resp.Budgets))
	}

	// 50 bad events against an allowance of 100: half the budget is gone.
	b := resp.Budgets[0]
	if b.CurrentSLI < 99.49 || b.CurrentSLI > 99.51 {
		t.Errorf("expected SLI around 99.5, got %v", b.CurrentSLI)
	}
	if b.BudgetConsumedPercent < 49.9 || b.BudgetConsumedPercent > 50.1 {
		t.Errorf("expected about 50%% consumed, got %v", b.BudgetConsumedPercent)
	}
	if b.Status != slo.StatusCompliant {
		t.Errorf("expected compliant, got %s", b.Status)
	}
}

func TestBudgetEndpointMultiWindow(t *testing.T) {
	server, _, st := setupTestServer(t)
	seedSamples(t, st, "checkout", 9950, 10000)

	req := httptest.NewRequest("GET", "/v1/slos/checkout/checkout-availability/budget?windows=7,30", nil)
	w := httptest.NewRecorder()
	server.handleSLO(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp BudgetResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Budgets) != 2 {
		t.Fatalf("expected 2 budgets, got %d", len(resp.Budgets))
	}
	if resp.Budgets[0].WindowDays != 7 || resp.Budgets[1].WindowDays != 30 {
		t.Errorf("expected windows 7 and 30, got %d and %d",
			resp.Budgets[0].WindowDays, resp.Budgets[1].WindowDays)
	}
}

func TestBudgetEndpointInvalidWindows(t *testing.T) {
	server, _, _ := setupTestServer(t)

	for _, param := range []string{"abc", "0", "7,-1"} {
		req := httptest.NewRequest("GET", "/v1/slos/checkout/checkout-availability/budget?windows="+param, nil)
		w := httptest.NewRecorder()
		server.handleSLO(w, req)
		if w.Code != http.StatusBadRequest {
			t.Errorf("windows=%s: expected status 400, got %d", param, w.Code)
		}
	}
}

func TestDailyBudgetEndpoint(t *testing.T) {
	server, _, st := setupTestServer(t)
	seedSamples(t, st, "checkout", 9950, 10000)

	req := httptest.NewRequest("GET", "/v1/slos/checkout/checkout-availability/budget/daily?days=3", nil)
	w := httptest.NewRecorder()
	server.handleSLO(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp BudgetResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	// Only the most recent day has traffic; quiet days are omitted.
	if len(resp.Budgets) != 1 {
		t.Fatalf("expected 1 daily budget, got %d", len(resp.Budgets))
	}
	if resp.Budgets[0].WindowDays != 1 {
		t.Errorf("expected a one-day window, got %d", resp.Budgets[0].WindowDays)
	}
}

func TestBurnRateEndpoint(t *testing.T) {
	server, _, st := setupTestServer(t)
	seedSamples(t, st, "checkout", 10000, 10000)

	req := httptest.NewRequest("GET", "/v1/slos/checkout/checkout-availability/burnrate", nil)
	w := httptest.NewRecorder()
	server.handleSLO(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var rate burnrate.BurnRate
	if err := json.NewDecoder(w.Body).Decode(&rate); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if rate.RateShort == nil || rate.RateLong == nil {
		t.Error("expected multi-window rates to be set")
	}
	if rate.Rate != 0 {
		t.Errorf("expected zero burn rate with no failures, got %v", rate.Rate)
	}
	if rate.AlertSeverity != slo.SeverityNone {
		t.Errorf("expected severity none, got %s", rate.AlertSeverity)
	}
}

func TestBurnRateEndpointSingleWindow(t *testing.T) {
	server, _, st := setupTestServer(t)
	seedSamples(t, st, "checkout", 10000, 10000)

	req := httptest.NewRequest("GET", "/v1/slos/checkout/checkout-availability/burnrate?window=2", nil)
	w := httptest.NewRecorder()
	server.handleSLO(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var rate burnrate.BurnRate
	if err := json.NewDecoder(w.Body).Decode(&rate); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if rate.WindowHours != 2 {
		t.Errorf("expected 2h window, got %v", rate.WindowHours)
	}
	if rate.RateShort != nil {
		t.Error("single-window analysis must not set the short rate")
	}
}

func TestBurnRateEndpointInvalidWindow(t *testing.T) {
	server, _, _ := setupTestServer(t)

	for _, param := range []string{"abc", "-1", "0"} {
		req := httptest.NewRequest("GET", "/v1/slos/checkout/checkout-availability/burnrate?window="+param, nil)
		w := httptest.NewRecorder()
		server.handleSLO(w, req)
		if w.Code != http.StatusBadRequest {
			t.Errorf("window=%s: expected status 400, got %d", param, w.Code)
		}
	}
}

func TestIncidentsEndpointRecomputed(t *testing.T) {
	server, _, st := setupTestServer(t)
	seedSamples(t, st, "checkout", 10000, 10000)

	req := httptest.NewRequest("GET", "/v1/slos/checkout/checkout-availability/incidents?history=2", nil)
	w := httptest.NewRecorder()
	server.handleSLO(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp IncidentsResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Source != "recomputed" {
		t.Errorf("expected recomputed source, got %s", resp.Source)
	}
	if resp.HistoryHours != 2 {
		t.Errorf("expected 2h history, got %v", resp.HistoryHours)
	}
	if len(resp.Incidents) != 0 {
		t.Errorf("expected no incidents for a healthy service, got %d", len(resp.Incidents))
	}
}

func TestIncidentsEndpointPersisted(t *testing.T) {
	server, sched, _ := setupTestServer(t)

	hist, err := sqlite.NewStore(filepath.Join(t.TempDir(), "slostat.db"))
	if err != nil {
		t.Fatalf("sqlite.NewStore: %v", err)
	}
	defer hist.Close()
	sched.SetHistoryStore(hist)

	// Two warning ticks followed by a quiet one: a single half-hour incident.
	base := refTime.Add(-2 * time.Hour)
	ticks := []struct {
		at      time.Time
		warning bool
	}{
		{base, true},
		{base.Add(15 * time.Minute), true},
		{base.Add(30 * time.Minute), false},
	}
	for _, tick := range ticks {
		rate := burnrate.BurnRate{
			SLOName:      "checkout-availability",
			CalculatedAt: tick.at,
			WindowHours:  1,
			Rate:         0.2,
		}
		severity := slo.SeverityNone
		if tick.warning {
			rate.Rate = 8
			rate.IsWarning = true
			rate.AlertSeverity = slo.SeverityWarning
			severity = slo.SeverityWarning
		}
		err := hist.SaveEvaluation(storage.EvaluationRecord{
			Service:     "checkout",
			SLOName:     "checkout-availability",
			Status:      slo.StatusCompliant,
			Severity:    severity,
			BurnRate:    rate,
			EvaluatedAt: tick.at,
		})
		if err != nil {
			t.Fatalf("SaveEvaluation: %v", err)
		}
	}

	req := httptest.NewRequest("GET", "/v1/slos/checkout/checkout-availability/incidents", nil)
	w := httptest.NewRecorder()
	server.handleSLO(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp IncidentsResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Source != "persisted" {
		t.Errorf("expected persisted source, got %s", resp.Source)
	}
	if len(resp.Incidents) != 1 {
		t.Fatalf("expected 1 incident, got %d", len(resp.Incidents))
	}
	incident := resp.Incidents[0]
	if !incident.StartTime.Equal(base) {
		t.Errorf("incident start = %v, want %v", incident.StartTime, base)
	}
	if !incident.EndTime.Equal(base.Add(30 * time.Minute)) {
		t.Errorf("incident end = %v, want %v", incident.EndTime, base.Add(30*time.Minute))
	}
	if incident.Severity != slo.SeverityWarning {
		t.Errorf("incident severity = %s, want warning", incident.Severity)
	}
}

func TestServicesEndpoint(t *testing.T) {
	server, _, st := setupTestServer(t)
	seedSamples(t, st, "checkout", 9950, 10000)
	seedSamples(t, st, "checkout", 9960, 10000)
	seedSamples(t, st, "search", 500, 500)

	req := httptest.NewRequest("GET", "/v1/services", nil)
	w := httptest.NewRecorder()
	server.handleServices(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var resp ServicesResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Services) != 2 {
		t.Fatalf("expected 2 services, got %d", len(resp.Services))
	}
	if resp.Services[0].Name != "checkout" || resp.Services[1].Name != "search" {
		t.Errorf("expected sorted services [checkout search], got %+v", resp.Services)
	}
	if resp.Services[0].SampleCount != 2 {
		t.Errorf("expected 2 checkout samples, got %d", resp.Services[0].SampleCount)
	}
	if len(resp.Services[0].Types) != 1 || resp.Services[0].Types[0] != slo.TypeAvailability {
		t.Errorf("expected availability type, got %v", resp.Services[0].Types)
	}
}

func TestIngestSamples(t *testing.T) {
	server, _, st := setupTestServer(t)

	body, _ := json.Marshal(SamplesRequest{Samples: []slo.Metric{
		{
			Timestamp:   refTime.Add(-time.Hour),
			ServiceName: "payments",
			Type:        slo.TypeAvailability,
			GoodEvents:  990,
			TotalEvents: 1000,
		},
		{
			// No timestamp: stamped on arrival.
			ServiceName: "payments",
			Type:        slo.TypeAvailability,
			GoodEvents:  495,
			TotalEvents: 500,
		},
	}})

	req := httptest.NewRequest("POST", "/v1/samples", bytes.NewReader(body))
	w := httptest.NewRecorder()
	server.handleSamples(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", w.Code, w.Body.String())
	}

	var resp SamplesResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Accepted != 2 {
		t.Errorf("expected 2 accepted, got %d", resp.Accepted)
	}

	samples := st.History(store.Query{Service: "payments", End: refTime})
	if len(samples) != 2 {
		t.Fatalf("expected 2 stored samples, got %d", len(samples))
	}
	for _, m := range samples {
		if m.Timestamp.IsZero() {
			t.Error("stored sample has a zero timestamp")
		}
	}
}

func TestIngestSamplesRejectsBadInput(t *testing.T) {
	server, _, st := setupTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"malformed JSON", `{"samples": [`},
		{"empty batch", `{"samples": []}`},
		{"good exceeds total", `{"samples": [{"service_name": "payments", "slo_type": "availability", "good_events": 10, "total_events": 5}]}`},
		{"missing service", `{"samples": [{"slo_type": "availability", "good_events": 1, "total_events": 5}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/v1/samples", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			server.handleSamples(w, req)
			if w.Code != http.StatusBadRequest {
				t.Errorf("expected status 400, got %d", w.Code)
			}
		})
	}

	if got := st.Count(store.Query{}); got != 0 {
		t.Errorf("rejected input must not be stored, found %d samples", got)
	}
}

func TestClearSamples(t *testing.T) {
	server, _, st := setupTestServer(t)
	seedSamples(t, st, "checkout", 9950, 10000)
	seedSamples(t, st, "search", 500, 500)

	req := httptest.NewRequest("DELETE", "/v1/samples?service=checkout", nil)
	w := httptest.NewRecorder()
	server.handleSamples(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var resp ClearResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Cleared != "checkout" {
		t.Errorf("expected cleared=checkout, got %s", resp.Cleared)
	}
	if got := st.Count(store.Query{Service: "checkout"}); got != 0 {
		t.Errorf("checkout still has %d samples", got)
	}
	if got := st.Count(store.Query{Service: "search"}); got != 1 {
		t.Errorf("search should be untouched, has %d samples", got)
	}

	// Without ?service= everything goes.
	w = httptest.NewRecorder()
	server.handleSamples(w, httptest.NewRequest("DELETE", "/v1/samples", nil))
	resp = ClearResponse{}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Cleared != "all" {
		t.Errorf("expected cleared=all, got %s", resp.Cleared)
	}
	if got := st.Count(store.Query{}); got != 0 {
		t.Errorf("expected empty store, found %d samples", got)
	}
}

func TestEvaluationsEndpointWithoutHistory(t *testing.T) {
	server, _, _ := setupTestServer(t)

	req := httptest.NewRequest("GET", "/v1/evaluations", nil)
	w := httptest.NewRecorder()
	server.handleEvaluations(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503 without a history store, got %d", w.Code)
	}
}

func TestEvaluationsEndpoint(t *testing.T) {
	server, sched, _ := setupTestServer(t)

	hist, err := sqlite.NewStore(filepath.Join(t.TempDir(), "slostat.db"))
	if err != nil {
		t.Fatalf("sqlite.NewStore: %v", err)
	}
	defer hist.Close()
	sched.SetHistoryStore(hist)

	records := []storage.EvaluationRecord{
		{
			Service:     "checkout",
			SLOName:     "checkout-availability",
			Status:      slo.StatusCompliant,
			Severity:    slo.SeverityNone,
			EvaluatedAt: refTime.Add(-time.Hour),
		},
		{
			Service:     "search",
			SLOName:     "search-availability",
			Status:      slo.StatusBreached,
			Severity:    slo.SeverityCritical,
			EvaluatedAt: refTime.Add(-30 * time.Minute),
		},
	}
	for _, rec := range records {
		if err := hist.SaveEvaluation(rec); err != nil {
			t.Fatalf("SaveEvaluation: %v", err)
		}
	}

	req := httptest.NewRequest("GET", "/v1/evaluations", nil)
	w := httptest.NewRecorder()
	server.handleEvaluations(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp EvaluationsResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Total != 2 {
		t.Errorf("expected 2 evaluations, got %d", resp.Total)
	}

	// Filtered by service.
	w = httptest.NewRecorder()
	server.handleEvaluations(w, httptest.NewRequest("GET", "/v1/evaluations?service=checkout", nil))
	resp = EvaluationsResponse{}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Total != 1 || resp.Evaluations[0].Service != "checkout" {
		t.Errorf("expected only the checkout evaluation, got %+v", resp.Evaluations)
	}

	// Filter with no matches returns an empty list, not null.
	w = httptest.NewRecorder()
	server.handleEvaluations(w, httptest.NewRequest("GET", "/v1/evaluations?status=at_risk", nil))
	if !strings.Contains(w.Body.String(), `"evaluations":[]`) {
		t.Errorf("expected empty evaluations array, got %s", w.Body.String())
	}
}

func TestReportsEndpoint(t *testing.T) {
	server, _, st := setupTestServer(t)
	seedSamples(t, st, "checkout", 9950, 10000)
	seedSamples(t, st, "search", 500, 500)

	req := httptest.NewRequest("GET", "/v1/reports", nil)
	w := httptest.NewRecorder()
	server.handleReports(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp ReportsResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Reports) != 2 {
		t.Fatalf("expected 2 reports, got %d", len(resp.Reports))
	}
	if resp.Reports[0].ServiceName != "checkout" || resp.Reports[1].ServiceName != "search" {
		t.Errorf("expected reports for [checkout search], got %s and %s",
			resp.Reports[0].ServiceName, resp.Reports[1].ServiceName)
	}
}

func TestServiceReportEndpoint(t *testing.T) {
	server, _, st := setupTestServer(t)
	seedSamples(t, st, "checkout", 9950, 10000)

	req := httptest.NewRequest("GET", "/v1/reports/checkout", nil)
	w := httptest.NewRecorder()
	server.handleServiceReport(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var rep report.Report
	if err := json.NewDecoder(w.Body).Decode(&rep); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if rep.ServiceName != "checkout" {
		t.Errorf("expected checkout report, got %s", rep.ServiceName)
	}
	if rep.TotalSLOs != 1 {
		t.Errorf("expected 1 SLO in report, got %d", rep.TotalSLOs)
	}
	if rep.OverallCompliance != slo.StatusCompliant {
		t.Errorf("expected compliant, got %s", rep.OverallCompliance)
	}
}

func TestServiceReportEndpointUnknownService(t *testing.T) {
	server, _, _ := setupTestServer(t)

	w := httptest.NewRecorder()
	server.handleServiceReport(w, httptest.NewRequest("GET", "/v1/reports/nope", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	server.handleServiceReport(w, httptest.NewRequest("GET", "/v1/reports/", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400 for empty service, got %d", w.Code)
	}
}

func TestMetricsEndpointMounted(t *testing.T) {
	_, sched, st := setupTestServer(t)

	set := metrics.NewSet()
	set.ObserveIngest("api", 3)

	calc, _ := budget.New(budget.DefaultConfig())
	analyzer, _ := burnrate.New(burnrate.DefaultConfig())
	server := NewServer(Deps{
		Scheduler: sched,
		Store:     st,
		Calc:      calc,
		Analyzer:  analyzer,
		Builder:   report.NewBuilder(calc, analyzer),
		Metrics:   set,
		Stream:    http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }),
		Logger:    zap.NewNop(),
	}, Options{Addr: ":0"})

	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200 from /metrics, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "slostat_samples_ingested_total") {
		t.Error("expected exposition to include slostat_samples_ingested_total")
	}

	w = httptest.NewRecorder()
	server.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/v1/stream", nil))
	if w.Code != http.StatusOK {
		t.Errorf("expected stream handler to be mounted, got %d", w.Code)
	}
}

func TestMetricsEndpointAbsentWhenUnconfigured(t *testing.T) {
	server, _, _ := setupTestServer(t)

	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404 without metrics configured, got %d", w.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	server, _, _ := setupTestServer(t)

	tests := []struct {
		method string
		path   string
	}{
		{"POST", "/healthz"},
		{"DELETE", "/v1/slos"},
		{"POST", "/v1/slos/checkout/checkout-availability"},
		{"PUT", "/v1/samples"},
		{"POST", "/v1/reports"},
	}

	for _, tt := range tests {
		w := httptest.NewRecorder()
		server.Handler().ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, nil))
		if w.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s %s: expected status 405, got %d", tt.method, tt.path, w.Code)
		}
	}
}
