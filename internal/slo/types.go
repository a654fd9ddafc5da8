package slo

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Type identifies the kind of service level indicator an SLO tracks.
type Type string

const (
	TypeAvailability Type = "availability"
	TypeLatency      Type = "latency"
	TypeThroughput   Type = "throughput"
	TypeErrorRate    Type = "error_rate"
	TypeQuality      Type = "quality"
	TypeFreshness    Type = "freshness"
)

// ParseType converts a string into a Type, rejecting unknown values.
func ParseType(s string) (Type, error) {
	t := Type(s)
	switch t {
	case TypeAvailability, TypeLatency, TypeThroughput, TypeErrorRate, TypeQuality, TypeFreshness:
		return t, nil
	}
	return "", fmt.Errorf("unknown slo type %q", s)
}

func (t Type) String() string { return string(t) }

// UnmarshalYAML rejects unknown type strings instead of defaulting.
func (t *Type) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseType(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// UnmarshalJSON rejects unknown type strings instead of defaulting.
func (t *Type) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseType(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ComplianceStatus describes how an SLO stands against its error budget.
type ComplianceStatus string

const (
	StatusCompliant ComplianceStatus = "compliant"
	StatusAtRisk    ComplianceStatus = "at_risk"
	StatusBreached  ComplianceStatus = "breached"
	StatusUnknown   ComplianceStatus = "unknown"
)

// statusRank orders statuses from best to worst for rollups.
var statusRank = map[ComplianceStatus]int{
	StatusCompliant: 0,
	StatusUnknown:   1,
	StatusAtRisk:    2,
	StatusBreached:  3,
}

// ParseComplianceStatus converts a string into a ComplianceStatus,
// rejecting unknown values.
func ParseComplianceStatus(s string) (ComplianceStatus, error) {
	st := ComplianceStatus(s)
	if _, ok := statusRank[st]; !ok {
		return "", fmt.Errorf("unknown compliance status %q", s)
	}
	return st, nil
}

func (s ComplianceStatus) String() string { return string(s) }

// UnmarshalJSON rejects unknown status strings instead of defaulting.
func (s *ComplianceStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseComplianceStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// WorstStatus returns the worse of two statuses (breached > at_risk >
// unknown > compliant).
func WorstStatus(a, b ComplianceStatus) ComplianceStatus {
	if statusRank[b] > statusRank[a] {
		return b
	}
	return a
}

// Severity classifies a burn rate against alerting thresholds.
type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityElevated Severity = "elevated"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityNone:     0,
	SeverityElevated: 1,
	SeverityWarning:  2,
	SeverityCritical: 3,
}

// ParseSeverity converts a string into a Severity, rejecting unknown values.
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(s)
	if _, ok := severityRank[sev]; !ok {
		return "", fmt.Errorf("unknown alert severity %q", s)
	}
	return sev, nil
}

func (s Severity) String() string { return string(s) }

// UnmarshalJSON rejects unknown severity strings instead of defaulting.
func (s *Severity) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseSeverity(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Definition declares a service level objective: a target percentage for
// one indicator of one service over a rolling window. Definitions are
// immutable once constructed.
type Definition struct {
	Name        string            `yaml:"name" json:"name"`
	ServiceName string            `yaml:"service" json:"service_name"`
	Type        Type              `yaml:"type" json:"slo_type"`
	Target      float64           `yaml:"target" json:"target"`
	WindowDays  int               `yaml:"window_days" json:"window_days"`
	Description string            `yaml:"description,omitempty" json:"description,omitempty"`
	Labels      map[string]string `yaml:"labels,omitempty" json:"labels,omitempty"`

	// Latency SLOs only.
	ThresholdMs *float64 `yaml:"threshold_ms,omitempty" json:"threshold_ms,omitempty"`
	Percentile  *float64 `yaml:"percentile,omitempty" json:"percentile,omitempty"`

	// Interval overrides the server's default evaluation cadence for this
	// SLO. Duration string such as "30s" or "5m".
	Interval string `yaml:"evaluation_interval,omitempty" json:"evaluation_interval,omitempty"`
}

// Validate checks the definition invariants.
func (d Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("slo name must not be empty")
	}
	if d.ServiceName == "" {
		return fmt.Errorf("slo %q: service name must not be empty", d.Name)
	}
	if _, err := ParseType(string(d.Type)); err != nil {
		return fmt.Errorf("slo %q: %w", d.Name, err)
	}
	if d.Target < 0 || d.Target > 100 {
		return fmt.Errorf("slo %q: target must be between 0 and 100, got %v", d.Name, d.Target)
	}
	if d.WindowDays < 1 {
		return fmt.Errorf("slo %q: window_days must be at least 1, got %d", d.Name, d.WindowDays)
	}
	if d.Interval != "" {
		if _, err := ParseDuration(d.Interval); err != nil {
			return fmt.Errorf("slo %q: evaluation_interval: %w", d.Name, err)
		}
	}
	return nil
}

// Key returns the service-scoped identity of the definition.
func (d Definition) Key() string {
	return d.ServiceName + "/" + d.Name
}

// ErrorBudgetPercent returns the budget as a percentage of traffic (100 − target).
func (d Definition) ErrorBudgetPercent() float64 {
	return 100 - d.Target
}

// ErrorBudgetFraction returns the budget as a fraction of traffic.
func (d Definition) ErrorBudgetFraction() float64 {
	return (100 - d.Target) / 100
}

// WindowHours returns the rolling window length in hours.
func (d Definition) WindowHours() float64 {
	return float64(d.WindowDays) * 24
}

// EvaluationInterval returns the per-SLO evaluation cadence, falling back
// to def when the definition does not override it.
func (d Definition) EvaluationInterval(def time.Duration) time.Duration {
	if d.Interval == "" {
		return def
	}
	dur, err := ParseDuration(d.Interval)
	if err != nil {
		return def
	}
	return dur
}

// Metric is one service level indicator observation: a count of good
// events out of total events at a point in time. Metrics are immutable.
type Metric struct {
	Timestamp   time.Time         `json:"timestamp"`
	ServiceName string            `json:"service_name"`
	Type        Type              `json:"slo_type"`
	GoodEvents  int64             `json:"good_events"`
	TotalEvents int64             `json:"total_events"`
	Value       float64           `json:"value,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
}

// Validate checks the metric invariants.
func (m Metric) Validate() error {
	if m.ServiceName == "" {
		return fmt.Errorf("metric service name must not be empty")
	}
	if _, err := ParseType(string(m.Type)); err != nil {
		return err
	}
	if m.GoodEvents < 0 {
		return fmt.Errorf("metric good_events must not be negative, got %d", m.GoodEvents)
	}
	if m.TotalEvents < 0 {
		return fmt.Errorf("metric total_events must not be negative, got %d", m.TotalEvents)
	}
	if m.GoodEvents > m.TotalEvents {
		return fmt.Errorf("metric good_events (%d) must not exceed total_events (%d)", m.GoodEvents, m.TotalEvents)
	}
	return nil
}

// SuccessRate returns good/total, or 1.0 when there was no traffic.
// Absence of traffic is not failure.
func (m Metric) SuccessRate() float64 {
	if m.TotalEvents == 0 {
		return 1.0
	}
	return float64(m.GoodEvents) / float64(m.TotalEvents)
}

// FailureRate returns 1 − SuccessRate().
func (m Metric) FailureRate() float64 {
	return 1.0 - m.SuccessRate()
}

// BadEvents returns total − good.
func (m Metric) BadEvents() int64 {
	return m.TotalEvents - m.GoodEvents
}

// DefinitionWithFile pairs a definition with its source file path.
type DefinitionWithFile struct {
	Definition Definition
	File       string
}

// ValidationError reports one problem found in a definition file.
type ValidationError struct {
	File    string
	Path    string
	Message string
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Path != "" {
		return e.File + ": " + e.Path + ": " + e.Message
	}
	return e.File + ": " + e.Message
}
