package slo

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// SampleFile is the on-disk shape of a metric samples file: a JSON object
// carrying any number of observations. Used by the CLI and by tests.
type SampleFile struct {
	Samples []Metric `json:"samples"`
}

// LoadSamples reads and validates a JSON samples file.
func LoadSamples(path string) ([]Metric, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read samples file: %w", err)
	}

	var file SampleFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse samples file: %w", err)
	}

	for i, m := range file.Samples {
		if err := m.Validate(); err != nil {
			return nil, fmt.Errorf("sample %d: %w", i, err)
		}
	}

	return file.Samples, nil
}

// LatestTimestamp returns the newest sample timestamp, or the zero time for
// an empty slice. Offline evaluation anchors its window here so recorded
// samples are not dismissed as ancient.
func LatestTimestamp(samples []Metric) time.Time {
	var latest time.Time
	for _, m := range samples {
		if m.Timestamp.After(latest) {
			latest = m.Timestamp
		}
	}
	return latest
}
