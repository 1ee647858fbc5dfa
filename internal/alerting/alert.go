package alerting

import (
	"time"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityCritical:
		return true
	}
	return false
}

// Alert is one operational event headed for external channels. Source names
// the emitting component (watchdog, reconciler, worker).
type Alert struct {
	Title    string            `json:"title"`
	Message  string            `json:"message"`
	Severity Severity          `json:"severity"`
	Source   string            `json:"source,omitempty"`
	Labels   map[string]string `json:"labels,omitempty"`
	At       time.Time         `json:"at"`
}

// Fingerprint is the dedupe key: identical title, message, and severity
// within the TTL window collapse into one delivery.
func (a Alert) Fingerprint() string {
	return a.Title + "|" + a.Message + "|" + string(a.Severity)
}
