package api

import (
	"sync"
	"time"
)

// AlertType identifies the kind of anomaly detected.
type AlertType string

const (
	AlertLoginFailureSpike AlertType = "login_failure_spike"
	// AlertForgedOriginSpike fires on repeated trusted-origin rejections,
	// which usually indicate a cross-site forgery attempt.
	AlertForgedOriginSpike AlertType = "forged_origin_spike"
)

// AlertEvent describes an anomaly that triggered an alert.
type AlertEvent struct {
	Type      AlertType `json:"type"`
	Message   string    `json:"message"`
	Count     int       `json:"count"`
	Threshold int       `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertFunc is the callback invoked when an anomaly is detected.
type AlertFunc func(AlertEvent)

const (
	defaultLoginFailureWindow    = time.Minute
	defaultLoginFailureThreshold = 50
	defaultCSRFWindow            = 5 * time.Minute
	defaultCSRFThreshold         = 20
)

// slidingCounter fires once its count within window reaches threshold,
// then starts over.
type slidingCounter struct {
	times     []time.Time
	window    time.Duration
	threshold int
}

func (c *slidingCounter) add(now time.Time) (int, bool) {
	c.times = trimWindow(append(c.times, now), now, c.window)
	n := len(c.times)
	if n >= c.threshold {
		c.times = c.times[:0]
		return n, true
	}
	return n, false
}

// metricsCollector tracks sliding window counters for anomaly detection.
type metricsCollector struct {
	mu            sync.Mutex
	now           func() time.Time
	loginFailures slidingCounter
	csrfRejects   slidingCounter
	alertFn       AlertFunc
}

func newMetricsCollector(alertFn AlertFunc, now func() time.Time) *metricsCollector {
	return &metricsCollector{
		now:           now,
		loginFailures: slidingCounter{window: defaultLoginFailureWindow, threshold: defaultLoginFailureThreshold},
		csrfRejects:   slidingCounter{window: defaultCSRFWindow, threshold: defaultCSRFThreshold},
		alertFn:       alertFn,
	}
}

// recordEvent inspects an audit event and updates the relevant counters.
func (m *metricsCollector) recordEvent(event AuditEvent) {
	if m == nil || m.alertFn == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	switch event {
	case AuditLoginFailure:
		if n, fire := m.loginFailures.add(now); fire {
			m.alertFn(AlertEvent{
				Type:      AlertLoginFailureSpike,
				Message:   "login failure rate exceeds threshold",
				Count:     n,
				Threshold: m.loginFailures.threshold,
				Timestamp: now,
			})
		}
	case AuditCSRFRejected:
		if n, fire := m.csrfRejects.add(now); fire {
			m.alertFn(AlertEvent{
				Type:      AlertForgedOriginSpike,
				Message:   "trusted-origin rejection rate exceeds threshold",
				Count:     n,
				Threshold: m.csrfRejects.threshold,
				Timestamp: now,
			})
		}
	}
}

// trimWindow removes entries older than (now - window) from the sorted slice.
func trimWindow(times []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	start := 0
	for start < len(times) && times[start].Before(cutoff) {
		start++
	}
	return times[start:]
}
