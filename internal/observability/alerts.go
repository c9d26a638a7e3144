package observability

import (
	"context"

	"github.com/couchcryptid/flood-telemetry/internal/alert"
)

// AlertGauges mirrors published alert states into the alert metrics.
type AlertGauges struct {
	m *Metrics
}

// AlertPublisher returns an alert.Publisher backed by m.
func (m *Metrics) AlertPublisher() *AlertGauges {
	return &AlertGauges{m: m}
}

// Publish sets alert_active for every known condition and counts the change.
func (g *AlertGauges) Publish(_ context.Context, s alert.State) error {
	for _, c := range alert.AllConditions() {
		v := 0.0
		if s.Has(c) {
			v = 1
		}
		g.m.AlertActive.WithLabelValues(string(c)).Set(v)
	}
	g.m.AlertStateChanges.Inc()
	return nil
}
