package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// EventMetrics counts reactive modifier transitions.
type EventMetrics struct {
	modifierUpdates *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *EventMetrics
)

// Events returns the metrics registry tracking reactive modifier transitions.
func Events() *EventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &EventMetrics{
			modifierUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "blend",
				Subsystem: "events",
				Name:      "modifier_updates_total",
				Help:      "Count of reactive modifier updates segmented by reserve and direction.",
			}, []string{"reserve", "direction"}),
		}
		prometheus.MustRegister(eventRegistry.modifierUpdates)
	})
	return eventRegistry
}

// RecordModifierUpdate counts a modifier transition. Direction is one of
// "created", "up", "down" or "unchanged".
func (m *EventMetrics) RecordModifierUpdate(reserve, direction string) {
	if m == nil {
		return
	}
	if direction == "" {
		direction = "unchanged"
	}
	m.modifierUpdates.WithLabelValues(normalizeReserve(reserve), direction).Inc()
}
