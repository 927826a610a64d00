package grouping

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the clustering engine's OpenTelemetry instruments. The
// default no-op meter provider makes these free when no exporter is wired.
type Metrics struct {
	processed      metric.Int64Counter
	created        metric.Int64Counter
	fallbackTitles metric.Int64Counter
}

func newMetrics() *Metrics {
	meter := otel.Meter("github.com/fathomdesk/fathom/internal/grouping")

	processed, _ := meter.Int64Counter("fathom.grouping.conversations_processed",
		metric.WithDescription("Conversations assigned to issue groups by batch runs"))
	created, _ := meter.Int64Counter("fathom.grouping.groups_created",
		metric.WithDescription("Issue groups created by batch runs"))
	fallbackTitles, _ := meter.Int64Counter("fathom.grouping.fallback_titles",
		metric.WithDescription("Issue group titles produced by the deterministic fallback"))

	return &Metrics{
		processed:      processed,
		created:        created,
		fallbackTitles: fallbackTitles,
	}
}
