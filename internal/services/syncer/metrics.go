package syncer

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var (
	syncTracer = otel.Tracer("provsync/syncer")
	syncMeter  = otel.Meter("provsync/syncer")

	syncRunTotal, _ = syncMeter.Int64Counter("sync.run.total",
		metric.WithDescription("Connection sync runs by outcome"),
	)
	syncRunDuration, _ = syncMeter.Float64Histogram("sync.run.duration",
		metric.WithDescription("Connection sync run duration in seconds"),
		metric.WithUnit("s"),
	)
	syncEntriesCreated, _ = syncMeter.Int64Counter("sync.entries.created",
		metric.WithDescription("Ledger entries created by sync runs"),
	)
	syncAccountsFailed, _ = syncMeter.Int64Counter("sync.accounts.failed",
		metric.WithDescription("Provider accounts that failed processing"),
	)
)
