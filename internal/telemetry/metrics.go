// Package telemetry provides OpenTelemetry metric instruments for plansync.
// Instruments are registered against the global meter provider; without an
// SDK configured they are no-ops.
package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Meter is the global meter for plansync metrics
var meter = otel.Meter("plansync")

// Counter instruments
var (
	itemsCreatedCounter   metric.Int64Counter
	itemsUpdatedCounter   metric.Int64Counter
	relationsSetCounter   metric.Int64Counter
	itemsDeletedCounter   metric.Int64Counter
	requestRetriesCounter metric.Int64Counter
	rateLimitWaitsCounter metric.Int64Counter

	initOnce sync.Once
)

func initMetrics() {
	itemsCreatedCounter, _ = meter.Int64Counter(
		"plansync_items_created_total",
		metric.WithDescription("Total tracker items created"),
		metric.WithUnit("{item}"),
	)
	itemsUpdatedCounter, _ = meter.Int64Counter(
		"plansync_items_updated_total",
		metric.WithDescription("Total tracker items updated"),
		metric.WithUnit("{item}"),
	)
	relationsSetCounter, _ = meter.Int64Counter(
		"plansync_relations_reconciled_total",
		metric.WithDescription("Total relation reconciliation calls issued"),
		metric.WithUnit("{call}"),
	)
	itemsDeletedCounter, _ = meter.Int64Counter(
		"plansync_items_deleted_total",
		metric.WithDescription("Total tracker items deleted"),
		metric.WithUnit("{item}"),
	)
	requestRetriesCounter, _ = meter.Int64Counter(
		"plansync_request_retries_total",
		metric.WithDescription("Total transport-level request retries"),
		metric.WithUnit("{retry}"),
	)
	rateLimitWaitsCounter, _ = meter.Int64Counter(
		"plansync_rate_limit_waits_total",
		metric.WithDescription("Total waits behind the shared rate-limit gate"),
		metric.WithUnit("{wait}"),
	)
}

// RecordItemCreated records a created tracker item
func RecordItemCreated(ctx context.Context, itemType string) {
	initOnce.Do(initMetrics)
	itemsCreatedCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("item_type", itemType)))
}

// RecordItemUpdated records an updated tracker item
func RecordItemUpdated(ctx context.Context, itemType string) {
	initOnce.Do(initMetrics)
	itemsUpdatedCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("item_type", itemType)))
}

// RecordRelationsReconciled records a relation reconciliation call
func RecordRelationsReconciled(ctx context.Context) {
	initOnce.Do(initMetrics)
	relationsSetCounter.Add(ctx, 1)
}

// RecordItemDeleted records a deleted tracker item
func RecordItemDeleted(ctx context.Context) {
	initOnce.Do(initMetrics)
	itemsDeletedCounter.Add(ctx, 1)
}

// RecordRetry records a transport-level retry with its reason
func RecordRetry(ctx context.Context, reason string) {
	initOnce.Do(initMetrics)
	requestRetriesCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordRateLimitWait records a caller blocking on the shared gate
func RecordRateLimitWait(ctx context.Context) {
	initOnce.Do(initMetrics)
	rateLimitWaitsCounter.Add(ctx, 1)
}
