package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "github.com/wolfeidau/boostclear"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Bid submission metrics
	BidsSubmittedTotal metric.Int64Counter
	BidsRejectedTotal  metric.Int64Counter

	// Clearing metrics
	ClearingPassesTotal     metric.Int64Counter
	ClearingErrorsTotal     metric.Int64Counter
	ClearingDuration        metric.Float64Histogram
	SessionsActivatedTotal  metric.Int64Counter
	SessionsRefundedTotal   metric.Int64Counter
	SessionsRolledOverTotal metric.Int64Counter
	SettlementFailuresTotal metric.Int64Counter
	CreditsDebitedTotal     metric.Int64Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

// Tracer returns the tracer used for auction spans.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// initMetrics creates and registers all metric instruments
func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(instrumentationName)

	m := &Metrics{}

	// Bid submission metrics
	m.BidsSubmittedTotal, _ = meter.Int64Counter(
		"boostclear.bids.submitted.total",
		metric.WithDescription("Total number of bids accepted into an auction window"),
		metric.WithUnit("{bid}"),
	)

	m.BidsRejectedTotal, _ = meter.Int64Counter(
		"boostclear.bids.rejected.total",
		metric.WithDescription("Total number of bids rejected, by reason"),
		metric.WithUnit("{bid}"),
	)

	// Clearing metrics
	m.ClearingPassesTotal, _ = meter.Int64Counter(
		"boostclear.clearing.passes.total",
		metric.WithDescription("Total number of clearing passes run"),
		metric.WithUnit("{pass}"),
	)

	m.ClearingErrorsTotal, _ = meter.Int64Counter(
		"boostclear.clearing.errors.total",
		metric.WithDescription("Total number of clearing passes aborted by an error"),
		metric.WithUnit("{error}"),
	)

	m.ClearingDuration, _ = meter.Float64Histogram(
		"boostclear.clearing.duration",
		metric.WithDescription("Duration of clearing passes"),
		metric.WithUnit("ms"),
	)

	m.SessionsActivatedTotal, _ = meter.Int64Counter(
		"boostclear.sessions.activated.total",
		metric.WithDescription("Total number of boost sessions activated"),
		metric.WithUnit("{session}"),
	)

	m.SessionsRefundedTotal, _ = meter.Int64Counter(
		"boostclear.sessions.refunded.total",
		metric.WithDescription("Total number of boost sessions refunded, by reason"),
		metric.WithUnit("{session}"),
	)

	m.SessionsRolledOverTotal, _ = meter.Int64Counter(
		"boostclear.sessions.rolled_over.total",
		metric.WithDescription("Total number of losing bids rolled into the next window"),
		metric.WithUnit("{session}"),
	)

	m.SettlementFailuresTotal, _ = meter.Int64Counter(
		"boostclear.settlement.failures.total",
		metric.WithDescription("Total number of session writes that failed during settlement"),
		metric.WithUnit("{session}"),
	)

	m.CreditsDebitedTotal, _ = meter.Int64Counter(
		"boostclear.credits.debited.total",
		metric.WithDescription("Total credits debited from auction winners"),
		metric.WithUnit("{credit}"),
	)

	return m
}
