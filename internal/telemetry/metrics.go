package internaltelemetry

import (
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// ProtocolMetrics holds the instruments a concurrency-control protocol records.
type ProtocolMetrics struct {
	CommitsCounter       metric.Int64Counter
	ResetsCounter        metric.Int64Counter
	SuspensionsCounter   metric.Int64Counter
	DurableMissesCounter metric.Int64Counter
}

// NewProtocolMetrics creates and registers the protocol instruments.
func NewProtocolMetrics(meter metric.Meter) (*ProtocolMetrics, error) {
	commitsCounter, err := meter.Int64Counter(
		"detdb.protocol.commits_total",
		metric.WithDescription("Transactions finalized in commit order."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	resetsCounter, err := meter.Int64Counter(
		"detdb.protocol.resets_total",
		metric.WithDescription("Transactions rewound to their checkpoint."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	suspensionsCounter, err := meter.Int64Counter(
		"detdb.protocol.suspensions_total",
		metric.WithDescription("Transactions parked on a write lock or waiting for their turn."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	durableMissesCounter, err := meter.Int64Counter(
		"detdb.protocol.durable_misses_total",
		metric.WithDescription("Keys read from the durable store because no version was in memory."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	return &ProtocolMetrics{
		CommitsCounter:       commitsCounter,
		ResetsCounter:        resetsCounter,
		SuspensionsCounter:   suspensionsCounter,
		DurableMissesCounter: durableMissesCounter,
	}, nil
}

// ServiceMetrics holds the instruments of the multi-threaded service.
type ServiceMetrics struct {
	SubmittedCounter      metric.Int64Counter
	ClosedCounter         metric.Int64Counter
	InFlightUpDownCounter metric.Int64UpDownCounter
	WorkerFailuresCounter metric.Int64Counter
}

// NewServiceMetrics creates and registers the service instruments.
func NewServiceMetrics(meter metric.Meter) (*ServiceMetrics, error) {
	submittedCounter, err := meter.Int64Counter(
		"detdb.service.submitted_total",
		metric.WithDescription("Transactions accepted by Put."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	closedCounter, err := meter.Int64Counter(
		"detdb.service.closed_total",
		metric.WithDescription("Transactions whose result was recorded."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	inFlightUpDownCounter, err := meter.Int64UpDownCounter(
		"detdb.service.in_flight",
		metric.WithDescription("Transactions opened by a worker and not yet closed."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	workerFailuresCounter, err := meter.Int64Counter(
		"detdb.service.worker_failures_total",
		metric.WithDescription("Workers stopped by a protocol error or panic."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	return &ServiceMetrics{
		SubmittedCounter:      submittedCounter,
		ClosedCounter:         closedCounter,
		InFlightUpDownCounter: inFlightUpDownCounter,
		WorkerFailuresCounter: workerFailuresCounter,
	}, nil
}

// NoopMeter is used when a component is built without telemetry.
func NoopMeter() metric.Meter {
	return noop.NewMeterProvider().Meter("")
}
