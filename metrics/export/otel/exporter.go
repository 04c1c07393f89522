package otel

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/labcore/authcore"
	"github.com/labcore/authcore/metrics/export/internaldefs"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

// BoundKey is the attribute carrying a bucket's upper bound.
const BoundKey = attribute.Key("le")

type metricsSource interface {
	MetricsSnapshot() authcore.MetricsSnapshot
	AuditDropped() uint64
}

// Option configures an Exporter.
type Option func(*options)

type options struct {
	attrs []attribute.KeyValue
}

// WithAttributes attaches constant attributes to every observation, for
// example the deployment or tenant an engine serves.
func WithAttributes(attrs ...attribute.KeyValue) Option {
	return func(o *options) {
		o.attrs = append(o.attrs, attrs...)
	}
}

type latencyInstruments struct {
	id      authcore.MetricID
	buckets metric.Int64ObservableCounter
	count   metric.Int64ObservableCounter
}

// Exporter publishes an engine snapshot through observable instruments.
// Latency histograms become a cumulative <name>_bucket counter split by
// the le attribute plus a <name>_count counter, matching the series the
// Prometheus exporter writes.
type Exporter struct {
	source       metricsSource
	registration metric.Registration
	counters     map[authcore.MetricID]metric.Int64ObservableCounter
	latencies    []latencyInstruments
	auditDropped metric.Int64ObservableCounter

	common metric.ObserveOption
	bounds [internaldefs.BucketCount]metric.ObserveOption
}

// NewExporter registers instruments for engine on meter.
func NewExporter(meter metric.Meter, engine *authcore.Engine, opts ...Option) (*Exporter, error) {
	if engine == nil {
		return nil, ErrNilSource
	}
	return NewExporterFromSource(meter, engine, opts...)
}

// NewExporterFromSource registers instruments for any snapshot source.
func NewExporterFromSource(meter metric.Meter, source metricsSource, opts ...Option) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	e := &Exporter{
		source:   source,
		counters: make(map[authcore.MetricID]metric.Int64ObservableCounter, len(internaldefs.CounterDefs)),
		common:   metric.WithAttributeSet(attribute.NewSet(o.attrs...)),
	}
	for i, label := range internaldefs.BoundLabels() {
		attrs := append(append([]attribute.KeyValue(nil), o.attrs...), BoundKey.String(label))
		e.bounds[i] = metric.WithAttributeSet(attribute.NewSet(attrs...))
	}

	var observables []metric.Observable
	counter := func(name, help string) (metric.Int64ObservableCounter, error) {
		ins, err := meter.Int64ObservableCounter(name, metric.WithDescription(help))
		if err != nil {
			return nil, fmt.Errorf("create observable counter %s: %w", name, err)
		}
		observables = append(observables, ins)
		return ins, nil
	}

	for _, def := range internaldefs.CounterDefs {
		ins, err := counter(def.Name, def.Help)
		if err != nil {
			return nil, err
		}
		e.counters[def.ID] = ins
	}
	for _, def := range internaldefs.HistogramDefs {
		buckets, err := counter(def.Name+"_bucket", def.Help+" Cumulative count per upper bound.")
		if err != nil {
			return nil, err
		}
		count, err := counter(def.Name+"_count", def.Help+" Total samples.")
		if err != nil {
			return nil, err
		}
		e.latencies = append(e.latencies, latencyInstruments{id: def.ID, buckets: buckets, count: count})
	}
	dropped, err := counter(internaldefs.AuditDroppedName, "Audit events dropped because the queue was full.")
	if err != nil {
		return nil, err
	}
	e.auditDropped = dropped

	e.registration, err = meter.RegisterCallback(e.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	return e, nil
}

func (e *Exporter) observe(_ context.Context, observer metric.Observer) error {
	snapshot := e.source.MetricsSnapshot()
	for id, ins := range e.counters {
		observer.ObserveInt64(ins, int64(snapshot.Counters[id]), e.common)
	}
	for _, l := range e.latencies {
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snapshot.Histograms[l.id]))
		for i, v := range cumulative {
			observer.ObserveInt64(l.buckets, int64(v), e.bounds[i])
		}
		observer.ObserveInt64(l.count, int64(cumulative[len(cumulative)-1]), e.common)
	}
	observer.ObserveInt64(e.auditDropped, int64(e.source.AuditDropped()), e.common)
	return nil
}

// Close unregisters the callback. It is safe on a nil Exporter.
func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
