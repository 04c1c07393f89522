// Package otel binds engine metrics to OpenTelemetry instruments.
//
// [NewExporter] registers one Int64ObservableCounter per engine counter.
// Each latency histogram is published as a cumulative <name>_bucket
// counter with one data point per upper bound, keyed by the "le"
// attribute, and a <name>_count counter. Bucket series therefore line up
// with the Prometheus exporter when both feed the same backend.
//
// A single callback reads [authcore.Engine.MetricsSnapshot] per
// collection. [WithAttributes] adds constant attributes to every data
// point. The caller owns the MeterProvider.
package otel
