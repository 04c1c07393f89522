// Package prometheus exposes engine metrics as a Prometheus collector.
//
// Counters are named authcore_*_total. The login and validate latency
// histograms use the engine's fixed bucket bounds and report a zero sum.
// [Handler] serves a private registry, so nothing is added to the
// default registry.
package prometheus
