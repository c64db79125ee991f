// Package export delivers finished traces to configurable sinks: a
// console summary, a JSON document per run, a sqlite database, an OTLP
// collector, or nothing at all.
package export
