// Package sinks contains the progress.Sink implementations: structured log
// output, Prometheus collectors, and durable persistence via the run store.
package sinks
