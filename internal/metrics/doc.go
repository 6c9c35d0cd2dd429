// Package metrics exposes build and stage counters in Prometheus format.
//
// A [Recorder] owns its own registry, so several can coexist in one
// process (and in tests). A nil *Recorder is valid and records nothing.
package metrics
