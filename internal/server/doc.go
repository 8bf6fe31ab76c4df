// Package server implements the HTTP API used by caption renderers and
// operators: caption snapshots with long-polling, pipeline start/stop,
// health, statistics and Prometheus metrics.
package server
