// Package metrics defines the Prometheus metrics exported by captiond.
package metrics
