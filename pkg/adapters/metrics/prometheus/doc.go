// Package prometheus implements ports.MetricsCollector with Prometheus
// counters, gauges and histograms named tenderflow_*.
package prometheus
