package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector implements ports.MetricsCollector using Prometheus
type Collector struct {
	invocationsSubmitted *prometheus.CounterVec
	invocationsCompleted *prometheus.CounterVec
	invocationDuration   *prometheus.HistogramVec
	activeInvocations    prometheus.Gauge

	stagesExecuted *prometheus.CounterVec
	stageDuration  *prometheus.HistogramVec

	llmCalls   *prometheus.CounterVec
	llmTokens  *prometheus.CounterVec
	llmLatency *prometheus.HistogramVec

	webSearches       *prometheus.CounterVec
	webSearchDuration prometheus.Histogram

	knowledgeScans        prometheus.Counter
	knowledgeIndexed      prometheus.Counter
	knowledgeDocuments    prometheus.Gauge
	knowledgeScanDuration prometheus.Histogram

	workerPoolIdle    prometheus.Gauge
	workerPoolBusy    prometheus.Gauge
	workerPoolStopped prometheus.Gauge
	queueDepth        *prometheus.GaugeVec
}

// NewCollector creates a collector registered with reg. A nil reg uses the
// default registerer.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		invocationsSubmitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenderflow_invocations_submitted_total",
				Help: "Total number of pipeline invocations submitted",
			},
			[]string{"workflow"},
		),
		invocationsCompleted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenderflow_invocations_completed_total",
				Help: "Total number of pipeline invocations finished, by final status",
			},
			[]string{"workflow", "status"},
		),
		invocationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tenderflow_invocation_duration_seconds",
				Help:    "Pipeline invocation duration in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200},
			},
			[]string{"workflow"},
		),
		activeInvocations: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "tenderflow_active_invocations",
				Help: "Number of currently running invocations",
			},
		),
		stagesExecuted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenderflow_stages_executed_total",
				Help: "Total number of stages executed",
			},
			[]string{"stage", "kind", "status"},
		),
		stageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tenderflow_stage_duration_seconds",
				Help:    "Stage execution duration in seconds",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"stage", "kind"},
		),
		llmCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenderflow_llm_calls_total",
				Help: "Total number of LLM API calls",
			},
			[]string{"model", "status"},
		),
		llmTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenderflow_llm_tokens_total",
				Help: "Total number of LLM tokens used",
			},
			[]string{"model", "type"},
		),
		llmLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tenderflow_llm_latency_seconds",
				Help:    "LLM API call latency in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 60, 120},
			},
			[]string{"model"},
		),
		webSearches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenderflow_web_searches_total",
				Help: "Total number of web searches",
			},
			[]string{"status"},
		),
		webSearchDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tenderflow_web_search_duration_seconds",
				Help:    "Web search duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
		),
		knowledgeScans: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tenderflow_knowledge_scans_total",
				Help: "Total number of knowledge base scans",
			},
		),
		knowledgeIndexed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tenderflow_knowledge_documents_indexed_total",
				Help: "Total number of documents added or re-extracted by scans",
			},
		),
		knowledgeDocuments: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "tenderflow_knowledge_documents",
				Help: "Number of documents in the most recently scanned index",
			},
		),
		knowledgeScanDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tenderflow_knowledge_scan_duration_seconds",
				Help:    "Knowledge base scan duration in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30},
			},
		),
		workerPoolIdle: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "tenderflow_worker_pool_idle",
				Help: "Number of idle workers",
			},
		),
		workerPoolBusy: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "tenderflow_worker_pool_busy",
				Help: "Number of busy workers",
			},
		),
		workerPoolStopped: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "tenderflow_worker_pool_stopped",
				Help: "Number of stopped workers",
			},
		),
		queueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tenderflow_queue_depth",
				Help: "Current depth of job queues",
			},
			[]string{"queue"},
		),
	}
}

// RecordInvocationSubmitted counts a submitted invocation
func (c *Collector) RecordInvocationSubmitted(workflow string) {
	c.invocationsSubmitted.WithLabelValues(workflow).Inc()
}

// RecordInvocationCompleted counts a finished invocation and its duration
func (c *Collector) RecordInvocationCompleted(workflow, status string, duration time.Duration) {
	c.invocationsCompleted.WithLabelValues(workflow, status).Inc()
	c.invocationDuration.WithLabelValues(workflow).Observe(duration.Seconds())
}

// RecordStageExecuted counts a stage run
func (c *Collector) RecordStageExecuted(stage, kind, status string, duration time.Duration) {
	c.stagesExecuted.WithLabelValues(stage, kind, status).Inc()
	c.stageDuration.WithLabelValues(stage, kind).Observe(duration.Seconds())
}

// RecordLLMCall counts an LLM call, its tokens and latency
func (c *Collector) RecordLLMCall(model string, inputTokens, outputTokens int64, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	c.llmCalls.WithLabelValues(model, status).Inc()
	c.llmLatency.WithLabelValues(model).Observe(duration.Seconds())
	if inputTokens > 0 {
		c.llmTokens.WithLabelValues(model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		c.llmTokens.WithLabelValues(model, "output").Add(float64(outputTokens))
	}
}

// RecordWebSearch counts a web search
func (c *Collector) RecordWebSearch(status string, duration time.Duration) {
	c.webSearches.WithLabelValues(status).Inc()
	c.webSearchDuration.Observe(duration.Seconds())
}

// RecordKnowledgeScan records a knowledge base scan
func (c *Collector) RecordKnowledgeScan(indexed int, documents int, duration time.Duration) {
	c.knowledgeScans.Inc()
	c.knowledgeIndexed.Add(float64(indexed))
	c.knowledgeDocuments.Set(float64(documents))
	c.knowledgeScanDuration.Observe(duration.Seconds())
}

// RecordWorkerPoolStatus records worker pool status
func (c *Collector) RecordWorkerPoolStatus(idle, busy, stopped int) {
	c.workerPoolIdle.Set(float64(idle))
	c.workerPoolBusy.Set(float64(busy))
	c.workerPoolStopped.Set(float64(stopped))
}

// SetQueueDepth sets the current depth of a job queue
func (c *Collector) SetQueueDepth(queue string, depth int) {
	c.queueDepth.WithLabelValues(queue).Set(float64(depth))
}

// SetActiveInvocations sets the number of running invocations
func (c *Collector) SetActiveInvocations(count int) {
	c.activeInvocations.Set(float64(count))
}
