package metrics

import "github.com/prometheus/client_golang/prometheus"

// PlaygroundMetrics exposes counters/histograms for crawl, reconciliation and
// realtime sync flows.
type PlaygroundMetrics struct {
	crawlPolls     *prometheus.CounterVec
	crawlDuration  prometheus.Histogram
	reconcileSteps *prometheus.CounterVec
	realtimeEvents *prometheus.CounterVec
	configWrites   *prometheus.CounterVec
}

func NewPlaygroundMetrics(reg prometheus.Registerer) *PlaygroundMetrics {
	m := &PlaygroundMetrics{
		crawlPolls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "playground",
			Subsystem: "crawl",
			Name:      "status_checks_total",
			Help:      "Total crawl job status checks",
		}, []string{"result"}),
		crawlDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "playground",
			Subsystem: "crawl",
			Name:      "duration_seconds",
			Help:      "Time from crawl start until every record finished scraping",
			Buckets:   []float64{30, 60, 120, 300, 600, 1200, 3600},
		}),
		reconcileSteps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "playground",
			Subsystem: "training",
			Name:      "reconcile_steps_total",
			Help:      "Training data reconciliation sub-steps by outcome",
		}, []string{"step", "outcome"}),
		realtimeEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "playground",
			Subsystem: "realtime",
			Name:      "events_total",
			Help:      "Change feed events received by the sync bridge",
		}, []string{"type", "applied"}),
		configWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "playground",
			Subsystem: "config",
			Name:      "writes_total",
			Help:      "Agent configuration path writes",
		}, []string{"status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.crawlPolls, m.crawlDuration, m.reconcileSteps, m.realtimeEvents, m.configWrites)
	return m
}

func (m *PlaygroundMetrics) ObserveCrawlPoll(result string) {
	if m == nil {
		return
	}
	m.crawlPolls.WithLabelValues(result).Inc()
}

func (m *PlaygroundMetrics) ObserveCrawlDuration(seconds float64) {
	if m == nil {
		return
	}
	m.crawlDuration.Observe(seconds)
}

func (m *PlaygroundMetrics) ObserveReconcileStep(step string, ok bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	m.reconcileSteps.WithLabelValues(step, outcome).Inc()
}

func (m *PlaygroundMetrics) ObserveRealtimeEvent(eventType string, applied bool) {
	if m == nil {
		return
	}
	label := "false"
	if applied {
		label = "true"
	}
	m.realtimeEvents.WithLabelValues(eventType, label).Inc()
}

func (m *PlaygroundMetrics) ObserveConfigWrite(status string) {
	if m == nil {
		return
	}
	m.configWrites.WithLabelValues(status).Inc()
}
