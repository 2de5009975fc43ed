package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusObserver turns session and pipeline events into Prometheus series.
type PrometheusObserver struct {
	SessionsOpened  prometheus.Counter
	SessionsClosed  *prometheus.CounterVec
	ActiveSessions  prometheus.Gauge
	FramesReceived  prometheus.Counter
	BytesCaptured   prometheus.Counter
	CaptureSize     prometheus.Histogram
	LiveTranscripts *prometheus.CounterVec
	LiveErrors      prometheus.Counter
	StageDuration   *prometheus.HistogramVec
	StageFailures   *prometheus.CounterVec
	PipelineResults *prometheus.CounterVec
}

// NewPrometheusObserver creates the series and registers them with reg.
func NewPrometheusObserver(reg prometheus.Registerer) (*PrometheusObserver, error) {
	p := &PrometheusObserver{
		SessionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scribe_sessions_opened_total",
			Help: "Total number of accepted capture sessions",
		}),
		SessionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scribe_sessions_closed_total",
			Help: "Total number of closed sessions by outcome",
		}, []string{"outcome"}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scribe_active_sessions",
			Help: "Current number of sessions that have not reached Closed",
		}),
		FramesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scribe_frames_received_total",
			Help: "Total number of binary audio frames delivered to sessions",
		}),
		BytesCaptured: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scribe_captured_bytes_total",
			Help: "Total number of PCM bytes written to durable captures",
		}),
		CaptureSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scribe_capture_size_bytes",
			Help:    "Size of flushed raw captures",
			Buckets: prometheus.ExponentialBuckets(8192, 4, 10), // 8KB to ~2GB
		}),
		LiveTranscripts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scribe_live_transcripts_total",
			Help: "Live transcription fragments by finality",
		}, []string{"final"}),
		LiveErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scribe_live_errors_total",
			Help: "Live transcription channel errors",
		}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scribe_pipeline_stage_duration_seconds",
			Help:    "Duration of post-capture pipeline stages",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~7 minutes
		}, []string{"stage"}),
		StageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scribe_pipeline_stage_failures_total",
			Help: "Post-capture pipeline stage failures",
		}, []string{"stage"}),
		PipelineResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scribe_pipeline_results_total",
			Help: "Post-capture pipeline terminal states",
		}, []string{"state"}),
	}
	collectors := []prometheus.Collector{
		p.SessionsOpened, p.SessionsClosed, p.ActiveSessions, p.FramesReceived,
		p.BytesCaptured, p.CaptureSize, p.LiveTranscripts, p.LiveErrors,
		p.StageDuration, p.StageFailures, p.PipelineResults,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *PrometheusObserver) RecordEvent(ev MetricsEvent) {
	switch ev.Name {
	case EventSessionOpened:
		p.SessionsOpened.Inc()
		p.ActiveSessions.Inc()
	case EventSessionClosed:
		outcome := ev.Tags["outcome"]
		if outcome == "" {
			outcome = "ok"
		}
		p.SessionsClosed.WithLabelValues(outcome).Inc()
		p.ActiveSessions.Dec()
	case EventFrame:
		p.FramesReceived.Inc()
		p.BytesCaptured.Add(ev.Value)
	case EventCaptureFlushed:
		p.CaptureSize.Observe(ev.Value)
	case EventLiveTranscript:
		final := ev.Tags["is_final"]
		if final == "" {
			final = "false"
		}
		p.LiveTranscripts.WithLabelValues(final).Inc()
	case EventLiveError:
		p.LiveErrors.Inc()
	case EventStageCompleted:
		p.StageDuration.WithLabelValues(ev.Tags["stage"]).Observe(ev.Value)
	case EventStageFailed:
		p.StageDuration.WithLabelValues(ev.Tags["stage"]).Observe(ev.Value)
		p.StageFailures.WithLabelValues(ev.Tags["stage"]).Inc()
	case EventPipelineDone:
		p.PipelineResults.WithLabelValues(ev.Tags["state"]).Inc()
	}
}
