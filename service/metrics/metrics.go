package metrics

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Connections counts live websocket connections by auth state.
	Connections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rc_connections",
		Help: "Live websocket connections by state",
	}, []string{"state"})

	Rooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rc_rooms",
		Help: "Rooms currently held by the registry",
	})

	Sessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rc_sessions",
		Help: "Active server-side sessions",
	})

	FramesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rc_frames_sent_total",
		Help: "Frames queued to connections by frame type",
	}, []string{"type"})

	FramesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rc_frames_dropped_total",
		Help: "Frames dropped because the connection send queue was full or closed",
	}, []string{"type"})

	ResearchJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rc_research_jobs_total",
		Help: "Research jobs by outcome",
	}, []string{"outcome"})

	ResearchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rc_research_duration_seconds",
		Help:    "Research pipeline wall time",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~8.5m
	})

	CitationChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rc_citation_checks_total",
		Help: "Citation URL checks by outcome",
	}, []string{"outcome"})

	PollStops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rc_poll_stops_total",
		Help: "Research poll loop terminations by reason",
	}, []string{"reason"})

	LLMCalls = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rc_llm_call_duration_seconds",
		Help:    "LLM call latency by kind and result",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"kind", "result"})
)

// ObserveLLM records one provider call.
func ObserveLLM(kind string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	LLMCalls.WithLabelValues(kind, result).Observe(time.Since(start).Seconds())
}

// Handler exposes the default registry for gin.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
