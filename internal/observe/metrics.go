// Package observe exposes Prometheus metrics for the playback pipeline.
package observe

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	sessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streamtts_sessions_started_total",
		Help: "Total number of sessions submitted",
	})

	sessionsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamtts_sessions_finished_total",
		Help: "Total number of sessions by terminal state",
	}, []string{"state"})

	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "streamtts_active_sessions",
		Help: "Number of sessions holding the output device",
	})

	timeToFirstAudio = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "streamtts_time_to_first_audio_seconds",
		Help:    "Time from submit to the first chunk written to the sink",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	})

	pausesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streamtts_pauses_total",
		Help: "Total number of times a session was paused",
	})

	pausedSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "streamtts_paused_sessions",
		Help: "Number of sessions currently paused",
	})

	// Ingest metrics
	ingestChunks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streamtts_ingest_chunks_total",
		Help: "Total number of chunks produced by the ingestor",
	})

	ingestBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streamtts_ingest_bytes_total",
		Help: "Total PCM bytes produced by the ingestor",
	})

	ingestErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamtts_ingest_errors_total",
		Help: "Total number of ingest failures",
	}, []string{"kind"})

	// Playback metrics
	chunksWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streamtts_playback_chunks_written_total",
		Help: "Total number of chunks written to the sink",
	})

	// Cache metrics
	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamtts_cache_lookups_total",
		Help: "Synthesis cache lookups by result",
	}, []string{"result"})
)

// RecordSessionStarted records a new session.
func RecordSessionStarted() {
	sessionsStarted.Inc()
	activeSessions.Inc()
}

// RecordSessionFinished records a session reaching its terminal state.
func RecordSessionFinished(state string) {
	sessionsFinished.WithLabelValues(state).Inc()
	activeSessions.Dec()
}

// RecordFirstAudio records the latency until the first chunk was played.
func RecordFirstAudio(d time.Duration) {
	timeToFirstAudio.Observe(d.Seconds())
}

// RecordPauseStarted records a session entering the paused state.
func RecordPauseStarted() {
	pausesTotal.Inc()
	pausedSessions.Inc()
}

// RecordPauseEnded records a session leaving the paused state, whether it
// resumed or was stopped.
func RecordPauseEnded() {
	pausedSessions.Dec()
}

// RecordChunkIngested records one chunk pushed by the ingestor.
func RecordChunkIngested(bytes int) {
	ingestChunks.Inc()
	ingestBytes.Add(float64(bytes))
}

// RecordIngestError records an ingest failure by kind.
func RecordIngestError(kind string) {
	ingestErrors.WithLabelValues(kind).Inc()
}

// RecordChunkWritten records one chunk reaching the sink.
func RecordChunkWritten() {
	chunksWritten.Inc()
}

// RecordCacheLookup records a synthesis cache hit or miss.
func RecordCacheLookup(hit bool) {
	if hit {
		cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	cacheLookups.WithLabelValues("miss").Inc()
}
