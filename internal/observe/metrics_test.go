package observe

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSessionMetrics(t *testing.T) {
	startedBefore := testutil.ToFloat64(sessionsStarted)
	completedBefore := testutil.ToFloat64(sessionsFinished.WithLabelValues("completed"))
	activeBefore := testutil.ToFloat64(activeSessions)

	RecordSessionStarted()
	if got := testutil.ToFloat64(activeSessions); got != activeBefore+1 {
		t.Errorf("Expected active sessions %v, got %v", activeBefore+1, got)
	}

	RecordSessionFinished("completed")
	RecordFirstAudio(120 * time.Millisecond)

	if got := testutil.ToFloat64(sessionsStarted); got != startedBefore+1 {
		t.Errorf("Expected started %v, got %v", startedBefore+1, got)
	}
	if got := testutil.ToFloat64(sessionsFinished.WithLabelValues("completed")); got != completedBefore+1 {
		t.Errorf("Expected completed %v, got %v", completedBefore+1, got)
	}
	if got := testutil.ToFloat64(activeSessions); got != activeBefore {
		t.Errorf("Expected active sessions back to %v, got %v", activeBefore, got)
	}
}

func TestPauseMetrics(t *testing.T) {
	pausesBefore := testutil.ToFloat64(pausesTotal)
	pausedBefore := testutil.ToFloat64(pausedSessions)

	RecordPauseStarted()
	if got := testutil.ToFloat64(pausedSessions); got != pausedBefore+1 {
		t.Errorf("Expected paused sessions %v, got %v", pausedBefore+1, got)
	}

	RecordPauseEnded()
	if got := testutil.ToFloat64(pausedSessions); got != pausedBefore {
		t.Errorf("Expected paused sessions back to %v, got %v", pausedBefore, got)
	}
	if got := testutil.ToFloat64(pausesTotal); got != pausesBefore+1 {
		t.Errorf("Expected pauses %v, got %v", pausesBefore+1, got)
	}
}

func TestIngestAndCacheMetrics(t *testing.T) {
	bytesBefore := testutil.ToFloat64(ingestBytes)
	hitsBefore := testutil.ToFloat64(cacheLookups.WithLabelValues("hit"))
	missesBefore := testutil.ToFloat64(cacheLookups.WithLabelValues("miss"))

	RecordChunkIngested(4096)
	RecordCacheLookup(true)
	RecordCacheLookup(false)
	RecordIngestError("timeout")

	if got := testutil.ToFloat64(ingestBytes); got != bytesBefore+4096 {
		t.Errorf("Expected ingest bytes %v, got %v", bytesBefore+4096, got)
	}
	if got := testutil.ToFloat64(cacheLookups.WithLabelValues("hit")); got != hitsBefore+1 {
		t.Errorf("Expected hits %v, got %v", hitsBefore+1, got)
	}
	if got := testutil.ToFloat64(cacheLookups.WithLabelValues("miss")); got != missesBefore+1 {
		t.Errorf("Expected misses %v, got %v", missesBefore+1, got)
	}
	if got := testutil.ToFloat64(ingestErrors.WithLabelValues("timeout")); got < 1 {
		t.Errorf("Expected at least one timeout error, got %v", got)
	}
}
