package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
)

var (
	sessionCreatedTotal       atomic.Uint64
	sessionResumedTotal       atomic.Uint64
	sessionDeletedTotal       atomic.Uint64
	sessionSyncSucceededTotal atomic.Uint64
	sessionSyncFailedTotal    atomic.Uint64

	sessionSyncDuration = newHistogram([]float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000})
)

// IncSessionCreated increments the created counter.
func IncSessionCreated() {
	sessionCreatedTotal.Add(1)
}

// IncSessionResumed increments the resumed counter.
func IncSessionResumed() {
	sessionResumedTotal.Add(1)
}

// IncSessionDeleted increments the deleted counter.
func IncSessionDeleted() {
	sessionDeletedTotal.Add(1)
}

// IncSessionSyncSucceeded increments the remote-sync success counter.
func IncSessionSyncSucceeded() {
	sessionSyncSucceededTotal.Add(1)
}

// IncSessionSyncFailed increments the remote-sync failure counter.
func IncSessionSyncFailed() {
	sessionSyncFailedTotal.Add(1)
}

// ObserveSessionSyncDurationMs records one remote write duration in milliseconds.
func ObserveSessionSyncDurationMs(value float64) {
	if value < 0 {
		value = 0
	}
	sessionSyncDuration.Observe(value)
}

// SessionSyncCounts returns the remote-sync success and failure totals.
func SessionSyncCounts() (succeeded, failed uint64) {
	return sessionSyncSucceededTotal.Load(), sessionSyncFailedTotal.Load()
}

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/plain; version=0.0.4")
		c.String(http.StatusOK, Render())
	}
}

// Render renders metrics in Prometheus text format.
func Render() string {
	var buf bytes.Buffer
	writeCounter(&buf, "session_created_total", "Total sessions created", sessionCreatedTotal.Load())
	writeCounter(&buf, "session_resumed_total", "Total sessions resumed", sessionResumedTotal.Load())
	writeCounter(&buf, "session_deleted_total", "Total sessions deleted", sessionDeletedTotal.Load())
	writeCounter(&buf, "session_sync_succeeded_total", "Total remote session writes that succeeded", sessionSyncSucceededTotal.Load())
	writeCounter(&buf, "session_sync_failed_total", "Total remote session writes that failed", sessionSyncFailedTotal.Load())
	writeHistogram(&buf, "session_sync_duration_ms", "Remote session write duration in milliseconds", sessionSyncDuration.Snapshot())
	return buf.String()
}

type histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type histogramSnapshot struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram(buckets []float64) *histogram {
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

func (h *histogram) Observe(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += value
	for i, bound := range h.buckets {
		if value <= bound {
			h.counts[i]++
		}
	}
}

func (h *histogram) Snapshot() histogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := histogramSnapshot{
		buckets: append([]float64(nil), h.buckets...),
		counts:  append([]uint64(nil), h.counts...),
		sum:     h.sum,
		count:   h.count,
	}
	return out
}

func writeCounter(buf *bytes.Buffer, name, help string, value uint64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s counter\n", name)
	fmt.Fprintf(buf, "%s %d\n", name, value)
}

func writeHistogram(buf *bytes.Buffer, name, help string, snap histogramSnapshot) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s histogram\n", name)
	var cumulative uint64
	for i, bound := range snap.buckets {
		cumulative += snap.counts[i]
		fmt.Fprintf(buf, "%s_bucket{le=\"%s\"} %d\n", name, formatFloat(bound), cumulative)
	}
	fmt.Fprintf(buf, "%s_bucket{le=\"+Inf\"} %d\n", name, snap.count)
	fmt.Fprintf(buf, "%s_sum %s\n", name, formatFloat(snap.sum))
	fmt.Fprintf(buf, "%s_count %d\n", name, snap.count)
}

func formatFloat(value float64) string {
	if value == float64(int64(value)) {
		return strconv.FormatInt(int64(value), 10)
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}

// NowMillis returns current time in milliseconds, useful for callers without time utilities.
func NowMillis() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Millisecond)
}
