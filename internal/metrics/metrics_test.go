package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Counters(t *testing.T) {
	r := NewRegistry()

	r.IncrementCounter("chat_clear_total", map[string]string{"outcome": "success"}, "Clear requests")
	r.IncrementCounter("chat_clear_total", map[string]string{"outcome": "success"}, "Clear requests")
	r.AddToCounter("chat_clear_total", 3, map[string]string{"outcome": "failure"}, "Clear requests")

	snap := r.GetAllMetrics()
	require.Len(t, snap.Counters, 2)
	assert.Equal(t, float64(2), snap.Counters["chat_clear_total_outcome:success"].Value)
	assert.Equal(t, float64(3), snap.Counters["chat_clear_total_outcome:failure"].Value)
	assert.Equal(t, Counter, snap.Counters["chat_clear_total_outcome:success"].Type)
}

func TestRegistry_LabelOrderIsStable(t *testing.T) {
	r := NewRegistry()
	labels := map[string]string{"method": "GET", "endpoint": "/api/chat/token", "status_code": "200"}

	for i := 0; i < 20; i++ {
		r.IncrementCounter("http_responses_total", labels, "")
	}

	snap := r.GetAllMetrics()
	require.Len(t, snap.Counters, 1)
	assert.Equal(t, float64(20), snap.Counters["http_responses_total_endpoint:/api/chat/token_method:GET_status_code:200"].Value)
}

func TestRegistry_Timers(t *testing.T) {
	r := NewRegistry()

	for i := 1; i <= 20; i++ {
		r.RecordTimer("stream_call_duration", time.Duration(i)*time.Millisecond, nil, "")
	}

	timer := r.GetAllMetrics().Timers["stream_call_duration"]
	assert.Equal(t, int64(20), timer.Count)
	assert.Equal(t, float64(1), timer.Min)
	assert.Equal(t, float64(20), timer.Max)
	assert.InDelta(t, 10.5, timer.Average, 0.001)
	assert.Equal(t, float64(20), timer.P95)
	assert.Equal(t, float64(20), timer.P99)
}

func TestRegistry_Gauges(t *testing.T) {
	r := NewRegistry()

	r.SetGauge("ratelimit_tracked_clients", 4, nil, "")
	r.SetGauge("ratelimit_tracked_clients", 2, nil, "")

	assert.Equal(t, float64(2), r.GetAllMetrics().Gauges["ratelimit_tracked_clients"].Value)
}

func TestRegistry_SnapshotIsCopy(t *testing.T) {
	r := NewRegistry()
	r.IncrementCounter("c", nil, "")

	snap := r.GetAllMetrics()
	r.IncrementCounter("c", nil, "")

	assert.Equal(t, float64(1), snap.Counters["c"].Value)
	assert.Equal(t, float64(2), r.GetAllMetrics().Counters["c"].Value)
}

func TestRegistry_Reset(t *testing.T) {
	r := NewRegistry()
	r.IncrementCounter("c", nil, "")
	r.RecordTimer("t", time.Millisecond, nil, "")
	r.Reset()

	snap := r.GetAllMetrics()
	assert.Empty(t, snap.Counters)
	assert.Empty(t, snap.Timers)
}

func TestRegistry_Concurrent(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.IncrementCounter("concurrent", nil, "")
			r.RecordTimer("concurrent_timer", time.Millisecond, nil, "")
			_ = r.GetAllMetrics()
		}()
	}
	wg.Wait()

	assert.Equal(t, float64(50), r.GetAllMetrics().Counters["concurrent"].Value)
	assert.Equal(t, int64(50), r.GetAllMetrics().Timers["concurrent_timer"].Count)
}

func TestCalculatePercentile(t *testing.T) {
	assert.Zero(t, calculatePercentile(nil, 0.95))
	assert.Equal(t, float64(10), calculatePercentile([]float64{10, 1, 5, 3, 7, 2, 9, 4, 8, 6}, 0.95))
	assert.Equal(t, float64(6), calculatePercentile([]float64{10, 1, 5, 3, 7, 2, 9, 4, 8, 6}, 0.5))
}
