package lim

import (
	"sharebin/metrics"
	"sharebin/svc/util"
	"sync"
	"time"
)

const (
	anomalyBuckets     = 5
	anomalyBucketSpan  = time.Minute
	anomalyMinRequests = 10
	anomalyErrorRate   = 0.05
)

// AnomalyDetector tracks the server error rate over a sliding window of
// one-minute buckets and calls onTrip when it crosses the threshold.
type AnomalyDetector struct {
	mu      sync.Mutex
	ring    [anomalyBuckets]window
	pos     int
	onTrip  func()
	stop    chan struct{}
	stopped sync.Once
}

type window struct {
	total  int64
	failed int64
}

func NewAnomalyDetector(onTrip func()) *AnomalyDetector {
	return &AnomalyDetector{onTrip: onTrip, stop: make(chan struct{})}
}

func (d *AnomalyDetector) Start() {
	go func() {
		t := time.NewTicker(anomalyBucketSpan)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				d.Rotate()
			case <-d.stop:
				return
			}
		}
	}()
}

func (d *AnomalyDetector) Stop() {
	d.stopped.Do(func() { close(d.stop) })
}

// Observe counts one finished request.
func (d *AnomalyDetector) Observe(failed bool) {
	d.mu.Lock()
	w := &d.ring[d.pos]
	w.total++
	if failed {
		w.failed++
	}
	d.mu.Unlock()
}

// Rate returns the failure fraction and request count across the window.
func (d *AnomalyDetector) Rate() (float64, int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rateLocked()
}

func (d *AnomalyDetector) rateLocked() (float64, int64) {
	var total, failed int64
	for _, w := range d.ring {
		total += w.total
		failed += w.failed
	}
	if total == 0 {
		return 0, 0
	}
	return float64(failed) / float64(total), total
}

// Rotate evaluates the window, then drops the oldest bucket.
func (d *AnomalyDetector) Rotate() {
	d.mu.Lock()
	rate, total := d.rateLocked()
	d.pos = (d.pos + 1) % anomalyBuckets
	d.ring[d.pos] = window{}
	d.mu.Unlock()

	metrics.RecentErrorRatePercent.Set(rate * 100)
	if total <= anomalyMinRequests || rate <= anomalyErrorRate {
		return
	}
	util.Warn().
		Float64("error_rate", rate).
		Int64("requests", total).
		Msg("error rate above threshold, tightening rate limits")
	if d.onTrip != nil {
		d.onTrip()
	}
}
