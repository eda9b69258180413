// Package history tracks a bounded, time-windowed series of mid-price
// samples per (venue, market), used to chart recent price action.
package history

import (
	"sync"

	"dex-orderbook-aggregator/pkg/bookdata"
)

// Tracker holds one rolling price series per key. Construct it with
// NewTracker; the zero value has no series map.
type Tracker struct {
	mu               sync.Mutex
	series           map[string][]bookdata.PricePoint
	retentionSeconds float64
}

// NewTracker returns a Tracker retaining points within retentionSeconds of
// the newest sample in each series.
func NewTracker(retentionSeconds float64) *Tracker {
	return &Tracker{
		series:           make(map[string][]bookdata.PricePoint),
		retentionSeconds: retentionSeconds,
	}
}

// Append adds a new sample for key and prunes points older than the
// retention window relative to this sample's timestamp.
func (t *Tracker) Append(key string, point bookdata.PricePoint) {
	t.mu.Lock()
	defer t.mu.Unlock()

	points := append(t.series[key], point)

	cutoff := point.TimestampSeconds - t.retentionSeconds
	prune := 0
	for prune < len(points) && points[prune].TimestampSeconds < cutoff {
		prune++
	}
	if prune > 0 {
		points = append([]bookdata.PricePoint{}, points[prune:]...)
	}

	t.series[key] = points
}

// Get returns a copy of the retained series for key, newest last.
func (t *Tracker) Get(key string) []bookdata.PricePoint {
	t.mu.Lock()
	defer t.mu.Unlock()

	points := t.series[key]
	out := make([]bookdata.PricePoint, len(points))
	copy(out, points)
	return out
}

// Count returns the total number of retained points across all keys.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	total := 0
	for _, points := range t.series {
		total += len(points)
	}
	return total
}
