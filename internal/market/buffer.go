package market

import "time"

// StaleTolerance is the largest distance between a lookup target and the
// nearest sample that still counts as a match.
const StaleTolerance = time.Second

type PricePoint struct {
	Price     float64
	Timestamp time.Time
}

// PriceBuffer keeps a short rolling history of prices for one side of a
// market. Timestamps passed to Add must be non-decreasing. It is not safe for
// concurrent use; the owner serializes access.
type PriceBuffer struct {
	points []PricePoint
	window time.Duration
}

func NewPriceBuffer(window time.Duration) *PriceBuffer {
	return &PriceBuffer{window: window}
}

// Add appends a sample and trims every sample at or before ts-window from the
// oldest end. The sample just added is always retained.
func (b *PriceBuffer) Add(price float64, ts time.Time) {
	b.points = append(b.points, PricePoint{Price: price, Timestamp: ts})
	cutoff := ts.Add(-b.window)
	last := len(b.points) - 1
	idx := 0
	for idx < last && !b.points[idx].Timestamp.After(cutoff) {
		idx++
	}
	if idx > 0 {
		b.points = append(b.points[:0], b.points[idx:]...)
	}
}

// PriceAt returns the price of the sample nearest to now-ago. It reports false
// when the buffer is empty or the nearest sample is more than StaleTolerance
// away from the target.
func (b *PriceBuffer) PriceAt(ago time.Duration, now time.Time) (float64, bool) {
	if len(b.points) == 0 {
		return 0, false
	}
	target := now.Add(-ago)
	best := -1
	var bestDiff time.Duration
	for i, p := range b.points {
		diff := absDuration(p.Timestamp.Sub(target))
		if best < 0 || diff < bestDiff {
			best = i
			bestDiff = diff
		}
	}
	if bestDiff > StaleTolerance {
		return 0, false
	}
	return b.points[best].Price, true
}

func (b *PriceBuffer) size() int {
	return len(b.points)
}

// Points returns a copy of the retained samples, oldest first.
func (b *PriceBuffer) Points() []PricePoint {
	out := make([]PricePoint, len(b.points))
	copy(out, b.points)
	return out
}

func (b *PriceBuffer) latest() (PricePoint, bool) {
	if len(b.points) == 0 {
		return PricePoint{}, false
	}
	return b.points[len(b.points)-1], true
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
