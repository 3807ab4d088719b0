// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package simplemotion

// MovingAverage averages the last N samples held in a ring buffer.
//
// The buffer starts zeroed and the average always divides by N, so the
// first readings after construction or Reset are biased toward zero.
type MovingAverage struct {
	hist []float64
	pos  int
}

// NewMovingAverage returns a filter over size samples. It panics if size is
// less than one.
func NewMovingAverage(size int) *MovingAverage {
	if size < 1 {
		panic("simplemotion: moving average size must be at least 1")
	}
	return &MovingAverage{hist: make([]float64, size)}
}

// Feed overwrites the oldest sample and returns the new average.
func (m *MovingAverage) Feed(sample float64) float64 {
	m.hist[m.pos] = sample
	m.pos = (m.pos + 1) % len(m.hist)
	return m.Average()
}

// Average returns the current average without feeding a sample.
func (m *MovingAverage) Average() float64 {
	sum := 0.0
	for _, v := range m.hist {
		sum += v
	}
	return sum / float64(len(m.hist))
}

// Reset zeroes the history.
func (m *MovingAverage) Reset() {
	for i := range m.hist {
		m.hist[i] = 0
	}
	m.pos = 0
}

// Len returns the buffer length.
func (m *MovingAverage) Len() int {
	return len(m.hist)
}
