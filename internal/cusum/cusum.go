// Package cusum implements the Adaptive CUSUM change-point detector: an
// EWMA-tracked mean/variance drives a positive and a negative cumulative
// sum arm, gated by a learning-phase span before either arm activates.
package cusum

import (
	"math"
	"time"
)

// CUSUM is one change-point detector instance. A detector bank holds one
// per sketch column per metric family.
type CUSUM struct {
	c     float64
	alpha float64
	span  uint64

	mean     float64
	variance float64
	sh       float64
	sl       float64
	maxSH    float64
	maxSL    float64

	thresholdHigh float64
	thresholdLow  float64

	windowID  uint64
	lastAlert time.Time
	first     bool
}

// New returns a CUSUM detector with slack c, EWMA rate alpha, and a
// learning span of the given number of windows before SH/SL activate.
func New(c, alpha float64, span uint64) *CUSUM {
	return &CUSUM{c: c, alpha: alpha, span: span, first: true}
}

// Process advances the detector by one observation. On the very first
// call it only seeds the mean and returns. learning suppresses SH/SL
// activation until windowID reaches span, so the EWMA has time to settle
// before the CUSUM statistic starts accumulating.
func (d *CUSUM) Process(x float64, learning bool) {
	if d.first {
		d.mean = x
		d.variance = 0
		d.first = false
		return
	}

	diff := x - d.mean
	incr := d.alpha * diff
	d.mean += incr
	d.variance = (1-d.alpha)*d.variance + d.alpha*diff*diff

	if !learning || d.windowID >= d.span {
		slack := d.c * math.Sqrt(d.variance)
		d.sh = math.Max(0, d.sh+(x-d.mean)-slack)
		d.sl = math.Max(0, d.sl-(x-d.mean)-slack)
	}

	d.maxSH = math.Max(d.sh, d.maxSH)
	d.maxSL = math.Max(d.sl, d.maxSL)
	d.windowID++
}

// IsPositiveAnomaly reports whether the positive arm exceeds the high
// threshold scaled by multiplier.
func (d *CUSUM) IsPositiveAnomaly(multiplier float64) bool {
	return d.sh > d.thresholdHigh*multiplier
}

// IsNegativeAnomaly reports whether the negative arm exceeds the low
// threshold scaled by multiplier.
func (d *CUSUM) IsNegativeAnomaly(multiplier float64) bool {
	return d.sl > d.thresholdLow*multiplier
}

// SH returns the current positive-arm statistic.
func (d *CUSUM) SH() float64 { return d.sh }

// SL returns the current negative-arm statistic.
func (d *CUSUM) SL() float64 { return d.sl }

// MaxSH returns the running maximum of the positive arm, the raw material
// for threshold calibration at the end of learning.
func (d *CUSUM) MaxSH() float64 { return d.maxSH }

// MaxSL returns the running maximum of the negative arm.
func (d *CUSUM) MaxSL() float64 { return d.maxSL }

// Mean returns the current EWMA mean.
func (d *CUSUM) Mean() float64 { return d.mean }

// Variance returns the current EWMA variance.
func (d *CUSUM) Variance() float64 { return d.variance }

// ThresholdHigh returns the currently set high threshold.
func (d *CUSUM) ThresholdHigh() float64 { return d.thresholdHigh }

// ThresholdLow returns the currently set low threshold.
func (d *CUSUM) ThresholdLow() float64 { return d.thresholdLow }

// SetThresholdHigh sets the high threshold, used by calibration, CSV
// restore, and false-positive feedback.
func (d *CUSUM) SetThresholdHigh(v float64) { d.thresholdHigh = v }

// SetThresholdLow sets the low threshold.
func (d *CUSUM) SetThresholdLow(v float64) { d.thresholdLow = v }

// WindowID returns the number of observations processed so far.
func (d *CUSUM) WindowID() uint64 { return d.windowID }

// LastAlert returns the time of the last alert raised off this column's
// family, the zero time if none has fired yet.
func (d *CUSUM) LastAlert() time.Time { return d.lastAlert }

// SetLastAlert records the time an alert fired off this column.
func (d *CUSUM) SetLastAlert(t time.Time) { d.lastAlert = t }
