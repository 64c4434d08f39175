package transport

import (
	"math"
	"time"
)

func unixNano(ns uint64) time.Time {
	return time.Unix(0, int64(ns)).UTC()
}

func float64bits(v float64) uint64 {
	return math.Float64bits(v)
}

func float64frombits(b uint64) float64 {
	return math.Float64frombits(b)
}
