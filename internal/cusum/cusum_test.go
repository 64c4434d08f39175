package cusum

import "testing"

func TestProcessFirstCallSeedsMeanOnly(t *testing.T) {
	d := New(0.5, 0.1, 10)
	d.Process(100, false)
	if d.Mean() != 100 {
		t.Fatalf("expected mean to seed to 100, got %v", d.Mean())
	}
	if d.SH() != 0 || d.SL() != 0 {
		t.Fatalf("expected both arms to stay at zero on the seeding call")
	}
	if d.WindowID() != 0 {
		t.Fatalf("expected windowID to stay at 0 after the seeding call, got %d", d.WindowID())
	}
}

func TestProcessLearningGatesArms(t *testing.T) {
	d := New(0.0, 0.5, 3)
	d.Process(10, true) // seed
	for i := 0; i < 3; i++ {
		d.Process(1000, true)
	}
	if d.SH() != 0 {
		t.Fatalf("expected SH to stay gated during the learning span, got %v", d.SH())
	}

	d.Process(1000, true)
	if d.SH() <= 0 {
		t.Fatal("expected SH to start accumulating once windowID reaches span")
	}
}

func TestProcessNotLearningAccumulatesImmediately(t *testing.T) {
	d := New(0.0, 0.5, 1000)
	d.Process(10, false) // seed
	d.Process(1000, false)
	if d.SH() <= 0 {
		t.Fatal("expected SH to accumulate immediately when learning is false, regardless of span")
	}
}

func TestAnomalyThresholdMultiplier(t *testing.T) {
	d := New(0.0, 0.5, 0)
	d.SetThresholdHigh(10)
	d.Process(0, false)
	d.Process(100, false)

	if d.IsPositiveAnomaly(1.0) != (d.SH() > 10) {
		t.Fatalf("IsPositiveAnomaly disagrees with its own threshold*multiplier computation")
	}
	if d.IsPositiveAnomaly(1000.0) {
		t.Fatal("a huge multiplier should suppress the anomaly")
	}
}

func TestMaxSHTracksRunningMaximum(t *testing.T) {
	d := New(0.0, 1.0, 0)
	d.Process(0, false)
	d.Process(100, false)
	first := d.MaxSH()
	d.Process(0, false)
	d.Process(0, false)
	if d.MaxSH() != first {
		t.Fatalf("expected MaxSH to stay at its running peak %v, got %v", first, d.MaxSH())
	}
}

func TestQuantileSortedVec(t *testing.T) {
	vec := []float64{1, 2, 3, 4, 5}
	cases := []struct {
		q    float64
		want float64
	}{
		{0.5, 3.0},
		{0.25, 2.0},
		{0.0, 1.0},
		{1.0, 5.0},
	}
	for _, c := range cases {
		if got := QuantileSortedVec(vec, c.q); got != c.want {
			t.Errorf("quantile(%v) = %v, want %v", c.q, got, c.want)
		}
	}
}

func TestQuantileSortedVecEmpty(t *testing.T) {
	if got := QuantileSortedVec(nil, 0.5); got != 0 {
		t.Fatalf("expected 0 for an empty vector, got %v", got)
	}
}
