package detector

import (
	"bytes"
	"strings"
	"testing"

	"ddosguard/internal/cusum"
	"ddosguard/internal/model"
	"ddosguard/internal/queue"
	"ddosguard/internal/trie"
)

func newFamily(n int) []*cusum.CUSUM {
	family := make([]*cusum.CUSUM, n)
	for i := range family {
		family[i] = cusum.New(0.5, 0.1, 10)
	}
	return family
}

func TestSetFamilyOwnMaxWins(t *testing.T) {
	family := newFamily(3)
	family[0].Process(0, false)
	family[0].Process(1000, false) // drives MaxSH up on column 0 only

	setFamily(family, 0.5, highOnly)

	if family[0].ThresholdHigh() != family[0].MaxSH() {
		t.Fatalf("expected column 0 to use its own max, got threshold=%v max=%v", family[0].ThresholdHigh(), family[0].MaxSH())
	}
	if family[1].ThresholdHigh() == 0 {
		t.Fatal("expected a quiet column to fall back to the family quantile, not stay at zero")
	}
}

func TestLoadThresholdsRowCountMismatch(t *testing.T) {
	s := &Stage{cusumBytes: newFamily(3), cusumPackets: newFamily(3), cusumEntropy: newFamily(3),
		cusumRecvSentBytes: newFamily(3), cusumRecvSentFlows: newFamily(3)}
	r := strings.NewReader("1,2,3,4,5,6\n1,2,3,4,5,6\n")
	if err := s.loadThresholds(r); err == nil {
		t.Fatal("expected an error when the thresholds file has fewer rows than columns")
	}
}

func TestSaveThenLoadThresholdsRoundTrip(t *testing.T) {
	s := &Stage{cusumBytes: newFamily(2), cusumPackets: newFamily(2), cusumEntropy: newFamily(2),
		cusumRecvSentBytes: newFamily(2), cusumRecvSentFlows: newFamily(2)}
	for _, family := range [][]*cusum.CUSUM{s.cusumBytes, s.cusumPackets, s.cusumRecvSentBytes, s.cusumRecvSentFlows} {
		family[0].SetThresholdHigh(1.5)
		family[1].SetThresholdHigh(2.5)
	}
	s.cusumEntropy[0].SetThresholdHigh(0.1)
	s.cusumEntropy[0].SetThresholdLow(0.2)
	s.cusumEntropy[1].SetThresholdHigh(0.3)
	s.cusumEntropy[1].SetThresholdLow(0.4)

	var buf bytes.Buffer
	if err := s.saveThresholds(&buf); err != nil {
		t.Fatalf("unexpected error saving: %v", err)
	}

	restored := &Stage{cusumBytes: newFamily(2), cusumPackets: newFamily(2), cusumEntropy: newFamily(2),
		cusumRecvSentBytes: newFamily(2), cusumRecvSentFlows: newFamily(2)}
	if err := restored.loadThresholds(&buf); err != nil {
		t.Fatalf("unexpected error loading: %v", err)
	}

	if restored.cusumBytes[0].ThresholdHigh() != 1.5 || restored.cusumBytes[1].ThresholdHigh() != 2.5 {
		t.Fatalf("expected bytes thresholds to round-trip, got %v %v",
			restored.cusumBytes[0].ThresholdHigh(), restored.cusumBytes[1].ThresholdHigh())
	}
	if restored.cusumEntropy[0].ThresholdLow() != 0.2 || restored.cusumEntropy[1].ThresholdLow() != 0.4 {
		t.Fatal("expected entropy low thresholds to round-trip")
	}
}

func TestDrainFalsePositivesAppliesMultiplier(t *testing.T) {
	s := &Stage{
		protected:          trie.New(),
		feedback:           queue.New[model.FeedbackRecord](),
		cusumBytes:         newFamily(1),
		cusumPackets:       newFamily(1),
		cusumEntropy:       newFamily(1),
		cusumRecvSentBytes: newFamily(1),
		cusumRecvSentFlows: newFamily(1),
	}
	fb := model.FeedbackRecord{DstIP: 0, CusumID: 0, MeasuredBytes: 100, MeasuredPackets: 10,
		MeasuredEntropy: 1, MeasuredRecvSentBytes: 1, MeasuredRecvSentFlows: 1}
	s.feedback.Push(fb)

	s.drainFalsePositives()

	if s.cusumBytes[0].ThresholdHigh() != fb.MeasuredBytes {
		t.Fatalf("expected threshold set to measured value (multiplier 1, no match), got %v", s.cusumBytes[0].ThresholdHigh())
	}
}

func TestThresholdsReportsLiveCusumState(t *testing.T) {
	s := &Stage{cusumBytes: newFamily(2), cusumPackets: newFamily(2), cusumEntropy: newFamily(2),
		cusumRecvSentBytes: newFamily(2), cusumRecvSentFlows: newFamily(2)}
	s.cusumBytes[1].SetThresholdHigh(42)
	s.cusumBytes[1].Process(10, false)

	got, ok := s.Thresholds(1)
	if !ok {
		t.Fatal("expected column 1 to be found")
	}
	if got.Column != 1 || got.ThresholdBytes != 42 {
		t.Fatalf("expected column=1 thresholdBytes=42, got %+v", got)
	}
	if got.MeanBytes != s.cusumBytes[1].Mean() {
		t.Fatalf("expected mean to match the live CUSUM state, got %v want %v", got.MeanBytes, s.cusumBytes[1].Mean())
	}
}

func TestThresholdsOutOfRangeColumnNotFound(t *testing.T) {
	s := &Stage{cusumBytes: newFamily(1), cusumPackets: newFamily(1), cusumEntropy: newFamily(1),
		cusumRecvSentBytes: newFamily(1), cusumRecvSentFlows: newFamily(1)}

	if _, ok := s.Thresholds(5); ok {
		t.Fatal("expected an out-of-range column to report not found")
	}
}
