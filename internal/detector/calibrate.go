package detector

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"ddosguard/internal/cusum"
)

// thresholdRow is the persisted shape of one destination-sketch column's
// thresholds, matching the fixed thresholds.csv column order.
type thresholdRow struct {
	Bytes, Packets, EntropyHigh, EntropyLow, RecvSentBytes, RecvSentFlows float64
}

// calibrateThresholds runs once, at the end of the learning phase: each
// family's threshold is either the column's own learning-phase maximum
// (if it ever fired) or a quantile over every column's maxima, so columns
// that stayed quiet during learning still get a sane threshold.
func (s *Stage) calibrateThresholds() {
	s.cusumMu.Lock()
	defer s.cusumMu.Unlock()
	setFamily(s.cusumBytes, s.quantile, highOnly)
	setFamily(s.cusumPackets, s.quantile, highOnly)
	setFamily(s.cusumEntropy, s.quantile, bothArms)
	setFamily(s.cusumRecvSentBytes, s.quantile, highOnly)
	setFamily(s.cusumRecvSentFlows, s.quantile, highOnly)
}

type arms int

const (
	highOnly arms = iota
	bothArms
)

func setFamily(family []*cusum.CUSUM, quantile float64, which arms) {
	highs := nonZeroMaxSH(family)
	cusum.SortFloat64s(highs)
	famHigh := cusum.QuantileSortedVec(highs, quantile)

	var famLow float64
	if which == bothArms {
		lows := nonZeroMaxSL(family)
		cusum.SortFloat64s(lows)
		famLow = cusum.QuantileSortedVec(lows, quantile)
	}

	for _, c := range family {
		if c.MaxSH() > 0 {
			c.SetThresholdHigh(c.MaxSH())
		} else {
			c.SetThresholdHigh(famHigh)
		}
		if which == bothArms {
			if c.MaxSL() > 0 {
				c.SetThresholdLow(c.MaxSL())
			} else {
				c.SetThresholdLow(famLow)
			}
		}
	}
}

func nonZeroMaxSH(family []*cusum.CUSUM) []float64 {
	out := make([]float64, 0, len(family))
	for _, c := range family {
		if c.MaxSH() > 0 {
			out = append(out, c.MaxSH())
		}
	}
	return out
}

func nonZeroMaxSL(family []*cusum.CUSUM) []float64 {
	out := make([]float64, 0, len(family))
	for _, c := range family {
		if c.MaxSL() > 0 {
			out = append(out, c.MaxSL())
		}
	}
	return out
}

// loadThresholds restores per-column thresholds from the persisted CSV,
// used when learningSecs is zero. Column order is fixed:
// thBytes, thPackets, thEntropyHigh, thEntropyLow, thRecvSentBytes, thRecvSentFlows.
func (s *Stage) loadThresholds(r io.Reader) error {
	s.cusumMu.Lock()
	defer s.cusumMu.Unlock()
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 6
	rows, err := cr.ReadAll()
	if err != nil {
		return fmt.Errorf("reading thresholds: %w", err)
	}
	if len(rows) != len(s.cusumBytes) {
		return fmt.Errorf("thresholds file has %d rows, expected %d columns", len(rows), len(s.cusumBytes))
	}
	for j, row := range rows {
		values := make([]float64, 6)
		for i, field := range row {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return fmt.Errorf("thresholds row %d field %d: %w", j, i, err)
			}
			values[i] = v
		}
		s.cusumBytes[j].SetThresholdHigh(values[0])
		s.cusumPackets[j].SetThresholdHigh(values[1])
		s.cusumEntropy[j].SetThresholdHigh(values[2])
		s.cusumEntropy[j].SetThresholdLow(values[3])
		s.cusumRecvSentBytes[j].SetThresholdHigh(values[4])
		s.cusumRecvSentFlows[j].SetThresholdHigh(values[5])
	}
	return nil
}

// saveThresholds persists every column's thresholds on clean shutdown, so
// a future run with learningSecs == 0 can start detecting immediately.
func (s *Stage) saveThresholds(w io.Writer) error {
	s.cusumMu.RLock()
	defer s.cusumMu.RUnlock()
	bw := bufio.NewWriter(w)
	cw := csv.NewWriter(bw)
	for j := range s.cusumBytes {
		row := []string{
			strconv.FormatFloat(s.cusumBytes[j].ThresholdHigh(), 'g', -1, 64),
			strconv.FormatFloat(s.cusumPackets[j].ThresholdHigh(), 'g', -1, 64),
			strconv.FormatFloat(s.cusumEntropy[j].ThresholdHigh(), 'g', -1, 64),
			strconv.FormatFloat(s.cusumEntropy[j].ThresholdLow(), 'g', -1, 64),
			strconv.FormatFloat(s.cusumRecvSentBytes[j].ThresholdHigh(), 'g', -1, 64),
			strconv.FormatFloat(s.cusumRecvSentFlows[j].ThresholdHigh(), 'g', -1, 64),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}
	return bw.Flush()
}

// drainFalsePositives applies at most one queued feedback record per
// window, widening the disputed column's five high thresholds to exactly
// the measured values that triggered it, scaled back by the prefix's
// multiplier so an identical future event no longer crosses them.
func (s *Stage) drainFalsePositives() {
	fb, ok := s.feedback.TryPop()
	if !ok {
		return
	}
	multiplier, found := s.protected.Multiplier(fb.DstIP)
	if !found {
		multiplier = 1
	}
	j := fb.CusumID
	if j >= uint32(len(s.cusumBytes)) {
		return
	}
	s.cusumMu.Lock()
	defer s.cusumMu.Unlock()
	s.cusumBytes[j].SetThresholdHigh(fb.MeasuredBytes / multiplier)
	s.cusumPackets[j].SetThresholdHigh(fb.MeasuredPackets / multiplier)
	s.cusumEntropy[j].SetThresholdHigh(fb.MeasuredEntropy / multiplier)
	s.cusumRecvSentBytes[j].SetThresholdHigh(fb.MeasuredRecvSentBytes / multiplier)
	s.cusumRecvSentFlows[j].SetThresholdHigh(fb.MeasuredRecvSentFlows / multiplier)
}
