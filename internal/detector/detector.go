// Package detector implements the detection stage: it drains each window
// snapshot handed across the pipe, reverses the sketches to recover heavy
// hitters, feeds five metrics per column into independent CUSUM families,
// and raises an alert when all five fire together.
package detector

import (
	"io"
	"sort"
	"sync"
	"time"

	"ddosguard/internal/cusum"
	"ddosguard/internal/ingest"
	"ddosguard/internal/model"
	"ddosguard/internal/pipe"
	"ddosguard/internal/queue"
	"ddosguard/internal/sketch"
	"ddosguard/internal/trie"
)

// Config holds the tuning constants loaded at startup.
type Config struct {
	DestWidth          uint32
	LearningSecs       uint64
	Quantile           float64
	TopN               int
	InterAlertInterval time.Duration
	Span               uint64
	C                  float64
	ThresholdsPath     string
}

// Stage is the detection-side half of the pipeline.
type Stage struct {
	protected *trie.Trie
	whitelist *trie.Trie

	in       *pipe.Pipe[ingest.Snapshot]
	alerts   *queue.Queue[model.Alert]
	feedback *queue.Queue[model.FeedbackRecord]

	dest *sketch.DestSketch
	src  *sketch.SrcSketch

	cusumBytes          []*cusum.CUSUM
	cusumPackets        []*cusum.CUSUM
	cusumEntropy        []*cusum.CUSUM
	cusumRecvSentBytes  []*cusum.CUSUM
	cusumRecvSentFlows  []*cusum.CUSUM

	// cusumMu guards every CUSUM family above against concurrent reads
	// from Thresholds, called from the API/NATS query path on a
	// goroutine other than the one Run executes on.
	cusumMu sync.RWMutex

	quantile           float64
	topN               int
	interAlertInterval time.Duration
	thresholdsPath     string

	thresholdsSet bool
	learnUntil    time.Time
	learningSecs  uint64

	now func() time.Time
}

// New returns a detection stage bound to in for window snapshots,
// protected/whitelist for attribution filtering, and cfg for tuning.
func New(cfg Config, protected, whitelist *trie.Trie, in *pipe.Pipe[ingest.Snapshot]) *Stage {
	alpha := 1.0 / float64(cfg.Span+1)
	makeFamily := func() []*cusum.CUSUM {
		family := make([]*cusum.CUSUM, cfg.DestWidth)
		for i := range family {
			family[i] = cusum.New(cfg.C, alpha, cfg.Span)
		}
		return family
	}
	return &Stage{
		protected:          protected,
		whitelist:          whitelist,
		in:                 in,
		alerts:             queue.New[model.Alert](),
		feedback:           queue.New[model.FeedbackRecord](),
		cusumBytes:         makeFamily(),
		cusumPackets:       makeFamily(),
		cusumEntropy:       makeFamily(),
		cusumRecvSentBytes: makeFamily(),
		cusumRecvSentFlows: makeFamily(),
		quantile:           cfg.Quantile,
		topN:               cfg.TopN,
		interAlertInterval: cfg.InterAlertInterval,
		thresholdsPath:     cfg.ThresholdsPath,
		learningSecs:       cfg.LearningSecs,
		now:                time.Now,
	}
}

// LoadInitialThresholds reads thresholds.csv for the learningSecs == 0
// startup path. Callers must do this before Run when learningSecs is 0;
// a missing file in that mode is a startup error per the fail-fast policy.
func (s *Stage) LoadInitialThresholds(r io.Reader) error {
	if err := s.loadThresholds(r); err != nil {
		return err
	}
	s.thresholdsSet = true
	return nil
}

// PushFeedback enqueues a false-positive report for the next window's
// drainFalsePositives call to apply.
func (s *Stage) PushFeedback(fb model.FeedbackRecord) {
	s.feedback.Push(fb)
}

// TryPopAlert removes and returns the oldest pending alert, if any.
func (s *Stage) TryPopAlert() (model.Alert, bool) {
	return s.alerts.TryPop()
}

// Run is the detection stage's main loop. It blocks on the pipe for each
// window snapshot and returns once it observes the shutdown sentinel
// (a Snapshot with a nil Dest sketch).
func (s *Stage) Run(startedAt time.Time) {
	s.learnUntil = startedAt.Add(time.Duration(s.learningSecs) * time.Second)

	for {
		snap := s.in.Read()
		if snap.Dest == nil {
			return
		}
		s.dest = snap.Dest
		s.src = snap.Src

		now := s.now()
		learning := now.Before(s.learnUntil)

		if !s.thresholdsSet && !learning {
			s.calibrateThresholds()
			s.thresholdsSet = true
		}
		if s.thresholdsSet {
			s.drainFalsePositives()
		}

		for j := uint32(0); j < uint32(len(s.cusumBytes)); j++ {
			if s.dest.Cell(0, j).Count == 0 {
				continue
			}
			maxIP, acc, rowOf := s.reverseAllKeys(j)
			if maxIP == 0 {
				continue
			}
			hits := s.reverseSrcIPs(acc.CommunicatedWith, rowOf)
			m := computeMetrics(acc, hits)
			s.updateMetrics(j, m, learning)

			if s.thresholdsSet && now.Sub(s.cusumBytes[j].LastAlert()) > s.interAlertInterval {
				if alert, ok := s.detectAnomaly(maxIP, j, m, hits); ok {
					alert.DetectedAt = now
					s.cusumBytes[j].SetLastAlert(now)
					s.alerts.Push(alert)
				}
			}
		}
	}
}

// SaveThresholds persists every column's thresholds, for callers to
// invoke on clean shutdown.
func (s *Stage) SaveThresholds(w io.Writer) error {
	return s.saveThresholds(w)
}

func (s *Stage) updateMetrics(col uint32, m metrics, learning bool) {
	s.cusumMu.Lock()
	defer s.cusumMu.Unlock()
	s.cusumBytes[col].Process(m.byteCount, learning)
	s.cusumPackets[col].Process(m.packetCount, learning)
	s.cusumEntropy[col].Process(m.entropy, learning)
	s.cusumRecvSentBytes[col].Process(m.recvToSentBytes, learning)
	s.cusumRecvSentFlows[col].Process(m.recvToSentFlows, learning)
}

// Thresholds returns the live CUSUM threshold/mean/variance state for
// sketch column col, for the status API's operator-visibility endpoint.
// ok is false if col is out of range.
func (s *Stage) Thresholds(col uint32) (model.ColumnThresholds, bool) {
	s.cusumMu.RLock()
	defer s.cusumMu.RUnlock()

	if col >= uint32(len(s.cusumBytes)) {
		return model.ColumnThresholds{}, false
	}

	return model.ColumnThresholds{
		Column: col,

		ThresholdBytes:         s.cusumBytes[col].ThresholdHigh(),
		ThresholdPackets:       s.cusumPackets[col].ThresholdHigh(),
		ThresholdEntropyHigh:   s.cusumEntropy[col].ThresholdHigh(),
		ThresholdEntropyLow:    s.cusumEntropy[col].ThresholdLow(),
		ThresholdRecvSentBytes: s.cusumRecvSentBytes[col].ThresholdHigh(),
		ThresholdRecvSentFlows: s.cusumRecvSentFlows[col].ThresholdHigh(),

		MeanBytes:         s.cusumBytes[col].Mean(),
		MeanPackets:       s.cusumPackets[col].Mean(),
		MeanEntropy:       s.cusumEntropy[col].Mean(),
		MeanRecvSentBytes: s.cusumRecvSentBytes[col].Mean(),
		MeanRecvSentFlows: s.cusumRecvSentFlows[col].Mean(),

		VarianceBytes:         s.cusumBytes[col].Variance(),
		VariancePackets:       s.cusumPackets[col].Variance(),
		VarianceEntropy:       s.cusumEntropy[col].Variance(),
		VarianceRecvSentBytes: s.cusumRecvSentBytes[col].Variance(),
		VarianceRecvSentFlows: s.cusumRecvSentFlows[col].Variance(),
	}, true
}

func (s *Stage) isProtected(addr uint32) bool {
	return s.protected.Contains(addr)
}

func (s *Stage) isWhitelisted(addr uint32) bool {
	if s.whitelist != nil && s.whitelist.Contains(addr) {
		return true
	}
	return s.protected.Contains(addr)
}

// detectAnomaly requires every one of the five CUSUM families to fire
// its positive arm simultaneously before building an alert, and only
// emits one if the top-N attacker list ends up non-empty after
// whitelist filtering — an alert with no one to blame is not emitted,
// even if all five statistics crossed their thresholds.
func (s *Stage) detectAnomaly(maxIP, col uint32, m metrics, hits []srcHit) (model.Alert, bool) {
	multiplier, found := s.protected.Multiplier(maxIP)
	if !found {
		multiplier = 1
	}

	if !s.cusumBytes[col].IsPositiveAnomaly(multiplier) ||
		!s.cusumPackets[col].IsPositiveAnomaly(multiplier) ||
		!s.cusumEntropy[col].IsPositiveAnomaly(multiplier) ||
		!s.cusumRecvSentBytes[col].IsPositiveAnomaly(multiplier) ||
		!s.cusumRecvSentFlows[col].IsPositiveAnomaly(multiplier) {
		return model.Alert{}, false
	}

	top := s.topNSources(hits)
	if len(top) == 0 {
		return model.Alert{}, false
	}

	srcIPs := make([]uint32, len(top))
	for i, h := range top {
		srcIPs[i] = h.addr
	}

	alert := model.Alert{
		ID:                     model.NewID(),
		DstIP:                  maxIP,
		CusumID:                col,
		ThresholdBytes:         s.cusumBytes[col].ThresholdHigh() * multiplier,
		ThresholdPackets:       s.cusumPackets[col].ThresholdHigh() * multiplier,
		ThresholdEntropy:       s.cusumEntropy[col].ThresholdHigh() * multiplier,
		ThresholdRecvSentBytes: s.cusumRecvSentBytes[col].ThresholdHigh() * multiplier,
		ThresholdRecvSentFlows: s.cusumRecvSentFlows[col].ThresholdHigh() * multiplier,
		MeasuredBytes:          s.cusumBytes[col].SH(),
		MeasuredPackets:        s.cusumPackets[col].SH(),
		MeasuredEntropy:        s.cusumEntropy[col].SH(),
		MeasuredRecvSentBytes:  s.cusumRecvSentBytes[col].SH(),
		MeasuredRecvSentFlows:  s.cusumRecvSentFlows[col].SH(),
		SrcIPs:                 srcIPs,
	}
	return alert, true
}

// topNSources sorts the recovered sources by flow tally descending,
// drops anything matching the combined protected/whitelist trie, and
// takes the first N.
func (s *Stage) topNSources(hits []srcHit) []srcHit {
	filtered := make([]srcHit, 0, len(hits))
	for _, h := range hits {
		if s.isWhitelisted(h.addr) {
			continue
		}
		filtered = append(filtered, h)
	}
	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].tally > filtered[j].tally
	})
	if len(filtered) > s.topN {
		filtered = filtered[:s.topN]
	}
	return filtered
}
