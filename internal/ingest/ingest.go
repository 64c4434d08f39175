// Package ingest implements the flow-classification stage: every flow is
// matched against the protected-prefix trie and folded into the live
// destination/source sketch pair, which is handed off to the detection
// stage at each window boundary.
package ingest

import (
	"ddosguard/internal/model"
	"ddosguard/internal/pipe"
	"ddosguard/internal/sketch"
	"ddosguard/internal/trie"
)

const destMask = 0xFFFFFF00

// Snapshot is what crosses the pipe at a window boundary: the completed
// destination/source sketch pair for the detection stage to reverse and
// evaluate. A nil Dest marks the shutdown sentinel.
type Snapshot struct {
	Dest *sketch.DestSketch
	Src  *sketch.SrcSketch
}

// Stage owns the live sketch pair and classifies inbound flows against
// the protected-prefix trie.
type Stage struct {
	protected *trie.Trie

	destWidth    uint32
	srcWidth     uint32
	conservative bool
	learning     bool

	dest *sketch.DestSketch
	src  *sketch.SrcSketch

	out *pipe.Pipe[Snapshot]
}

// New returns an ingest stage that classifies against protected, sizes
// its sketch pair to destWidth/srcWidth, and hands completed windows to
// out. learningSecs == 0 selects the conservative-update discipline used
// when no warm-up period is configured; otherwise the sketches use the
// plain-increment discipline for every window of the run, including the
// windows after the learning phase ends.
func New(protected *trie.Trie, destWidth, srcWidth uint32, learningSecs uint64, out *pipe.Pipe[Snapshot]) *Stage {
	conservative := learningSecs == 0
	s := &Stage{
		protected:    protected,
		destWidth:    destWidth,
		srcWidth:     srcWidth,
		conservative: conservative,
		learning:     !conservative,
		out:          out,
	}
	s.dest = sketch.NewDestSketch(destWidth, conservative, s.learning)
	s.src = sketch.NewSrcSketch(srcWidth, conservative, s.learning)
	return s
}

// ProcessFlow classifies and sketches one flow record, per the
// destination-then-source matching order: destination traffic updates the
// full cell and records who it talked to; return traffic only updates the
// sent-bytes counters. Traffic matching neither is dropped.
func (s *Stage) ProcessFlow(rec model.FlowRecord) {
	matched := false

	if s.protected.Contains(rec.DstAddr) {
		maskedDst := rec.DstAddr & destMask
		s.dest.Update(maskedDst, rec.DstAddr, rec.Bytes, rec.Packets)
		for row := 0; row < 3; row++ {
			srcIdx := s.src.Col(rec.SrcAddr, row)
			dstCol := s.dest.Col(maskedDst, row)
			s.dest.UpdateCellDirect(row, dstCol, func(v *sketch.DestCell) {
				v.UpdateFlowCounter(srcIdx)
			})
		}
		matched = true
	} else if s.protected.Contains(rec.SrcAddr) {
		maskedSrc := rec.SrcAddr & destMask
		for row := 0; row < 3; row++ {
			dstCol := s.dest.Col(maskedSrc, row)
			s.dest.UpdateCellDirect(row, dstCol, func(v *sketch.DestCell) {
				v.UpdateSentBytes(rec.Bytes)
			})
		}
		matched = true
	}

	if !matched {
		return
	}
	s.src.Update(rec.SrcAddr)
}

// IsProtected reports whether addr matches the stage's protected trie.
func (s *Stage) IsProtected(addr uint32) bool {
	return s.protected.Contains(addr)
}

// NotifyWorker hands the completed window off to the detection stage and
// allocates a fresh sketch pair to start the next one.
func (s *Stage) NotifyWorker() {
	s.out.Write(Snapshot{Dest: s.dest, Src: s.src})
	s.dest = sketch.NewDestSketch(s.destWidth, s.conservative, s.learning)
	s.src = sketch.NewSrcSketch(s.srcWidth, s.conservative, s.learning)
}

// Shutdown pushes the sentinel snapshot so the detection stage's blocking
// read unblocks and observes the stop condition.
func (s *Stage) Shutdown() {
	s.out.Write(Snapshot{})
}
