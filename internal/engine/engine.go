// Package engine wires the ingest stage, the detection stage, and the
// pipe between them into a runnable process, in the same lifecycle style
// as the teacher's manager package: ticker-driven background loops and
// ordered shutdown around a single ingest goroutine. The ingest stage's
// sketches and trie lookups carry no synchronization of their own, so
// ProcessFlow and NotifyWorker both run on that one goroutine, driven by
// the same select loop.
package engine

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"ddosguard/internal/config"
	"ddosguard/internal/detector"
	"ddosguard/internal/ingest"
	"ddosguard/internal/model"
	"ddosguard/internal/pipe"
	"ddosguard/internal/trie"
)

// AlertSink receives every alert the detection stage raises. NATS
// publishing and the ClickHouse history writer are both sinks.
type AlertSink interface {
	Emit(model.Alert) error
}

// Engine owns the sketch pipeline end to end.
type Engine struct {
	ingest   *ingest.Stage
	detector *detector.Stage

	flowChannel chan model.FlowRecord
	ingestWg    sync.WaitGroup

	window time.Duration

	detectorWg sync.WaitGroup

	alertSinks   []AlertSink
	alertDrainWg sync.WaitGroup

	thresholdsPath string
	startedAt      time.Time

	stopDrain chan struct{}
}

// New builds an Engine from cfg. If the configured learning duration is
// zero, it loads thresholds.csv eagerly and fails startup if the file is
// missing or malformed, per the fail-fast policy for that configuration.
func New(cfg *config.Config, flowChannelSize int) (*Engine, error) {
	protected, err := loadPrefixFile(cfg.Detector.SubnetFile)
	if err != nil {
		return nil, fmt.Errorf("loading subnet file: %w", err)
	}

	var whitelist *trie.Trie
	if cfg.Detector.WhitelistFile != "" {
		whitelist, err = loadPrefixFile(cfg.Detector.WhitelistFile)
		if err != nil {
			return nil, fmt.Errorf("loading whitelist file: %w", err)
		}
	}

	learningSecs, err := cfg.Detector.LearningSeconds()
	if err != nil {
		return nil, err
	}

	p := pipe.New[ingest.Snapshot]()
	ingestStage := ingest.New(protected, cfg.Detector.DestWidth, cfg.Detector.SrcWidth, learningSecs, p)

	detCfg := detector.Config{
		DestWidth:          cfg.Detector.DestWidth,
		LearningSecs:       learningSecs,
		Quantile:           cfg.Detector.Quantile,
		TopN:               cfg.Detector.TopN,
		InterAlertInterval: cfg.Detector.InterAlertInterval(),
		Span:               cfg.Detector.Span,
		C:                  cfg.Detector.C,
		ThresholdsPath:     cfg.Detector.ThresholdsFile,
	}
	detectorStage := detector.New(detCfg, protected, whitelist, p)

	if learningSecs == 0 {
		f, err := os.Open(cfg.Detector.ThresholdsFile)
		if err != nil {
			return nil, fmt.Errorf("learning=0 requires an existing thresholds file: %w", err)
		}
		defer f.Close()
		if err := detectorStage.LoadInitialThresholds(f); err != nil {
			return nil, fmt.Errorf("loading thresholds file: %w", err)
		}
	}

	return &Engine{
		ingest:         ingestStage,
		detector:       detectorStage,
		flowChannel:    make(chan model.FlowRecord, flowChannelSize),
		window:         cfg.Detector.WindowDuration(),
		thresholdsPath: cfg.Detector.ThresholdsFile,
		stopDrain:      make(chan struct{}),
	}, nil
}

// AddAlertSink registers a destination for emitted alerts. Call before
// Start.
func (e *Engine) AddAlertSink(sink AlertSink) {
	e.alertSinks = append(e.alertSinks, sink)
}

// InputChannel returns the channel flow records should be pushed to.
func (e *Engine) InputChannel() chan<- model.FlowRecord {
	return e.flowChannel
}

// PushFeedback forwards a false-positive report to the detection stage.
func (e *Engine) PushFeedback(fb model.FeedbackRecord) {
	e.detector.PushFeedback(fb)
}

// Thresholds returns the detection stage's live CUSUM state for a sketch
// column, satisfying transport.ThresholdsQuerier so the thresholds
// responder can answer cross-process operator queries.
func (e *Engine) Thresholds(col uint32) (model.ColumnThresholds, bool) {
	return e.detector.Thresholds(col)
}

// Start launches the ingest goroutine, the detection goroutine, and the
// alert-drain goroutine.
func (e *Engine) Start() {
	e.startedAt = time.Now()

	e.detectorWg.Add(1)
	go func() {
		defer e.detectorWg.Done()
		e.detector.Run(e.startedAt)
	}()

	e.alertDrainWg.Add(1)
	go e.runAlertDrain()

	e.ingestWg.Add(1)
	go e.runIngest()
	log.Printf("engine started, window %s", e.window)
}

// runIngest is the sole goroutine allowed to touch the ingest stage.
// ProcessFlow and NotifyWorker share unsynchronized sketch/trie state
// (NotifyWorker reassigns Stage.dest/Stage.src out from under whatever
// ProcessFlow is doing), so the window rollover is driven from the same
// select loop that drains flowChannel rather than from a second
// goroutine racing against it. Closing flowChannel is the sole shutdown
// signal: once it drains, runIngest flushes the final window and the
// sentinel, then returns.
func (e *Engine) runIngest() {
	defer e.ingestWg.Done()
	ticker := time.NewTicker(e.window)
	defer ticker.Stop()

	for {
		select {
		case rec, ok := <-e.flowChannel:
			if !ok {
				e.ingest.NotifyWorker()
				e.ingest.Shutdown()
				return
			}
			e.ingest.ProcessFlow(rec)
		case <-ticker.C:
			e.ingest.NotifyWorker()
		}
	}
}

// runAlertDrain polls the alert queue on its own cadence rather than
// tying it to the window ticker: the detection stage can still be
// processing the final real window (and pushing alerts) after the
// shutdown signal fires, right up until it observes the sentinel.
func (e *Engine) runAlertDrain() {
	defer e.alertDrainWg.Done()
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			e.drainAlerts()
		case <-e.stopDrain:
			e.drainAlerts()
			return
		}
	}
}

func (e *Engine) drainAlerts() {
	for {
		alert, ok := e.detector.TryPopAlert()
		if !ok {
			return
		}
		for _, sink := range e.alertSinks {
			if err := sink.Emit(alert); err != nil {
				log.Printf("alert sink error: %v", err)
			}
		}
	}
}

// Stop shuts the engine down in order: stop intake and let runIngest
// flush the final window and sentinel, wait for detection to observe it,
// persist thresholds, then stop draining alerts.
func (e *Engine) Stop() {
	log.Println("engine stopping...")
	close(e.flowChannel)
	e.ingestWg.Wait()
	e.detectorWg.Wait()

	if err := e.persistThresholds(); err != nil {
		log.Printf("error persisting thresholds: %v", err)
	}

	close(e.stopDrain)
	e.alertDrainWg.Wait()
	log.Println("engine stopped.")
}

func (e *Engine) persistThresholds() error {
	f, err := os.Create(e.thresholdsPath)
	if err != nil {
		return err
	}
	defer f.Close()
	return e.detector.SaveThresholds(f)
}

func loadPrefixFile(path string) (*trie.Trie, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return trie.LoadPrefixFile(f)
}
