// Package alerter batches raised alerts and emails a human-readable
// summary on a fixed interval, rather than one email per alert.
package alerter

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gomarkdown/markdown"

	"ddosguard/internal/model"
	"ddosguard/internal/trie"
)

// Alerter implements engine.AlertSink. Incoming alerts accumulate in a
// buffer and are flushed as a single consolidated notification on every
// tick of checkInterval, or on Stop.
type Alerter struct {
	notifier      model.Notifier
	checkInterval time.Duration

	mu     sync.Mutex
	buffer []model.Alert

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewAlerter builds an Alerter that flushes every checkInterval.
func NewAlerter(checkInterval time.Duration, notifier model.Notifier) *Alerter {
	return &Alerter{
		notifier:      notifier,
		checkInterval: checkInterval,
		stopChan:      make(chan struct{}),
	}
}

// Emit buffers an alert for the next flush, satisfying engine.AlertSink.
func (a *Alerter) Emit(alert model.Alert) error {
	a.mu.Lock()
	a.buffer = append(a.buffer, alert)
	a.mu.Unlock()
	return nil
}

// Start runs the periodic flush loop until Stop is called.
func (a *Alerter) Start() {
	log.Println("alerter started")
	a.wg.Add(1)
	defer a.wg.Done()

	ticker := time.NewTicker(a.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.flush()
		case <-a.stopChan:
			return
		}
	}
}

// Stop ends the flush loop and sends one final flush of whatever remains
// buffered.
func (a *Alerter) Stop() {
	log.Println("stopping alerter...")
	close(a.stopChan)
	a.wg.Wait()
	a.flush()
}

func (a *Alerter) flush() {
	a.mu.Lock()
	batch := a.buffer
	a.buffer = nil
	a.mu.Unlock()

	if len(batch) == 0 || a.notifier == nil {
		return
	}

	var sections []string
	for _, alert := range batch {
		sections = append(sections, renderAlert(alert))
	}

	body := "<h1>DDoS Detector Alert Summary</h1>" +
		"<p>The following alerts were raised since the last notification:</p><hr>" +
		strings.Join(sections, "<hr>")

	subject := fmt.Sprintf("DDoS alert summary (%d triggered)", len(batch))
	if err := a.notifier.Send(subject, body); err != nil {
		log.Printf("ERROR: failed to send alert notification: %v", err)
		return
	}
	log.Printf("sent alert notification for %d alert(s)", len(batch))
}

func renderAlert(a model.Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "### Attack on %s\n\n", trie.Uint32ToIP(a.DstIP))
	fmt.Fprintf(&b, "- detected at: %s\n", a.DetectedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "- column: %d\n", a.CusumID)
	fmt.Fprintf(&b, "- bytes: %.0f (threshold %.0f)\n", a.MeasuredBytes, a.ThresholdBytes)
	fmt.Fprintf(&b, "- packets: %.0f (threshold %.0f)\n", a.MeasuredPackets, a.ThresholdPackets)
	fmt.Fprintf(&b, "- entropy ratio: %.3f (threshold %.3f)\n", a.MeasuredEntropy, a.ThresholdEntropy)
	fmt.Fprintf(&b, "- received/sent bytes: %.3f (threshold %.3f)\n", a.MeasuredRecvSentBytes, a.ThresholdRecvSentBytes)
	fmt.Fprintf(&b, "- received/sent flows: %.3f (threshold %.3f)\n", a.MeasuredRecvSentFlows, a.ThresholdRecvSentFlows)
	b.WriteString("- top sources:\n")
	for _, ip := range a.SrcIPs {
		fmt.Fprintf(&b, "  - %s\n", trie.Uint32ToIP(ip))
	}

	html := markdown.ToHTML([]byte(b.String()), nil, nil)
	return string(html)
}
