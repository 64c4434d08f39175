package transport

import (
	"encoding/binary"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"ddosguard/internal/model"
)

// FlowSubscriber feeds flow records pushed onto a NATS subject into a
// handler, the inbound half of the flow transport.
type FlowSubscriber struct {
	nc      *nats.Conn
	sub     *nats.Subscription
	subject string
}

// NewFlowSubscriber connects to natsURL and prepares to subscribe on
// subject. A connection failure here is a startup error.
func NewFlowSubscriber(natsURL, subject string) (*FlowSubscriber, error) {
	nc, err := nats.Connect(natsURL)
	if err != nil {
		return nil, err
	}
	log.Printf("connected to NATS server at %s", natsURL)
	return &FlowSubscriber{nc: nc, subject: subject}, nil
}

// FlowHandler processes one decoded flow record.
type FlowHandler func(model.FlowRecord)

// Start subscribes to the configured subject. The callback runs on a
// NATS client goroutine and must not block, so handler is expected to
// only enqueue work, matching the teacher's handlePacket-pushes-to-channel
// discipline.
func (s *FlowSubscriber) Start(handler FlowHandler) error {
	sub, err := s.nc.Subscribe(s.subject, func(msg *nats.Msg) {
		rec, err := DecodeFlow(msg.Data)
		if err != nil {
			log.Printf("dropping malformed flow payload: %v", err)
			return
		}
		handler(rec)
	})
	if err != nil {
		return err
	}
	s.sub = sub
	log.Printf("subscribed to %q, waiting for flows", s.subject)
	return nil
}

// Close unsubscribes and closes the NATS connection.
func (s *FlowSubscriber) Close() {
	if s.sub != nil {
		s.sub.Unsubscribe()
	}
	if s.nc != nil {
		s.nc.Close()
	}
}

// AlertPublisher is the outbound half of the alert transport, and also
// carries the inbound feedback subscription since both ride the same
// NATS connection.
type AlertPublisher struct {
	nc              *nats.Conn
	alertSubject    string
	feedbackSubject string
	feedbackSub     *nats.Subscription
}

// NewAlertPublisher connects to natsURL for publishing alerts on
// alertSubject and feedback on feedbackSubject.
func NewAlertPublisher(natsURL, alertSubject, feedbackSubject string) (*AlertPublisher, error) {
	nc, err := nats.Connect(natsURL)
	if err != nil {
		return nil, err
	}
	log.Printf("connected to NATS server at %s", natsURL)
	return &AlertPublisher{nc: nc, alertSubject: alertSubject, feedbackSubject: feedbackSubject}, nil
}

// Emit publishes an alert, satisfying engine.AlertSink.
func (p *AlertPublisher) Emit(a model.Alert) error {
	return p.nc.Publish(p.alertSubject, EncodeAlert(a))
}

// PushFeedback publishes a feedback record onto the feedback subject,
// satisfying the same interface the in-process detector exposes.
func (p *AlertPublisher) PushFeedback(fb model.FeedbackRecord) {
	if err := p.nc.Publish(p.feedbackSubject, EncodeFeedback(fb)); err != nil {
		log.Printf("failed to publish feedback: %v", err)
	}
}

// FeedbackHandler processes one decoded feedback record.
type FeedbackHandler func(model.FeedbackRecord)

// SubscribeFeedback subscribes to the configured feedback subject for
// inbound false-positive reports.
func (p *AlertPublisher) SubscribeFeedback(handler FeedbackHandler) error {
	sub, err := p.nc.Subscribe(p.feedbackSubject, func(msg *nats.Msg) {
		fb, err := DecodeFeedback(msg.Data)
		if err != nil {
			log.Printf("dropping malformed feedback payload: %v", err)
			return
		}
		handler(fb)
	})
	if err != nil {
		return err
	}
	p.feedbackSub = sub
	return nil
}

// Close drains and closes the NATS connection.
func (p *AlertPublisher) Close() {
	if p.feedbackSub != nil {
		p.feedbackSub.Unsubscribe()
	}
	if p.nc != nil {
		p.nc.Drain()
	}
}

// ThresholdsQuerier answers a live per-column CUSUM state lookup,
// satisfied by engine.Engine so the detector process can respond to
// queries without the API server reaching into its internals directly.
type ThresholdsQuerier interface {
	Thresholds(col uint32) (model.ColumnThresholds, bool)
}

// ThresholdsResponder is the detector-side half of the thresholds
// request/reply subject: the ddos-api process and ddos-detector process
// are separate binaries, so the API's thresholds endpoint has no
// in-process access to the detector's live CUSUM state and must ask for
// it over the wire instead.
type ThresholdsResponder struct {
	nc      *nats.Conn
	subject string
	sub     *nats.Subscription
}

// NewThresholdsResponder connects to natsURL and prepares to answer
// requests on subject.
func NewThresholdsResponder(natsURL, subject string) (*ThresholdsResponder, error) {
	nc, err := nats.Connect(natsURL)
	if err != nil {
		return nil, err
	}
	log.Printf("connected to NATS server at %s", natsURL)
	return &ThresholdsResponder{nc: nc, subject: subject}, nil
}

// Start subscribes on the thresholds subject; each request payload is a
// big-endian uint32 column index, and the reply is an encoded
// ColumnThresholds, or an empty payload if the column is out of range.
func (r *ThresholdsResponder) Start(querier ThresholdsQuerier) error {
	sub, err := r.nc.Subscribe(r.subject, func(msg *nats.Msg) {
		if len(msg.Data) < 4 {
			msg.Respond(nil)
			return
		}
		col := binary.BigEndian.Uint32(msg.Data)
		th, ok := querier.Thresholds(col)
		if !ok {
			msg.Respond(nil)
			return
		}
		if err := msg.Respond(EncodeThresholds(th)); err != nil {
			log.Printf("failed to respond to thresholds query: %v", err)
		}
	})
	if err != nil {
		return err
	}
	r.sub = sub
	log.Printf("responding to thresholds queries on %q", r.subject)
	return nil
}

// Close unsubscribes and closes the NATS connection.
func (r *ThresholdsResponder) Close() {
	if r.sub != nil {
		r.sub.Unsubscribe()
	}
	if r.nc != nil {
		r.nc.Close()
	}
}

// ThresholdsClient is the ddos-api-side half of the thresholds
// request/reply subject.
type ThresholdsClient struct {
	nc      *nats.Conn
	subject string
}

// NewThresholdsClient connects to natsURL for issuing thresholds queries
// on subject.
func NewThresholdsClient(natsURL, subject string) (*ThresholdsClient, error) {
	nc, err := nats.Connect(natsURL)
	if err != nil {
		return nil, err
	}
	log.Printf("connected to NATS server at %s", natsURL)
	return &ThresholdsClient{nc: nc, subject: subject}, nil
}

// Thresholds asks the detector process for column col's live CUSUM state.
// found is false both when the detector had no such column and when the
// reply payload is empty for any other reason; timeout errors and
// malformed replies are returned as errors.
func (c *ThresholdsClient) Thresholds(col uint32) (model.ColumnThresholds, bool, error) {
	req := make([]byte, 4)
	binary.BigEndian.PutUint32(req, col)

	reply, err := c.nc.Request(c.subject, req, 2*time.Second)
	if err != nil {
		return model.ColumnThresholds{}, false, fmt.Errorf("thresholds request: %w", err)
	}
	if len(reply.Data) == 0 {
		return model.ColumnThresholds{}, false, nil
	}
	th, err := DecodeThresholds(reply.Data)
	if err != nil {
		return model.ColumnThresholds{}, false, err
	}
	return th, true, nil
}

// Close closes the NATS connection.
func (c *ThresholdsClient) Close() {
	if c.nc != nil {
		c.nc.Close()
	}
}
