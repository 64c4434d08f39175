// ddos-detector runs the full ingest/detect pipeline against NetFlow
// records received over NATS, emitting alerts to NATS, ClickHouse, and
// email depending on what the configuration wires up.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ddosguard/internal/alerter"
	"ddosguard/internal/config"
	"ddosguard/internal/engine"
	"ddosguard/internal/history"
	"ddosguard/internal/model"
	"ddosguard/internal/notification"
	"ddosguard/internal/transport"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the YAML configuration file")
	flag.Parse()

	log.Println("starting ddos-detector...")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	log.Println("configuration loaded")

	eng, err := engine.New(cfg, 4096)
	if err != nil {
		log.Fatalf("failed to create engine: %v", err)
	}

	var flowSub *transport.FlowSubscriber
	var alertPub *transport.AlertPublisher
	var thresholdsResp *transport.ThresholdsResponder
	if cfg.NATS != nil {
		flowSub, err = transport.NewFlowSubscriber(cfg.NATS.URL, cfg.NATS.FlowSubject)
		if err != nil {
			log.Fatalf("failed to connect flow subscriber: %v", err)
		}
		defer flowSub.Close()

		alertPub, err = transport.NewAlertPublisher(cfg.NATS.URL, cfg.NATS.AlertSubject, cfg.NATS.FeedbackSubject)
		if err != nil {
			log.Fatalf("failed to connect alert publisher: %v", err)
		}
		defer alertPub.Close()
		eng.AddAlertSink(alertPub)

		if err := alertPub.SubscribeFeedback(eng.PushFeedback); err != nil {
			log.Fatalf("failed to subscribe to feedback: %v", err)
		}

		thresholdsResp, err = transport.NewThresholdsResponder(cfg.NATS.URL, cfg.NATS.ThresholdsSubject)
		if err != nil {
			log.Fatalf("failed to connect thresholds responder: %v", err)
		}
		defer thresholdsResp.Close()
		if err := thresholdsResp.Start(eng); err != nil {
			log.Fatalf("failed to start thresholds responder: %v", err)
		}
	}

	if cfg.ClickHouse != nil {
		chWriter, err := history.NewClickHouseWriter(*cfg.ClickHouse)
		if err != nil {
			log.Fatalf("failed to connect to clickhouse: %v", err)
		}
		eng.AddAlertSink(chWriter)
	}

	var emailAlerter *alerter.Alerter
	if cfg.SMTP != nil {
		notifier := notification.NewEmailNotifier(*cfg.SMTP)
		emailAlerter = alerter.NewAlerter(5*time.Minute, notifier)
		eng.AddAlertSink(emailAlerter)
		go emailAlerter.Start()
	}

	eng.Start()

	if flowSub != nil {
		in := eng.InputChannel()
		if err := flowSub.Start(func(rec model.FlowRecord) { in <- rec }); err != nil {
			log.Fatalf("failed to start flow subscriber: %v", err)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("shutdown signal received, stopping...")
	if emailAlerter != nil {
		emailAlerter.Stop()
	}
	eng.Stop()
	log.Println("shutdown complete.")
}
