// ddos-api exposes the alert history and feedback intake HTTP API
// backed by the detector's ClickHouse store and NATS feedback subject.
package main

import (
	"flag"
	"log"

	"ddosguard/internal/api"
	"ddosguard/internal/config"
	"ddosguard/internal/history"
	"ddosguard/internal/model"
	"ddosguard/internal/transport"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if cfg.ClickHouse == nil {
		log.Fatal("ddos-api requires a clickhouse section in the configuration")
	}
	if cfg.API == nil {
		log.Fatal("ddos-api requires an api section in the configuration")
	}

	chWriter, err := history.NewClickHouseWriter(*cfg.ClickHouse)
	if err != nil {
		log.Fatalf("failed to connect to clickhouse: %v", err)
	}

	var feedback api.FeedbackSink = noopFeedbackSink{}
	var thresholds api.ThresholdSource
	if cfg.NATS != nil {
		pub, err := transport.NewAlertPublisher(cfg.NATS.URL, cfg.NATS.AlertSubject, cfg.NATS.FeedbackSubject)
		if err != nil {
			log.Fatalf("failed to connect to NATS: %v", err)
		}
		defer pub.Close()
		feedback = pub

		thresholdsClient, err := transport.NewThresholdsClient(cfg.NATS.URL, cfg.NATS.ThresholdsSubject)
		if err != nil {
			log.Fatalf("failed to connect thresholds client: %v", err)
		}
		defer thresholdsClient.Close()
		thresholds = thresholdsClient
	}

	router := api.NewRouter(chWriter, feedback, thresholds)
	log.Printf("ddos-api listening on %s", cfg.API.ListenAddr)
	if err := api.Serve(cfg.API.ListenAddr, router); err != nil {
		log.Fatalf("api server error: %v", err)
	}
	log.Println("ddos-api exited.")
}

// noopFeedbackSink logs filed feedback when no NATS feedback subject is
// configured to carry it to a running detector.
type noopFeedbackSink struct{}

func (noopFeedbackSink) PushFeedback(fb model.FeedbackRecord) {
	log.Printf("feedback filed for dst=%d cusum=%d (NATS not configured, dropped)", fb.DstIP, fb.CusumID)
}
