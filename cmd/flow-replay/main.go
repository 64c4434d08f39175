// flow-replay drives the detection engine directly from a pcap capture,
// for offline testing and accuracy evaluation without a live NATS feed.
package main

import (
	"flag"
	"log"
	"time"

	"ddosguard/internal/config"
	"ddosguard/internal/engine"
	"ddosguard/internal/model"
	"ddosguard/internal/pcapflow"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the YAML configuration file")
	pcapPath := flag.String("pcap", "", "path to the pcap file to replay")
	flag.Parse()

	if *pcapPath == "" {
		log.Fatal("-pcap is required")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	eng, err := engine.New(cfg, 4096)
	if err != nil {
		log.Fatalf("failed to create engine: %v", err)
	}

	reader, err := pcapflow.NewReader(*pcapPath)
	if err != nil {
		log.Fatalf("failed to open pcap file: %v", err)
	}
	defer reader.Close()

	eng.Start()

	flows := make(chan model.FlowRecord, 4096)
	go reader.ReadFlows(flows)

	in := eng.InputChannel()
	count := 0
	for rec := range flows {
		in <- rec
		count++
		if count%100000 == 0 {
			log.Printf("%d flows replayed...", count)
		}
	}

	log.Printf("replay complete: %d flows", count)
	time.Sleep(cfg.Detector.WindowDuration())
	eng.Stop()
}
