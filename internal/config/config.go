// Package config loads the YAML configuration that drives the detector:
// its protected/whitelist prefix files, learning and CUSUM tuning
// constants, and the optional transports it wires up.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DetectorConfig holds the tuning constants from spec §6: sketch widths,
// learning duration, CUSUM parameters, and alerting cadence.
type DetectorConfig struct {
	SubnetFile         string `yaml:"subnet_file"`
	WhitelistFile      string `yaml:"whitelist_file"`
	ThresholdsFile     string `yaml:"thresholds_file"`
	Learning           string `yaml:"learning"`
	Quantile           float64 `yaml:"quantile"`
	Span               uint64  `yaml:"span"`
	C                  float64 `yaml:"cusum_slack"`
	DestWidth          uint32  `yaml:"dest_width"`
	SrcWidth           uint32  `yaml:"src_width"`
	TopN               int     `yaml:"top_n"`
	InterAlertSeconds  int     `yaml:"inter_alert_seconds"`
	WindowSeconds      int     `yaml:"window_seconds"`
}

// NATSConfig configures the flow/alert/feedback transports.
type NATSConfig struct {
	URL               string `yaml:"url"`
	FlowSubject       string `yaml:"flow_subject"`
	AlertSubject      string `yaml:"alert_subject"`
	FeedbackSubject   string `yaml:"feedback_subject"`
	ThresholdsSubject string `yaml:"thresholds_subject"`
}

// ClickHouseConfig configures the alert history writer.
type ClickHouseConfig struct {
	Addr     string `yaml:"addr"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// SMTPConfig configures the email notifier.
type SMTPConfig struct {
	Host     string   `yaml:"host"`
	Port     int      `yaml:"port"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
}

// APIConfig configures the status/query HTTP API.
type APIConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// Config is the top-level configuration struct for the detector process.
// NATS, ClickHouse, SMTP, and API are all optional: omitting one disables
// that transport and leaves the detector running in-process only, which
// is how the pcap replay tool and tests use it.
type Config struct {
	Detector   DetectorConfig    `yaml:"detector"`
	NATS       *NATSConfig       `yaml:"nats"`
	ClickHouse *ClickHouseConfig `yaml:"clickhouse"`
	SMTP       *SMTPConfig       `yaml:"smtp"`
	API        *APIConfig        `yaml:"api"`
}

// LoadConfig reads the configuration from a YAML file and returns a
// Config struct.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Detector.Quantile == 0 {
		c.Detector.Quantile = 0.75
	}
	if c.Detector.Span == 0 {
		c.Detector.Span = 60
	}
	if c.Detector.C == 0 {
		c.Detector.C = 0.5
	}
	if c.Detector.DestWidth == 0 {
		c.Detector.DestWidth = 1024
	}
	if c.Detector.SrcWidth == 0 {
		c.Detector.SrcWidth = 32768
	}
	if c.Detector.TopN == 0 {
		c.Detector.TopN = 5
	}
	if c.Detector.InterAlertSeconds == 0 {
		c.Detector.InterAlertSeconds = 300
	}
	if c.Detector.WindowSeconds == 0 {
		c.Detector.WindowSeconds = 5
	}
	if c.Detector.ThresholdsFile == "" {
		c.Detector.ThresholdsFile = "thresholds.csv"
	}
}

// LearningSeconds parses the configured learning duration string
// ("30s", "5m", "1h", "1d") into a second count. An empty or "0" value
// means no learning phase: thresholds must already exist on disk.
func (c *DetectorConfig) LearningSeconds() (uint64, error) {
	if c.Learning == "" || c.Learning == "0" {
		return 0, nil
	}
	d, err := parseDuration(c.Learning)
	if err != nil {
		return 0, fmt.Errorf("invalid learning duration %q: %w", c.Learning, err)
	}
	return uint64(d.Seconds()), nil
}

// InterAlertInterval returns the configured inter-alert interval as a
// time.Duration.
func (c *DetectorConfig) InterAlertInterval() time.Duration {
	return time.Duration(c.InterAlertSeconds) * time.Second
}

// WindowDuration returns the configured window length as a time.Duration.
func (c *DetectorConfig) WindowDuration() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}

// parseDuration parses "<number><unit>" where unit is one of s, m, h, d,
// the format the original CLI's duration flags used; time.ParseDuration
// doesn't support "d" so days are handled separately.
func parseDuration(s string) (time.Duration, error) {
	if len(s) < 2 {
		return 0, fmt.Errorf("too short")
	}
	unit := s[len(s)-1]
	if unit != 'd' {
		return time.ParseDuration(s)
	}
	n, err := parseLeadingFloat(s[:len(s)-1])
	if err != nil {
		return 0, err
	}
	return time.Duration(n * float64(24*time.Hour)), nil
}

func parseLeadingFloat(s string) (float64, error) {
	var v float64
	_, err := fmt.Sscanf(s, "%g", &v)
	if err != nil {
		return 0, err
	}
	return v, nil
}
