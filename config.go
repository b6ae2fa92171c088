package main

import (
	"fmt"
	"os"

	"github.com/shirou/gopsutil/v3/cpu"
	"gopkg.in/yaml.v3"
)

// Default control/data ports from spec.md §6 ("IIOD + 1" / "IIOD + 2" in
// the original's comments).
const (
	defaultControlPort = 30432
	defaultDataPort    = 30433

	defaultRXDevice = "cf-ad9361-lpc"
	defaultTXDevice = "cf-ad9361-dds-core-lpc"

	defaultStatsIntervalSeconds = 5
)

// Config is the daemon's ambient configuration: everything spec.md
// leaves as a fixed constant or treats as out of scope for the core
// protocol, loaded the way the teacher's config.go loads its nested
// yaml-tagged structs.
type Config struct {
	ControlPort int    `yaml:"control_port"`
	DataPort    int    `yaml:"data_port"`
	RXDevice    string `yaml:"rx_device"`
	TXDevice    string `yaml:"tx_device"`

	RXCPU             int  `yaml:"rx_cpu"` // -1 disables pinning
	TXCPU             int  `yaml:"tx_cpu"`
	RealtimePriority  bool `yaml:"realtime_priority"`
	StatsIntervalSecs int  `yaml:"stats_interval_seconds"`

	Prometheus PrometheusConfig `yaml:"prometheus"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	StatusWS   StatusWSConfig   `yaml:"status_ws"`
}

// PrometheusConfig controls the optional metrics HTTP endpoint.
type PrometheusConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// MQTTConfig controls the optional stats-snapshot publisher.
type MQTTConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Broker       string `yaml:"broker"`
	TopicPrefix  string `yaml:"topic_prefix"`
	ClientID     string `yaml:"client_id"`
}

// StatusWSConfig controls the optional read-only stats WebSocket.
type StatusWSConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// defaultConfig returns the configuration that reproduces spec.md's
// behavior exactly: fixed ports and device names, no pinning beyond
// CPUs 0/1, realtime scheduling attempted, all observability sinks off.
func defaultConfig() Config {
	return Config{
		ControlPort:       defaultControlPort,
		DataPort:          defaultDataPort,
		RXDevice:          defaultRXDevice,
		TXDevice:          defaultTXDevice,
		RXCPU:             0,
		TXCPU:             1,
		RealtimePriority:  true,
		StatsIntervalSecs: defaultStatsIntervalSeconds,
		Prometheus: PrometheusConfig{
			Enabled:    false,
			ListenAddr: ":9469",
		},
		MQTT: MQTTConfig{
			Enabled:     false,
			Broker:      "tcp://localhost:1883",
			TopicPrefix: "sdr-ip-gadget",
			ClientID:    "", // empty: newMQTTPublisher mints a unique one
		},
		StatusWS: StatusWSConfig{
			Enabled:    false,
			ListenAddr: ":8099",
		},
	}
}

// loadConfig reads and merges a YAML config file over defaultConfig. A
// missing path is not an error: the caller gets spec-faithful defaults,
// matching spec.md's treatment of configuration as absent from the core
// protocol.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// clampCPU validates a configured CPU index against the host's actual
// core count, the way the teacher consults gopsutil/v3/cpu for core
// counts (instance_reporter.go, admin.go, load_history.go) rather than
// trusting a number blindly. A bad index disables pinning for that
// worker (logged, non-fatal) instead of failing the whole daemon.
func clampCPU(cpuIdx int, log *componentLogger, role string) int {
	if cpuIdx < 0 {
		return -1
	}
	counts, err := cpu.Counts(true)
	if err != nil {
		log.Printf("could not query CPU topology, disabling %s pinning: %v", role, err)
		return -1
	}
	if cpuIdx >= counts {
		log.Printf("configured %s_cpu=%d exceeds host core count %d, disabling pinning", role, cpuIdx, counts)
		return -1
	}
	return cpuIdx
}
