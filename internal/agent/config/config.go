// Package config loads the agent process's configuration, layered the same
// way as the broker's internal/broker/config: a Default() baseline, an
// optional JSON file, then BROKKR_AGENT_* environment variable overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/brokkr-io/brokkr/internal/agent/reconciler"
)

// Config holds every agent-process setting.
type Config struct {
	BrokerURL          string            `json:"broker_url"`
	PAK                string            `json:"pak"`
	ClusterName        string            `json:"cluster_name"`
	Labels             []string          `json:"labels,omitempty"`
	Annotations        map[string]string `json:"annotations,omitempty"`
	PollingIntervalSec int               `json:"polling_interval_seconds"`
	HealthAddr         string            `json:"health_addr"`
	ReportHealthPatch  bool              `json:"report_health_patch"`
	KubeconfigPath     string            `json:"kubeconfig_path,omitempty"`
	// LocalRelayURL receives agent-mode webhook delivery payloads — the
	// subscriber's real URL never leaves the broker (spec §4.6 secrecy
	// guarantee), so an agent-scoped subscription instead relays to
	// whatever in-cluster listener this points at. Empty disables delivery;
	// claimed deliveries are reported as failed until configured.
	LocalRelayURL string `json:"local_relay_url,omitempty"`
	// ApplyMaxRetries and ApplyBackoffMS bound the reconciler's in-cycle
	// retry of retryable cluster-apply errors (spec §4.5).
	ApplyMaxRetries int `json:"apply_max_retries"`
	ApplyBackoffMS  int `json:"apply_backoff_ms"`
}

// Default returns configuration with the spec's default 30s polling period.
func Default() Config {
	return Config{
		BrokerURL:          "http://localhost:8080",
		PollingIntervalSec: 30,
		HealthAddr:         ":8081",
		ApplyMaxRetries:    reconciler.DefaultApplyMaxRetries,
		ApplyBackoffMS:     int(reconciler.DefaultApplyBackoff / time.Millisecond),
	}
}

// ApplyBackoff is ApplyBackoffMS as a time.Duration.
func (c Config) ApplyBackoff() time.Duration {
	return time.Duration(c.ApplyBackoffMS) * time.Millisecond
}

// PollingInterval is PollingIntervalSec as a time.Duration.
func (c Config) PollingInterval() time.Duration {
	return time.Duration(c.PollingIntervalSec) * time.Second
}

// Load reads configuration from a JSON file (if path is non-empty and
// exists), then applies BROKKR_AGENT_* environment variable overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return cfg, fmt.Errorf("agent config: read %s: %w", path, err)
		}
		if err == nil {
			if err := json.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("agent config: parse %s: %w", path, err)
			}
		}
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BROKKR_AGENT_BROKER_URL"); v != "" {
		cfg.BrokerURL = v
	}
	if v := os.Getenv("BROKKR_AGENT_PAK"); v != "" {
		cfg.PAK = v
	}
	if v := os.Getenv("BROKKR_AGENT_CLUSTER_NAME"); v != "" {
		cfg.ClusterName = v
	}
	if v := os.Getenv("BROKKR_AGENT_LABELS"); v != "" {
		cfg.Labels = splitNonEmpty(v, ",")
	}
	if v := os.Getenv("BROKKR_AGENT_POLLING_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PollingIntervalSec = n
		}
	}
	if v := os.Getenv("BROKKR_AGENT_HEALTH_ADDR"); v != "" {
		cfg.HealthAddr = v
	}
	if v := os.Getenv("BROKKR_AGENT_KUBECONFIG"); v != "" {
		cfg.KubeconfigPath = v
	}
	if v := os.Getenv("BROKKR_AGENT_LOCAL_RELAY_URL"); v != "" {
		cfg.LocalRelayURL = v
	}
	if v := os.Getenv("BROKKR_AGENT_APPLY_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ApplyMaxRetries = n
		}
	}
	if v := os.Getenv("BROKKR_AGENT_APPLY_BACKOFF_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ApplyBackoffMS = n
		}
	}
}

func splitNonEmpty(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
