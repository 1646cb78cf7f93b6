// Package config loads and validates orchestrator runtime configuration
// from the process environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// PortRange is an inclusive [Lo, Hi] port range.
type PortRange struct {
	Lo int
	Hi int
}

func (r PortRange) String() string {
	return fmt.Sprintf("%d-%d", r.Lo, r.Hi)
}

// Config holds orchestrator runtime configuration, sourced from the
// environment with the defaults documented in the specification.
type Config struct {
	AppPort         int
	DockerNetwork   string
	TargetImage     string
	MinReplicas     int
	MaxReplicas     int
	ContainerLabel  string // "key=value"
	StartupTimeoutS int
	IdleTTLS        int
	CollectInterval int
	StatsHistoryMax int
	PortRangeHost   PortRange
	AceHTTPRange    PortRange
	AceHTTPSRange   PortRange
	AceMapHTTPS     bool
	APIKey          string
	DBURL           string
	AutoDelete      bool
}

// Default returns the configuration with every documented default applied,
// before environment overrides and validation.
func Default() *Config {
	return &Config{
		AppPort:         8000,
		DockerNetwork:   "",
		TargetImage:     "acestream/engine:latest",
		MinReplicas:     0,
		MaxReplicas:     20,
		ContainerLabel:  "ondemand.app=myservice",
		StartupTimeoutS: 25,
		IdleTTLS:        600,
		CollectInterval: 5,
		StatsHistoryMax: 720,
		PortRangeHost:   PortRange{19000, 19999},
		AceHTTPRange:    PortRange{40000, 44999},
		AceHTTPSRange:   PortRange{45000, 49999},
		AceMapHTTPS:     false,
		APIKey:          "",
		DBURL:           "sqlite:///./orchestrator.db",
		AutoDelete:      false,
	}
}

// Load reads the process environment into a Config, starting from
// Default(), and validates the result.
func Load() (*Config, error) {
	cfg := Default()

	if v, ok := os.LookupEnv("APP_PORT"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("config: APP_PORT: %w", err)
		}
		cfg.AppPort = n
	}
	if v, ok := os.LookupEnv("DOCKER_NETWORK"); ok {
		cfg.DockerNetwork = v
	}
	if v, ok := os.LookupEnv("TARGET_IMAGE"); ok {
		cfg.TargetImage = v
	}
	if v, ok := os.LookupEnv("MIN_REPLICAS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("config: MIN_REPLICAS: %w", err)
		}
		cfg.MinReplicas = n
	}
	if v, ok := os.LookupEnv("MAX_REPLICAS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("config: MAX_REPLICAS: %w", err)
		}
		cfg.MaxReplicas = n
	}
	if v, ok := os.LookupEnv("CONTAINER_LABEL"); ok {
		cfg.ContainerLabel = v
	}
	if v, ok := os.LookupEnv("STARTUP_TIMEOUT_S"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("config: STARTUP_TIMEOUT_S: %w", err)
		}
		cfg.StartupTimeoutS = n
	}
	if v, ok := os.LookupEnv("IDLE_TTL_S"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("config: IDLE_TTL_S: %w", err)
		}
		cfg.IdleTTLS = n
	}
	if v, ok := os.LookupEnv("COLLECT_INTERVAL_S"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("config: COLLECT_INTERVAL_S: %w", err)
		}
		cfg.CollectInterval = n
	}
	if v, ok := os.LookupEnv("STATS_HISTORY_MAX"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("config: STATS_HISTORY_MAX: %w", err)
		}
		cfg.StatsHistoryMax = n
	}
	if v, ok := os.LookupEnv("PORT_RANGE_HOST"); ok {
		r, err := parseRange(v)
		if err != nil {
			return nil, fmt.Errorf("config: PORT_RANGE_HOST: %w", err)
		}
		cfg.PortRangeHost = r
	}
	if v, ok := os.LookupEnv("ACE_HTTP_RANGE"); ok {
		r, err := parseRange(v)
		if err != nil {
			return nil, fmt.Errorf("config: ACE_HTTP_RANGE: %w", err)
		}
		cfg.AceHTTPRange = r
	}
	if v, ok := os.LookupEnv("ACE_HTTPS_RANGE"); ok {
		r, err := parseRange(v)
		if err != nil {
			return nil, fmt.Errorf("config: ACE_HTTPS_RANGE: %w", err)
		}
		cfg.AceHTTPSRange = r
	}
	if v, ok := os.LookupEnv("ACE_MAP_HTTPS"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("config: ACE_MAP_HTTPS: %w", err)
		}
		cfg.AceMapHTTPS = b
	}
	if v, ok := os.LookupEnv("API_KEY"); ok {
		cfg.APIKey = v
	}
	if v, ok := os.LookupEnv("DB_URL"); ok {
		cfg.DBURL = v
	}
	if v, ok := os.LookupEnv("AUTO_DELETE"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("config: AUTO_DELETE: %w", err)
		}
		cfg.AutoDelete = b
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects malformed ranges, MIN_REPLICAS > MAX_REPLICAS,
// non-positive timeouts, and a CONTAINER_LABEL not of form key=value.
func (c *Config) Validate() error {
	for name, r := range map[string]PortRange{
		"PORT_RANGE_HOST": c.PortRangeHost,
		"ACE_HTTP_RANGE":  c.AceHTTPRange,
		"ACE_HTTPS_RANGE": c.AceHTTPSRange,
	} {
		if err := validateRange(name, r); err != nil {
			return err
		}
	}
	if c.MinReplicas < 0 {
		return fmt.Errorf("config: MIN_REPLICAS must be >= 0")
	}
	if c.MaxReplicas < 0 {
		return fmt.Errorf("config: MAX_REPLICAS must be >= 0")
	}
	if c.MinReplicas > c.MaxReplicas {
		return fmt.Errorf("config: MIN_REPLICAS (%d) must be <= MAX_REPLICAS (%d)", c.MinReplicas, c.MaxReplicas)
	}
	if c.StartupTimeoutS <= 0 {
		return fmt.Errorf("config: STARTUP_TIMEOUT_S must be positive")
	}
	if c.CollectInterval <= 0 {
		return fmt.Errorf("config: COLLECT_INTERVAL_S must be positive")
	}
	if c.IdleTTLS <= 0 {
		return fmt.Errorf("config: IDLE_TTL_S must be positive")
	}
	if c.StatsHistoryMax <= 0 {
		return fmt.Errorf("config: STATS_HISTORY_MAX must be positive")
	}
	if c.AppPort <= 0 || c.AppPort > 65535 {
		return fmt.Errorf("config: APP_PORT must be a valid TCP port")
	}
	key, val, found := strings.Cut(c.ContainerLabel, "=")
	if !found || strings.TrimSpace(key) == "" || strings.TrimSpace(val) == "" {
		return fmt.Errorf("config: CONTAINER_LABEL must be of form key=value, got %q", c.ContainerLabel)
	}
	return nil
}

// LabelKV returns the management label split into its key and value.
func (c *Config) LabelKV() (string, string) {
	key, val, _ := strings.Cut(c.ContainerLabel, "=")
	return key, val
}

// DBPath resolves DBURL to a filesystem path, stripping a leading
// "sqlite://" or "sqlite:///" scheme.
func (c *Config) DBPath() string {
	p := c.DBURL
	switch {
	case strings.HasPrefix(p, "sqlite:///"):
		p = strings.TrimPrefix(p, "sqlite:///")
	case strings.HasPrefix(p, "sqlite://"):
		p = strings.TrimPrefix(p, "sqlite://")
	}
	return p
}

func parseRange(v string) (PortRange, error) {
	lo, hi, found := strings.Cut(v, "-")
	if !found {
		return PortRange{}, fmt.Errorf("expected lo-hi, got %q", v)
	}
	loN, err := strconv.Atoi(strings.TrimSpace(lo))
	if err != nil {
		return PortRange{}, fmt.Errorf("invalid lower bound %q: %w", lo, err)
	}
	hiN, err := strconv.Atoi(strings.TrimSpace(hi))
	if err != nil {
		return PortRange{}, fmt.Errorf("invalid upper bound %q: %w", hi, err)
	}
	return PortRange{Lo: loN, Hi: hiN}, nil
}

func validateRange(name string, r PortRange) error {
	if r.Lo < 1 || r.Hi > 65535 || r.Lo > r.Hi {
		return fmt.Errorf("config: %s must satisfy 1 <= lo <= hi <= 65535, got %s", name, r)
	}
	return nil
}
