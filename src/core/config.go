package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	// ErrUnknownMetric is returned for a metric name other than ewma, bayes or beta
	ErrUnknownMetric = errors.New("unknown trust metric")
	// ErrNoInput is returned when neither an input file nor a socket is configured
	ErrNoInput = errors.New("no input source configured")
)

// Config holds the application configuration
type Config struct {
	Input        string `yaml:"input"`
	SerialSocket string `yaml:"serialSocket"`

	Output       string `yaml:"output"`
	MetricsOut   string `yaml:"metricsOut"`
	BlacklistOut string `yaml:"blacklistOut"`
	ExposureOut  string `yaml:"exposureOut"`
	StatsOut     string `yaml:"statsOut"`
	StatsEvery   int    `yaml:"statsEvery"`
	ParentOut    string `yaml:"parentOut"`
	SummaryOut   string `yaml:"summaryOut"`

	Metric           string  `yaml:"metric"`
	Alpha            float64 `yaml:"alpha"`
	BetaA            float64 `yaml:"betaA"`
	BetaB            float64 `yaml:"betaB"`
	EWMAMin          float64 `yaml:"ewmaMin"`
	BayesMin         float64 `yaml:"bayesMin"`
	BetaMin          float64 `yaml:"betaMin"`
	FwdDropThreshold float64 `yaml:"fwdDropThreshold"`
	ForwardersOnly   bool    `yaml:"forwardersOnly"`

	Follow    bool `yaml:"follow"`
	PollMs    int  `yaml:"pollMs"`
	FromStart bool `yaml:"fromStart"`

	AttackerID uint16 `yaml:"attackerId"`

	ListenAddr         string        `yaml:"listenAddr"`
	RateLimitPerMinute int           `yaml:"rateLimitPerMinute"`
	ShutdownTimeout    time.Duration `yaml:"shutdownTimeout"`
	LogLevel           string        `yaml:"logLevel"`
}

// Default values
const (
	DefaultInput              = "logs/COOJA.testlog"
	DefaultOutput             = "logs/trust_updates.txt"
	DefaultMetricsOut         = "logs/trust_metrics.csv"
	DefaultBlacklistOut       = "logs/blacklist.csv"
	DefaultStatsEvery         = 200
	DefaultAlpha              = 0.2
	DefaultMinimum            = 0.7
	DefaultFwdDropThreshold   = 0.2
	DefaultPollMs             = 200
	DefaultAttackerID         = 2
	DefaultRateLimitPerMinute = 100
	DefaultShutdownTimeout    = 5 * time.Second
)

// DefaultConfig returns the built-in configuration
func DefaultConfig() *Config {
	return &Config{
		Input:              DefaultInput,
		Output:             DefaultOutput,
		MetricsOut:         DefaultMetricsOut,
		BlacklistOut:       DefaultBlacklistOut,
		StatsEvery:         DefaultStatsEvery,
		Metric:             string(MetricEWMA),
		Alpha:              DefaultAlpha,
		BetaA:              1,
		BetaB:              1,
		EWMAMin:            DefaultMinimum,
		BayesMin:           DefaultMinimum,
		BetaMin:            DefaultMinimum,
		FwdDropThreshold:   DefaultFwdDropThreshold,
		PollMs:             DefaultPollMs,
		AttackerID:         DefaultAttackerID,
		RateLimitPerMinute: DefaultRateLimitPerMinute,
		ShutdownTimeout:    DefaultShutdownTimeout,
		LogLevel:           "info",
	}
}

// LoadConfig builds the configuration from defaults, the YAML file named
// by path (or CONFIG_FILE when path is empty) and environment variables.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (cfg *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (cfg *Config) applyEnv() {
	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		cfg.LogLevel = logLevel
	}

	if listen := os.Getenv("LISTEN_ADDR"); listen != "" {
		cfg.ListenAddr = listen
	}

	if attackerEnv := os.Getenv("ATTACKER_ID"); attackerEnv != "" {
		if attacker, err := strconv.ParseUint(attackerEnv, 10, 16); err == nil {
			cfg.AttackerID = uint16(attacker)
		}
	}

	if rateLimitEnv := os.Getenv("RATE_LIMIT_PER_MINUTE"); rateLimitEnv != "" {
		if rateLimit, err := strconv.Atoi(rateLimitEnv); err == nil && rateLimit > 0 {
			cfg.RateLimitPerMinute = rateLimit
		}
	}

	if statsEnv := os.Getenv("STATS_EVERY"); statsEnv != "" {
		if every, err := strconv.Atoi(statsEnv); err == nil && every >= 0 {
			cfg.StatsEvery = every
		}
	}
}

// Validate rejects configurations the engine cannot run with
func (cfg *Config) Validate() error {
	if cfg.Input == "" && cfg.SerialSocket == "" {
		return ErrNoInput
	}
	if _, err := ParseTrustMetric(cfg.Metric); err != nil {
		return err
	}
	if cfg.Alpha < 0 || cfg.Alpha > 1 {
		return fmt.Errorf("alpha must be within [0,1], got %v", cfg.Alpha)
	}
	if cfg.BetaA <= 0 || cfg.BetaB <= 0 {
		return fmt.Errorf("beta prior must be positive, got a=%v b=%v", cfg.BetaA, cfg.BetaB)
	}
	for name, v := range map[string]float64{
		"ewma-min":           cfg.EWMAMin,
		"bayes-min":          cfg.BayesMin,
		"beta-min":           cfg.BetaMin,
		"fwd-drop-threshold": cfg.FwdDropThreshold,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be within [0,1], got %v", name, v)
		}
	}
	if cfg.PollMs < 0 {
		return fmt.Errorf("poll-ms must not be negative, got %d", cfg.PollMs)
	}
	if cfg.Follow && cfg.PollMs == 0 {
		return errors.New("poll-ms must be positive when following the input")
	}
	if cfg.StatsEvery < 0 {
		return fmt.Errorf("stats-every must not be negative, got %d", cfg.StatsEvery)
	}
	return nil
}

// TrustParams extracts the estimator settings
func (cfg *Config) TrustParams() TrustParams {
	return TrustParams{
		Metric:           TrustMetric(cfg.Metric),
		Alpha:            cfg.Alpha,
		BetaA:            cfg.BetaA,
		BetaB:            cfg.BetaB,
		EWMAMin:          cfg.EWMAMin,
		BayesMin:         cfg.BayesMin,
		BetaMin:          cfg.BetaMin,
		FwdDropThreshold: cfg.FwdDropThreshold,
	}
}

// PollInterval is the follow-mode retry delay
func (cfg *Config) PollInterval() time.Duration {
	return time.Duration(cfg.PollMs) * time.Millisecond
}
