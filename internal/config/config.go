package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/meshtools/meshwatch/internal/model"
)

const (
	defaultLocalNode      = "localnode.local.mesh"
	defaultHTTPAddr       = ":8300"
	defaultDBPath         = "/data/meshwatch.db"
	defaultPollPeriod     = 5 * time.Minute
	defaultNodeTimeout    = 30 * time.Second
	defaultConcurrency    = 50
	defaultDNSCacheTTL    = 30 * time.Minute
	defaultStableFirmware = "3.24.4.0"
	defaultStableAPI      = "1.12"
	defaultConfigFilePath = "/etc/meshwatch.yaml"
)

// Config stores runtime settings. Defaults are overridden by the optional
// YAML config file, which is in turn overridden by environment variables.
type Config struct {
	LocalNode      string
	HTTPAddr       string
	DBPath         string
	PollPeriod     time.Duration
	NodeTimeout    time.Duration
	Concurrency    int
	DNSCacheTTL    time.Duration
	StableFirmware string
	StableAPI      string
	LogLevel       slog.Level
	Thresholds     model.RecencyThresholds
}

type fileConfig struct {
	LocalNode      string `yaml:"local_node"`
	HTTPAddr       string `yaml:"http_addr"`
	DBPath         string `yaml:"db_path"`
	PollPeriod     string `yaml:"poll_period"`
	NodeTimeout    string `yaml:"node_timeout"`
	Concurrency    int    `yaml:"concurrency"`
	DNSCacheTTL    string `yaml:"dns_cache_ttl"`
	StableFirmware string `yaml:"stable_firmware"`
	StableAPI      string `yaml:"stable_api"`
	LogLevel       string `yaml:"log_level"`
	NodeThreshold  string `yaml:"node_threshold"`
	LinkThreshold  string `yaml:"link_threshold"`
}

// Load builds Config from the optional config file and environment variables.
func Load() (Config, error) {
	cfg := Config{
		LocalNode:      defaultLocalNode,
		HTTPAddr:       defaultHTTPAddr,
		DBPath:         defaultDBPath,
		PollPeriod:     defaultPollPeriod,
		NodeTimeout:    defaultNodeTimeout,
		Concurrency:    defaultConcurrency,
		DNSCacheTTL:    defaultDNSCacheTTL,
		StableFirmware: defaultStableFirmware,
		StableAPI:      defaultStableAPI,
		LogLevel:       slog.LevelInfo,
		Thresholds:     model.DefaultRecencyThresholds(),
	}

	path := getenv("CONFIG_FILE", defaultConfigFilePath)
	if err := applyFile(&cfg, path); err != nil {
		return Config{}, err
	}
	applyEnv(&cfg)
	cfg.Thresholds = cfg.Thresholds.Normalize()
	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	body, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file %s: %w", path, err)
	}
	var file fileConfig
	if err := yaml.Unmarshal(body, &file); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}

	setString(&cfg.LocalNode, file.LocalNode)
	setString(&cfg.HTTPAddr, file.HTTPAddr)
	setString(&cfg.DBPath, file.DBPath)
	setString(&cfg.StableFirmware, file.StableFirmware)
	setString(&cfg.StableAPI, file.StableAPI)
	setDuration(&cfg.PollPeriod, file.PollPeriod)
	setDuration(&cfg.NodeTimeout, file.NodeTimeout)
	setDuration(&cfg.DNSCacheTTL, file.DNSCacheTTL)
	setDuration(&cfg.Thresholds.Node, file.NodeThreshold)
	setDuration(&cfg.Thresholds.Link, file.LinkThreshold)
	if file.Concurrency > 0 {
		cfg.Concurrency = file.Concurrency
	}
	if file.LogLevel != "" {
		cfg.LogLevel = parseLogLevel(file.LogLevel)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.LocalNode = getenv("LOCAL_NODE", cfg.LocalNode)
	cfg.HTTPAddr = getenv("HTTP_ADDR", cfg.HTTPAddr)
	cfg.DBPath = getenv("DB_PATH", cfg.DBPath)
	cfg.StableFirmware = getenv("STABLE_FIRMWARE", cfg.StableFirmware)
	cfg.StableAPI = getenv("STABLE_API", cfg.StableAPI)
	cfg.PollPeriod = parseDuration("POLL_PERIOD", cfg.PollPeriod)
	cfg.NodeTimeout = parseDuration("NODE_TIMEOUT", cfg.NodeTimeout)
	cfg.DNSCacheTTL = parseDuration("DNS_CACHE_TTL", cfg.DNSCacheTTL)
	cfg.Thresholds.Node = parseDuration("NODE_THRESHOLD", cfg.Thresholds.Node)
	cfg.Thresholds.Link = parseDuration("LINK_THRESHOLD", cfg.Thresholds.Link)
	cfg.Concurrency = parseInt("CONCURRENCY", cfg.Concurrency)
	if raw, ok := os.LookupEnv("LOG_LEVEL"); ok {
		cfg.LogLevel = parseLogLevel(raw)
	}
}

// DBDir returns the target directory for DBPath.
func (c Config) DBDir() string {
	return filepath.Dir(c.DBPath)
}

func setString(target *string, value string) {
	if strings.TrimSpace(value) != "" {
		*target = strings.TrimSpace(value)
	}
}

func setDuration(target *time.Duration, raw string) {
	if strings.TrimSpace(raw) == "" {
		return
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err == nil && value > 0 {
		*target = value
	}
}

func getenv(key string, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func parseDuration(key string, fallback time.Duration) time.Duration {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

func parseInt(key string, fallback int) int {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
