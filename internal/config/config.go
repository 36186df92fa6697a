package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Defaults applied when a value is absent from both the file and the environment.
const (
	DefaultPort           = 8080
	DefaultKeyTTL         = 24 * time.Hour
	DefaultKeyCooldown    = 5 * time.Minute
	DefaultKeyLength      = 32
	DefaultOwnerIP        = "190.82.118.145"
	DefaultGitHubRepo     = "Renetatomm/renetato-s-executor"
	DefaultGitHubAPIURL   = "https://api.github.com"
	DefaultGitHubPerPage  = 10
	DefaultGitHubCacheTTL = 5 * time.Minute
	DefaultAuditRetention = 30 * 24 * time.Hour
	DefaultRateLimitPrune = "@every 10m"
	DefaultAuditPurge     = "@daily"
	DefaultThrottleRPS    = 5
	DefaultThrottleBurst  = 10
)

// KeysConfig controls key issuance.
type KeysConfig struct {
	TTL      string `yaml:"ttl"`
	Cooldown string `yaml:"cooldown"`
	Length   int    `yaml:"length"`
}

// TTLDuration returns the key lifetime.
func (k KeysConfig) TTLDuration() time.Duration {
	return parseDurationOr(k.TTL, DefaultKeyTTL)
}

// CooldownDuration returns the minimum time between issuances to one address.
func (k KeysConfig) CooldownDuration() time.Duration {
	return parseDurationOr(k.Cooldown, DefaultKeyCooldown)
}

// OwnerConfig holds the allow-listed owner address.
type OwnerConfig struct {
	IP string `yaml:"ip"`
}

// GitHubConfig identifies the repository whose commits the dashboard lists.
type GitHubConfig struct {
	Repo     string `yaml:"repo"`
	APIURL   string `yaml:"api_url"`
	Token    string `yaml:"token"`
	PerPage  int    `yaml:"per_page"`
	CacheTTL string `yaml:"cache_ttl"`
}

// CacheDuration returns how long a successful commit listing is reused.
func (g GitHubConfig) CacheDuration() time.Duration {
	return parseDurationOr(g.CacheTTL, DefaultGitHubCacheTTL)
}

// DatabaseConfig holds the audit database connection information.
type DatabaseConfig struct {
	Type      string `yaml:"type"`
	DSN       string `yaml:"dsn"`
	Retention string `yaml:"retention"`
}

// Enabled reports whether an audit database is configured.
func (d DatabaseConfig) Enabled() bool {
	return d.Type != "" && d.DSN != ""
}

// RetentionDuration returns how long audit events are kept.
func (d DatabaseConfig) RetentionDuration() time.Duration {
	return parseDurationOr(d.Retention, DefaultAuditRetention)
}

// SchedulerConfig holds cron specs for background jobs. An empty spec disables the job.
type SchedulerConfig struct {
	RateLimitPrune string `yaml:"rate_limit_prune"`
	KeySweep       string `yaml:"key_sweep"`
	AuditPurge     string `yaml:"audit_purge"`
}

// ThrottleConfig limits request rate per address on the validation endpoints.
type ThrottleConfig struct {
	Disabled bool    `yaml:"disabled"`
	RPS      float64 `yaml:"rps"`
	Burst    int     `yaml:"burst"`
}

// Config holds the configuration for the key server.
type Config struct {
	Keys      KeysConfig      `yaml:"keys"`
	Owner     OwnerConfig     `yaml:"owner"`
	GitHub    GitHubConfig    `yaml:"github"`
	Database  DatabaseConfig  `yaml:"database"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Throttle  ThrottleConfig  `yaml:"throttle"`
	Port      int             `yaml:"port"`
	Debug     bool            `yaml:"debug"`
}

// LoadConfig reads and parses the configuration file. It returns the config and a potential warning message.
var LoadConfig = func(path string) (*Config, string, error) {
	var config Config
	var warnings []string

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, "", fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, "", fmt.Errorf("failed to read config file: %w", err)
	}
	// A missing file leaves the zero config; defaults and environment variables fill it in.

	applyEnv(&config)
	applyDefaults(&config)

	if err := config.Validate(); err != nil {
		return nil, "", err
	}

	if !config.Database.Enabled() {
		warnings = append(warnings, "database.type or database.dsn not set, audit trail disabled")
	}
	if config.Scheduler.KeySweep == "" {
		warnings = append(warnings, "scheduler.key_sweep not set, used and expired keys are kept until restart")
	}

	return &config, strings.Join(warnings, "; "), nil
}

func applyEnv(config *Config) {
	if port := os.Getenv("KEYSERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Port = p
		}
	}
	if debug := os.Getenv("KEYSERVER_DEBUG"); debug != "" {
		config.Debug = (debug == "true")
	}
	if ip := os.Getenv("KEYSERVER_OWNER_IP"); ip != "" {
		config.Owner.IP = ip
	}
	if dbType := os.Getenv("KEYSERVER_DATABASE_TYPE"); dbType != "" {
		config.Database.Type = dbType
	}
	if dsn := os.Getenv("KEYSERVER_DATABASE_DSN"); dsn != "" {
		config.Database.DSN = dsn
	}
	if ttl := os.Getenv("KEYSERVER_KEY_TTL"); ttl != "" {
		config.Keys.TTL = ttl
	}
	if cooldown := os.Getenv("KEYSERVER_KEY_COOLDOWN"); cooldown != "" {
		config.Keys.Cooldown = cooldown
	}
	if repo := os.Getenv("KEYSERVER_GITHUB_REPO"); repo != "" {
		config.GitHub.Repo = repo
	}
	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		config.GitHub.Token = token
	}
}

func applyDefaults(config *Config) {
	if config.Port == 0 {
		config.Port = DefaultPort
	}
	if config.Keys.TTL == "" {
		config.Keys.TTL = DefaultKeyTTL.String()
	}
	if config.Keys.Cooldown == "" {
		config.Keys.Cooldown = DefaultKeyCooldown.String()
	}
	if config.Keys.Length == 0 {
		config.Keys.Length = DefaultKeyLength
	}
	if config.Owner.IP == "" {
		config.Owner.IP = DefaultOwnerIP
	}
	if config.GitHub.Repo == "" {
		config.GitHub.Repo = DefaultGitHubRepo
	}
	if config.GitHub.APIURL == "" {
		config.GitHub.APIURL = DefaultGitHubAPIURL
	}
	if config.GitHub.PerPage == 0 {
		config.GitHub.PerPage = DefaultGitHubPerPage
	}
	if config.GitHub.CacheTTL == "" {
		config.GitHub.CacheTTL = DefaultGitHubCacheTTL.String()
	}
	if config.Database.Retention == "" {
		config.Database.Retention = DefaultAuditRetention.String()
	}
	if config.Scheduler.RateLimitPrune == "" {
		config.Scheduler.RateLimitPrune = DefaultRateLimitPrune
	}
	if config.Scheduler.AuditPurge == "" {
		config.Scheduler.AuditPurge = DefaultAuditPurge
	}
	if config.Throttle.RPS == 0 {
		config.Throttle.RPS = DefaultThrottleRPS
	}
	if config.Throttle.Burst == 0 {
		config.Throttle.Burst = DefaultThrottleBurst
	}
}

// Validate checks that the configuration values are usable.
func (c *Config) Validate() error {
	ttl, err := time.ParseDuration(c.Keys.TTL)
	if err != nil {
		return fmt.Errorf("invalid keys.ttl %q: %w", c.Keys.TTL, err)
	}
	if ttl <= 0 {
		return fmt.Errorf("keys.ttl must be positive, got %s", ttl)
	}
	cooldown, err := time.ParseDuration(c.Keys.Cooldown)
	if err != nil {
		return fmt.Errorf("invalid keys.cooldown %q: %w", c.Keys.Cooldown, err)
	}
	if cooldown < 0 {
		return fmt.Errorf("keys.cooldown must not be negative, got %s", cooldown)
	}
	if c.Keys.Length < 16 || c.Keys.Length > 128 {
		return fmt.Errorf("keys.length must be between 16 and 128, got %d", c.Keys.Length)
	}
	if _, err := time.ParseDuration(c.GitHub.CacheTTL); err != nil {
		return fmt.Errorf("invalid github.cache_ttl %q: %w", c.GitHub.CacheTTL, err)
	}
	if c.GitHub.PerPage < 1 || c.GitHub.PerPage > 100 {
		return fmt.Errorf("github.per_page must be between 1 and 100, got %d", c.GitHub.PerPage)
	}
	if !strings.Contains(c.GitHub.Repo, "/") {
		return fmt.Errorf("github.repo must be in owner/name form, got %q", c.GitHub.Repo)
	}
	if _, err := time.ParseDuration(c.Database.Retention); err != nil {
		return fmt.Errorf("invalid database.retention %q: %w", c.Database.Retention, err)
	}
	if (c.Database.Type == "") != (c.Database.DSN == "") {
		return fmt.Errorf("database type and dsn must be configured together")
	}
	if c.Throttle.RPS < 0 || c.Throttle.Burst < 0 {
		return fmt.Errorf("throttle.rps and throttle.burst must not be negative")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	return nil
}

func parseDurationOr(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
