package config

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/Rajchodisetti/account-stream/internal/transport"
)

type Gateway struct {
	Addr                 string            `yaml:"addr"`
	HeartbeatSeconds     int               `yaml:"heartbeat_seconds"`
	OwnershipLookupLimit int               `yaml:"ownership_lookup_limit"`
	OwnershipFailClosed  bool              `yaml:"ownership_fail_closed"` // deny when the ledger cannot answer
	Tokens               map[string]string `yaml:"tokens"`                // bearer token -> viewer id
}

type Upstream struct {
	BaseURL               string `yaml:"base_url"`
	Path                  string `yaml:"path"`
	APIKey                string `yaml:"api_key"`
	APISecret             string `yaml:"api_secret"`
	ConnectTimeoutSeconds int    `yaml:"connect_timeout_seconds"`
}

type Broker struct {
	BaseURL            string `yaml:"base_url"`
	APIKey             string `yaml:"api_key"`
	APISecret          string `yaml:"api_secret"`
	TimeoutSeconds     int    `yaml:"timeout_seconds"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute"`
	MaxRetries         int    `yaml:"max_retries"`
	BackoffBaseMs      int    `yaml:"backoff_base_ms"`
}

type Reconcile struct {
	OwnerID        string `yaml:"owner_id"`
	RefreshSeconds int    `yaml:"refresh_seconds"` // 0 = only on events
	ActivityLimit  int    `yaml:"activity_limit"`
	LockTTLSeconds int    `yaml:"lock_ttl_seconds"`
	SnapshotPath   string `yaml:"snapshot_path"`
}

type Ledger struct {
	Driver string `yaml:"driver"` // file | postgres | memory
	Path   string `yaml:"path"`
	DSN    string `yaml:"dsn"`
}

type Proposals struct {
	Path string `yaml:"path"`
}

type Lock struct {
	Driver string `yaml:"driver"` // memory | redis
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type Slack struct {
	Enabled             bool   `yaml:"enabled"`
	WebhookURL          string `yaml:"webhook_url"`
	Channel             string `yaml:"channel"`
	RateLimitPerMin     int    `yaml:"rate_limit_per_min"`
	DedupeWindowSeconds int    `yaml:"dedupe_window_seconds"`
	MaxAttempts         int    `yaml:"max_attempts"`
	RetryBaseMs         int    `yaml:"retry_base_ms"`
}

type Root struct {
	Gateway   Gateway          `yaml:"gateway"`
	Upstream  Upstream         `yaml:"upstream"`
	Broker    Broker           `yaml:"broker"`
	Stream    transport.Config `yaml:"stream"`
	Reconcile Reconcile        `yaml:"reconcile"`
	Ledger    Ledger           `yaml:"ledger"`
	Proposals Proposals        `yaml:"proposals"`
	Lock      Lock             `yaml:"lock"`
	Redis     Redis            `yaml:"redis"`
	Slack     Slack            `yaml:"slack"`
}

// Load reads path (skipped when empty), applies environment overrides and
// fills defaults.
func Load(path string) (Root, error) {
	var c Root
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return c, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return c, err
		}
	}
	ApplyEnv(&c)

	// Gateway defaults
	if c.Gateway.Addr == "" {
		c.Gateway.Addr = ":8090"
	}
	if c.Gateway.HeartbeatSeconds == 0 {
		c.Gateway.HeartbeatSeconds = 25
	}
	if c.Gateway.OwnershipLookupLimit == 0 {
		c.Gateway.OwnershipLookupLimit = 50
	}

	// Brokerage defaults; the stream shares the REST credentials unless set
	if c.Broker.BaseURL == "" {
		c.Broker.BaseURL = "http://localhost:8091"
	}
	if c.Broker.TimeoutSeconds == 0 {
		c.Broker.TimeoutSeconds = 10
	}
	if c.Broker.RateLimitPerMinute == 0 {
		c.Broker.RateLimitPerMinute = 200
	}
	if c.Broker.MaxRetries == 0 {
		c.Broker.MaxRetries = 3
	}
	if c.Broker.BackoffBaseMs == 0 {
		c.Broker.BackoffBaseMs = 200
	}
	if c.Upstream.BaseURL == "" {
		c.Upstream.BaseURL = c.Broker.BaseURL
	}
	if c.Upstream.APIKey == "" {
		c.Upstream.APIKey = c.Broker.APIKey
		c.Upstream.APISecret = c.Broker.APISecret
	}
	if c.Upstream.ConnectTimeoutSeconds == 0 {
		c.Upstream.ConnectTimeoutSeconds = 10
	}

	// Client defaults
	if c.Stream.BaseURL == "" {
		c.Stream.BaseURL = "http://localhost:8090"
	}
	if c.Stream.Reconnect.InitialDelayMs == 0 {
		c.Stream.Reconnect.InitialDelayMs = 1000
	}
	if c.Stream.Reconnect.MaxDelayMs == 0 {
		c.Stream.Reconnect.MaxDelayMs = 30000
	}
	if c.Stream.Reconnect.JitterMs == 0 {
		c.Stream.Reconnect.JitterMs = 250
	}
	if c.Stream.WatchdogIntervalMs == 0 {
		c.Stream.WatchdogIntervalMs = 15000
	}
	if c.Stream.StaleAfterMs == 0 {
		c.Stream.StaleAfterMs = 60000
	}
	if c.Stream.MaxInitialAttempts == 0 {
		c.Stream.MaxInitialAttempts = 5
	}

	if c.Reconcile.ActivityLimit == 0 {
		c.Reconcile.ActivityLimit = 50
	}
	if c.Reconcile.LockTTLSeconds == 0 {
		c.Reconcile.LockTTLSeconds = 120
	}

	if c.Ledger.Driver == "" {
		c.Ledger.Driver = "file"
		if c.Ledger.DSN != "" {
			c.Ledger.Driver = "postgres"
		}
	}
	if c.Ledger.Path == "" {
		c.Ledger.Path = "data/activities.jsonl"
	}
	if c.Proposals.Path == "" {
		c.Proposals.Path = "data/proposals.json"
	}
	if c.Lock.Driver == "" {
		c.Lock.Driver = "memory"
		if c.Redis.Addr != "" {
			c.Lock.Driver = "redis"
		}
	}

	if c.Slack.RateLimitPerMin == 0 {
		c.Slack.RateLimitPerMin = 20
	}
	if c.Slack.DedupeWindowSeconds == 0 {
		c.Slack.DedupeWindowSeconds = 60
	}
	if c.Slack.MaxAttempts == 0 {
		c.Slack.MaxAttempts = 3
	}
	if c.Slack.RetryBaseMs == 0 {
		c.Slack.RetryBaseMs = 1000
	}

	return c, nil
}

// ApplyEnv overrides secrets and endpoints from the environment
func ApplyEnv(c *Root) {
	set := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	set(&c.Gateway.Addr, "GATEWAY_ADDR")
	set(&c.Broker.BaseURL, "BROKER_BASE_URL")
	set(&c.Broker.APIKey, "BROKER_API_KEY")
	set(&c.Broker.APISecret, "BROKER_API_SECRET")
	set(&c.Upstream.BaseURL, "UPSTREAM_BASE_URL")
	set(&c.Ledger.DSN, "DATABASE_URL")
	set(&c.Redis.Addr, "REDIS_ADDR")
	set(&c.Redis.Password, "REDIS_PASSWORD")
	set(&c.Stream.BaseURL, "STREAM_BASE_URL")
	set(&c.Stream.Token, "STREAM_TOKEN")
	set(&c.Stream.AccountID, "ACCOUNT_ID")
	set(&c.Reconcile.OwnerID, "OWNER_ID")
	set(&c.Slack.WebhookURL, "SLACK_WEBHOOK_URL")
	if v, err := strconv.ParseBool(os.Getenv("SLACK_ENABLED")); err == nil {
		c.Slack.Enabled = v
	}
	if v, err := strconv.ParseBool(os.Getenv("GATEWAY_OWNERSHIP_FAIL_CLOSED")); err == nil {
		c.Gateway.OwnershipFailClosed = v
	}
}
