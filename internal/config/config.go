package config

import (
	"fmt"
	"time"
)

const (
	StoreBackendPostgres = "postgres"
	StoreBackendDynamoDB = "dynamodb"
	StoreBackendMemory   = "memory"
)

type Config struct {
	Env                   string
	StoreBackend          string
	DatabaseURL           string
	AWSRegion             string
	DynamoDBTableName     string
	DynamoDBEndpoint      string
	DedupRetentionMin     int
	SessionTTLHours       int
	SessionMaxDurationMin int
	StorePurgeIntervalMin int
	DiscordToken          string
	DiscordGuildID        string
	PokerAutoReveal       bool
	RevealWebhookURL      string
}

func (c *Config) Validate() error {
	for _, req := range c.requiredFieldChecks() {
		if req.value == "" {
			return fmt.Errorf("%s is required", req.name)
		}
	}
	switch c.StoreBackend {
	case StoreBackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_BACKEND=%s", StoreBackendPostgres)
		}
	case StoreBackendDynamoDB:
		if c.DynamoDBTableName == "" {
			return fmt.Errorf("DYNAMODB_TABLE_NAME is required when STORE_BACKEND=%s", StoreBackendDynamoDB)
		}
		if c.AWSRegion == "" {
			return fmt.Errorf("AWS_REGION is required when STORE_BACKEND=%s", StoreBackendDynamoDB)
		}
	case StoreBackendMemory:
	default:
		return fmt.Errorf("STORE_BACKEND must be one of %s, %s, %s, got %q", StoreBackendPostgres, StoreBackendDynamoDB, StoreBackendMemory, c.StoreBackend)
	}
	if c.DedupRetentionMin <= 0 {
		return fmt.Errorf("DEDUP_RETENTION_MIN must be positive, got %d", c.DedupRetentionMin)
	}
	if c.SessionTTLHours < 0 {
		return fmt.Errorf("SESSION_TTL_HOURS must not be negative, got %d", c.SessionTTLHours)
	}
	if c.SessionMaxDurationMin <= 0 {
		return fmt.Errorf("SESSION_MAX_DURATION_MIN must be positive, got %d", c.SessionMaxDurationMin)
	}
	if c.StorePurgeIntervalMin <= 0 {
		return fmt.Errorf("STORE_PURGE_INTERVAL_MIN must be positive, got %d", c.StorePurgeIntervalMin)
	}
	return nil
}

type requiredEnvField struct {
	name  string
	value string
}

func (c *Config) requiredFieldChecks() []requiredEnvField {
	return []requiredEnvField{
		{name: "STORE_BACKEND", value: c.StoreBackend},
		{name: "DISCORD_TOKEN", value: c.DiscordToken},
		{name: "DISCORD_GUILD_ID", value: c.DiscordGuildID},
	}
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c *Config) DedupRetention() time.Duration {
	return time.Duration(c.DedupRetentionMin) * time.Minute
}

// SessionTTL is how long session records are kept; zero keeps them forever.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLHours) * time.Hour
}

func (c *Config) SessionMaxDuration() time.Duration {
	return time.Duration(c.SessionMaxDurationMin) * time.Minute
}

func (c *Config) StorePurgeInterval() time.Duration {
	return time.Duration(c.StorePurgeIntervalMin) * time.Minute
}
