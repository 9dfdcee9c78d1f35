package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	internalconfig "github.com/foxseedlab/pokerbot/internal/config"
)

type envConfig struct {
	Env                   string `env:"ENV" envDefault:"production"`
	StoreBackend          string `env:"STORE_BACKEND" envDefault:"postgres"`
	DatabaseURL           string `env:"DATABASE_URL"`
	AWSRegion             string `env:"AWS_REGION" envDefault:"us-east-1"`
	DynamoDBTableName     string `env:"DYNAMODB_TABLE_NAME"`
	DynamoDBEndpoint      string `env:"DYNAMODB_ENDPOINT"`
	DedupRetentionMin     int    `env:"DEDUP_RETENTION_MIN" envDefault:"60"`
	SessionTTLHours       int    `env:"SESSION_TTL_HOURS" envDefault:"168"`
	SessionMaxDurationMin int    `env:"SESSION_MAX_DURATION_MIN" envDefault:"1440"`
	StorePurgeIntervalMin int    `env:"STORE_PURGE_INTERVAL_MIN" envDefault:"15"`
	DiscordToken          string `env:"DISCORD_TOKEN,required"`
	DiscordGuildID        string `env:"DISCORD_GUILD_ID,required"`
	PokerAutoReveal       bool   `env:"POKER_AUTO_REVEAL" envDefault:"false"`
	RevealWebhookURL      string `env:"REVEAL_WEBHOOK_URL"`
}

func Load() (*internalconfig.Config, error) {
	var raw envConfig
	if err := env.Parse(&raw); err != nil {
		return nil, fmt.Errorf("environment variables are invalid or missing: %w", err)
	}

	cfg := &internalconfig.Config{
		Env:                   raw.Env,
		StoreBackend:          raw.StoreBackend,
		DatabaseURL:           raw.DatabaseURL,
		AWSRegion:             raw.AWSRegion,
		DynamoDBTableName:     raw.DynamoDBTableName,
		DynamoDBEndpoint:      raw.DynamoDBEndpoint,
		DedupRetentionMin:     raw.DedupRetentionMin,
		SessionTTLHours:       raw.SessionTTLHours,
		SessionMaxDurationMin: raw.SessionMaxDurationMin,
		StorePurgeIntervalMin: raw.StorePurgeIntervalMin,
		DiscordToken:          raw.DiscordToken,
		DiscordGuildID:        raw.DiscordGuildID,
		PokerAutoReveal:       raw.PokerAutoReveal,
		RevealWebhookURL:      raw.RevealWebhookURL,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
