package kv

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/foxseedlab/pokerbot/internal/config"
	"github.com/foxseedlab/pokerbot/internal/kv"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/do/v2"
)

const storeInitTimeout = 15 * time.Second

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (kv.Client, error) {
		cfg := do.MustInvoke[*config.Config](i)
		ctx, cancel := context.WithTimeout(context.Background(), storeInitTimeout)
		defer cancel()

		switch cfg.StoreBackend {
		case config.StoreBackendPostgres:
			return newPostgres(ctx, cfg)
		case config.StoreBackendDynamoDB:
			return newDynamo(ctx, cfg)
		case config.StoreBackendMemory:
			slog.Warn("using in-memory store; data is lost on restart")
			return NewMemoryStore(), nil
		default:
			return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
		}
	})
}

func newPostgres(ctx context.Context, cfg *config.Config) (kv.Client, error) {
	p, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := RunMigration(ctx, p); err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to run migration: %w", err)
	}
	return NewPostgresStore(p), nil
}

func newDynamo(ctx context.Context, cfg *config.Config) (kv.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.DynamoDBEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.DynamoDBEndpoint)
		}
	})
	if _, err := client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(cfg.DynamoDBTableName)}); err != nil {
		return nil, fmt.Errorf("failed to describe dynamodb table %s: %w", cfg.DynamoDBTableName, err)
	}
	return NewDynamoStore(client, cfg.DynamoDBTableName), nil
}
