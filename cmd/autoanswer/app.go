package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"

	"github.com/phonginreallife/autoanswer/internal/clock"
	"github.com/phonginreallife/autoanswer/internal/config"
	"github.com/phonginreallife/autoanswer/internal/marketplace"
	"github.com/phonginreallife/autoanswer/services"
)

// app holds the process-wide components shared by the commands.
type app struct {
	PG      *sql.DB
	Redis   *redis.Client
	Clock   clock.Clock
	Client  *marketplace.Client
	Monitor *services.TokenMonitor
}

func newApp(ctx context.Context) (*app, error) {
	cfg := config.App

	pg, err := openDatabase(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	rdb, err := openRedis(ctx, cfg.RedisURL)
	if err != nil {
		pg.Close()
		return nil, err
	}

	clk := clock.Real()
	client := marketplace.NewClient(marketplace.Config{
		BaseURL:      cfg.Marketplace.BaseURL,
		SellerID:     cfg.Marketplace.SellerID,
		ClientID:     cfg.Marketplace.ClientID,
		ClientSecret: cfg.Marketplace.ClientSecret,
		Timeout:      cfg.MarketplaceTimeout(),
	})

	monitor := services.NewTokenMonitor(client, tokenStore(pg, rdb), buildNotifier(ctx, cfg, rdb), clk, services.TokenMonitorOptions{
		RenewalThreshold: cfg.RenewalThreshold(),
		NotifyDebounce:   cfg.NotifyDebounce(),
		AutoRefresh:      cfg.Token.AutoRefresh,
		RefreshToken:     cfg.Marketplace.RefreshToken,
	})
	if err := monitor.Restore(ctx); err != nil {
		log.Printf("Failed to restore persisted token: %v", err)
	}

	return &app{PG: pg, Redis: rdb, Clock: clk, Client: client, Monitor: monitor}, nil
}

func (a *app) Close() {
	if a.Redis != nil {
		a.Redis.Close()
	}
	a.PG.Close()
}

func openDatabase(databaseURL string) (*sql.DB, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable (or config) is required")
	}

	pg, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pg.Ping(); err != nil {
		pg.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Set timezone to UTC for consistent time handling
	if _, err := pg.Exec("SET TIME ZONE 'UTC'"); err != nil {
		log.Printf("Failed to set timezone to UTC: %v", err)
	}

	log.Println("  Connected to database successfully")
	return pg, nil
}

// openRedis returns nil when no URL is configured.
func openRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	if redisURL == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	log.Println("  Connected to redis successfully")
	return rdb, nil
}

// tokenStore prefers Redis when configured.
func tokenStore(pg *sql.DB, rdb *redis.Client) services.TokenStore {
	if rdb != nil {
		return services.NewRedisTokenStore(rdb, services.DefaultCredential)
	}
	return services.NewPostgresTokenStore(pg, services.DefaultCredential)
}

func buildNotifier(ctx context.Context, cfg config.Config, rdb *redis.Client) services.Notifier {
	notifiers := services.MultiNotifier{services.LogNotifier{}}

	if cfg.Notifications.SlackWebhookURL != "" {
		notifiers = append(notifiers, services.NewSlackNotifier(cfg.Notifications.SlackWebhookURL))
	}
	if rdb != nil && cfg.Notifications.RedisChannel != "" {
		notifiers = append(notifiers, services.NewRedisNotifier(rdb, cfg.Notifications.RedisChannel))
	}
	if cfg.Notifications.FCMCredentialsFile != "" && len(cfg.Notifications.FCMDeviceTokens) > 0 {
		fcm, err := services.NewFCMNotifier(ctx, cfg.Notifications.FCMCredentialsFile, cfg.Notifications.FCMDeviceTokens)
		if err != nil {
			log.Printf("Warning: FCM notifier disabled: %v", err)
		} else {
			notifiers = append(notifiers, fcm)
		}
	}

	return notifiers
}
