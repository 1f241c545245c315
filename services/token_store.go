package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/phonginreallife/autoanswer/db"
)

// TokenStore persists the marketplace credential across restarts.
// Load returns (nil, nil) when nothing was saved yet.
type TokenStore interface {
	Load(ctx context.Context) (*db.TokenState, error)
	Save(ctx context.Context, state db.TokenState) error
}

// DefaultCredential names the single credential this service manages.
const DefaultCredential = "marketplace"

// PostgresTokenStore keeps the credential in the marketplace_tokens table.
type PostgresTokenStore struct {
	PG         *sql.DB
	credential string
}

func NewPostgresTokenStore(pg *sql.DB, credential string) *PostgresTokenStore {
	if credential == "" {
		credential = DefaultCredential
	}
	return &PostgresTokenStore{PG: pg, credential: credential}
}

func (s *PostgresTokenStore) Load(ctx context.Context) (*db.TokenState, error) {
	var state db.TokenState
	err := s.PG.QueryRowContext(ctx, `
		SELECT access_token, refresh_token, expires_at, updated_at
		FROM marketplace_tokens
		WHERE credential = $1
	`, s.credential).Scan(&state.AccessToken, &state.RefreshToken, &state.ExpiresAt, &state.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load token: %w", err)
	}
	return &state, nil
}

func (s *PostgresTokenStore) Save(ctx context.Context, state db.TokenState) error {
	_, err := s.PG.ExecContext(ctx, `
		INSERT INTO marketplace_tokens (credential, access_token, refresh_token, expires_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (credential) DO UPDATE
		SET access_token = EXCLUDED.access_token,
		    refresh_token = EXCLUDED.refresh_token,
		    expires_at = EXCLUDED.expires_at,
		    updated_at = EXCLUDED.updated_at
	`, s.credential, state.AccessToken, state.RefreshToken, state.ExpiresAt, state.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	return nil
}

// RedisTokenStore keeps the credential as a JSON value under one key.
// The key has no TTL so the refresh token outlives the access token.
type RedisTokenStore struct {
	Redis *redis.Client
	key   string
}

func NewRedisTokenStore(client *redis.Client, credential string) *RedisTokenStore {
	if credential == "" {
		credential = DefaultCredential
	}
	return &RedisTokenStore{Redis: client, key: "autoanswer:token:" + credential}
}

func (s *RedisTokenStore) Load(ctx context.Context) (*db.TokenState, error) {
	raw, err := s.Redis.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load token from redis: %w", err)
	}

	var state db.TokenState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("failed to decode token from redis: %w", err)
	}
	return &state, nil
}

func (s *RedisTokenStore) Save(ctx context.Context, state db.TokenState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode token: %w", err)
	}
	if err := s.Redis.Set(ctx, s.key, raw, 0).Err(); err != nil {
		return fmt.Errorf("failed to save token to redis: %w", err)
	}
	return nil
}
