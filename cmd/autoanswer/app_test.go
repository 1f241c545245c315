package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phonginreallife/autoanswer/internal/config"
	"github.com/phonginreallife/autoanswer/services"
)

func TestTokenStore_FallsBackToPostgres(t *testing.T) {
	store := tokenStore(nil, nil)
	assert.IsType(t, &services.PostgresTokenStore{}, store)
}

func TestBuildNotifier(t *testing.T) {
	t.Run("log only by default", func(t *testing.T) {
		n := buildNotifier(context.Background(), config.Config{}, nil)
		multi, ok := n.(services.MultiNotifier)
		require.True(t, ok)
		require.Len(t, multi, 1)
		assert.IsType(t, services.LogNotifier{}, multi[0])
	})

	t.Run("slack webhook adds slack", func(t *testing.T) {
		cfg := config.Config{}
		cfg.Notifications.SlackWebhookURL = "https://hooks.slack.test/T000"
		cfg.Notifications.RedisChannel = "autoanswer:token_alerts"

		multi := buildNotifier(context.Background(), cfg, nil).(services.MultiNotifier)
		require.Len(t, multi, 2)
		assert.IsType(t, &services.SlackNotifier{}, multi[1])
	})
}

func TestOpenRedis_EmptyURL(t *testing.T) {
	rdb, err := openRedis(context.Background(), "")
	require.NoError(t, err)
	assert.Nil(t, rdb)
}

func TestOpenDatabase_RequiresURL(t *testing.T) {
	_, err := openDatabase("")
	assert.Error(t, err)
}
