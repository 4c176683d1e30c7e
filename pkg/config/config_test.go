package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 25, cfg.Pipeline.BroadcastBatchSize)
	assert.Equal(t, time.Second, cfg.Pipeline.BroadcastBatchDelay)
	assert.Equal(t, 10, cfg.Pipeline.MaxConsecutiveErrors)
	assert.Equal(t, "0 15 * * *", cfg.Digest.Cron)
	assert.Greater(t, cfg.Pipeline.StuckThreshold, cfg.ImageClaimCeiling())
}

func TestLoadConfig_RejectsStuckThresholdBelowImageCeiling(t *testing.T) {
	t.Setenv("PIPELINE_STUCK_THRESHOLD", "20s")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PIPELINE_STUCK_THRESHOLD")
}

func TestImageClaimCeiling(t *testing.T) {
	cfg := &Config{
		Storage:     StorageConfig{FetchTimeout: 10 * time.Second},
		Recognition: RecognitionConfig{Timeout: 60 * time.Second},
		Pipeline:    PipelineConfig{RetryMaxAttempts: 3, RetryMaxDelay: 5 * time.Second, StuckThreshold: 4 * time.Minute},
	}

	// 3 x (10s + 60s) + 2 x 2 x 5s
	assert.Equal(t, 230*time.Second, cfg.ImageClaimCeiling())
	assert.NoError(t, cfg.Validate())

	cfg.Pipeline.StuckThreshold = 230 * time.Second
	assert.Error(t, cfg.Validate())

	cfg.Pipeline.RetryMaxAttempts = 0
	assert.Equal(t, 70*time.Second, cfg.ImageClaimCeiling())
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("BROADCAST_BATCH_SIZE", "10")
	t.Setenv("PIPELINE_STUCK_THRESHOLD", "10m")
	t.Setenv("SEARCH_THRESHOLD", "92.5")
	t.Setenv("PIPELINE_AUTO_INDEX", "false")
	t.Setenv("RETRY_MAX_ATTEMPTS", "not-a-number")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Pipeline.BroadcastBatchSize)
	assert.Equal(t, 10*time.Minute, cfg.Pipeline.StuckThreshold)
	assert.InDelta(t, 92.5, cfg.Pipeline.SearchThreshold, 0.001)
	assert.False(t, cfg.Pipeline.AutoIndexEnabled)
	assert.Equal(t, 3, cfg.Pipeline.RetryMaxAttempts)
}

func TestAdminToken_FallsBackToJWTSecret(t *testing.T) {
	cfg := &Config{JWT: JWTConfig{Secret: "jwt"}}
	assert.Equal(t, "jwt", cfg.AdminToken())

	cfg.Admin.Token = "admin"
	assert.Equal(t, "admin", cfg.AdminToken())
}

func TestDigestLocation(t *testing.T) {
	loc := DigestConfig{TZOffsetHours: 5}.Location()
	noon := time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC).In(loc)

	assert.Equal(t, 12, noon.Hour())
	_, offset := noon.Zone()
	assert.Equal(t, 5*3600, offset)
}
