// tubemux/config/config_test.go
package config_test

import (
	"testing"
	"time"

	"tubemux/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Run("loads default values correctly", func(t *testing.T) {
		cfg, err := config.Load()
		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, "8080", cfg.Port)
		assert.Equal(t, 4, cfg.MaxParallelism)
		assert.Equal(t, 500*time.Millisecond, cfg.StatusInterval)
		assert.Equal(t, "yt-dlp", cfg.FetchBin)
		assert.Equal(t, "ffmpeg", cfg.FFBin)
		assert.Equal(t, time.Duration(0), cfg.FFTimeout)
		assert.Equal(t, int64(25*1024*1024), cfg.TranscribeMaxSize)
		assert.Equal(t, "27k", cfg.TranscribeBitrate)
		assert.Equal(t, "whisper-large-v3", cfg.TranscribeModel)
		assert.Equal(t, "eng", cfg.SubtitleLanguage)
		assert.Equal(t, int64(200*1024*1024), cfg.ThrottleFreeDisk)
	})

	t.Run("overrides defaults with environment variables", func(t *testing.T) {
		t.Setenv("TUBEMUX_PORT", "9999")
		t.Setenv("TUBEMUX_MAX_PARALLELISM", "2")
		t.Setenv("TUBEMUX_STATUS_INTERVAL", "250ms")
		t.Setenv("TUBEMUX_TRANSCRIBE_MAX_UPLOAD", "10MB")
		t.Setenv("TUBEMUX_OUTPUT_DIR", "/srv/media")

		cfg, err := config.Load()
		require.NoError(t, err)

		assert.Equal(t, "9999", cfg.Port)
		assert.Equal(t, 2, cfg.MaxParallelism)
		assert.Equal(t, 250*time.Millisecond, cfg.StatusInterval)
		assert.Equal(t, int64(10*1024*1024), cfg.TranscribeMaxSize)
		assert.Equal(t, "/srv/media", cfg.OutputDir)
	})

	t.Run("rejects zero parallelism", func(t *testing.T) {
		t.Setenv("TUBEMUX_MAX_PARALLELISM", "0")

		_, err := config.Load()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "MAX_PARALLELISM")
	})
}
