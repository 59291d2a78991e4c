// tubemux/config/config.go
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type Config struct {
	Port              string        `mapstructure:"PORT"`
	BaseURL           string        `mapstructure:"BASE"`
	OutputDir         string        `mapstructure:"OUTPUT_DIR"`
	TempDir           string        `mapstructure:"TEMP_DIR"`
	MaxParallelism    int           `mapstructure:"MAX_PARALLELISM"`
	StatusInterval    time.Duration `mapstructure:"STATUS_INTERVAL"`
	FetchBin          string        `mapstructure:"FETCH_BIN"`
	FFBin             string        `mapstructure:"FF_BIN"`
	FFGlobalArgs      string        `mapstructure:"FF_GLOBAL_ARGS"`
	FFTimeout         time.Duration `mapstructure:"FF_TIMEOUT"`
	TranscribeBaseURL string        `mapstructure:"TRANSCRIBE_BASE_URL"`
	TranscribeModel   string        `mapstructure:"TRANSCRIBE_MODEL"`
	TranscribeMaxSize int64         `mapstructure:"TRANSCRIBE_MAX_UPLOAD"`
	TranscribeBitrate string        `mapstructure:"TRANSCRIBE_BITRATE"`
	SubtitleLanguage  string        `mapstructure:"SUBTITLE_LANGUAGE"`
	ThrottleCPU       float64       `mapstructure:"THROTTLE_CPU"`
	ThrottleFreeMem   int64         `mapstructure:"THROTTLE_FREEMEM"`
	ThrottleFreeDisk  int64         `mapstructure:"THROTTLE_FREEDISK"`
	TempLifetime      time.Duration `mapstructure:"TEMP_LIFETIME"`
	LogLevel          string        `mapstructure:"LOG_LEVEL"`
	LogFormat         string        `mapstructure:"LOG_FORMAT"`
}

// stringToDurationHookFunc is a custom Viper hook for parsing Go's duration strings.
func stringToDurationHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		return time.ParseDuration(data.(string))
	}
}

// stringToByteSizeHookFunc is a custom Viper hook for parsing human-readable size strings.
func stringToByteSizeHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t.Kind() != reflect.Int64 {
			return data, nil
		}

		var size datasize.ByteSize
		if err := size.UnmarshalText([]byte(data.(string))); err != nil {
			// Not a valid size string, let other parsers handle it.
			return data, nil
		}
		return int64(size.Bytes()), nil
	}
}

func setDefaults(vp *viper.Viper) {
	// Defaults are strings where a hook does the parsing.
	vp.SetDefault("PORT", "8080")
	vp.SetDefault("BASE", "")
	vp.SetDefault("OUTPUT_DIR", "downloads")
	vp.SetDefault("TEMP_DIR", "temp")
	vp.SetDefault("MAX_PARALLELISM", 4)
	vp.SetDefault("STATUS_INTERVAL", "500ms")
	vp.SetDefault("FETCH_BIN", "yt-dlp")
	vp.SetDefault("FF_BIN", "ffmpeg")
	vp.SetDefault("FF_GLOBAL_ARGS", "-hide_banner -nostdin -loglevel error")
	vp.SetDefault("FF_TIMEOUT", "0s")
	vp.SetDefault("TRANSCRIBE_BASE_URL", "https://api.groq.com/openai/v1")
	vp.SetDefault("TRANSCRIBE_MODEL", "whisper-large-v3")
	vp.SetDefault("TRANSCRIBE_MAX_UPLOAD", "25MB")
	vp.SetDefault("TRANSCRIBE_BITRATE", "27k")
	vp.SetDefault("SUBTITLE_LANGUAGE", "eng")
	vp.SetDefault("THROTTLE_CPU", 0.0)
	vp.SetDefault("THROTTLE_FREEMEM", "64MB")
	vp.SetDefault("THROTTLE_FREEDISK", "200MB")
	vp.SetDefault("TEMP_LIFETIME", "0s")
	vp.SetDefault("LOG_LEVEL", "info")
	vp.SetDefault("LOG_FORMAT", "auto")
}

func Load() (*Config, error) {
	vp := viper.New()
	setDefaults(vp)

	vp.SetConfigName("tubemux_config")
	vp.SetConfigType("yaml")
	vp.AddConfigPath(".")
	vp.AddConfigPath("/etc/tubemux/")

	if err := vp.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	vp.SetEnvPrefix("TUBEMUX")
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	var cfg Config
	// The first hook that matches the target type wins.
	err := vp.Unmarshal(&cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			stringToDurationHookFunc(),
			stringToByteSizeHookFunc(),
		),
	))
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.MaxParallelism < 1 {
		errs = append(errs, fmt.Errorf("MAX_PARALLELISM must be at least 1, got %d", c.MaxParallelism))
	}
	if c.StatusInterval <= 0 {
		errs = append(errs, fmt.Errorf("STATUS_INTERVAL must be positive, got %s", c.StatusInterval))
	}
	if strings.TrimSpace(c.OutputDir) == "" {
		errs = append(errs, errors.New("OUTPUT_DIR is required"))
	}
	if strings.TrimSpace(c.TempDir) == "" {
		errs = append(errs, errors.New("TEMP_DIR is required"))
	}
	if c.TranscribeMaxSize <= 0 {
		errs = append(errs, fmt.Errorf("TRANSCRIBE_MAX_UPLOAD must be positive, got %d", c.TranscribeMaxSize))
	}
	if c.FFTimeout < 0 || c.TempLifetime < 0 {
		errs = append(errs, errors.New("FF_TIMEOUT and TEMP_LIFETIME must not be negative"))
	}
	return errors.Join(errs...)
}
