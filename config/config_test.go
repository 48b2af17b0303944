package config

import (
	"errors"
	"testing"
	"time"

	"github.com/matryer/is"
)

func TestDefaults(t *testing.T) {
	is := is.New(t)
	cfg := DefaultConfig()
	is.Equal(cfg.GetInt(ConfigBatchMaxSize), 32)
	is.Equal(cfg.GetInt(ConfigQueueCapacity), 1024)
	is.Equal(cfg.GetDuration(ConfigBatchFlushTimeout), 500*time.Millisecond)
	is.Equal(cfg.GetString(ConfigEvaluator), "pst")
	is.NoErr(cfg.Validate())
}

func TestLoadFlags(t *testing.T) {
	is := is.New(t)
	cfg := &Config{}
	err := cfg.Load([]string{"--depth", "2", "--batch-max-size", "8", "--batch-flush-timeout", "20ms"})
	is.NoErr(err)
	is.Equal(cfg.GetInt(ConfigDepth), 2)
	is.Equal(cfg.GetInt(ConfigBatchMaxSize), 8)
	is.Equal(cfg.GetDuration(ConfigBatchFlushTimeout), 20*time.Millisecond)
	// untouched flags keep their defaults
	is.Equal(cfg.GetInt(ConfigQueueCapacity), 1024)
}

func TestLoadEnv(t *testing.T) {
	is := is.New(t)
	t.Setenv("GAMBIT_QUEUE_CAPACITY", "16")
	cfg := &Config{}
	is.NoErr(cfg.Load(nil))
	is.Equal(cfg.GetInt(ConfigQueueCapacity), 16)
}

func TestValidate(t *testing.T) {
	is := is.New(t)
	cfg := &Config{}
	err := cfg.Load([]string{"--batch-max-size", "0"})
	is.True(errors.Is(err, ErrBadConfig))
}
