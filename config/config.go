package config

import (
	"errors"
	"runtime"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	ConfigDepth               = "depth"
	ConfigBatchMaxSize        = "batch-max-size"
	ConfigBatchFlushTimeout   = "batch-flush-timeout"
	ConfigBatchPollInterval   = "batch-poll-interval"
	ConfigQueueCapacity       = "queue-capacity"
	ConfigMaxConcurrentTasks  = "max-concurrent-tasks"
	ConfigCacheSize           = "cache-size"
	ConfigCacheMemoryFraction = "cache-memory-fraction"
	ConfigEvaluator           = "evaluator"
	ConfigModelPath           = "model-path"
	ConfigNatsURL             = "nats-url"
	ConfigNatsSubject         = "nats-subject"
	ConfigNatsTimeout         = "nats-timeout"
	ConfigNatsAttempts        = "nats-attempts"
	ConfigConfigFile          = "config-file"
	ConfigDebug               = "debug"
)

var ErrBadConfig = errors.New("invalid configuration")

// Config wraps a viper instance. Values come from (in increasing priority)
// defaults, an optional config file, GAMBIT_* environment variables and
// command-line flags.
type Config struct {
	viper.Viper
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(ConfigDepth, 4)
	v.SetDefault(ConfigBatchMaxSize, 32)
	v.SetDefault(ConfigBatchFlushTimeout, 500*time.Millisecond)
	v.SetDefault(ConfigBatchPollInterval, time.Millisecond)
	v.SetDefault(ConfigQueueCapacity, 1024)
	v.SetDefault(ConfigMaxConcurrentTasks, runtime.NumCPU()*8)
	v.SetDefault(ConfigCacheSize, 0)
	v.SetDefault(ConfigCacheMemoryFraction, 0.0)
	v.SetDefault(ConfigEvaluator, "pst")
	v.SetDefault(ConfigModelPath, "./data/models/eval.onnx")
	v.SetDefault(ConfigNatsURL, "nats://127.0.0.1:4222")
	v.SetDefault(ConfigNatsSubject, "gambit.eval")
	v.SetDefault(ConfigNatsTimeout, 5*time.Second)
	v.SetDefault(ConfigNatsAttempts, 3)
	v.SetDefault(ConfigDebug, false)
}

func DefaultConfig() Config {
	c := Config{}
	c.Viper = *viper.New()
	setDefaults(&c.Viper)
	return c
}

// NewFlagSet returns a flag set carrying every configuration key. Binaries
// add their own flags to it before calling LoadFlags.
func NewFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.Int(ConfigDepth, 4, "search horizon in plies")
	fs.Int(ConfigBatchMaxSize, 32, "maximum number of positions per evaluator call")
	fs.Duration(ConfigBatchFlushTimeout, 500*time.Millisecond, "maximum age of a partial evaluation batch")
	fs.Duration(ConfigBatchPollInterval, time.Millisecond, "flush a pending batch when the queue stays empty this long (0 disables)")
	fs.Int(ConfigQueueCapacity, 1024, "evaluation queue capacity; enqueue blocks when full")
	fs.Int(ConfigMaxConcurrentTasks, runtime.NumCPU()*8, "maximum number of concurrently running subtree searches")
	fs.Int(ConfigCacheSize, 0, "maximum cached evaluations; 0 means unbounded")
	fs.Float64(ConfigCacheMemoryFraction, 0, "size the bounded cache from this fraction of system memory")
	fs.String(ConfigEvaluator, "pst", "evaluator to use: material, pst, onnx, nats")
	fs.String(ConfigModelPath, "./data/models/eval.onnx", "path to the ONNX evaluation model")
	fs.String(ConfigNatsURL, "nats://127.0.0.1:4222", "NATS server for remote evaluation")
	fs.String(ConfigNatsSubject, "gambit.eval", "NATS subject for remote evaluation")
	fs.Duration(ConfigNatsTimeout, 5*time.Second, "timeout for one remote evaluation request")
	fs.Int(ConfigNatsAttempts, 3, "attempts for one remote evaluation request")
	fs.String(ConfigConfigFile, "", "optional config file (yaml, toml, json)")
	fs.Bool(ConfigDebug, false, "debug logging")
	return fs
}

func (c *Config) Load(args []string) error {
	return c.LoadFlags(NewFlagSet("gambit"), args)
}

// LoadFlags parses args with fs and binds every flag in it.
func (c *Config) LoadFlags(fs *pflag.FlagSet, args []string) error {
	c.Viper = *viper.New()
	setDefaults(&c.Viper)

	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := c.BindPFlags(fs); err != nil {
		return err
	}

	c.SetEnvPrefix("gambit")
	c.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	c.AutomaticEnv()

	if cf := c.GetString(ConfigConfigFile); cf != "" {
		c.SetConfigFile(cf)
		if err := c.ReadInConfig(); err != nil {
			return err
		}
	}
	return c.Validate()
}

// Validate checks the values the search core cannot run without.
func (c *Config) Validate() error {
	switch {
	case c.GetInt(ConfigDepth) < 0:
		return errors.Join(ErrBadConfig, errors.New("depth must be >= 0"))
	case c.GetInt(ConfigBatchMaxSize) < 1:
		return errors.Join(ErrBadConfig, errors.New("batch-max-size must be >= 1"))
	case c.GetInt(ConfigQueueCapacity) < 1:
		return errors.Join(ErrBadConfig, errors.New("queue-capacity must be >= 1"))
	case c.GetDuration(ConfigBatchFlushTimeout) <= 0:
		return errors.Join(ErrBadConfig, errors.New("batch-flush-timeout must be positive"))
	case c.GetInt(ConfigMaxConcurrentTasks) < 0:
		return errors.Join(ErrBadConfig, errors.New("max-concurrent-tasks must be >= 0"))
	}
	return nil
}

// LogLevel is the global zerolog level the binaries should use.
func (c *Config) LogLevel() zerolog.Level {
	if c.GetBool(ConfigDebug) {
		return zerolog.DebugLevel
	}
	return zerolog.InfoLevel
}
