// Package config loads the worker configuration from flags, environment
// and an optional YAML file through viper.
package config

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/bosley/scorequeue/queue"
	"github.com/bosley/scorequeue/scoring"
)

// EnvPrefix prefixes every environment override, e.g.
// SCOREQUEUE_QUEUE_BACKEND for queue.backend.
const EnvPrefix = "SCOREQUEUE"

// Config is the complete worker and producer configuration.
type Config struct {
	LogLevel        string        `mapstructure:"log_level"`
	LogFormat       string        `mapstructure:"log_format"`
	DefaultLanguage string        `mapstructure:"default_language"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	Watch           bool          `mapstructure:"watch"`
	AudioDir        string        `mapstructure:"audio_dir"`
	StatusAddr      string        `mapstructure:"status_addr"`

	Queue  Queue  `mapstructure:"queue"`
	Scorer Scorer `mapstructure:"scorer"`
	Submit Submit `mapstructure:"submit"`
}

type Queue struct {
	Backend      string        `mapstructure:"backend"`
	Claim        string        `mapstructure:"claim"`
	InputDir     string        `mapstructure:"input_dir"`
	OutputDir    string        `mapstructure:"output_dir"`
	ReclaimAfter time.Duration `mapstructure:"reclaim_after"`
	RedisURL     string        `mapstructure:"redis_url"`
	RedisPrefix  string        `mapstructure:"redis_prefix"`
	SQLitePath   string        `mapstructure:"sqlite_path"`
}

type Scorer struct {
	Strategy    string        `mapstructure:"strategy"`
	Timeout     time.Duration `mapstructure:"timeout"`
	FallbackMin float64       `mapstructure:"fallback_min"`
	FallbackMax float64       `mapstructure:"fallback_max"`
	Model       Model         `mapstructure:"model"`
	Exec        Exec          `mapstructure:"exec"`
}

type Model struct {
	MaxSamples int `mapstructure:"max_samples"`
}

type Exec struct {
	Command   string        `mapstructure:"command"`
	Args      []string      `mapstructure:"args"`
	Dir       string        `mapstructure:"dir"`
	WaitDelay time.Duration `mapstructure:"wait_delay"`
}

type Submit struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// SetDefaults registers every key with its default value.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")
	v.SetDefault("default_language", "en")
	v.SetDefault("poll_interval", time.Second)
	v.SetDefault("watch", false)
	v.SetDefault("audio_dir", "")
	v.SetDefault("status_addr", "")

	v.SetDefault("queue.backend", string(queue.BackendFS))
	v.SetDefault("queue.claim", string(queue.ClaimScan))
	v.SetDefault("queue.input_dir", "/data/project/shared_data/input")
	v.SetDefault("queue.output_dir", "/data/project/shared_data/output")
	v.SetDefault("queue.reclaim_after", 10*time.Minute)
	v.SetDefault("queue.redis_url", "localhost:6379")
	v.SetDefault("queue.redis_prefix", "scorequeue")
	v.SetDefault("queue.sqlite_path", "scorequeue.db")

	v.SetDefault("scorer.strategy", string(scoring.StrategySimple))
	v.SetDefault("scorer.timeout", scoring.DefaultTimeout)
	v.SetDefault("scorer.fallback_min", scoring.DefaultFallbackMin)
	v.SetDefault("scorer.fallback_max", scoring.DefaultFallbackMax)
	v.SetDefault("scorer.model.max_samples", scoring.DefaultMaxSamples)
	v.SetDefault("scorer.exec.command", "python")
	v.SetDefault("scorer.exec.args", []string{
		"inference_wav.py",
		"--wav", "{wav}",
		"--lang", "{lang}",
		"--label_type1", "pron",
		"--label_type2", "articulation",
		"--device", "cpu",
		"--dir_model", "model",
	})
	v.SetDefault("scorer.exec.dir", "/data/project/nia/pron")
	v.SetDefault("scorer.exec.wait_delay", scoring.DefaultWaitDelay)

	v.SetDefault("submit.timeout", 30*time.Second)
}

// BindEnv makes SCOREQUEUE_* variables override their keys.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load decodes and validates the configuration held by v.
func Load(v *viper.Viper) (Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(oneOf(c.LogFormat, "console", "json"), "log_format must be console or json, got %q", c.LogFormat)
	check(c.PollInterval > 0, "poll_interval must be positive")
	check(c.DefaultLanguage != "", "default_language must not be empty")

	check(oneOf(c.Queue.Backend, string(queue.BackendFS), string(queue.BackendRedis), string(queue.BackendSQLite)),
		"queue.backend must be fs, redis or sqlite, got %q", c.Queue.Backend)
	check(oneOf(c.Queue.Claim, string(queue.ClaimScan), string(queue.ClaimRename)),
		"queue.claim must be scan or rename, got %q", c.Queue.Claim)
	check(c.Queue.InputDir != "" || c.AudioDir != "", "queue.input_dir or audio_dir must be set")
	switch queue.Backend(c.Queue.Backend) {
	case queue.BackendFS:
		check(c.Queue.InputDir != "", "queue.input_dir must be set for the fs backend")
		check(c.Queue.OutputDir != "", "queue.output_dir must be set for the fs backend")
	case queue.BackendRedis:
		check(c.Queue.RedisURL != "", "queue.redis_url must be set for the redis backend")
	case queue.BackendSQLite:
		check(c.Queue.SQLitePath != "", "queue.sqlite_path must be set for the sqlite backend")
	}

	check(oneOf(c.Scorer.Strategy, string(scoring.StrategySimple), string(scoring.StrategyModel), string(scoring.StrategyExec)),
		"scorer.strategy must be simple, model or exec, got %q", c.Scorer.Strategy)
	check(c.Scorer.Timeout > 0, "scorer.timeout must be positive")
	check(c.Scorer.FallbackMin <= c.Scorer.FallbackMax, "scorer.fallback_min must not exceed scorer.fallback_max")
	check(c.Scorer.FallbackMin >= scoring.MinScore && c.Scorer.FallbackMax <= scoring.MaxScore,
		"scorer fallback range must lie within [%v, %v]", scoring.MinScore, scoring.MaxScore)
	if c.Scorer.Strategy == string(scoring.StrategyExec) {
		check(c.Scorer.Exec.Command != "", "scorer.exec.command must be set for the exec strategy")
	}
	check(c.Submit.Timeout > 0, "submit.timeout must be positive")

	return errors.Join(errs...)
}

func oneOf(s string, options ...string) bool {
	for _, o := range options {
		if s == o {
			return true
		}
	}
	return false
}

// AudioDirectory is where request audio lives. It defaults to the request
// store directory.
func (c Config) AudioDirectory() string {
	if c.AudioDir != "" {
		return c.AudioDir
	}
	return c.Queue.InputDir
}

// QueueOptions converts the queue section for queue.Open.
func (c Config) QueueOptions() queue.Options {
	return queue.Options{
		Backend:     queue.Backend(c.Queue.Backend),
		Claim:       queue.ClaimMode(c.Queue.Claim),
		InputDir:    c.Queue.InputDir,
		OutputDir:   c.Queue.OutputDir,
		RedisURL:    c.Queue.RedisURL,
		RedisPrefix: c.Queue.RedisPrefix,
		SQLitePath:  c.Queue.SQLitePath,
	}
}

// ScoringConfig converts the scorer section for scoring.New.
func (c Config) ScoringConfig() scoring.Config {
	return scoring.Config{
		Strategy:    scoring.Strategy(c.Scorer.Strategy),
		FallbackMin: c.Scorer.FallbackMin,
		FallbackMax: c.Scorer.FallbackMax,
		MaxSamples:  c.Scorer.Model.MaxSamples,
		Exec: scoring.ExecConfig{
			Command:   c.Scorer.Exec.Command,
			Args:      c.Scorer.Exec.Args,
			Dir:       c.Scorer.Exec.Dir,
			Timeout:   c.Scorer.Timeout,
			WaitDelay: c.Scorer.Exec.WaitDelay,
		},
	}
}

// Dump writes the effective settings of v as YAML with durations spelled
// out.
func Dump(v *viper.Viper, w io.Writer) error {
	settings := printable(v.AllSettings())
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(settings); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return enc.Close()
}

func printable(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case map[string]any:
			out[k] = printable(val)
		case time.Duration:
			out[k] = val.String()
		default:
			out[k] = val
		}
	}
	return out
}
