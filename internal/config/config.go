package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	appName       = "agentround"
	envPrefix     = "AGENTROUND"
	defaultDBName = appName + ".db"
)

// Config holds the runtime settings of the roundtable server.
type Config struct {
	DataDir       string `mapstructure:"data_dir"`
	ProvidersFile string `mapstructure:"providers_file"`
	TemplatesFile string `mapstructure:"templates_file"`
	// Host is the listen address of the server. Empty means the platform
	// default chosen by the server package.
	Host  string `mapstructure:"host"`
	Debug bool   `mapstructure:"debug"`

	Round   RoundConfig   `mapstructure:"round"`
	Retry   RetryConfig   `mapstructure:"retry"`
	Stream  StreamConfig  `mapstructure:"stream"`
	Thought ThoughtConfig `mapstructure:"thought"`
	Title   TitleConfig   `mapstructure:"title"`

	workingDir string
	file       string
}

type RoundConfig struct {
	// Parallel runs every model of a round concurrently against a snapshot of
	// the history taken when the round starts.
	Parallel bool `mapstructure:"parallel"`
	// ParallelLimit caps concurrent provider calls in parallel mode. 0 means
	// no cap.
	ParallelLimit int `mapstructure:"parallel_limit"`
	// SystemPrompt is sent to every model ahead of its persona prompt.
	SystemPrompt string `mapstructure:"system_prompt"`
}

type RetryConfig struct {
	Attempts      int           `mapstructure:"attempts"`
	BaseDelay     time.Duration `mapstructure:"base_delay"`
	Multiplier    float64       `mapstructure:"multiplier"`
	MaxDelay      time.Duration `mapstructure:"max_delay"`
	JitterPercent int           `mapstructure:"jitter_percent"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

type StreamConfig struct {
	// ChunkSize is the maximum number of characters per token event.
	ChunkSize int           `mapstructure:"chunk_size"`
	Delay     time.Duration `mapstructure:"delay"`
}

type ThoughtConfig struct {
	Enabled bool         `mapstructure:"enabled"`
	Markers []MarkerPair `mapstructure:"markers"`
}

// MarkerPair delimits hidden reasoning in model output.
type MarkerPair struct {
	Open  string `mapstructure:"open" yaml:"open"`
	Close string `mapstructure:"close" yaml:"close"`
}

type TitleConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Model is the model id used to summarize. Empty picks the model that
	// produced the first reply.
	Model     string        `mapstructure:"model"`
	MaxLength int           `mapstructure:"max_length"`
	Timeout   time.Duration `mapstructure:"timeout"`
	// Wait is how long an open stream stays open after round_end to deliver
	// the generated title.
	Wait time.Duration `mapstructure:"wait"`
}

// DefaultMarkers are the reasoning tags, and code fences labelled with the
// same names, stripped when no markers are configured.
func DefaultMarkers() []MarkerPair {
	tags := []string{"think", "analysis", "reasoning", "thought", "chain-of-thought", "cot"}
	out := make([]MarkerPair, 0, 2*len(tags))
	for _, t := range tags {
		out = append(out, MarkerPair{Open: "<" + t + ">", Close: "</" + t + ">"})
	}
	for _, t := range tags {
		out = append(out, MarkerPair{Open: "```" + t, Close: "```"})
	}
	return out
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		DataDir:       "." + appName,
		ProvidersFile: "providers.yaml",
		TemplatesFile: "templates.yaml",
		Round: RoundConfig{
			Parallel:      false,
			ParallelLimit: 0,
		},
		Retry: RetryConfig{
			Attempts:      3,
			BaseDelay:     500 * time.Millisecond,
			Multiplier:    2,
			MaxDelay:      5 * time.Second,
			JitterPercent: 20,
			Timeout:       120 * time.Second,
		},
		Stream: StreamConfig{
			ChunkSize: 4,
			Delay:     0,
		},
		Thought: ThoughtConfig{
			Enabled: true,
			Markers: DefaultMarkers(),
		},
		Title: TitleConfig{
			Enabled:   true,
			MaxLength: 24,
			Timeout:   30 * time.Second,
			Wait:      10 * time.Second,
		},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("providers_file", d.ProvidersFile)
	v.SetDefault("templates_file", d.TemplatesFile)
	v.SetDefault("host", d.Host)
	v.SetDefault("debug", d.Debug)

	v.SetDefault("round.parallel", d.Round.Parallel)
	v.SetDefault("round.parallel_limit", d.Round.ParallelLimit)
	v.SetDefault("round.system_prompt", d.Round.SystemPrompt)

	v.SetDefault("retry.attempts", d.Retry.Attempts)
	v.SetDefault("retry.base_delay", d.Retry.BaseDelay)
	v.SetDefault("retry.multiplier", d.Retry.Multiplier)
	v.SetDefault("retry.max_delay", d.Retry.MaxDelay)
	v.SetDefault("retry.jitter_percent", d.Retry.JitterPercent)
	v.SetDefault("retry.timeout", d.Retry.Timeout)

	v.SetDefault("stream.chunk_size", d.Stream.ChunkSize)
	v.SetDefault("stream.delay", d.Stream.Delay)

	v.SetDefault("thought.enabled", d.Thought.Enabled)
	markers := make([]map[string]string, 0, len(d.Thought.Markers))
	for _, m := range d.Thought.Markers {
		markers = append(markers, map[string]string{"open": m.Open, "close": m.Close})
	}
	v.SetDefault("thought.markers", markers)

	v.SetDefault("title.enabled", d.Title.Enabled)
	v.SetDefault("title.model", d.Title.Model)
	v.SetDefault("title.max_length", d.Title.MaxLength)
	v.SetDefault("title.timeout", d.Title.Timeout)
	v.SetDefault("title.wait", d.Title.Wait)
}

// LoadOptions are the command line inputs that influence loading.
type LoadOptions struct {
	WorkingDir string
	// File is an explicit config file. It must exist when set.
	File    string
	DataDir string
	Debug   bool
}

// Load resolves settings from defaults, an optional agentround.yaml and
// AGENTROUND_* environment variables, in increasing priority. Flags in opts
// win over all of them.
func Load(opts LoadOptions) (*Config, error) {
	if opts.WorkingDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		opts.WorkingDir = wd
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.File != "" {
		v.SetConfigFile(opts.File)
	} else {
		v.SetConfigName(appName)
		v.SetConfigType("yaml")
		v.AddConfigPath(opts.WorkingDir)
		if opts.DataDir != "" {
			v.AddConfigPath(opts.DataDir)
		}
		v.AddConfigPath(filepath.Join(opts.WorkingDir, "."+appName))
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.workingDir = opts.WorkingDir
	cfg.file = v.ConfigFileUsed()

	if opts.DataDir != "" {
		cfg.DataDir = opts.DataDir
	}
	if opts.Debug {
		cfg.Debug = true
	}

	cfg.normalize()
	return &cfg, nil
}

func (c *Config) normalize() {
	c.DataDir = c.resolve(c.DataDir)
	c.ProvidersFile = c.resolve(c.ProvidersFile)
	c.TemplatesFile = c.resolve(c.TemplatesFile)

	c.Retry.Attempts = max(c.Retry.Attempts, 1)
	c.Retry.Multiplier = max(c.Retry.Multiplier, 1)
	c.Retry.BaseDelay = max(c.Retry.BaseDelay, 0)
	c.Retry.MaxDelay = max(c.Retry.MaxDelay, c.Retry.BaseDelay)
	c.Retry.JitterPercent = min(max(c.Retry.JitterPercent, 0), 100)
	c.Retry.Timeout = max(c.Retry.Timeout, 0)

	c.Round.ParallelLimit = max(c.Round.ParallelLimit, 0)

	c.Stream.ChunkSize = max(c.Stream.ChunkSize, 1)
	c.Stream.Delay = max(c.Stream.Delay, 0)

	c.Title.MaxLength = max(c.Title.MaxLength, 8)

	markers := c.Thought.Markers[:0]
	for _, m := range c.Thought.Markers {
		if m.Open != "" && m.Close != "" {
			markers = append(markers, m)
		}
	}
	c.Thought.Markers = markers
	if c.Thought.Enabled && len(c.Thought.Markers) == 0 {
		c.Thought.Markers = DefaultMarkers()
	}
}

func (c *Config) resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.workingDir, path)
}

// WorkingDir is the directory relative paths were resolved against.
func (c *Config) WorkingDir() string {
	return c.workingDir
}

// FileUsed is the config file that was read, if any.
func (c *Config) FileUsed() string {
	return c.file
}

func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, defaultDBName)
}

func (c *Config) LogFile() string {
	return filepath.Join(c.DataDir, "logs", appName+".log")
}
