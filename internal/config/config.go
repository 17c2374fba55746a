// Package config loads opclip configuration from a YAML file with
// environment-variable overrides. Secrets (the Discord token, the comma
// JWT) come from the environment only and are never written back out.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all opclip configuration.
type Config struct {
	// Discord bot settings
	Discord DiscordConfig `yaml:"discord"`

	// comma.ai API access
	API APIConfig `yaml:"api"`

	// Clip rendering
	Render RenderConfig `yaml:"render"`

	// Segment downloads
	Download DownloadConfig `yaml:"download"`

	// Job history store
	Store StoreConfig `yaml:"store"`

	// Bootstrap/redeploy settings
	Deploy DeployConfig `yaml:"deploy"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// DiscordConfig configures the bot surface.
type DiscordConfig struct {
	Token string `yaml:"-"` // env DISCORD_TOKEN only

	// WatchMessages also picks connect links out of plain channel
	// messages, in addition to the slash commands.
	WatchMessages bool `yaml:"watch_messages"`

	// DefaultClipSeconds is the window used for links posted without
	// timing info.
	DefaultClipSeconds int `yaml:"default_clip_seconds"`
}

// APIConfig configures the comma.ai API client.
type APIConfig struct {
	BaseURL  string `yaml:"base_url"`
	JWTToken string `yaml:"-"` // env COMMA_JWT only
	Timeout  string `yaml:"timeout"`
	Retries  int    `yaml:"retries"`
}

// RenderConfig configures the clip render workers.
type RenderConfig struct {
	// Renderer is the external render command. It receives the fixed
	// Args, then the clip spec, "-o" <output>, "-f" <framerate>, and
	// optionally "-t" <title>.
	Renderer string   `yaml:"renderer"`
	Args     []string `yaml:"args"`

	Workers       int    `yaml:"workers"`
	QueueDepth    int    `yaml:"queue_depth"`
	MaxClipLength int    `yaml:"max_clip_length"` // seconds
	Timeout       string `yaml:"timeout"`
}

// DownloadConfig configures segment downloads.
type DownloadConfig struct {
	DataDir        string `yaml:"data_dir"`
	MaxConnections int    `yaml:"max_connections"`
	SmearSeconds   int    `yaml:"smear_seconds"`
}

// StoreConfig configures the job history database.
type StoreConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// DeployConfig configures the bootstrap and redeploy lifecycle.
type DeployConfig struct {
	// Pattern is matched against running command lines when killing
	// the previous instance.
	Pattern string `yaml:"pattern"`

	// BuildID marks the instance launched by this deploy so that the
	// kill pass of a later deploy of the same build leaves it alone
	// (env BUILD_ID wins).
	BuildID string `yaml:"build_id"`

	SettleDelay string `yaml:"settle_delay"`
	LogFile     string `yaml:"log_file"`

	// Command plus Args relaunch the daemon after the kill pass.
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`

	// BuildTool is the delegated build script run by bootstrap.
	BuildTool string `yaml:"build_tool"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Discord: DiscordConfig{
			WatchMessages:      true,
			DefaultClipSeconds: 10,
		},
		API: APIConfig{
			BaseURL: "https://api.comma.ai",
			Timeout: "30s",
			Retries: 3,
		},
		Render: RenderConfig{
			Renderer:      "openpilot/.venv/bin/python3",
			Args:          []string{"openpilot/tools/clip/run.py"},
			Workers:       1,
			QueueDepth:    64,
			MaxClipLength: 30,
			Timeout:       "15m",
		},
		Download: DownloadConfig{
			DataDir:        "data/routes",
			MaxConnections: 20,
			SmearSeconds:   5,
		},
		Store: StoreConfig{
			DatabasePath: "data/opclip.db",
		},
		Deploy: DeployConfig{
			Pattern:     "opclip serve",
			SettleDelay: "5s",
			LogFile:     "opclip.log",
			Command:     "opclip",
			Args:        []string{"serve"},
			BuildTool:   "tools/op.sh",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults; environment overrides apply either way.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration to a YAML file. Secrets are excluded
// by their yaml tags.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

func (c *Config) applyEnvOverrides() {
	if token := os.Getenv("DISCORD_TOKEN"); token != "" {
		c.Discord.Token = token
	}
	if jwt := os.Getenv("COMMA_JWT"); jwt != "" {
		c.API.JWTToken = jwt
	}
	if base := os.Getenv("COMMA_API_URL"); base != "" {
		c.API.BaseURL = base
	}
	if workers := os.Getenv("WORKERS"); workers != "" {
		if n, err := strconv.Atoi(workers); err == nil && n > 0 {
			c.Render.Workers = n
		}
	}
	if maxLen := os.Getenv("MAX_CLIP_LEN"); maxLen != "" {
		if n, err := strconv.Atoi(maxLen); err == nil && n > 0 {
			c.Render.MaxClipLength = n
		}
	}
	if id := os.Getenv("BUILD_ID"); id != "" {
		c.Deploy.BuildID = id
	}
	if path := os.Getenv("OPCLIP_DB"); path != "" {
		c.Store.DatabasePath = path
	}
	if dir := os.Getenv("OPCLIP_DATA_DIR"); dir != "" {
		c.Download.DataDir = dir
	}
}

// GetAPITimeout returns the API request timeout as a duration.
func (c *Config) GetAPITimeout() time.Duration {
	d, err := time.ParseDuration(c.API.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// GetRenderTimeout returns the per-clip render timeout as a duration.
func (c *Config) GetRenderTimeout() time.Duration {
	d, err := time.ParseDuration(c.Render.Timeout)
	if err != nil {
		return 15 * time.Minute
	}
	return d
}

// GetSettleDelay returns the deploy kill-to-spawn delay as a duration.
func (c *Config) GetSettleDelay() time.Duration {
	d, err := time.ParseDuration(c.Deploy.SettleDelay)
	if err != nil {
		return 5 * time.Second
	}
	return d
}

// Validate checks configuration consistency.
func (c *Config) Validate() error {
	if c.Render.Workers < 1 {
		return fmt.Errorf("render.workers must be >= 1, got %d", c.Render.Workers)
	}
	if c.Render.MaxClipLength < 1 {
		return fmt.Errorf("render.max_clip_length must be >= 1, got %d", c.Render.MaxClipLength)
	}
	if c.Render.QueueDepth < 1 {
		return fmt.Errorf("render.queue_depth must be >= 1, got %d", c.Render.QueueDepth)
	}
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url must not be empty")
	}
	if c.Download.MaxConnections < 1 {
		return fmt.Errorf("download.max_connections must be >= 1, got %d", c.Download.MaxConnections)
	}
	return nil
}
