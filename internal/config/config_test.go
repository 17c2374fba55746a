package config

import (
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Render.Workers != 1 {
		t.Errorf("expected Workers=1, got %d", cfg.Render.Workers)
	}
	if cfg.Render.MaxClipLength != 30 {
		t.Errorf("expected MaxClipLength=30, got %d", cfg.Render.MaxClipLength)
	}
	if cfg.API.BaseURL != "https://api.comma.ai" {
		t.Errorf("expected comma API base URL, got %s", cfg.API.BaseURL)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestConfig_SaveLoad(t *testing.T) {
	// Ensure no env vars interfere
	t.Setenv("DISCORD_TOKEN", "")
	t.Setenv("WORKERS", "")
	t.Setenv("MAX_CLIP_LEN", "")

	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")

	cfg := DefaultConfig()
	cfg.Render.Workers = 4
	cfg.Discord.Token = "never-persisted"
	cfg.API.JWTToken = "never-persisted"

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.Render.Workers != 4 {
		t.Errorf("expected Workers=4, got %d", loaded.Render.Workers)
	}
	if loaded.Discord.Token != "" {
		t.Error("Discord token must not round-trip through the config file")
	}
	if loaded.API.JWTToken != "" {
		t.Error("JWT token must not round-trip through the config file")
	}
}

func TestConfig_EnvOverrides(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "env-token")
	t.Setenv("WORKERS", "3")
	t.Setenv("MAX_CLIP_LEN", "45")
	t.Setenv("BUILD_ID", "build-77")

	cfg := DefaultConfig()
	cfg.applyEnvOverrides()

	if cfg.Discord.Token != "env-token" {
		t.Errorf("expected Token=env-token, got %s", cfg.Discord.Token)
	}
	if cfg.Render.Workers != 3 {
		t.Errorf("expected Workers=3, got %d", cfg.Render.Workers)
	}
	if cfg.Render.MaxClipLength != 45 {
		t.Errorf("expected MaxClipLength=45, got %d", cfg.Render.MaxClipLength)
	}
	if cfg.Deploy.BuildID != "build-77" {
		t.Errorf("expected BuildID=build-77, got %s", cfg.Deploy.BuildID)
	}
}

func TestConfig_EnvOverrides_BadValues(t *testing.T) {
	t.Setenv("WORKERS", "zero")
	t.Setenv("MAX_CLIP_LEN", "-5")

	cfg := DefaultConfig()
	cfg.applyEnvOverrides()

	if cfg.Render.Workers != 1 {
		t.Errorf("bad WORKERS should keep default, got %d", cfg.Render.Workers)
	}
	if cfg.Render.MaxClipLength != 30 {
		t.Errorf("negative MAX_CLIP_LEN should keep default, got %d", cfg.Render.MaxClipLength)
	}
}

func TestConfig_LoadMissingFile(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("missing file should load defaults: %v", err)
	}
	if cfg.Render.MaxClipLength != 30 {
		t.Errorf("expected defaults, got MaxClipLength=%d", cfg.Render.MaxClipLength)
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Render.Workers = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for zero workers")
	}

	cfg = DefaultConfig()
	cfg.API.BaseURL = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for empty base URL")
	}
}

func TestConfig_DurationAccessors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.API.Timeout = "bogus"
	if got := cfg.GetAPITimeout().Seconds(); got != 30 {
		t.Errorf("bad timeout should fall back to 30s, got %vs", got)
	}
	cfg.Render.Timeout = "2m"
	if got := cfg.GetRenderTimeout().Minutes(); got != 2 {
		t.Errorf("expected 2m render timeout, got %vm", got)
	}
}
