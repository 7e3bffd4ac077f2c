package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// ConfigEnvVar names the environment variable carrying an explicit
// configuration file path (SPEC_FULL.md §6).
const ConfigEnvVar = "MCPBRIDGE_CONFIG"

// defaultConfigName is the file looked up in the working directory and
// next to the executable when ConfigEnvVar is unset.
const defaultConfigName = "mcpbridge.config.json"

// Initialize is the primary entry point: locate, load, validate, and
// return a ready-to-use Registry. Mirrors the staged shape of the
// teacher's config.Initialize (locate → load → validate → return) with
// JSON in place of YAML and a single file in place of a directory of
// files.
func Initialize(ctx context.Context, logger *slog.Logger) (*Registry, error) {
	_ = ctx // no I/O in loading is cancellable; kept for symmetry with callers
	path, found := resolveConfigPath()
	if !found {
		logger.Warn("no configuration file found, starting with an empty server set",
			"searched_env", ConfigEnvVar, "searched_name", defaultConfigName)
		return NewRegistry(nil), nil
	}

	cfg, err := loadFile(path)
	if errors.Is(err, ErrConfigNotFound) {
		logger.Warn("configuration file not found, starting with an empty server set", "path", path)
		return NewRegistry(nil), nil
	}
	if err != nil {
		return nil, NewLoadError(path, err)
	}

	servers, err := validate(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}

	logger.Info("configuration loaded", "path", path, "servers", len(servers))
	return NewRegistry(servers), nil
}

// resolveConfigPath implements the three-location search order from
// SPEC_FULL.md §6: env var, working directory, then next to the
// executable. Returns found=false only when none of the three exists.
func resolveConfigPath() (string, bool) {
	if p := os.Getenv(ConfigEnvVar); p != "" {
		return p, true
	}
	if _, err := os.Stat(defaultConfigName); err == nil {
		return defaultConfigName, true
	}
	if exe, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(exe), defaultConfigName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true
		}
	}
	return "", false
}

func loadFile(path string) (fileConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fileConfig{}, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return fileConfig{}, err
	}

	var cfg fileConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return fileConfig{}, fmt.Errorf("%w: %w", ErrInvalidJSON, err)
	}
	return cfg, nil
}

// validate checks every descriptor and assigns its map key as Name.
// An unsupported transport type or a missing command is a validation
// failure, not a per-server skip — a malformed config file is fatal
// per SPEC_FULL.md §6.
func validate(cfg fileConfig) (map[string]ServerDescriptor, error) {
	out := make(map[string]ServerDescriptor, len(cfg.Servers))
	for name, d := range cfg.Servers {
		d.Name = name
		if d.Type == "" {
			d.Type = TransportStdio
		}
		if !d.Type.IsValid() {
			return nil, NewValidationError(name, "type", fmt.Errorf("unsupported transport %q", d.Type))
		}
		if d.Command == "" {
			return nil, NewValidationError(name, "command", errors.New("command is required"))
		}
		out[name] = d
	}
	return out, nil
}
