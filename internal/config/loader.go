package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads, verifies and parses configuration from a file.
// If a .checksums manifest sits next to the file, the file's BLAKE3 hash must match it.
func Load(configPath string) (*Config, error) {
	// Resolve to absolute path for consistent relative path resolution
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
	}

	cfg, err := loadConfigFile(absPath)
	if err != nil {
		return nil, err
	}
	cfg.SourcePath = absPath

	cfg = applyConfigDefaults(cfg)

	if err := verifyConfigHash(absPath, cfg.Integrity.Require); err != nil {
		return nil, err
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", absPath, err)
	}

	return cfg, nil
}

func loadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	// Apply environment variable interpolation
	interpolated := interpolateEnv(string(data))

	var cfg Config
	dec := yaml.NewDecoder(strings.NewReader(interpolated))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	return &cfg, nil
}

// verifyConfigHash checks path against the manifest in its directory.
// Without a manifest this is a no-op unless required is set.
func verifyConfigHash(path string, required bool) error {
	dir := filepath.Dir(path)
	if _, err := os.Stat(filepath.Join(dir, checksumFile)); os.IsNotExist(err) {
		if required {
			return fmt.Errorf("integrity.require is set but no %s found in %s (run 'dapp-client config lock')", checksumFile, dir)
		}
		return nil
	}

	manifest, err := LoadChecksums(dir)
	if err != nil {
		return err
	}
	return VerifyScopeFiles(dir, manifest, []string{filepath.Base(path)})
}

func applyConfigDefaults(cfg *Config) *Config {
	defaults := Defaults()

	if cfg.Log.Level == "" {
		cfg.Log.Level = defaults.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = defaults.Log.Format
	}
	if cfg.Transport.Input == "" {
		cfg.Transport.Input = defaults.Transport.Input
	}
	if cfg.Transport.Output == "" {
		cfg.Transport.Output = defaults.Transport.Output
	}
	if cfg.Protocol.MaxFrameBytes == 0 {
		cfg.Protocol.MaxFrameBytes = defaults.Protocol.MaxFrameBytes
	}

	return cfg
}

func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		// Extract variable name from ${VAR}
		varName := envVarPattern.FindStringSubmatch(match)[1]

		// Look up environment variable
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}

		// If not found, leave the placeholder (will fail validation if required)
		return match
	})
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Log.Level] {
		return fmt.Errorf("log.level must be one of: debug, info, warn, error (got %q)", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return fmt.Errorf("log.format must be json or text (got %q)", cfg.Log.Format)
	}

	if cfg.Protocol.MaxFrameBytes < 0 {
		return fmt.Errorf("protocol.max_frame_bytes must not be negative")
	}

	for name, p := range map[string]string{"transport.input": cfg.Transport.Input, "transport.output": cfg.Transport.Output} {
		if envVarPattern.MatchString(p) {
			return fmt.Errorf("%s: environment variable ${%s} is not set", name, envVarPattern.FindStringSubmatch(p)[1])
		}
	}

	for i, step := range cfg.Run.Steps {
		if step.Command == "" {
			return fmt.Errorf("run.steps[%d].command is required", i)
		}
		if envVarPattern.MatchString(step.Input) {
			return fmt.Errorf("run.steps[%d].input: environment variable ${%s} is not set", i, envVarPattern.FindStringSubmatch(step.Input)[1])
		}
	}

	return nil
}
