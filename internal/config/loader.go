package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/voicewire/internal/segment"
	"github.com/MrWong99/voicewire/internal/vad"
	"github.com/MrWong99/voicewire/pkg/action/mcpaction"
	"github.com/MrWong99/voicewire/pkg/audio"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills in the zero-valued fields of cfg that have built-in
// defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Audio.SampleRate == 0 {
		cfg.Audio.SampleRate = audio.DefaultSampleRate
	}
	if cfg.Audio.FrameSize == 0 {
		cfg.Audio.FrameSize = audio.DefaultFrameSize
	}
	if cfg.Capture.Mode == "" {
		cfg.Capture.Mode = CaptureAuto
	}
	if cfg.Capture.SilenceThreshold == 0 {
		cfg.Capture.SilenceThreshold = vad.DefaultThreshold
	}
	if cfg.Capture.MinSilenceFrames == 0 {
		cfg.Capture.MinSilenceFrames = segment.DefaultMinSilenceFrames
	}
	if cfg.Session.APIKey == "" {
		cfg.Session.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.Session.ToolChoice == "" && len(cfg.Session.Tools) > 0 {
		cfg.Session.ToolChoice = "auto"
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", cfg.Audio.SampleRate))
	}
	if cfg.Audio.FrameSize <= 0 {
		errs = append(errs, fmt.Errorf("audio.frame_size %d must be positive", cfg.Audio.FrameSize))
	}

	if !cfg.Capture.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("capture.mode %q is invalid; valid values: auto, gate", cfg.Capture.Mode))
	}
	if cfg.Capture.SilenceThreshold < 0 {
		errs = append(errs, fmt.Errorf("capture.silence_threshold %.1f must not be negative", cfg.Capture.SilenceThreshold))
	}
	if cfg.Capture.MinSilenceFrames <= 0 {
		errs = append(errs, fmt.Errorf("capture.min_silence_frames %d must be positive", cfg.Capture.MinSilenceFrames))
	}

	if cfg.Session.APIKey == "" {
		errs = append(errs, errors.New("session.api_key is required (or set OPENAI_API_KEY)"))
	}

	toolNamesSeen := make(map[string]int, len(cfg.Session.Tools))
	for i, tool := range cfg.Session.Tools {
		prefix := fmt.Sprintf("session.tools[%d]", i)
		if tool.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		if prev, ok := toolNamesSeen[tool.Name]; ok {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of session.tools[%d]", prefix, tool.Name, prev))
		}
		toolNamesSeen[tool.Name] = i
		if tool.Description == "" {
			slog.Warn("tool has no description; the model may never call it", "tool", tool.Name)
		}
	}

	if mcpCfg := cfg.Actions.MCP; mcpCfg != nil {
		if !mcpCfg.Transport.IsValid() {
			errs = append(errs, fmt.Errorf("actions.mcp.transport %q is invalid; valid values: stdio, streamable-http", mcpCfg.Transport))
		}
		if mcpCfg.Transport == mcpaction.TransportStdio && mcpCfg.Command == "" {
			errs = append(errs, errors.New("actions.mcp.command is required when transport is stdio"))
		}
		if mcpCfg.Transport == mcpaction.TransportStreamableHTTP && mcpCfg.URL == "" {
			errs = append(errs, errors.New("actions.mcp.url is required when transport is streamable-http"))
		}
	}

	if cfg.Store.PostgresDSN == "" && cfg.Store.SessionID != "" {
		slog.Warn("store.session_id is set but store.postgres_dsn is empty; turns will not be persisted")
	}

	return errors.Join(errs...)
}

// SlogLevel converts l to the corresponding slog level.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
