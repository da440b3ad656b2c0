// Command voicewire runs a duplex voice session against the OpenAI Realtime
// API: raw PCM16 capture on stdin, response audio on stdout, local turn
// detection, and synchronous action dispatch.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/MrWong99/voicewire/internal/config"
	"github.com/MrWong99/voicewire/internal/engine"
	"github.com/MrWong99/voicewire/internal/observe"
	"github.com/MrWong99/voicewire/internal/segment"
	"github.com/MrWong99/voicewire/internal/transcript/pgstore"
	"github.com/MrWong99/voicewire/internal/vad"
	"github.com/MrWong99/voicewire/pkg/action"
	"github.com/MrWong99/voicewire/pkg/action/mcpaction"
	"github.com/MrWong99/voicewire/pkg/audio"
	"github.com/MrWong99/voicewire/pkg/realtime"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	showVersion := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("voicewire", version)
		return 0
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "voicewire: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// Logs go to stderr; stdout carries the playback PCM stream.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.Server.LogLevel.SlogLevel(),
	}))
	slog.SetDefault(logger)

	slog.Info("voicewire starting",
		"version", version,
		"config", *configPath,
		"capture_mode", cfg.Capture.Mode,
		"model", cfg.Session.Model,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Observability ─────────────────────────────────────────────────────────
	shutdownObserve, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "voicewire",
		ServiceVersion: version,
		MetricsAddr:    cfg.Server.MetricsAddr,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := shutdownObserve(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Action dispatcher ─────────────────────────────────────────────────────
	dispatcher, closeDispatcher, err := buildDispatcher(ctx, cfg)
	if err != nil {
		slog.Error("failed to connect action dispatcher", "err", err)
		return 1
	}
	defer closeDispatcher()

	// ── Turn archive (optional) ───────────────────────────────────────────────
	var store engine.TurnStore
	if dsn := cfg.Store.PostgresDSN; dsn != "" {
		pg, err := pgstore.New(ctx, dsn)
		if err != nil {
			slog.Error("failed to open turn archive", "err", err)
			return 1
		}
		defer pg.Close()
		store = pg
		slog.Info("turn archive connected")
	}

	sessionID := cfg.Store.SessionID
	if sessionID == "" {
		sessionID = time.Now().UTC().Format("20060102T150405Z")
	}

	// ── Realtime session ──────────────────────────────────────────────────────
	metrics := observe.DefaultMetrics()

	opts := []realtime.Option{
		realtime.WithDecodeErrorHandler(func(error) {
			metrics.DroppedEvents.Add(context.Background(), 1)
		}),
	}
	if cfg.Session.Model != "" {
		opts = append(opts, realtime.WithModel(cfg.Session.Model))
	}
	if cfg.Session.BaseURL != "" {
		opts = append(opts, realtime.WithBaseURL(cfg.Session.BaseURL))
	}

	tools := make([]realtime.Tool, 0, len(cfg.Session.Tools))
	for _, t := range cfg.Session.Tools {
		tools = append(tools, t.Tool())
	}

	dialer := realtime.NewDialer(cfg.Session.APIKey, opts...)
	session, err := dialer.Dial(ctx, realtime.SessionConfig{
		Instructions: cfg.Session.Instructions,
		Voice:        cfg.Session.Voice,
		Tools:        tools,
		ToolChoice:   cfg.Session.ToolChoice,
	})
	if err != nil {
		slog.Error("failed to open realtime session", "err", err)
		return 1
	}
	defer session.Close()
	slog.Info("realtime session open", "tools", len(tools))

	// ── Engine ────────────────────────────────────────────────────────────────
	// The service expects 24 kHz mono; capture at other rates is resampled
	// on the way up.
	source := audio.NewResampleSource(
		audio.NewReaderSource(os.Stdin, cfg.Audio.SampleRate, cfg.Audio.FrameSize),
		audio.DefaultSampleRate,
	)

	eng, err := engine.New(engine.Config{
		Source:             source,
		Sink:               audio.NewWriterSink(os.Stdout),
		Session:            session,
		Detector:           vad.New(cfg.Capture.SilenceThreshold),
		Segmenter:          buildSegmenter(ctx, cfg.Capture),
		Dispatcher:         dispatcher,
		Metrics:            metrics,
		Store:              store,
		SessionID:          sessionID,
		TrimLeadingSilence: cfg.Capture.TrimLeadingSilence,
	})
	if err != nil {
		slog.Error("failed to build engine", "err", err)
		return 1
	}

	slog.Info("session ready — press Ctrl+C to shut down")

	if err := eng.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("session error", "err", err)
		return 1
	}

	slog.Info("goodbye")
	return 0
}

// buildDispatcher returns the configured action dispatcher and a cleanup
// function. With MCP configured it connects the external tool server;
// otherwise it falls back to an in-process registry of logging stubs for the
// declared tools.
func buildDispatcher(ctx context.Context, cfg *config.Config) (action.Dispatcher, func(), error) {
	if mcpCfg := cfg.Actions.MCP; mcpCfg != nil {
		d, err := mcpaction.Connect(ctx, mcpaction.Config{
			Transport: mcpCfg.Transport,
			Command:   mcpCfg.Command,
			URL:       mcpCfg.URL,
		})
		if err != nil {
			return nil, nil, err
		}
		slog.Info("mcp action server connected", "transport", mcpCfg.Transport)
		return d, func() {
			if err := d.Close(); err != nil {
				slog.Warn("mcp dispatcher close error", "err", err)
			}
		}, nil
	}

	// No executor configured: declared tools become logging stubs so the
	// conversation still works end to end.
	reg := action.NewRegistry()
	for _, t := range cfg.Session.Tools {
		name := t.Name
		reg.Register(name, func(context.Context) (string, error) {
			slog.Info("action invoked (no executor configured)", "action", name)
			return `{"ok": true}`, nil
		})
	}
	if len(cfg.Session.Tools) > 0 {
		slog.Warn("no mcp action server configured; tools are logging stubs", "tools", reg.Names())
	}
	return reg, func() {}, nil
}

// buildSegmenter creates the turn segmenter for the configured capture mode.
// Gate mode toggles recording on SIGUSR1, the piped-audio stand-in for a
// push-to-talk key.
func buildSegmenter(ctx context.Context, cfg config.CaptureConfig) segment.Segmenter {
	if cfg.Mode == config.CaptureGate {
		return segment.NewGate(newSignalGate(ctx))
	}
	return segment.NewEnergy(cfg.MinSilenceFrames)
}

// newSignalGate returns a Gate that flips open/closed on each SIGUSR1.
func newSignalGate(ctx context.Context) segment.Gate {
	var open atomic.Bool

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGUSR1)
	go func() {
		defer signal.Stop(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ch:
				now := !open.Load()
				open.Store(now)
				slog.Info("recording gate toggled", "open", now)
			}
		}
	}()

	return segment.GateFunc(open.Load)
}
