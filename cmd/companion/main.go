// Command companion is a terminal client for a realtime conversation with the
// agent backend: type to chat, hold a voice turn with ctrl+r.
package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/JSluo888/MedJourney-sub000/core/signaling"
	"github.com/JSluo888/MedJourney-sub000/internal/config"
	tea "github.com/charmbracelet/bubbletea"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", os.Getenv("COMPANION_CONFIG"), "path to the YAML configuration")
	userID := flag.String("user", "", "user id, overrides user.id from the configuration")
	printSchema := flag.Bool("schema", false, "print the JSON schema of the signaling protocol and exit")
	flag.Parse()

	if *printSchema {
		schema, err := signaling.Schema()
		if err != nil {
			return fmt.Errorf("generating schema: %w", err)
		}
		_, err = os.Stdout.Write(append(schema, '\n'))
		return err
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return fmt.Errorf("loading config from %s: %w", *configPath, err)
		}
		cfg = loaded
	}
	if *userID != "" {
		cfg.User.ID = *userID
	}

	logger, closeLog, err := setupLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer closeLog()

	relay := &programRelay{}
	app, err := build(cfg, logger, relay.send)
	if err != nil {
		return err
	}
	defer app.Close()

	program := tea.NewProgram(newModel(app.orchestrator, cfg.User.ID), tea.WithAltScreen(), tea.WithMouseCellMotion())
	relay.program = program

	logger.Info("starting companion", "user", cfg.User.ID, "signaling", cfg.Agent.SignalingURL, "audio", cfg.Audio.Backend)
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("running ui: %w", err)
	}
	return nil
}

// programRelay forwards orchestrator callbacks into the UI loop. The program
// is set before any callback can fire, since the conversation only starts
// from the model's Init.
type programRelay struct {
	program *tea.Program
}

func (r *programRelay) send(msg tea.Msg) {
	if r.program != nil {
		r.program.Send(msg)
	}
}

// setupLogger writes to the configured file, or nowhere, since the terminal
// belongs to the UI.
func setupLogger(cfg config.LoggingConfig) (*slog.Logger, func(), error) {
	var logLevel slog.Level
	switch cfg.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	var out io.Writer = io.Discard
	closeLog := func() {}
	if cfg.File != "" {
		file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file: %w", err)
		}
		out = file
		closeLog = func() { _ = file.Close() }
	}

	logger := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)
	return logger, closeLog, nil
}
