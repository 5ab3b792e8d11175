package main

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/JSluo888/MedJourney-sub000/core/signaling"
	"github.com/JSluo888/MedJourney-sub000/internal/config"
	tea "github.com/charmbracelet/bubbletea"
)

func TestBackoffFollowsConfig(t *testing.T) {
	cfg := config.Default().Signaling

	if _, ok := backoffFor(cfg).(signaling.ConstantBackoff); !ok {
		t.Fatalf("expected a constant backoff by default")
	}

	cfg.Backoff = config.BackoffExponential
	cfg.ReconnectInterval = time.Second
	cfg.MaxBackoff = 4 * time.Second
	backoff, ok := backoffFor(cfg).(signaling.ExponentialBackoff)
	if !ok {
		t.Fatalf("expected an exponential backoff")
	}
	if backoff.Initial != time.Second || backoff.Max != 4*time.Second {
		t.Fatalf("unexpected backoff %+v", backoff)
	}
}

func TestBuildWithoutAudio(t *testing.T) {
	cfg := config.Default()
	cfg.Audio.Backend = config.BackendNone

	app, err := build(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), func(tea.Msg) {})
	if err != nil {
		t.Fatalf("expected build to succeed, got %v", err)
	}
	if app.source != nil || app.backend != nil {
		t.Fatalf("expected no microphone without an audio backend")
	}
	app.Close()
}
