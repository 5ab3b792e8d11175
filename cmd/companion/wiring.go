package main

import (
	"fmt"
	"log/slog"

	orchestration "github.com/JSluo888/MedJourney-sub000/core"
	"github.com/JSluo888/MedJourney-sub000/core/agentapi"
	"github.com/JSluo888/MedJourney-sub000/core/audio"
	"github.com/JSluo888/MedJourney-sub000/core/audio/miniaudio"
	"github.com/JSluo888/MedJourney-sub000/core/audio/portaudio"
	"github.com/JSluo888/MedJourney-sub000/core/media"
	"github.com/JSluo888/MedJourney-sub000/core/media/wsrelay"
	"github.com/JSluo888/MedJourney-sub000/core/recorder"
	"github.com/JSluo888/MedJourney-sub000/core/signaling"
	"github.com/JSluo888/MedJourney-sub000/internal/config"
	tea "github.com/charmbracelet/bubbletea"
)

// audioBackend is a capture device that also plays audio.
type audioBackend interface {
	audio.Device
	audio.Output
	Close()
}

type app struct {
	orchestrator *orchestration.Orchestrator
	source       *audio.Source
	backend      audioBackend
	logger       *slog.Logger
}

func (a *app) Close() {
	a.orchestrator.Close()
	if a.source != nil {
		if err := a.source.Close(); err != nil {
			a.logger.Warn("closing microphone", "error", err)
		}
	}
	if a.backend != nil {
		a.backend.Close()
	}
}

func build(cfg *config.Config, logger *slog.Logger, send func(tea.Msg)) (*app, error) {
	backend, err := openAudio(cfg.Audio)
	if err != nil {
		return nil, err
	}

	a := &app{backend: backend, logger: logger}

	var sessionOpts []media.SessionOption
	var orchestratorOpts []orchestration.OrchestratorOption
	if backend != nil {
		a.source = audio.NewSource(backend)
		sessionOpts = append(sessionOpts, media.WithOutput(backend))
		orchestratorOpts = append(orchestratorOpts, orchestration.WithRecorder(
			recorder.New(a.source, recorder.WithMaxDuration(cfg.Conversation.MaxRecording)),
		))
	}
	sessionOpts = append(sessionOpts, media.WithUID(cfg.User.ID))

	session := media.NewSession(wsrelay.New(cfg.Agent.MediaURL), a.source, sessionOpts...)
	channel := signaling.NewChannel(cfg.Agent.SignalingURL,
		signaling.WithBackoff(backoffFor(cfg.Signaling)),
		signaling.WithMaxAttempts(cfg.Signaling.MaxAttempts),
		signaling.WithHeartbeat(cfg.Signaling.HeartbeatInterval, cfg.Signaling.HeartbeatTimeout),
	)

	var sessions agentapi.SessionProvider = agentapi.LocalSessions{}
	if cfg.Agent.APIURL != "" {
		sessions = agentapi.NewClient(cfg.Agent.APIURL)
	}

	orchestratorOpts = append(orchestratorOpts,
		orchestration.WithMediaSession(session),
		orchestration.WithSignalingChannel(channel),
		orchestration.WithSessionProvider(sessions),
		orchestration.WithProcessingTimeout(cfg.Conversation.ProcessingTimeout),
		orchestration.WithLevelPollInterval(cfg.Conversation.LevelPollInterval),
		orchestration.WithMessageCallback(func(message orchestration.ConversationMessage) { send(messageMsg(message)) }),
		orchestration.WithStatusChangeCallback(func(status orchestration.TurnState) { send(statusMsg(status)) }),
		orchestration.WithAudioLevelCallback(func(level float64) { send(levelMsg(level)) }),
		orchestration.WithErrorCallback(func(message string) {
			logger.Warn("conversation error", "message", message)
			send(noticeMsg{text: message, isError: true})
		}),
		orchestration.WithWarningCallback(func(message string) {
			logger.Info("conversation warning", "message", message)
			send(noticeMsg{text: message})
		}),
	)

	a.orchestrator = orchestration.New(orchestratorOpts...)
	return a, nil
}

func openAudio(cfg config.AudioConfig) (audioBackend, error) {
	switch cfg.Backend {
	case config.BackendMiniaudio:
		client, err := miniaudio.NewClient(audio.GetDefaultEncodingInfo())
		if err != nil {
			return nil, fmt.Errorf("opening miniaudio: %w", err)
		}
		return client, nil
	case config.BackendPortaudio:
		client, err := portaudio.NewClient(cfg.BufferSize)
		if err != nil {
			return nil, fmt.Errorf("opening portaudio: %w", err)
		}
		return client, nil
	default:
		return nil, nil
	}
}

func backoffFor(cfg config.SignalingConfig) signaling.Backoff {
	if cfg.Backoff == config.BackoffExponential {
		return signaling.ExponentialBackoff{
			Initial: cfg.ReconnectInterval,
			Max:     cfg.MaxBackoff,
			Jitter:  0.2,
		}
	}
	return signaling.ConstantBackoff{Interval: cfg.ReconnectInterval}
}
