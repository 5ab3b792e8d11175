// Command fake-agent serves a scripted agent backend for local runs of the
// companion.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/JSluo888/MedJourney-sub000/internal/fakeagent"
	"github.com/fatih/color"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "localhost:8080", "listen address")
	delay := flag.Duration("delay", 500*time.Millisecond, "time the agent thinks before answering")
	speech := flag.Duration("speech", 2*time.Second, "how long each reply is spoken on the media relay, 0 for text only")
	logLevel := flag.String("log-level", "info", "debug, info, warn or error")
	flag.Parse()

	logger := setupLogger(*logLevel)

	agent := fakeagent.New(
		fakeagent.WithResponseDelay(*delay),
		fakeagent.WithSpeech(*speech),
	)
	server := &http.Server{
		Addr:              *addr,
		Handler:           agent,
		ReadHeaderTimeout: 5 * time.Second,
	}

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Signaling: ws://%s/conversation/{sessionId}\n", *addr)
	green.Print("    ▶ ")
	fmt.Printf("Media:     ws://%s/media/{channel}\n", *addr)
	green.Print("    ▶ ")
	fmt.Printf("Sessions:  http://%s/api/sessions\n", *addr)
	fmt.Println()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("fake agent listening", "addr", *addr)
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	agent.DropConnections()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
}
