// Package main provides the voice-gateway entrypoint.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/optiflow-ai/voice-core/internal/dotenv"
	"github.com/optiflow-ai/voice-core/pkg/actions"
	"github.com/optiflow-ai/voice-core/pkg/gateway/config"
	"github.com/optiflow-ai/voice-core/pkg/gateway/server"
	"github.com/optiflow-ai/voice-core/pkg/gateway/sessions"
	"github.com/optiflow-ai/voice-core/pkg/memory"
	"github.com/optiflow-ai/voice-core/pkg/respond"
	"github.com/optiflow-ai/voice-core/pkg/session"
	"github.com/optiflow-ai/voice-core/pkg/speech"
	"github.com/optiflow-ai/voice-core/pkg/speech/stt"
	"github.com/optiflow-ai/voice-core/pkg/speech/tts"
	"github.com/optiflow-ai/voice-core/pkg/workflow"
	"github.com/optiflow-ai/voice-core/pkg/workflow/store"
)

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "voice-gateway: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "voice-gateway",
		Short:         "Room-bound voice agent gateway for workflow editing",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCommand())
	return root
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := dotenv.Load(".env"); err != nil {
				return err
			}
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func serve(ctx context.Context, cfg config.Config) error {
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	st, err := store.Open(cfg.SQLitePath, logger)
	if err != nil {
		return fmt.Errorf("open workflow store: %w", err)
	}
	defer st.Close()

	var mem memory.Store
	if cfg.PostgresDSN != "" {
		pg, err := memory.OpenPG(ctx, cfg.PostgresDSN, logger)
		if err != nil {
			return fmt.Errorf("open memory store: %w", err)
		}
		defer pg.Close()
		mem = pg
	} else {
		logger.Info("no postgres dsn, conversation memory stays in-process")
		mem = memory.NewInMemoryStore()
	}

	var responder respond.Responder = respond.Static{}
	if cfg.GeminiAPIKey != "" {
		gem, err := respond.NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return fmt.Errorf("gemini responder: %w", err)
		}
		responder = gem
	}

	var actionClient *actions.Client
	if cfg.ActionProxyURL != "" {
		actionClient = actions.NewClient(cfg.ActionProxyURL, cfg.ActionProxyKey)
	}
	newExecutor := func(owner string) workflow.Executor {
		var runner workflow.Runner
		if actionClient != nil {
			runner = actions.NewProxyRunner(actionClient, owner, logger)
		}
		return workflow.NewGraphExecutor(st, runner, owner)
	}

	newPipeline := buildPipelineFactory(cfg, logger)

	observers := session.MultiObserver{
		session.LogObserver{Logger: logger},
		newAuditObserver(st, logger),
	}
	if cfg.LifecycleWebhookURL != "" {
		observers = append(observers, session.NewWebhookObserver(cfg.LifecycleWebhookURL, cfg.LifecycleWebhookKey, logger))
	}

	manager := session.NewManager(session.ManagerDeps{
		Responder:   responder,
		Observer:    observers,
		Memory:      mem,
		NewExecutor: newExecutor,
		NewPipeline: newPipeline,
		Logger:      logger,
		Config: session.Config{
			IdleTimeout:      cfg.IdleTimeout,
			DrainGrace:       cfg.DrainGrace,
			HistoryCapacity:  cfg.HistoryCapacity,
			WaitForReconnect: cfg.WaitForReconnect,
			Greeting:         cfg.Greeting,
			MaxAudioFPS:      cfg.MaxAudioFPS,
			MaxAudioBPS:      cfg.MaxAudioBPS,
		},
	})

	tracker := sessions.NewTracker()
	gw := server.New(cfg, manager, tracker, logger)

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("gateway listening", "addr", cfg.ListenAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutdown requested")

		closed := tracker.CloseAll("server shutting down")
		if closed > 0 {
			waitCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			if !tracker.Wait(waitCtx) {
				logger.Warn("sessions still draining at deadline", "remaining", tracker.Count())
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("gateway stopped")
	return nil
}

// buildPipelineFactory returns nil when no speech credentials are set, which
// leaves sessions text-only.
func buildPipelineFactory(cfg config.Config, logger *slog.Logger) func() session.SpeechPipeline {
	if cfg.DeepgramAPIKey == "" && cfg.ElevenLabsAPIKey == "" {
		logger.Warn("no speech credentials, sessions run text-only")
		return nil
	}

	var sttProvider stt.Provider
	if cfg.DeepgramAPIKey != "" {
		sttProvider = stt.NewDeepgram(cfg.DeepgramAPIKey)
	}
	var ttsProvider tts.Provider
	if cfg.ElevenLabsAPIKey != "" {
		ttsProvider = tts.NewElevenLabs(cfg.ElevenLabsAPIKey)
	}

	return func() session.SpeechPipeline {
		return speech.New(speech.Config{
			STT: sttProvider,
			TTS: ttsProvider,
			STTOptions: stt.SessionOptions{
				Model:      cfg.DeepgramModel,
				SampleRate: cfg.SampleRate,
			},
			TTSOptions: tts.SynthesizeOptions{
				Voice:      cfg.ElevenLabsVoiceID,
				SampleRate: cfg.SampleRate,
			},
			Logger: logger,
		})
	}
}
