package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/hireloop/interviewd/internal/dotenv"
	"github.com/hireloop/interviewd/pkg/gateway/config"
	gatewayserver "github.com/hireloop/interviewd/pkg/gateway/server"
	"github.com/hireloop/interviewd/pkg/interview/brain"
	"github.com/hireloop/interviewd/pkg/interview/session"
	"github.com/hireloop/interviewd/pkg/interview/sessions"
	"github.com/hireloop/interviewd/pkg/interview/speech"
	"github.com/hireloop/interviewd/pkg/interview/upstream"
	"github.com/hireloop/interviewd/pkg/store"
)

type appDeps struct {
	loadConfig   func() (config.Config, error)
	openStore    func(ctx context.Context, cfg config.Config) (store.Store, func(), error)
	newGenerator func(ctx context.Context, cfg config.Config) (*brain.Generator, error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultAppDeps() appDeps {
	return appDeps{
		loadConfig:   config.LoadFromEnv,
		openStore:    openStore,
		newGenerator: newGenerator,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

func openStore(ctx context.Context, cfg config.Config) (store.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		return store.NewMemory(), func() {}, nil
	}
	pg, err := store.OpenPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres: %w", err)
	}
	return pg, pg.Close, nil
}

func newGenerator(ctx context.Context, cfg config.Config) (*brain.Generator, error) {
	model, err := brain.NewGeminiModel(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return brain.NewGenerator(model, cfg.LLMTimeout), nil
}

// newUpstreamFactory picks the conversational backend per config. Pipeline
// mode composes discrete transcription and synthesis services; realtime mode
// dials a speech-to-speech websocket per session.
func newUpstreamFactory(cfg config.Config, logger *slog.Logger) (factory func(ctx context.Context, sess *store.Session) (upstream.Upstream, session.Mode, error)) {
	if cfg.UpstreamMode == config.UpstreamRealtime {
		return func(ctx context.Context, sess *store.Session) (upstream.Upstream, session.Mode, error) {
			rt, err := upstream.DialRealtime(ctx, upstream.RealtimeConfig{
				BaseURL:      cfg.RealtimeBaseURL,
				APIKey:       cfg.RealtimeAPIKey,
				Model:        cfg.RealtimeModel,
				Voice:        cfg.RealtimeVoice,
				Instructions: brain.RealtimeInstructions(sess),
				Logger:       logger,
			})
			if err != nil {
				return nil, 0, err
			}
			return rt, session.ModeRealtime, nil
		}
	}

	transcriber := speech.NewHTTPTranscriber(cfg.STTAPIKey, cfg.STTBaseURL, nil)
	synthesizer := speech.NewHTTPSynthesizer(cfg.TTSAPIKey, cfg.TTSBaseURL, cfg.TTSVoice, nil)
	return func(_ context.Context, sess *store.Session) (upstream.Upstream, session.Mode, error) {
		p, err := upstream.NewPipeline(upstream.PipelineConfig{
			Transcriber:       transcriber,
			Synthesizer:       synthesizer,
			Language:          sess.Language,
			NoSpeechThreshold: cfg.NoSpeechThreshold,
			Logger:            logger,
		})
		if err != nil {
			return nil, 0, err
		}
		return p, session.ModePipeline, nil
	}
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
	}
}

func run(ctx context.Context, logger *slog.Logger, deps appDeps) error {
	if deps.loadConfig == nil || deps.openStore == nil || deps.newGenerator == nil {
		return errors.New("missing construction dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	st, closeStore, err := deps.openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	gen, err := deps.newGenerator(ctx, cfg)
	if err != nil {
		return err
	}

	registry := sessions.NewRegistry(cfg.MaxSessions)
	srv := gatewayserver.New(cfg, gatewayserver.Dependencies{
		Store:       st,
		Registry:    registry,
		Planner:     gen,
		Reporter:    gen,
		Decider:     gen,
		NewUpstream: newUpstreamFactory(cfg, logger),
	}, logger)
	httpSrv := buildHTTPServer(cfg, srv.Handler())

	logger.Info("starting interviewd",
		"addr", cfg.Addr,
		"upstream_mode", cfg.UpstreamMode,
		"max_sessions", cfg.MaxSessions,
		"store", storeKind(cfg))

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	registry.WarnAll("shutting_down", "The service is restarting; this interview will end shortly.")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer waitCancel()
	if !registry.Wait(waitCtx) {
		registry.CancelAll()
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("interviewd stopped")
	return nil
}

func storeKind(cfg config.Config) string {
	if cfg.DatabaseURL == "" {
		return "memory"
	}
	return "postgres"
}

func runMain(ctx context.Context, stderr io.Writer, deps appDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	if err := dotenv.LoadFile(".env"); err != nil {
		fmt.Fprintf(stderr, "interviewd: %v\n", err)
		return 1
	}

	if err := run(ctx, logger, deps); err != nil {
		fmt.Fprintf(stderr, "interviewd: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultAppDeps()))
}
