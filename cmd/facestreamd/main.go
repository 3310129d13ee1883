package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"facestreamd/internal/config"
	"facestreamd/internal/httpapi"
	"facestreamd/internal/identity"
	"facestreamd/internal/infer"
	"facestreamd/internal/pipeline"
	"facestreamd/internal/pool"
	"facestreamd/internal/registry"
	"facestreamd/internal/source"
	"facestreamd/internal/stream"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:           "facestreamd",
		Short:         "Multi-session face recognition video streaming daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := cmd.Flags()
	flags.StringVar(&cfgPath, "config", "", "Config file (.yaml/.json/.toml); flags override file values")
	flags.String("addr", ":8080", "HTTP listen address")
	flags.Int("pool-size", 3, "Number of detector+recognizer resource sets to build")
	flags.String("detect-model", "", "Path to the face detection ONNX model")
	flags.String("recognize-model", "", "Path to the face embedding ONNX model")
	flags.Float64("similarity-threshold", 0.5, "Cosine similarity threshold for identity matches")
	flags.Int("align-size", 112, "Aligned crop side, a multiple of 112 or 128")
	flags.Int("queue-capacity", 30, "Bounded queue capacity per pipeline hop")
	flags.Int("default-lifetime", 10, "Default session lifetime in minutes (-1 = never expires)")
	flags.Int("sweep-interval", 60, "Expiry sweeper interval in seconds")
	flags.String("identity-dir", "", "Directory of identity roster files (.json/.yaml) loaded at startup")
	flags.String("log-level", "info", "Log level: debug|info|warn|error")
	flags.Bool("stub-backend", false, "Run with the in-memory inference stub (no model files)")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := resolveConfig(cmd, cfgPath)
		if err != nil {
			return err
		}
		return run(cfg)
	}
	return cmd
}

// resolveConfig loads the optional config file and applies every explicitly
// set flag on top of it.
func resolveConfig(cmd *cobra.Command, cfgPath string) (config.Config, error) {
	var cfg config.Config
	if cfgPath != "" {
		loaded, err := config.Load(cfgPath)
		if err != nil {
			return cfg, fmt.Errorf("load config %s: %w", cfgPath, err)
		}
		cfg = loaded
	}
	f := cmd.Flags()
	if cfg.Addr == "" || f.Changed("addr") {
		cfg.Addr, _ = f.GetString("addr")
	}
	if cfg.PoolSize == 0 || f.Changed("pool-size") {
		cfg.PoolSize, _ = f.GetInt("pool-size")
	}
	if f.Changed("detect-model") {
		cfg.DetectModel, _ = f.GetString("detect-model")
	}
	if f.Changed("recognize-model") {
		cfg.RecognizeModel, _ = f.GetString("recognize-model")
	}
	if cfg.SimilarityThreshold == 0 || f.Changed("similarity-threshold") {
		cfg.SimilarityThreshold, _ = f.GetFloat64("similarity-threshold")
	}
	if cfg.AlignSize == 0 || f.Changed("align-size") {
		cfg.AlignSize, _ = f.GetInt("align-size")
	}
	if cfg.QueueCapacity == 0 || f.Changed("queue-capacity") {
		cfg.QueueCapacity, _ = f.GetInt("queue-capacity")
	}
	if cfg.DefaultLifetimeMin == 0 || f.Changed("default-lifetime") {
		cfg.DefaultLifetimeMin, _ = f.GetInt("default-lifetime")
	}
	if cfg.SweepIntervalSec == 0 || f.Changed("sweep-interval") {
		cfg.SweepIntervalSec, _ = f.GetInt("sweep-interval")
	}
	if f.Changed("identity-dir") {
		cfg.IdentityDir, _ = f.GetString("identity-dir")
	}
	if cfg.LogLevel == "" || f.Changed("log-level") {
		cfg.LogLevel, _ = f.GetString("log-level")
	}
	if f.Changed("stub-backend") {
		cfg.StubBackend, _ = f.GetBool("stub-backend")
	}
	return cfg, nil
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()
}

func run(cfg config.Config) error {
	logger := newLogger(cfg.LogLevel)

	var factory infer.Factory
	if cfg.StubBackend {
		logger.Warn().Msg("running with stub inference backend")
		factory = &infer.StubFactory{}
	} else {
		f, err := infer.NewDNNFactory(infer.DNNConfig{
			DetectModelPath:    cfg.DetectModel,
			RecognizeModelPath: cfg.RecognizeModel,
			ScoreThreshold:     float32(cfg.ScoreThreshold),
		})
		if err != nil {
			return err
		}
		factory = f
	}

	p, err := pool.New(cfg.PoolSize, factory, logger)
	if err != nil {
		return fmt.Errorf("build resource pool: %w", err)
	}
	defer p.Dispose()

	store := identity.NewMemoryStore()
	if cfg.IdentityDir != "" {
		roster, err := registry.LoadDir(cfg.IdentityDir)
		if err != nil {
			return fmt.Errorf("load identity roster: %w", err)
		}
		for _, id := range roster {
			if err := store.Register(id.Name, id.ExternalID, id.Embedding); err != nil {
				return fmt.Errorf("register identity %q: %w", id.Name, err)
			}
		}
		logger.Info().Int("identities", store.Len()).Str("dir", cfg.IdentityDir).
			Msg("identity roster loaded")
	}
	mgr := stream.NewManager(stream.Config{
		Pipeline: pipeline.Config{
			QueueCapacity:       cfg.QueueCapacity,
			AlignSize:           cfg.AlignSize,
			SimilarityThreshold: float32(cfg.SimilarityThreshold),
		},
		DefaultLifetimeMinutes: cfg.DefaultLifetimeMin,
		SweepInterval:          time.Duration(cfg.SweepIntervalSec) * time.Second,
	}, p, source.NewVideoSource(), store, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mgr.Run(ctx)

	httpapi.SetLogger(logger)
	httpapi.SetBaseContext(ctx)
	srv := &http.Server{Addr: cfg.Addr, Handler: httpapi.NewMux(mgr, store)}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Addr).Int("pool_size", cfg.PoolSize).
			Msg("facestreamd listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-stop:
	}

	logger.Info().Msg("shutting down")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("graceful http shutdown error")
	}
	mgr.ShutdownAll()
	return nil
}
