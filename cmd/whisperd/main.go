package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"whisperd/internal/broadcast"
	"whisperd/internal/catalog"
	"whisperd/internal/common/fsutil"
	"whisperd/internal/config"
	"whisperd/internal/engine"
	"whisperd/internal/gpu"
	"whisperd/internal/httpapi"
	"whisperd/internal/queue"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "whisperd",
		Short:         "GPU transcription job service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd())
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	})
	return root
}

func newServeCmd() *cobra.Command {
	var (
		configPath string
		addr       string
		fakeGPUs   int
		logLevel   string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the transcription service",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Precedence: flags > env > config file > defaults.
			_ = godotenv.Load()
			cfg := config.Defaults()
			if configPath != "" {
				fileCfg, err := config.Load(configPath)
				if err != nil {
					return fmt.Errorf("load config %s: %w", configPath, err)
				}
				cfg = config.Merge(cfg, fileCfg)
			}
			cfg = config.Merge(cfg, config.FromEnv())
			cfg = config.Merge(cfg, config.Config{Addr: addr, FakeGPUs: fakeGPUs, LogLevel: logLevel})
			return serve(cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Config file (.yaml/.json/.toml)")
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address, e.g. :8000")
	cmd.Flags().IntVar(&fakeGPUs, "fake-gpus", 0, "Use N synthetic GPUs instead of NVML (dev only)")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Log level: debug|info|warn|error")
	return cmd
}

func serve(cfg config.Config) error {
	log := newLogger(cfg.LogLevel)
	log.Info().Str("version", version).Str("addr", cfg.Addr).Msg("starting whisperd")

	for _, dir := range []*string{&cfg.DataDir, &cfg.UploadDir, &cfg.ModelCacheDir} {
		p, err := fsutil.EnsureDir(*dir)
		if err != nil {
			return fmt.Errorf("create %s: %w", *dir, err)
		}
		*dir = p
	}
	dbPath, err := fsutil.ExpandHome(cfg.DBPath)
	if err != nil {
		return err
	}
	cfg.DBPath = dbPath

	provider, err := newProvider(cfg, log)
	if err != nil {
		return err
	}
	log.Info().Int("gpus", provider.Count()).Msg("device set detected")

	store, err := catalog.OpenSQLite(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open catalog db %s: %w", cfg.DBPath, err)
	}
	defer store.Close()

	engineClient := engine.NewClient(engine.ClientConfig{
		BaseURL: cfg.EngineURL,
		Timeout: cfg.EngineTimeout(),
	})

	cat := catalog.New(store, engineClient, catalog.Config{
		Attempts:     cfg.DownloadAttempts,
		FetchTimeout: cfg.DownloadTimeout(),
	}, log)

	reg := queue.NewRegistry(provider.Count(), cfg.QueueDepth, cat)
	bc := broadcast.New(reg, cat, provider, cfg.DashboardRefreshMS)
	reg.SetPublisher(bc)
	cat.SetPublisher(bc)

	dispatcher := queue.NewDispatcher(reg, cfg.CallbackTimeout(), log)
	pool := queue.NewPool(queue.PoolConfig{
		Registry:       reg,
		Provider:       provider,
		Normalizer:     engine.NewFFmpeg(cfg.FFmpegPath),
		Transcriber:    engineClient,
		Dispatcher:     dispatcher,
		SampleInterval: cfg.SampleInterval(),
		Logger:         log,
	})

	server := httpapi.NewServer(reg, cat, bc, httpapi.Config{
		UploadDir:       cfg.UploadDir,
		DefaultLanguage: cfg.DefaultLanguage,
	}, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Model loading happens in the background so the HTTP surface is up
	// immediately, reporting "starting" until the catalog settles.
	go func() {
		if !engineClient.IsAvailable(ctx) {
			cat.Fail("transcription engine unreachable at " + cfg.EngineURL)
			log.Error().Str("engine_url", cfg.EngineURL).Msg("engine unreachable, service marked unhealthy")
			bc.Refresh()
			return
		}
		if err := cat.Load(ctx); err != nil {
			log.Error().Err(err).Msg("model catalog load failed")
		}
		bc.Refresh()
	}()

	go pool.Run(ctx)

	srv := &http.Server{Addr: cfg.Addr, Handler: httpapi.NewMux(server)}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown")
	}
	cancel()
	return nil
}

func newProvider(cfg config.Config, log zerolog.Logger) (gpu.Provider, error) {
	if cfg.FakeGPUs > 0 {
		log.Warn().Int("count", cfg.FakeGPUs).Msg("using synthetic GPU provider")
		return gpu.NewFake(cfg.FakeGPUs, 16000), nil
	}
	p, err := gpu.NewNVML()
	if err != nil {
		return nil, fmt.Errorf("init NVML: %w", err)
	}
	return p, nil
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stdout).Level(lvl).With().Timestamp().Logger()
}
