package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"

	"saferoute/internal/api"
	"saferoute/pkg/apisession"
	"saferoute/pkg/auth"
	"saferoute/pkg/backend"
	"saferoute/pkg/cache"
	"saferoute/pkg/config"
	"saferoute/pkg/db"
	"saferoute/pkg/logging"
	"saferoute/pkg/probe"
	"saferoute/pkg/session"
	"saferoute/pkg/tracker"
	"saferoute/pkg/tts"
	"saferoute/pkg/tts/edgetts"
	"saferoute/pkg/version"
	"saferoute/pkg/voicer"
)

const defaultConfigPath = "configs/saferoute.yaml"

var initConfig = flag.Bool("init-config", false, "Generate default config file and exit")

func main() {
	flag.Parse()

	// Handle --init-config flag
	if *initConfig {
		if err := config.GenerateDefault(defaultConfigPath); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to generate config: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Config file generated: " + defaultConfigPath)
		return
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Failed to load .env: %v\n", err)
	}

	if err := run(context.Background(), defaultConfigPath); err != nil {
		fmt.Fprintf(os.Stderr, "CRITICAL ERROR: Application failed: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	appCfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	cleanupLogs, err := logging.Init(&appCfg.Log)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer cleanupLogs()

	tts.SetLogPath(filepath.Join(filepath.Dir(appCfg.Log.Server.Path), "tts.log"))

	slog.Info("SafeRoute Started", "version", version.Version, "backend", appCfg.Backend.Endpoint)

	tr := tracker.New()

	dbConn, respCache, err := initCache(appCfg)
	if err != nil {
		return err
	}
	var cacher cache.Cacher
	if dbConn != nil {
		defer dbConn.Close()
		cacher = respCache
		go runEvery(ctx, time.Hour, func() {
			if n, err := respCache.Prune(); err != nil {
				slog.Warn("Cache prune failed", "error", err)
			} else if n > 0 {
				slog.Info("Cache pruned", "entries", n)
			}
		})
	}

	client := backend.New(backend.Options{
		Endpoint:         appCfg.Backend.Endpoint,
		Timeout:          time.Duration(appCfg.Backend.Timeout),
		BypassHeader:     appCfg.Backend.BypassHeader,
		BypassValue:      appCfg.Backend.BypassValue,
		RequireNarrative: appCfg.Backend.RequireNarrative,
	}, cacher, tr)

	v := initVoicer(appCfg, tr)
	defer v.Close()

	provider := auth.NewMemory(bcrypt.DefaultCost)
	sessions := newSessionStore(ctx, appCfg, client, v)
	defer sessions.Close()
	go runEvery(ctx, time.Minute, func() {
		if n := sessions.Cleanup(); n > 0 {
			slog.Info("Idle sessions evicted", "count", n)
		}
	})

	stats := api.NewStatsHandler(tr, sessions.Len)
	results := probe.Run(ctx, startupProbes(appCfg, dbConn))
	stats.SetChecks(results)
	if err := probe.AnalyzeResults(results); err != nil {
		return fmt.Errorf("startup checks failed: %w", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(quit)

	srv := api.NewServer(appCfg.Server.Address,
		api.NewAuthHandler(provider, sessions),
		api.NewSessionHandler(provider, sessions),
		stats,
	)
	return runServerLifecycle(ctx, srv, quit)
}

// initCache opens the response cache database. Both results are nil when the
// cache is disabled.
func initCache(appCfg *config.Config) (*db.DB, *cache.SQLiteCache, error) {
	if !appCfg.Cache.Enabled {
		return nil, nil, nil
	}
	dbConn, err := db.Init(appCfg.Cache.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return dbConn, cache.NewSQLiteCache(dbConn, time.Duration(appCfg.Cache.TTL)), nil
}

// initVoicer returns nil when speech synthesis is disabled or unavailable;
// stories are then served without audio.
func initVoicer(appCfg *config.Config, tr *tracker.Tracker) *voicer.Voicer {
	switch appCfg.TTS.Engine {
	case config.EngineEdgeTTS:
		opts := edgetts.OptionsFromEnv()
		if err := opts.Validate(); err != nil {
			slog.Warn("Speech synthesis disabled", "engine", appCfg.TTS.Engine, "error", err)
			return nil
		}
		slog.Info("Speech synthesis enabled", "engine", appCfg.TTS.Engine, "voice", appCfg.TTS.Voice)
		return voicer.New(edgetts.NewProvider(opts, tr), appCfg.TTS.Voice, appCfg.TTS.MaxConcurrent)
	default:
		return nil
	}
}

func newSessionStore(ctx context.Context, appCfg *config.Config, analyzer session.Analyzer, v *voicer.Voicer) *apisession.Store[session.Machine] {
	store := apisession.New(time.Duration(appCfg.Session.IdleTTL), func(string) *session.Machine {
		// Tokens are credentials and never reach the logs.
		return session.NewMachine(analyzer, session.Options{
			ID:          uuid.NewString()[:8],
			Conditions:  appCfg.Analysis.Conditions(),
			Timeout:     time.Duration(appCfg.Backend.Timeout),
			BaseContext: ctx,
			OnStory:     v.Voice,
		})
	})
	store.OnEvict(func(_ string, m *session.Machine) { m.Close() })
	return store
}

func startupProbes(appCfg *config.Config, dbConn *db.DB) []probe.Probe {
	probes := []probe.Probe{
		{
			Name:    "Analysis Backend",
			Check:   probe.Endpoint(nil, appCfg.Backend.Endpoint),
			Timeout: 3 * time.Second,
		},
	}
	if dbConn != nil {
		probes = append(probes, probe.Probe{
			Name:     "Cache Database",
			Check:    probe.Database(dbConn),
			Critical: true,
		})
	}
	return probes
}

func runEvery(ctx context.Context, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

func runServerLifecycle(ctx context.Context, srv *http.Server, quit chan os.Signal) error {
	slog.Info("Starting server", "addr", srv.Addr)
	serverErrors := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- err
		}
	}()
	select {
	case <-quit:
		slog.Info("Shutting down server...")
	case <-ctx.Done():
		slog.Info("Context cancelled, shutting down...")
	case err := <-serverErrors:
		return fmt.Errorf("server failed: %w", err)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
