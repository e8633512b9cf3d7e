// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/affirm/sessioncore/internal/api"
	"github.com/affirm/sessioncore/internal/api/middleware"
	"github.com/affirm/sessioncore/internal/blobstore"
	"github.com/affirm/sessioncore/internal/cache"
	"github.com/affirm/sessioncore/internal/config"
	"github.com/affirm/sessioncore/internal/genlog"
	"github.com/affirm/sessioncore/internal/library"
	"github.com/affirm/sessioncore/internal/llmclient"
	xglog "github.com/affirm/sessioncore/internal/log"
	"github.com/affirm/sessioncore/internal/matcher"
	"github.com/affirm/sessioncore/internal/persistence/sqlite"
	"github.com/affirm/sessioncore/internal/pipeline"
	"github.com/affirm/sessioncore/internal/ratelimit"
	"github.com/affirm/sessioncore/internal/session"
	"github.com/affirm/sessioncore/internal/subscription"
	"github.com/affirm/sessioncore/internal/tts"
)

var (
	version = "v0.1.0"
	commit  = "none"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("sessiond %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	xglog.Configure(xglog.Config{Level: "info", Service: "sessioncore", Version: version})
	logger := xglog.WithComponent("sessiond")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.NewLoader(*configPath).Load()
	if err != nil {
		logger.Fatal().Err(err).Str("event", "config.load_failed").Msg("failed to load configuration")
	}
	xglog.Configure(xglog.Config{Level: cfg.LogLevel, Service: "sessioncore", Version: version})
	logger.Info().Str("event", "config.loaded").Int("port", cfg.Port).Msg("configuration loaded")

	db, err := sqlite.Open(cfg.DBPath, sqlite.DefaultConfig())
	if err != nil {
		logger.Fatal().Err(err).Str("event", "db.open_failed").Str("path", cfg.DBPath).Msg("failed to open database")
	}
	defer db.Close()

	if err := migrateAll(ctx, db); err != nil {
		logger.Fatal().Err(err).Str("event", "db.migrate_failed").Msg("failed to run schema migrations")
	}

	libStore := library.New(db)
	sessStore := session.NewStore(db)
	prefStore := session.NewPreferencesStore(db)
	defaults := session.NewDefaultCatalog()
	quota := subscription.New(db)
	logs := genlog.New(db, libStore)

	egress := ratelimit.NewEgressLimiter(ratelimit.DefaultEgressConfig())
	group := &singleflight.Group{}

	var ttsCache cache.Store
	if cfg.HasKV() {
		redisCache, err := cache.NewRedisCache(cache.RedisConfig{Addr: cfg.KV.Addr, Password: cfg.KV.Password, DB: cfg.KV.DB}, xglog.WithComponent("cache"))
		if err != nil {
			logger.Warn().Err(err).Str("event", "cache.redis_connect_failed").Msg("failed to connect to redis, using in-process cache only")
			ttsCache = cache.NewMemoryCache(5 * time.Minute)
		} else {
			ttsCache = redisCache
			logger.Info().Str("event", "cache.redis_enabled").Msg("using redis-backed cache tier")
		}
	} else {
		ttsCache = cache.NewMemoryCache(5 * time.Minute)
		logger.Warn().Str("event", "cache.memory_only").Msg("no redis configured, using in-process cache only")
	}
	kv := cache.NewKVCache(ttsCache, group)
	cachedLibrary := library.NewCachedStore(libStore, kv)

	var generator matcher.Generator
	if cfg.HasLLM() {
		llmCfg := llmclient.DefaultConfig()
		llmCfg.APIKey, llmCfg.BaseURL, llmCfg.Model = cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.Model
		llmCfg.Timeout = config.RequestTimeout
		generator = llmclient.New(llmCfg, egress)
		logger.Info().Str("event", "llm.enabled").Msg("generation path enabled")
	} else {
		logger.Warn().Str("event", "llm.disabled").Msg("no LLM API key configured, generation falls back to pooled/fallback lines")
	}
	m := matcher.New(cachedLibrary, generator)

	blobDir := cfg.Storage.LocalDir
	if blobDir == "" {
		blobDir = "data/audio"
	}
	blobs, err := blobstore.NewLocalStore(blobDir, cfg.BaseURL+"/audio")
	if err != nil {
		logger.Fatal().Err(err).Str("event", "blobstore.init_failed").Msg("failed to initialize blob store")
	}
	if cfg.HasObjectStorage() {
		logger.Warn().Str("event", "blobstore.object_storage_unavailable").
			Msg("object storage bucket configured but no object-storage client is wired; persisting audio to local disk")
	}

	var provider tts.Provider
	if cfg.HasTTS() {
		provider = tts.NewHTTPProvider(tts.HTTPProviderConfig{APIKey: cfg.TTS.APIKey, BaseURL: cfg.TTS.BaseURL, Timeout: config.RequestTimeout})
		logger.Info().Str("event", "tts.enabled").Msg("materialization path enabled")
	} else {
		logger.Warn().Str("event", "tts.disabled").Msg("no TTS API key configured, materialize calls will fail and playlists surface silent segments")
		provider = tts.NewHTTPProvider(tts.HTTPProviderConfig{})
	}
	materializer := tts.New(libStore, blobs, provider, egress, group)

	assembler := session.New(sessStore, prefStore, libStore, m, materializer, defaults)
	rateLimiter := ratelimit.NewMemoryWindowLimiter()
	orchestrator := pipeline.New(rateLimiter, quota, assembler, logs)

	handler := api.New(orchestrator, sessStore, prefStore, defaults, quota, logs)
	router := api.NewRouter(middleware.StackConfig{
		EnableCORS:            true,
		AllowedOrigins:        []string{"*"},
		EnableSecurityHeaders: true,
		EnableMetrics:         true,
		EnableLogging:         true,
		EnableRateLimit:       true,
		RateLimitEnabled:      true,
		RateLimitGlobalRPS:    50,
		RateLimitBurst:        100,
	}, handler)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("event", "server.start").Int("port", cfg.Port).Msg("sessiond listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Str("event", "server.failed").Msg("http server exited unexpectedly")
		}
	}()

	<-ctx.Done()
	logger.Info().Str("event", "server.shutdown").Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Str("event", "server.shutdown_failed").Msg("graceful shutdown failed")
	}
	logger.Info().Str("event", "server.exit").Msg("sessiond exiting")
}
