// Command filecached boots the file cache service: it loads the type
// registry from a TOML bootstrap file, reconciles the on-disk tree,
// wires the external API adapter, and starts the maintenance scheduler.
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ndcache/filecache/adapter"
	"github.com/ndcache/filecache/adapter/copier"
	httpadapter "github.com/ndcache/filecache/adapter/http"
	"github.com/ndcache/filecache/cache"
	"github.com/ndcache/filecache/config"
)

func main() {
	var (
		configPath     = flag.String("config", "filecache.toml", "path to the bootstrap TOML file")
		addr           = flag.String("addr", "", "listen address override, e.g. :8089")
		idleShutdown   = flag.Bool("idle-shutdown", false, "exit once the cache is empty and has no live subscriptions")
		maxConcurrency = flag.Int("copy-concurrency", 4, "maximum concurrent CopyCacheObject transfers")
	)
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *configPath).Msg("loading bootstrap file")
	}
	if *addr != "" {
		cfg.ListenAddr = *addr
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8089"
	}

	log.Info().Str("cacheRoot", cfg.CacheRoot).Msg("starting file cache service")

	set, err := cache.NewSet(cfg.CacheRoot, clock.New())
	if err != nil {
		log.Fatal().Err(err).Msg("creating cache set")
	}
	if err := cfg.DefineTypes(set); err != nil {
		log.Fatal().Err(err).Msg("registering configured types")
	}

	// ServiceApp::ServiceApp's constructor sequence: reconcile from disk,
	// then purge, before any request is accepted.
	if err := set.WalkDirTree(); err != nil {
		log.Fatal().Err(err).Msg("walking cache directory tree")
	}
	set.CleanupAtStartup()

	if cfg.CopyDestDir != "" {
		if err := os.MkdirAll(cfg.CopyDestDir, 0755); err != nil {
			log.Fatal().Err(err).Str("dir", cfg.CopyDestDir).Msg("creating default copy destination")
		}
	}

	cp := copier.New(copier.Options{MaxConcurrent: *maxConcurrency})
	defer cp.Close()

	sandbox := adapter.SandboxChecker(nil)
	if cfg.CopyDestDir != "" {
		sandbox = newConfiguredSandbox(cfg)
	}

	engine := adapter.NewEngine(set, sandbox, cp, cfg.CopyDestDir)

	sched := cache.NewScheduler(set, clock.New())
	sched.Start()
	defer sched.Stop()

	if *idleShutdown {
		go watchIdleShutdown(set)
	}

	srv := &httpadapter.Server{Addr: cfg.ListenAddr, Engine: engine}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("shutting down")
		srv.Stop()
	}()

	if err := srv.Run(); err != nil {
		log.Fatal().Err(err).Msg("serving")
	}
}

// watchIdleShutdown implements the idle-powerdown behavior
// original_source/src/FileCacheServiceApp.cpp shows: once the cache is
// empty and has no live subscriptions, exit the process. Polled on the
// same cadence as the maintenance scheduler's short interval.
func watchIdleShutdown(set *cache.Set) {
	ticker := clock.New().Ticker(cache.WorkerInterval)
	defer ticker.Stop()
	for range ticker.C {
		status := set.GetCacheStatus()
		if status.NumObjs == 0 && status.TotalSize == 0 {
			log.Info().Msg("cache empty and idle, shutting down")
			os.Exit(0)
		}
	}
}

func newConfiguredSandbox(cfg config.File) adapter.SandboxChecker {
	return adapter.NewPrefixSandbox([]string{cfg.CopyDestDir})
}
