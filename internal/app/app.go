package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/livefeed/internal/broadcast"
	"github.com/MrSnakeDoc/livefeed/internal/config"
	"github.com/MrSnakeDoc/livefeed/internal/httpserver"
	"github.com/MrSnakeDoc/livefeed/internal/httpserver/deps"
	"github.com/MrSnakeDoc/livefeed/internal/index"
	"github.com/MrSnakeDoc/livefeed/internal/logger"
	"github.com/MrSnakeDoc/livefeed/internal/redis"
	"github.com/MrSnakeDoc/livefeed/internal/scheduler"
	"github.com/MrSnakeDoc/livefeed/internal/sources/gtfsrt"
	redisstore "github.com/MrSnakeDoc/livefeed/internal/store/redis"
	"github.com/MrSnakeDoc/livefeed/internal/version"
)

type App struct {
	cfg         *config.Config
	logger      logger.Logger
	server      *httpserver.Server
	redisClient *goredis.Client
	refresher   *scheduler.FeedRefresher
	hub         *broadcast.Hub
}

func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	loggerClient := logger.New(cfg.LogLevel, cfg.PrettyLog)
	redacted := cfg.Redacted()
	loggerClient.Debugf("configuration: %+v", redacted)

	cache := index.NewSnapshotCache()

	// Redis is an optional mirror: without it the feed is simply fetched
	// from scratch on startup.
	var (
		redisClient *goredis.Client
		syncer      *scheduler.RedisSyncer
	)
	if cfg.RedisEnabled() {
		loggerClient.Infof("Connecting to Redis at %s", cfg.RedisAddr)
		redisClient, err = redis.New(context.Background(), redis.ConnectOptions{
			Addr:           cfg.RedisAddr,
			User:           cfg.RedisUser,
			Password:       cfg.RedisPassword,
			DB:             cfg.RedisDB,
			DialTimeout:    cfg.RedisDT,
			ReadTimeout:    cfg.RedisRT,
			WriteTimeout:   cfg.RedisWT,
			PoolSize:       cfg.RedisPoolSize,
			ConnectTimeout: cfg.RedisConnectTimeout,
			RetryInterval:  cfg.RedisRetryInterval,
			MaxWait:        cfg.RedisMaxWait,
			PingTimeout:    cfg.RedisPingTimeout,
		}, loggerClient)
		if err != nil {
			loggerClient.Warn("redis unavailable, snapshot mirror disabled", logger.Error(err))
			redisClient = nil
		} else {
			store := redisstore.NewStore(redisClient, cfg.FeedURL, cfg.SnapshotTTL)
			syncer = scheduler.NewRedisSyncer(store, cache, loggerClient)

			ctx, cancel := context.WithTimeout(context.Background(), cfg.RedisPingTimeout)
			if err := syncer.Sync(ctx); err != nil {
				loggerClient.Warn("failed to restore snapshot from redis, will fetch upstream",
					logger.Error(err))
			}
			cancel()
		}
	}

	reloadTrigger := make(chan struct{}, 1)
	refresher := scheduler.NewFeedRefresher(
		gtfsrt.NewFetcher(cfg.FeedURL, version.UserAgent()),
		gtfsrt.NewDecoder(),
		cache,
		loggerClient,
		scheduler.Options{
			Interval:     cfg.RefreshInterval,
			FetchTimeout: cfg.FetchTimeout,
			MaxBackoff:   cfg.MaxBackoff,
		},
		reloadTrigger,
	)

	hub := broadcast.NewHub(loggerClient)
	refresher.OnCommit(func(snap index.Snapshot) { hub.Broadcast(snap.Body) })
	if syncer != nil {
		refresher.OnCommit(syncer.Mirror)
	}

	d := deps.Deps{
		Logger:          loggerClient,
		StartTime:       time.Now(),
		Version:         version.Version,
		Commit:          version.Commit,
		BuildDate:       version.BuildDate,
		GoVersion:       version.GoVersion,
		TimeNow:         time.Now,
		AllowedHosts:    cfg.AllowedHosts,
		AllowedCIDRS:    cfg.AllowedCIDRS,
		TrustProxy:      cfg.TrustProxy,
		FeedURL:         cfg.FeedURL,
		RefreshInterval: cfg.RefreshInterval,
		StaleAfter:      cfg.StaleAfter,
		RequestTimeout:  cfg.RequestTimeout(),
		Cache:           cache,
		Refresher:       refresher,
		Hub:             hub,
		StaticDir:       staticDir(cfg.StaticDir, loggerClient),
	}

	return &App{
		cfg:         cfg,
		logger:      loggerClient,
		server:      httpserver.New(cfg.ListenPort, loggerClient, d),
		redisClient: redisClient,
		refresher:   refresher,
		hub:         hub,
	}, nil
}

// staticDir disables static serving when the directory does not exist.
func staticDir(dir string, log logger.Logger) string {
	if dir == "" {
		return ""
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		log.Info("static directory not found, map assets disabled", logger.String("dir", dir))
		return ""
	}
	return dir
}

func (a *App) Run() error {
	a.logger.Infof("🚀 Starting livefeed v%s on %s", version.Version, a.cfg.ListenPort)
	a.logger.Infof("livefeed %s (commit=%s, built=%s, go=%s)",
		version.Version, version.Commit, version.BuildDate, version.GoVersion)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Serve right away: until the first refresh lands, /positions answers
	// with an empty, stale snapshot.
	errCh := make(chan error, 1)
	go func() {
		if err := a.server.Start(); err != nil {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	if err := a.refresher.Start(ctx); err != nil && !errors.Is(err, scheduler.ErrStopped) {
		return fmt.Errorf("failed to start feed refresher: %w", err)
	}
	a.logger.Info("feed refresher started",
		logger.Duration("interval", a.cfg.RefreshInterval),
		logger.Duration("stale_after", a.cfg.StaleAfter),
		logger.Duration("max_backoff", a.cfg.MaxBackoff))

	select {
	case <-ctx.Done():
		a.logger.Info("⏳ Shutting down gracefully...")
	case err := <-errCh:
		a.refresher.Stop()
		a.hub.Close()
		return err
	}

	a.refresher.Stop()
	a.hub.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := a.server.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("failed to stop server: %w", err)
	}

	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warnf("failed to close redis: %v", err)
		} else {
			a.logger.Info("✅ Redis closed cleanly")
		}
	}

	a.logger.Info("✅ livefeed stopped cleanly")
	_ = a.logger.Sync()
	return nil
}
