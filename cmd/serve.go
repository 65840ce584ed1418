package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"todoless/api"
	"todoless/config"
	"todoless/notify"
	"todoless/storage"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	var (
		port  string
		debug bool
	)
	c := &cobra.Command{
		Use:   "serve",
		Short: "Run the REST and event stream server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			if cmd.Flags().Changed("debug") {
				cfg.Debug = debug
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, newLogger(cfg))
		},
	}
	c.Flags().StringVar(&port, "port", config.DefaultPort, "HTTP listen port")
	c.Flags().BoolVar(&debug, "debug", false, "enable debug logging")
	return c
}

func serve(ctx context.Context, cfg *config.Config, logger *log.Logger) error {
	store, err := storage.Open(ctx, storageOptions(cfg))
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer store.Close()

	var (
		backend storage.Backend = store
		rc      *redis.Client
	)
	if cfg.Redis.ConnectionString != "" {
		rc = redis.NewClient(redisOptions(cfg.Redis.ConnectionString))
		defer rc.Close()
		backend = storage.NewCache(store, rc, cfg.Redis.LabelCacheTTL.Duration, logger)
	}

	auth, closeAuth, err := newAuth(cfg.Auth)
	if err != nil {
		return err
	}
	defer closeAuth()

	hub := notify.NewHub(logger,
		notify.WithMetrics(notify.NewMetrics(prometheus.DefaultRegisterer)),
		notify.WithOutboxSize(cfg.Stream.OutboxSize),
	)
	var relay *notify.Relay
	if rc != nil {
		relay = notify.NewRelay(rc, cfg.Redis.Channel, hub, logger)
	}
	if cfg.Storage.ExportQueue != "" {
		exporter, err := storage.NewQueueExporter(cfg.Storage.ConnectionString, cfg.Storage.ExportQueue)
		if err != nil {
			return fmt.Errorf("export queue: %w", err)
		}
		hub.AddForwarder(exporter)
	}

	var deduper api.Deduper
	if rc != nil {
		deduper = api.NewRedisDeduper(rc, cfg.Redis.DeduperTTL.Duration)
	} else {
		deduper = api.NewMemoryDeduper(cfg.Redis.DeduperTTL.Duration)
	}

	e := newEcho(cfg)
	api.Register(e, backend, auth, hub, logger, api.Options{
		Deduper:      deduper,
		StreamBuffer: cfg.Stream.BufferSize,
	})

	g, gctx := errgroup.WithContext(ctx)
	// Open streams end with the server context instead of holding up Shutdown.
	e.Server.BaseContext = func(net.Listener) context.Context { return gctx }

	g.Go(func() error {
		logger.WithFields(log.Fields{"addr": cfg.ListenAddr(), "driver": cfg.Storage.Driver}).Info("todoless listening")
		if err := e.Start(cfg.ListenAddr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := e.Shutdown(sctx); err != nil {
			logger.WithError(err).Warn("graceful shutdown failed")
			return e.Close()
		}
		return nil
	})
	g.Go(func() error { return hub.RunForwarders(gctx) })
	g.Go(func() error { return hub.RunHeartbeats(gctx, cfg.Stream.HeartbeatInterval.Duration) })
	if relay != nil {
		g.Go(func() error { return relay.Run(gctx) })
	}

	err = g.Wait()
	logger.Info("todoless stopped")
	return err
}

func newEcho(cfg *config.Config) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.HTTP.AllowOrigins,
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, api.IdempotencyHeader},
	}))
	e.Use(middleware.BodyLimit(cfg.HTTP.BodyLimit))
	e.Use(middleware.Decompress())
	e.Use(echoprometheus.NewMiddleware("todoless"))
	e.GET("/metrics", echoprometheus.NewHandler())
	return e
}

func storageOptions(cfg *config.Config) storage.Options {
	return storage.Options{
		Driver:           cfg.Storage.Driver,
		SQLitePath:       cfg.Storage.SQLitePath,
		ConnectionString: cfg.Storage.ConnectionString,
		Tables:           storage.TableNames(cfg.Storage.Tables),
	}
}

// newAuth builds the token validator. Auth0 mode fetches the JWKS and keeps
// refreshing it in the background until the returned func is called.
func newAuth(cfg config.Auth) (*api.Auth, func(), error) {
	if cfg.Local() {
		return api.NewAuth(api.AuthConfig{
			Audience:    cfg.Audience,
			LocalSecret: []byte(cfg.SharedSecret),
		}), func() {}, nil
	}
	jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", cfg.Domain)
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{
		RefreshInterval:   time.Hour,
		RefreshUnknownKID: true,
		RefreshErrorHandler: func(err error) {
			log.WithError(err).Warn("jwks refresh failed")
		},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("jwks: %w", err)
	}
	auth := api.NewAuth(api.AuthConfig{
		JWKS:        jwks,
		Audience:    cfg.Audience,
		Issuer:      "https://" + cfg.Domain + "/",
		KeyCacheTTL: cfg.JWKSCacheTTL.Duration,
	})
	return auth, jwks.EndBackground, nil
}
