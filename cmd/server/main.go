package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/enrichman/httpgrace"

	"github.com/lbeltrame/go_lingo/internal/api/route"
	appctx "github.com/lbeltrame/go_lingo/internal/app"
	"github.com/lbeltrame/go_lingo/internal/cache"
	"github.com/lbeltrame/go_lingo/internal/config"
	"github.com/lbeltrame/go_lingo/internal/coordinator"
	"github.com/lbeltrame/go_lingo/internal/logger"
	"github.com/lbeltrame/go_lingo/internal/repository"
	"github.com/lbeltrame/go_lingo/internal/service"
)

func main() {
	// Local development convenience; missing .env files are fine.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.WithComponent("main").Fatalf("configuration error: %v", err)
	}

	// Set log level from configuration
	logLevel, err := logrus.ParseLevel(cfg.Misc.LogLevel)
	if err != nil {
		logger.WithComponent("main").Warnf("invalid log level '%s', using 'info': %v", cfg.Misc.LogLevel, err)
		logLevel = logrus.InfoLevel
	}
	logger.Logger.SetLevel(logLevel)
	logger.WithComponent("main").Debugf("log level set to: %s", logLevel.String())
	config.WatchLogLevel()

	logger.WithComponent("main").Infof("App will run on port: %d", cfg.Server.Port)

	repo, err := repository.NewFromConfig(context.Background(), cfg.Misc.Backend, repository.MongoOptions{
		URI:              cfg.Mongo.URI,
		Database:         cfg.Mongo.Database,
		MaxPoolSize:      cfg.Mongo.MaxPoolSize,
		MinPoolSize:      cfg.Mongo.MinPoolSize,
		ConnectTimeout:   cfg.Mongo.ConnectTimeout,
		SocketTimeout:    cfg.Mongo.SocketTimeout,
		SelectionTimeout: cfg.Mongo.SelectionTimeout,
	})
	if err != nil {
		logger.WithComponent("main").Fatalf("cannot init repository: %v", err)
	}

	store := cache.NewStore(cache.Options{
		MaxSize: cfg.Cache.MaxSize,
		TTL:     cfg.Cache.TTL,
	})
	coord := coordinator.New(repo, store, coordinator.NewRegistry(), coordinator.Options{
		SupportedLanguages: cfg.Lang.Supported,
		ReloadBatchSize:    cfg.Cache.ReloadBatchSize,
		ReloadBatchDelay:   cfg.Cache.ReloadBatchDelay,
	})
	svc := service.New(repo, store, coord, service.Options{
		DefaultLanguage:    cfg.Lang.Default,
		SupportedLanguages: cfg.Lang.Supported,
		DisplayNames:       cfg.Lang.DisplayNames,
	})

	app, err := appctx.New(cfg, repo, store, coord, svc)
	if err != nil {
		logger.WithComponent("main").Fatalf("cannot init app: %v", err)
	}
	defer app.Shutdown()
	defer func() {
		if err := repo.Close(context.Background()); err != nil {
			logger.WithComponent("main").Warnf("repository close: %v", err)
		}
	}()

	app.StartWatchers()

	gin.SetMode(cfg.Misc.GinMode)
	gin.DefaultWriter = logger.Logger.Writer()
	gin.DefaultErrorWriter = logger.Logger.Writer()

	r := route.SetupRoutes(app)
	srv := createGraceHttpServer(app.BaseCtx, "main-server", app.Config.Server, r)

	if err := srv.ListenAndServe(fmt.Sprintf(":%d", cfg.Server.Port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithComponent("main").Fatal(err)
	}
}

func createGraceHttpServer(ctx context.Context, name string, serverConfig config.ServerConfig, r *gin.Engine) *httpgrace.Server {
	slogLogger := slog.New(slog.NewTextHandler(logger.Logger.Writer(), nil))

	srv := httpgrace.NewServer(r,
		httpgrace.WithTimeout(serverConfig.ShutDownTimeout),
		httpgrace.WithSignals(syscall.SIGTERM, syscall.SIGINT),
		httpgrace.WithLogger(slogLogger),
		httpgrace.WithBeforeShutdown(func() {
			logger.WithComponent("http").Infof("Shutting down %s server....", name)
		}),
		httpgrace.WithServerOptions(
			httpgrace.WithReadTimeout(serverConfig.ReadTimeout),
			httpgrace.WithWriteTimeout(serverConfig.WriteTimeout),
			httpgrace.WithIdleTimeout(serverConfig.IdleTimeout),
			func(srv *http.Server) {
				srv.BaseContext = func(_ net.Listener) context.Context {
					return ctx
				}
			},
			func(srv *http.Server) {
				srv.ErrorLog = log.New(logger.Logger.Writer(), fmt.Sprintf("[%s] ", name), log.LstdFlags)
			},
		),
	)
	return srv
}
