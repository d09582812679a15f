// Command glconnect-server exposes the GitLab proxy, the session Connect
// services and the store REST API over HTTP.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mscno/glconnect/pkg/config"
	"github.com/mscno/glconnect/pkg/gitlab"
	"github.com/mscno/glconnect/server"
	"github.com/mscno/glconnect/server/middleware"
	"golang.org/x/time/rate"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel()}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := cfg.OpenStore(ctx, logger)
	if err != nil {
		return err
	}
	defer st.Close()
	logger.Info("using store", "backend", cfg.Store.Backend)

	caller := gitlab.NewClient(gitlab.Config{BaseURL: cfg.GitLabBaseURL, Logger: logger})

	keyFunc := middleware.ClientIPKeyFunc
	if len(cfg.Server.TrustedProxies) > 0 {
		keyFunc = middleware.TrustedProxyKeyFunc(cfg.Server.TrustedProxies...)
	}
	limiter := middleware.NewRateLimiter(logger, keyFunc,
		rate.Limit(cfg.Server.RateLimit), cfg.Server.RateBurst,
		middleware.WithSkipper(middleware.SkipHealth))
	defer limiter.Stop()

	cs := server.NewConnectServer(logger)
	cs.Use(
		middleware.WithRecovery(logger),
		middleware.WithLogger(logger),
		middleware.WithCORS(logger, cfg.Server.CORSOrigins...),
		limiter.Limit,
	)
	server.Register(cs, server.NewServer(caller, logger), st)

	errc := make(chan error, 1)
	go func() {
		errc <- cs.ListenAndServe(cfg.Server.Addr)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return cs.Shutdown(shutdownCtx)
}

func logLevel() slog.Level {
	if os.Getenv("GLCONNECT_DEBUG") != "" {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}
