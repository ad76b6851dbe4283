package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"groupchat/internal/authz"
	"groupchat/internal/config"
	"groupchat/internal/db"
	"groupchat/internal/events"
	clog "groupchat/internal/log"
	"groupchat/internal/server"
	"groupchat/internal/service"
	"groupchat/internal/store"
	"groupchat/internal/store/memstore"
	"groupchat/internal/store/pgstore"
	"groupchat/internal/tracing"
	"groupchat/internal/ws"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	// main 函数负责加载配置、初始化日志与存储，然后启动 HTTP 服务。
	cfg := config.Load()
	clog.Init(cfg.Env, cfg.LogLevel, "groupchat-api")
	if err := config.Validate(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg.OTLPEndpoint, "groupchat-api", cfg.Env)
	if err != nil {
		log.Fatal().Err(err).Msg("tracing init")
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("open store")
	}
	guard, err := authz.NewGuard(st)
	if err != nil {
		log.Fatal().Err(err).Msg("load authz policy")
	}

	var pub service.MessagePublisher = events.NopPublisher{}
	if cfg.KafkaBrokers != "" {
		p := events.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer p.Close()
		pub = p
		log.Info().Str("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("publishing message events")
	}

	hub := ws.NewHub()
	r := server.SetupRouter(cfg, server.Deps{Store: st, Guard: guard, Hub: hub, Publisher: pub})
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           otelhttp.NewHandler(r, "http.server"),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("store", cfg.StoreDriver).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server run")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown")
	}
	if err := shutdownTracing(shCtx); err != nil {
		log.Error().Err(err).Msg("tracing shutdown")
	}
}

func openStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	if cfg.StoreDriver == "memory" {
		log.Warn().Msg("using in-memory store; data is lost on restart")
		return memstore.New(), nil
	}
	gdb, err := db.Connect(ctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(gdb); err != nil {
		return nil, err
	}
	return pgstore.New(gdb), nil
}
