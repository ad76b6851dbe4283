package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"groupchat/internal/config"
	"groupchat/internal/db"
	"groupchat/internal/events"
	clog "groupchat/internal/log"
	"groupchat/internal/push"
	"groupchat/internal/store/pgstore"
	"groupchat/internal/tracing"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// pushworker 消费 messages.new 事件并通过 FCM 通知房间成员。
func main() {
	cfg := config.Load()
	clog.Init(cfg.Env, cfg.LogLevel, "groupchat-pushworker")
	if err := config.Validate(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}
	if cfg.KafkaBrokers == "" {
		log.Fatal().Msg("KAFKA_BROKERS is required for the push worker")
	}
	if cfg.StoreDriver == "memory" {
		log.Fatal().Msg("the push worker needs the shared postgres store")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg.OTLPEndpoint, "groupchat-pushworker", cfg.Env)
	if err != nil {
		log.Fatal().Err(err).Msg("tracing init")
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	gdb, err := db.Connect(ctx, cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	st := pgstore.New(gdb)

	fcm, err := push.NewFCMSender(ctx, cfg.FCMCredentialsFile)
	if err != nil {
		log.Fatal().Err(err).Msg("fcm init")
	}
	sender := push.NewBreakerSender(fcm, push.DefaultBreakerConfig())

	var dedupe push.Deduper
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		dedupe = push.NewRedisDeduper(rdb, push.DedupeTTL)
	} else {
		log.Warn().Msg("REDIS_ADDR not set; push dedupe is per-process")
		dedupe = push.NewMemoryDeduper(push.DedupeTTL)
	}

	dispatcher := push.NewDispatcher(st, sender, dedupe)
	consumer := events.NewConsumer(cfg.KafkaBrokers, cfg.KafkaGroupID, cfg.KafkaTopic, dispatcher.Handle)
	defer consumer.Close()

	sup := push.NewSupervisor("pushworker")
	sup.Add(consumer)
	sup.Add(push.NewHTTPService(":" + cfg.MetricsPort))

	log.Info().Str("topic", cfg.KafkaTopic).Str("group", cfg.KafkaGroupID).Msg("push worker started")
	if err := sup.Serve(ctx); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("supervisor stopped")
	}
	log.Info().Msg("push worker stopped")
}
