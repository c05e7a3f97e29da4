package main

import (
	"context"
	"flag"
	"net/http"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"

	"stockhold/internal/lock"
	"stockhold/internal/pkg/bootstrap"
	"stockhold/internal/pkg/config"
	"stockhold/internal/pkg/mq"
	"stockhold/internal/pkg/redis"
	"stockhold/internal/reservation/application"
	"stockhold/internal/reservation/infrastructure"
)

const serviceName = "reservation-service"

func main() {
	configPath := flag.String("config", "", "path to config file")
	port := flag.Int("port", 8080, "admin HTTP port")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	redisClient, err := redis.NewClient(ctx, cfg.Redis.Addr)
	if err != nil {
		log.Fatal().Err(err).Msg("connect to redis")
	}

	lockManager, err := lock.NewRedisManager(redisClient)
	if err != nil {
		log.Fatal().Err(err).Msg("initialize lock manager")
	}

	db, err := infrastructure.OpenMySQL(cfg.MySQL.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("connect to mysql")
	}

	products := infrastructure.NewGormProductStore(db)
	reservations := infrastructure.NewRedisReservationStore(redisClient)
	availabilities := infrastructure.NewRedisAvailabilityStore(redisClient)

	tracer := otel.Tracer(serviceName)
	reconciler := application.NewReconciler(lockManager, products, reservations, availabilities, cfg.Handler.LockTTL.Std(), tracer)
	handler := application.NewHandler(lockManager, products, reservations, availabilities, reconciler, cfg.Handler.LockTTL.Std(), tracer)

	requestConsumer := infrastructure.NewReservationConsumer(
		mq.NewKafkaReader(cfg.Kafka.Brokers, cfg.Kafka.ReservationTopic, cfg.Kafka.GroupID),
		handler,
		cfg.Handler.ProcessingTimeout.Std(),
		cfg.Handler.RedeliveryDelay.Std(),
	)
	syncConsumer := infrastructure.NewSyncConsumer(
		mq.NewKafkaReader(cfg.Kafka.Brokers, cfg.Kafka.SyncTopic, cfg.Kafka.GroupID+"-sync"),
		reconciler,
		cfg.Scheduler.Period.Std(), // a whole page may legitimately take a while
		cfg.Handler.RedeliveryDelay.Std(),
	)
	requestConsumer.Start(ctx)
	syncConsumer.Start(ctx)

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        *port,
		Config:      cfg,
		RegisterHandlers: func(mux *http.ServeMux) {
			// Admin-only surface; request traffic arrives via Kafka.
		},
		OnShutdown: []func(ctx context.Context) error{
			func(context.Context) error {
				cancel()
				requestConsumer.Stop()
				syncConsumer.Stop()
				return nil
			},
			func(context.Context) error { return redisClient.Close() },
		},
	})
}
