package main

import (
	"context"
	"flag"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"stockhold/internal/pkg/bootstrap"
	"stockhold/internal/pkg/config"
	"stockhold/internal/pkg/mq"
	"stockhold/internal/pkg/zookeeper"
	"stockhold/internal/reservation/domain"
	"stockhold/internal/reservation/infrastructure"
)

const serviceName = "sync-scheduler"

// The scheduler periodically fans out one SyncRequest per page of products.
// Any number of replicas can run; ZooKeeper leader election ensures only
// one of them publishes per tick.
func main() {
	configPath := flag.String("config", "", "path to config file")
	port := flag.Int("port", 8081, "admin HTTP port")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	zkConn, err := zookeeper.Connect(cfg.Zookeeper.Servers, 10*time.Second)
	if err != nil {
		log.Fatal().Err(err).Msg("connect to zookeeper")
	}
	election, err := zookeeper.NewElection(zkConn, serviceName)
	if err != nil {
		log.Fatal().Err(err).Msg("prepare leader election")
	}

	db, err := infrastructure.OpenMySQL(cfg.MySQL.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("connect to mysql")
	}
	products := infrastructure.NewGormProductStore(db)

	publisher := infrastructure.NewSyncPublisher(mq.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.SyncTopic))

	go run(ctx, cfg, election, products, publisher)

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        *port,
		Config:      cfg,
		RegisterHandlers: func(mux *http.ServeMux) {
			// On-demand full sync, e.g. after a manual stock correction.
			mux.HandleFunc("/sync", func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					w.WriteHeader(http.StatusMethodNotAllowed)
					return
				}
				if err := publishTick(r.Context(), cfg, products, publisher); err != nil {
					log.Error().Err(err).Msg("on-demand sync failed")
					w.WriteHeader(http.StatusInternalServerError)
					return
				}
				w.WriteHeader(http.StatusAccepted)
			})
		},
		OnShutdown: []func(ctx context.Context) error{
			func(context.Context) error {
				cancel()
				if err := election.Resign(); err != nil {
					log.Warn().Err(err).Msg("resign leadership")
				}
				zkConn.Close()
				return publisher.Close()
			},
		},
	})
}

func run(ctx context.Context, cfg *config.Config, election *zookeeper.Election, products domain.ProductStore, publisher *infrastructure.SyncPublisher) {
	if err := election.Campaign(ctx); err != nil {
		if ctx.Err() == nil {
			log.Error().Err(err).Msg("leader election failed")
		}
		return
	}
	log.Info().Msg("acquired scheduler leadership")

	ticker := time.NewTicker(cfg.Scheduler.Period.Std())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := publishTick(ctx, cfg, products, publisher); err != nil {
				log.Error().Err(err).Msg("scheduled sync tick failed")
			}
		case <-ctx.Done():
			return
		}
	}
}

// publishTick computes ceil(totalProducts / batchSize) pages and publishes
// one SyncRequest per page. Requests expire at the next tick so a slow
// consumer does not pile up obsolete whole-catalog replays.
func publishTick(ctx context.Context, cfg *config.Config, products domain.ProductStore, publisher *infrastructure.SyncPublisher) error {
	total, err := products.Count(ctx)
	if err != nil {
		return err
	}
	if total == 0 {
		return nil
	}

	batchSize := cfg.Scheduler.BatchSize
	pages := int((total + int64(batchSize) - 1) / int64(batchSize))
	expiresAt := time.Now().Add(cfg.Scheduler.Period.Std())

	if err := publisher.PublishBatches(ctx, pages, batchSize, expiresAt); err != nil {
		return err
	}
	log.Info().Int("pages", pages).Int64("products", total).Msg("sync batches published")
	return nil
}
