package infrastructure

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"

	"stockhold/internal/pkg/mq"
	"stockhold/internal/reservation/domain"
)

// RequestHandler is the application-layer entry point for reservation
// requests.
type RequestHandler interface {
	Handle(ctx context.Context, req *domain.ReservationRequest) (domain.Outcome, error)
}

// SyncHandler is the application-layer entry point for batch sync requests.
type SyncHandler interface {
	HandleSyncRequest(ctx context.Context, req *domain.SyncRequest) (domain.Outcome, error)
}

// messageFunc processes one fetched message. The returned Outcome decides
// whether the message's offset is committed.
type messageFunc func(ctx context.Context, msg kafka.Message) (domain.Outcome, error)

// Consumer drives a handler from one Kafka topic with at-least-once
// semantics: the offset is committed only when the handler reports a
// committed outcome, so every other failure leads to redelivery.
type Consumer struct {
	reader          *kafka.Reader
	process         messageFunc
	redeliveryDelay time.Duration
	wg              sync.WaitGroup
	stopped         atomic.Bool
}

// NewReservationConsumer consumes reservation-request events.
func NewReservationConsumer(reader *kafka.Reader, handler RequestHandler, processingTimeout, redeliveryDelay time.Duration) *Consumer {
	return &Consumer{
		reader:          reader,
		redeliveryDelay: redeliveryDelay,
		process: func(ctx context.Context, msg kafka.Message) (domain.Outcome, error) {
			var req domain.ReservationRequest
			if err := json.Unmarshal(msg.Value, &req); err != nil {
				// Poison message: cannot succeed on redelivery either.
				log.Error().Err(err).Msg("malformed reservation request, dropping")
				return domain.Outcome{Committed: true}, nil
			}
			ctx, cancel := context.WithTimeout(ctx, processingTimeout)
			defer cancel()
			return handler.Handle(ctx, &req)
		},
	}
}

// NewSyncConsumer consumes batch sync-request events.
func NewSyncConsumer(reader *kafka.Reader, reconciler SyncHandler, processingTimeout, redeliveryDelay time.Duration) *Consumer {
	return &Consumer{
		reader:          reader,
		redeliveryDelay: redeliveryDelay,
		process: func(ctx context.Context, msg kafka.Message) (domain.Outcome, error) {
			var req domain.SyncRequest
			if err := json.Unmarshal(msg.Value, &req); err != nil {
				log.Error().Err(err).Msg("malformed sync request, dropping")
				return domain.Outcome{Committed: true}, nil
			}
			ctx, cancel := context.WithTimeout(ctx, processingTimeout)
			defer cancel()
			return reconciler.HandleSyncRequest(ctx, &req)
		},
	}
}

// Start begins the consume loop in a background goroutine.
func (c *Consumer) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		log.Info().Str("topic", c.reader.Config().Topic).Msg("kafka consumer started")
		for {
			if c.stopped.Load() {
				return
			}
			msg, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					log.Info().Str("topic", c.reader.Config().Topic).Msg("kafka consumer shutting down")
					return
				}
				log.Error().Err(err).Msg("fetch message failed, retrying")
				time.Sleep(time.Second)
				continue
			}
			c.handleMessage(ctx, msg)
		}
	}()
}

func (c *Consumer) handleMessage(parentCtx context.Context, msg kafka.Message) {
	propagator := otel.GetTextMapPropagator()
	carrier := mq.KafkaHeaderCarrier(msg.Headers)
	ctx := propagator.Extract(parentCtx, &carrier)

	outcome, err := c.process(ctx, msg)
	if err != nil && !outcome.Committed {
		// Leave the offset uncommitted: the message replays on the next
		// rebalance or restart. The pause keeps a persistently failing
		// partition from spinning.
		log.Error().Err(err).
			Str("topic", c.reader.Config().Topic).
			Int64("offset", msg.Offset).
			Msg("handler failed, message will be redelivered")
		time.Sleep(c.redeliveryDelay)
		return
	}

	if !outcome.Committed {
		return
	}
	if err := c.reader.CommitMessages(parentCtx, msg); err != nil {
		log.Error().Err(err).Msg("commit offset failed")
	}
}

// Stop drains the consume loop and closes the reader.
func (c *Consumer) Stop() {
	c.stopped.Store(true)
	c.reader.Close()
	c.wg.Wait()
	log.Info().Msg("kafka consumer stopped")
}
