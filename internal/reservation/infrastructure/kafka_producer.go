package infrastructure

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"

	"stockhold/internal/pkg/mq"
	"stockhold/internal/reservation/domain"
)

// SyncPublisher fans out SyncRequest events, one per page of products.
type SyncPublisher struct {
	writer *kafka.Writer
}

func NewSyncPublisher(writer *kafka.Writer) *SyncPublisher {
	return &SyncPublisher{writer: writer}
}

// PublishBatches publishes one SyncRequest per page, keyed by batch number
// so pages spread across partitions. Publication is concurrent; the first
// failure cancels the rest.
func (p *SyncPublisher) PublishBatches(ctx context.Context, pages, batchSize int, expiresAt time.Time) error {
	g, ctx := errgroup.WithContext(ctx)
	for batch := 0; batch < pages; batch++ {
		batch := batch
		g.Go(func() error {
			req := domain.SyncRequest{
				BatchSize:   batchSize,
				BatchNumber: batch,
				ExpiresAt:   expiresAt,
			}
			value, err := json.Marshal(req)
			if err != nil {
				return errors.Wrap(err, "encode sync request")
			}
			key := []byte(strconv.Itoa(batch))
			return mq.ProduceMessage(ctx, p.writer, key, value)
		})
	}
	return g.Wait()
}

// Close flushes and closes the underlying writer.
func (p *SyncPublisher) Close() error {
	return p.writer.Close()
}
