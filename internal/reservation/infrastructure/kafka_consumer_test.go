package infrastructure

import (
	"context"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"

	"stockhold/internal/reservation/domain"
)

// Stop races with the consume goroutine's shutdown check; the flag is
// atomic so this holds up under the race detector.
func TestConsumerStopWhileFetching(t *testing.T) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: []string{"localhost:1"},
		Topic:   "reservation-requests",
		GroupID: "test-group",
	})
	c := &Consumer{
		reader: reader,
		process: func(ctx context.Context, msg kafka.Message) (domain.Outcome, error) {
			return domain.Outcome{}, nil
		},
	}

	c.Start(context.Background())
	time.Sleep(10 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		c.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("consumer did not stop")
	}
	assert.True(t, c.stopped.Load())
}
