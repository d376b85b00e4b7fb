package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"sfucore/internal/core/domain"
	"sfucore/internal/core/ports"
	"sfucore/pkg/batch"
)

// EventsChannel is the Redis pub/sub channel room events travel on.
const EventsChannel = "sfucore:events"

// Envelope is the wire form of a room event on the bus.
type Envelope struct {
	InstanceID  string           `json:"instance_id"`
	PublishedAt time.Time        `json:"published_at"`
	Event       domain.RoomEvent `json:"event"`
}

// EventBus fans room events out to other instances and operations tools.
// Publish never blocks on Redis: events are queued and flushed in
// pipelined batches.
type EventBus struct {
	client     redis.UniversalClient
	instanceID string
	logger     *zap.SugaredLogger
	channel    string
	batcher    *batch.Batcher

	// send writes one batch; replaced in tests.
	send func(ctx context.Context, payloads [][]byte) error
}

var _ ports.EventPublisher = (*EventBus)(nil)

type publishOp struct {
	payload []byte
}

func (op publishOp) Execute(context.Context) error { return nil }

func NewEventBus(
	client redis.UniversalClient,
	instanceID string,
	batchSize int,
	flushInterval time.Duration,
	logger *zap.SugaredLogger,
) *EventBus {
	eb := &EventBus{
		client:     client,
		instanceID: instanceID,
		logger:     logger,
		channel:    EventsChannel,
	}
	eb.send = eb.pipeline
	eb.batcher = batch.NewBatcher(batchSize, flushInterval, eb)
	return eb
}

// Publish queues event for the next flush.
func (eb *EventBus) Publish(ctx context.Context, event domain.RoomEvent) error {
	data, err := json.Marshal(Envelope{
		InstanceID:  eb.instanceID,
		PublishedAt: time.Now(),
		Event:       event,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return eb.batcher.Add(publishOp{payload: data})
}

// ProcessBatch implements batch.Processor.
func (eb *EventBus) ProcessBatch(ctx context.Context, ops []batch.Operation) error {
	payloads := make([][]byte, 0, len(ops))
	for _, op := range ops {
		if p, ok := op.(publishOp); ok {
			payloads = append(payloads, p.payload)
		}
	}
	if len(payloads) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := eb.send(ctx, payloads); err != nil {
		eb.logger.Warnw("failed to publish room events", "count", len(payloads), "error", err)
		return err
	}
	eb.logger.Debugw("published room events", "count", len(payloads))
	return nil
}

func (eb *EventBus) pipeline(ctx context.Context, payloads [][]byte) error {
	_, err := eb.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, p := range payloads {
			pipe.Publish(ctx, eb.channel, p)
		}
		return nil
	})
	return err
}

// Subscribe delivers bus events to handler until ctx ends. With skipOwn,
// events this instance published are ignored.
func (eb *EventBus) Subscribe(ctx context.Context, skipOwn bool, handler func(Envelope) error) error {
	pubsub := eb.client.Subscribe(ctx, eb.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", eb.channel, err)
	}
	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("subscription to %s closed", eb.channel)
			}
			env, err := DecodeEnvelope([]byte(msg.Payload))
			if err != nil {
				eb.logger.Warnw("failed to unmarshal event", "error", err, "payload", msg.Payload)
				continue
			}
			if skipOwn && env.InstanceID == eb.instanceID {
				continue
			}
			if err := handler(env); err != nil {
				eb.logger.Warnw("error handling event", "event", env.Event.Type, "error", err)
			}
		}
	}
}

func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, err
	}
	if env.Event.Type == "" {
		return Envelope{}, fmt.Errorf("event type missing")
	}
	return env, nil
}

// Close flushes queued events.
func (eb *EventBus) Close() error {
	eb.batcher.Stop()
	return nil
}
