package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	rediscommon "dialysis-ledger/common/redis"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// StreamPublisher appends change events to a Redis stream.
type StreamPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
	now    func() time.Time
}

func NewStreamPublisher(client *redis.Client, stream string, maxLen int64) *StreamPublisher {
	return &StreamPublisher{client: client, stream: stream, maxLen: maxLen, now: time.Now}
}

func (p *StreamPublisher) Publish(ctx context.Context, ev ChangeEvent) error {
	if ev.Timestamp == 0 {
		ev.Timestamp = p.now().UnixMilli()
	}
	_, err := rediscommon.PublishJSONToStream(ctx, p.client, p.stream, ev, p.maxLen)
	return err
}

// Consumer reads change events with a consumer group and hands each to handler.
// Messages are acked only after the handler succeeds.
type Consumer struct {
	redisClient  *redis.Client
	handler      Handler
	logger       *zap.Logger
	stream       string
	groupName    string
	consumerName string
	batchSize    int64
	block        time.Duration
}

func NewConsumer(
	redisClient *redis.Client,
	handler Handler,
	logger *zap.Logger,
	stream string,
	groupName string,
	consumerName string,
	batchSize int64,
) *Consumer {
	return &Consumer{
		redisClient:  redisClient,
		handler:      handler,
		logger:       logger,
		stream:       stream,
		groupName:    groupName,
		consumerName: consumerName,
		batchSize:    batchSize,
		block:        5 * time.Second,
	}
}

// Start blocks until ctx is done.
func (c *Consumer) Start(ctx context.Context) error {
	if err := rediscommon.CreateConsumerGroup(ctx, c.redisClient, c.stream, c.groupName); err != nil {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	c.logger.Info("Change consumer started",
		zap.String("stream", c.stream),
		zap.String("consumer_group", c.groupName),
		zap.String("consumer_name", c.consumerName),
	)

	backoffDuration := time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if _, err := c.ConsumeOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("Failed to consume change events",
				zap.Error(err),
				zap.Duration("backoff", backoffDuration),
			)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoffDuration):
				backoffDuration *= 2
				if backoffDuration > maxBackoff {
					backoffDuration = maxBackoff
				}
			}
			continue
		}
		backoffDuration = time.Second
	}
}

// ConsumeOnce retries this consumer's unacked events, then reads one batch of new ones.
// It returns how many events were handled and acked. Handler failures leave the event
// pending for the next pass and are reported as an error so Start backs off.
func (c *Consumer) ConsumeOnce(ctx context.Context) (int, error) {
	pending, err := rediscommon.ReadPending(ctx, c.redisClient, c.stream, c.groupName, c.consumerName, c.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to read pending events: %w", err)
	}
	handled, failed := c.handleAll(ctx, pending)

	fresh, err := rediscommon.ReadFromStream(ctx, c.redisClient, c.stream, c.groupName, c.consumerName, c.batchSize, c.block)
	if err != nil {
		return handled, fmt.Errorf("failed to read from stream: %w", err)
	}
	n, errs := c.handleAll(ctx, fresh)
	handled += n
	failed = append(failed, errs...)

	if len(failed) > 0 {
		return handled, fmt.Errorf("%d change events left pending: %w", len(failed), errors.Join(failed...))
	}
	return handled, nil
}

func (c *Consumer) handleAll(ctx context.Context, messages []rediscommon.StreamMessage) (int, []error) {
	handled := 0
	var failed []error
	for _, msg := range messages {
		ev, err := parseEvent(msg)
		if err != nil {
			// unparseable entries would be redelivered forever; ack and drop
			c.logger.Warn("Dropping malformed change event", zap.String("message_id", msg.ID), zap.Error(err))
			c.ack(ctx, msg.ID)
			continue
		}
		if err := c.handler.OnRecordChanged(ctx, *ev); err != nil {
			c.logger.Error("Failed to handle change event",
				zap.String("message_id", msg.ID),
				zap.String("patient_id", ev.PatientID),
				zap.Error(err),
			)
			failed = append(failed, err)
			continue
		}
		c.ack(ctx, msg.ID)
		handled++
	}
	return handled, failed
}

func (c *Consumer) ack(ctx context.Context, id string) {
	if err := rediscommon.Ack(ctx, c.redisClient, c.stream, c.groupName, id); err != nil {
		c.logger.Warn("Failed to ack message", zap.String("message_id", id), zap.Error(err))
	}
}

func parseEvent(msg rediscommon.StreamMessage) (*ChangeEvent, error) {
	data, ok := msg.Values["data"].(string)
	if !ok {
		return nil, fmt.Errorf("missing data field")
	}
	var ev ChangeEvent
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		return nil, err
	}
	if ev.PatientID == "" {
		return nil, fmt.Errorf("invalid event: missing patient_id")
	}
	return &ev, nil
}
