package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	kafkago "github.com/segmentio/kafka-go"
)

// Client publishes JSON messages to one Kafka topic and can consume it.
type Client struct {
	brokers []string
	topic   string
	writer  *kafkago.Writer
}

// ParseBrokers splits a comma separated broker list, dropping blanks.
func ParseBrokers(brokersCSV string) []string {
	brokers := []string{}
	for _, b := range strings.Split(brokersCSV, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// NewClient creates a writer for topic. Messages are hash-partitioned by key.
func NewClient(brokers []string, topic string) (*Client, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka: no brokers configured")
	}
	return &Client{
		brokers: brokers,
		topic:   topic,
		writer: &kafkago.Writer{
			Addr:         kafkago.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafkago.Hash{},
			RequiredAcks: kafkago.RequireOne,
		},
	}, nil
}

// PublishJSON writes payload under key. The routing key travels as a header.
func (c *Client) PublishJSON(ctx context.Context, routingKey, key string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("kafka: failed to marshal payload: %w", err)
	}
	return c.writer.WriteMessages(ctx, kafkago.Message{
		Key:     []byte(key),
		Value:   data,
		Time:    time.Now().UTC(),
		Headers: []kafkago.Header{{Key: "routing_key", Value: []byte(routingKey)}},
	})
}

// Close flushes and closes the writer.
func (c *Client) Close() error {
	return c.writer.Close()
}

// Retry delays for a message whose handler fails.
const (
	minRetryBackoff = 500 * time.Millisecond
	maxRetryBackoff = 30 * time.Second
)

// messageReader is the part of *kafkago.Reader the consumer loop uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Consume reads the topic as member of groupID until ctx is done. A message
// whose handler fails is retried with backoff and never skipped, so its
// offset is committed only once it has been handled.
func (c *Client) Consume(ctx context.Context, groupID string, logger *slog.Logger, handler func(ctx context.Context, payload []byte) error) {
	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers: c.brokers,
		Topic:   c.topic,
		GroupID: groupID,
	})
	consume(ctx, reader, c.topic, logger, handler, minRetryBackoff, maxRetryBackoff)
}

func consume(ctx context.Context, reader messageReader, topic string, logger *slog.Logger, handler func(ctx context.Context, payload []byte) error, minBackoff, maxBackoff time.Duration) {
	defer reader.Close()

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("consumer shutting down", "topic", topic)
				return
			}
			logger.Error("error reading message", "topic", topic, "error", err)
			continue
		}

		if !handleWithRetry(ctx, msg, topic, logger, handler, minBackoff, maxBackoff) {
			logger.Info("consumer shutting down", "topic", topic, "pending_offset", msg.Offset)
			return
		}
		if err := reader.CommitMessages(ctx, msg); err != nil {
			logger.Error("error committing offset", "topic", topic, "offset", msg.Offset, "error", err)
		}
	}
}

// handleWithRetry runs handler until it succeeds. It reports false if ctx
// ended first, leaving the message uncommitted.
func handleWithRetry(ctx context.Context, msg kafkago.Message, topic string, logger *slog.Logger, handler func(ctx context.Context, payload []byte) error, minBackoff, maxBackoff time.Duration) bool {
	wait := minBackoff
	for attempt := 1; ; attempt++ {
		err := handler(ctx, msg.Value)
		if err == nil {
			return true
		}
		logger.Error("error handling message", "topic", topic, "offset", msg.Offset, "attempt", attempt, "retry_in", wait, "error", err)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
		wait *= 2
		if wait > maxBackoff {
			wait = maxBackoff
		}
	}
}
