package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/goclaw/recall/pkg/memory"
)

// KafkaConfig configures a KafkaConsumer.
type KafkaConfig struct {
	Brokers       []string
	Topic         string
	ConsumerGroup string
	MinBytes      int
	MaxBytes      int
	MaxWait       time.Duration
}

// messageReader is the subset of *kafka.Reader the consumer uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConsumer reads notifications from a topic and applies them in
// partition order. A message whose apply fails transiently is retried before
// the next one is read; its offset is committed once applied, or once it is
// found malformed.
type KafkaConsumer struct {
	reader  messageReader
	applier *Applier
	logger  memory.Logger
	backoff time.Duration
}

// NewKafkaConsumer creates a consumer for cfg.Topic.
func NewKafkaConsumer(cfg KafkaConfig, applier *Applier, logger memory.Logger) (*KafkaConsumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("notify: at least one kafka broker is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("notify: kafka topic is required")
	}
	if cfg.MinBytes <= 0 {
		cfg.MinBytes = 1e3
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 10e6
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     cfg.ConsumerGroup,
		MinBytes:    cfg.MinBytes,
		MaxBytes:    cfg.MaxBytes,
		MaxWait:     cfg.MaxWait,
		StartOffset: kafka.FirstOffset,
	})
	return newKafkaConsumer(r, applier, logger), nil
}

func newKafkaConsumer(reader messageReader, applier *Applier, logger memory.Logger) *KafkaConsumer {
	if logger == nil {
		logger = nopLogger{}
	}
	return &KafkaConsumer{
		reader:  reader,
		applier: applier,
		logger:  logger,
		backoff: time.Second,
	}
}

// Start consumes until ctx is cancelled, then closes the reader.
func (c *KafkaConsumer) Start(ctx context.Context) error {
	c.logger.Info("notification consumer started")
	defer func() {
		if err := c.reader.Close(); err != nil {
			c.logger.Warn("failed to close kafka reader", "error", err)
		}
	}()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("notification consumer stopping", "reason", ctx.Err())
				return nil
			}
			c.logger.Error("failed to fetch message", "error", err)
			if !c.sleep(ctx) {
				return nil
			}
			continue
		}

		c.logger.Debug("notification received",
			"partition", msg.Partition,
			"offset", msg.Offset,
			"key", string(msg.Key),
		)
		if !c.apply(ctx, msg) {
			return nil
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Error("failed to commit message",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
		}
	}
}

// apply retries transient failures of one message until it is applied or
// dropped as malformed. It returns false when ctx ends first.
func (c *KafkaConsumer) apply(ctx context.Context, msg kafka.Message) bool {
	for {
		err := c.applier.Handle(ctx, msg.Value)
		if err == nil {
			return true
		}
		if IsPermanent(err) {
			c.logger.Warn("dropping malformed notification",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		c.logger.Error("failed to apply notification",
			"partition", msg.Partition,
			"offset", msg.Offset,
			"error", err,
		)
		if !c.sleep(ctx) {
			return false
		}
	}
}

func (c *KafkaConsumer) sleep(ctx context.Context) bool {
	timer := time.NewTimer(c.backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
