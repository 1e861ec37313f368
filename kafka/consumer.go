package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"callpipe/logger"
	"callpipe/metrics"
)

// Handler processes one message payload.
type Handler func(ctx context.Context, payload []byte) error

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type deadLetterWriter interface {
	PublishDeadLetter(ctx context.Context, msg kafka.Message, stage string, cause error) error
}

// Consumer drives one pipeline stage from a topic through a consumer group.
type Consumer struct {
	reader messageReader
	dlq    deadLetterWriter
	stage  string
	handle Handler
}

// NewConsumer joins groupID on topic. dlq may be nil, in which case failing
// messages are logged and committed.
func NewConsumer(s Settings, topic, groupID, stage string, dlq *Producer, h Handler) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  s.Brokers,
		GroupID:  groupID,
		Topic:    topic,
		Dialer:   s.Dialer,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
		MaxWait:  time.Second,
	})
	c := &Consumer{reader: r, stage: stage, handle: h}
	// keep c.dlq a nil interface when no producer is given
	if dlq != nil {
		c.dlq = dlq
	}
	return c
}

// Run consumes until ctx is cancelled. Each message is committed after its
// handler returns; failures go to the dead-letter topic first.
func (c *Consumer) Run(ctx context.Context) error {
	logger.Info("starting stage consumer", logger.FieldKV("stage", c.stage))
	defer func() {
		if err := c.reader.Close(); err != nil {
			logger.Error("failed to close kafka reader", err, logger.FieldKV("stage", c.stage))
		}
	}()

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%s fetch: %w", c.stage, err)
		}
		logger.Debug("message read from kafka",
			logger.FieldKV("stage", c.stage),
			logger.FieldKV("partition", m.Partition),
			logger.FieldKV("offset", m.Offset))

		if herr := c.handle(ctx, m.Value); herr != nil {
			if ctx.Err() != nil {
				// shutting down; leave uncommitted for redelivery
				return nil
			}
			logger.Error("stage handler failed", herr,
				logger.FieldKV("stage", c.stage),
				logger.FieldKV("key", string(m.Key)),
				logger.FieldKV("offset", m.Offset))
			if c.dlq != nil {
				if derr := c.dlq.PublishDeadLetter(ctx, m, c.stage, herr); derr != nil {
					return fmt.Errorf("%s dead-letter: %w", c.stage, derr)
				}
				metrics.IncDLQWrite(c.stage)
			} else {
				logger.Warn("no dead-letter topic, dropping failed message",
					logger.FieldKV("stage", c.stage),
					logger.FieldKV("offset", m.Offset))
			}
		}

		if err := c.reader.CommitMessages(ctx, m); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%s commit: %w", c.stage, err)
		}
	}
}

// Ping dials the first broker.
func Ping(ctx context.Context, s Settings) error {
	if len(s.Brokers) == 0 {
		return fmt.Errorf("no kafka brokers configured")
	}
	dialer := s.Dialer
	if dialer == nil {
		dialer = kafka.DefaultDialer
	}
	conn, err := dialer.DialContext(ctx, "tcp", s.Brokers[0])
	if err != nil {
		return err
	}
	return conn.Close()
}
