package kafka

import (
	"context"
	"strconv"

	"github.com/segmentio/kafka-go"

	"callpipe/logger"
)

// Producer writes keyed messages to one topic. It implements pipeline.Publisher.
type Producer struct {
	w *kafka.Writer
}

func NewProducer(s Settings, topic string) *Producer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(s.Brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	if s.Transport != nil {
		w.Transport = s.Transport
	}
	return &Producer{w: w}
}

func (p *Producer) Topic() string { return p.w.Topic }

// Publish writes value keyed by key. Records of one call share a partition.
func (p *Producer) Publish(ctx context.Context, key string, value []byte) error {
	return p.w.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: value})
}

// PublishDeadLetter forwards a message a stage could not process.
func (p *Producer) PublishDeadLetter(ctx context.Context, msg kafka.Message, stage string, cause error) error {
	dead := deadLetter(msg, stage, cause)
	if err := p.w.WriteMessages(ctx, dead); err != nil {
		return err
	}
	logger.Info("message dead-lettered",
		logger.FieldKV("stage", stage),
		logger.FieldKV("topic", msg.Topic),
		logger.FieldKV("offset", msg.Offset))
	return nil
}

func deadLetter(msg kafka.Message, stage string, cause error) kafka.Message {
	reason := "unknown"
	if cause != nil {
		reason = cause.Error()
	}
	return kafka.Message{
		Key:   msg.Key,
		Value: msg.Value,
		Headers: []kafka.Header{
			{Key: "stage", Value: []byte(stage)},
			{Key: "reason", Value: []byte(reason)},
			{Key: "source_topic", Value: []byte(msg.Topic)},
			{Key: "source_partition", Value: []byte(strconv.Itoa(msg.Partition))},
			{Key: "source_offset", Value: []byte(strconv.FormatInt(msg.Offset, 10))},
		},
	}
}

func (p *Producer) Close() error { return p.w.Close() }
