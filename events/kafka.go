package events

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/rustyeddy/tradeguard/pkg/logger"
)

type KafkaConfig struct {
	Brokers      []string      `json:"brokers" yaml:"brokers"`
	MaxAttempts  int           `json:"max_attempts" yaml:"max_attempts"`
	RetryBackoff time.Duration `json:"retry_backoff" yaml:"retry_backoff"`
	BatchTimeout time.Duration `json:"batch_timeout" yaml:"batch_timeout"`
}

// KafkaPublisher writes events to the topic named by Event.Topic, keyed by
// Event.Key so one account's events stay ordered on one partition.
type KafkaPublisher struct {
	writer *kafka.Writer
	log    *zap.Logger
}

func NewKafkaPublisher(cfg KafkaConfig, log *zap.Logger) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            cfg.MaxAttempts,
		WriteBackoffMin:        cfg.RetryBackoff,
		WriteBackoffMax:        cfg.RetryBackoff * 10,
		BatchTimeout:           cfg.BatchTimeout,
	}
	log = logger.OrNop(log)
	log.Info("kafka publisher created", zap.Strings("brokers", cfg.Brokers))
	return &KafkaPublisher{writer: w, log: log}
}

func (k *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	if err := k.writer.WriteMessages(ctx, message(e)); err != nil {
		k.log.Error("kafka write failed", zap.String("topic", e.Topic), zap.String("key", e.Key), zap.Error(err))
		return err
	}
	k.log.Debug("kafka message sent", zap.String("topic", e.Topic), zap.String("key", e.Key))
	return nil
}

func (k *KafkaPublisher) Close() error {
	return k.writer.Close()
}

func message(e Event) kafka.Message {
	return kafka.Message{
		Topic: e.Topic,
		Key:   []byte(e.Key),
		Value: e.Payload,
		Time:  e.At,
	}
}
