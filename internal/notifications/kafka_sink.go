package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

// NewKafkaProducerConfig waits for all in-sync replicas and retries transient broker errors.
func NewKafkaProducerConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Version = sarama.V2_6_0_0
	return config
}

// KafkaSink writes notification events to a Kafka topic keyed by order id, so every
// notification for one order lands on the same partition in order.
type KafkaSink struct {
	producer sarama.SyncProducer
	topic    string
	logger   *zap.Logger
}

// NewKafkaSink dials brokers with NewKafkaProducerConfig.
func NewKafkaSink(brokers []string, topic string, logger *zap.Logger) (*KafkaSink, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka notification sink: brokers are required")
	}
	producer, err := sarama.NewSyncProducer(brokers, NewKafkaProducerConfig())
	if err != nil {
		return nil, fmt.Errorf("kafka notification sink: %w", err)
	}
	return NewKafkaSinkWithProducer(producer, topic, logger)
}

func NewKafkaSinkWithProducer(producer sarama.SyncProducer, topic string, logger *zap.Logger) (*KafkaSink, error) {
	if producer == nil {
		return nil, errors.New("kafka notification sink: producer is required")
	}
	if topic == "" {
		return nil, errors.New("kafka notification sink: topic is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaSink{producer: producer, topic: topic, logger: logger}, nil
}

func (k *KafkaSink) Name() string { return "kafka" }

// Deliver blocks until the broker acknowledges. SyncProducer has no per-call cancellation, so
// the send runs on its own goroutine and ctx only bounds how long Deliver waits for it.
func (k *KafkaSink) Deliver(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(event.OrderID),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("kind"), Value: []byte(event.Kind)},
		},
	}

	type sendResult struct {
		partition int32
		offset    int64
		err       error
	}
	done := make(chan sendResult, 1)
	go func() {
		partition, offset, err := k.producer.SendMessage(msg)
		done <- sendResult{partition: partition, offset: offset, err: err}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-done:
		if res.err != nil {
			return fmt.Errorf("send notification: %w", res.err)
		}
		k.logger.Debug("notification written to kafka",
			zap.String("topic", k.topic),
			zap.Int32("partition", res.partition),
			zap.Int64("offset", res.offset),
			zap.String("order_id", event.OrderID),
		)
		return nil
	}
}

func (k *KafkaSink) Close() error {
	return k.producer.Close()
}
