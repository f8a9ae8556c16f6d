// Package kafka publishes lifecycle events to Kafka topics.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/JakeFAU/newshub-crawler/internal/publisher"
)

// Config names the brokers and the fallback topic.
type Config struct {
	Brokers []string
	Topic   string
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Publisher writes JSON messages keyed by job id.
type Publisher struct {
	writer       messageWriter
	defaultTopic string
	now          func() time.Time
}

// New builds a synchronous writer. The topic is set per message, so one
// writer serves every topic.
func New(cfg Config) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	writer := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.Brokers...),
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireOne,
	}
	return newWithWriter(writer, cfg.Topic), nil
}

func newWithWriter(writer messageWriter, topic string) *Publisher {
	return &Publisher{writer: writer, defaultTopic: topic, now: time.Now}
}

// Publish encodes payload and writes it to topic, or the configured topic
// when topic is empty.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if topic == "" {
		topic = p.defaultTopic
	}
	if topic == "" {
		return "", errors.New("kafka topic is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	key := publisher.KeyOf(payload)
	msg := kafkago.Message{
		Topic: topic,
		Value: data,
		Time:  p.now(),
	}
	if key != "" {
		msg.Key = []byte(key)
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return "", fmt.Errorf("write kafka message: %w", err)
	}
	return fmt.Sprintf("%s/%s@%d", topic, key, msg.Time.UnixNano()), nil
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("close kafka writer: %w", err)
	}
	return nil
}
