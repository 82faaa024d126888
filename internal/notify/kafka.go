package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaNotifier publishes match notifications to the dispatcher's topic.
// Fire-and-forget from the engine's point of view: a publish failure is
// surfaced to the caller but never retried here.
type KafkaNotifier struct {
	writer *kafka.Writer
	topic  string
}

func NewKafkaNotifier(brokers []string, topic string) *KafkaNotifier {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}

	return &KafkaNotifier{
		writer: writer,
		topic:  topic,
	}
}

func (n *KafkaNotifier) NotifyMatch(ctx context.Context, m MatchNotification) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal match notification: %w", err)
	}

	msg := kafka.Message{
		Topic: n.topic,
		Key:   []byte(m.EntryID.String()),
		Value: data,
		Time:  time.Now(),
	}

	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish match notification: %w", err)
	}
	return nil
}

func (n *KafkaNotifier) Close() error {
	if n.writer != nil {
		return n.writer.Close()
	}
	return nil
}
