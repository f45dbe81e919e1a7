package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"admin-task-scheduler/internal/scheduler/events"
)

const (
	DefaultKafkaBrokers      = "localhost:9092"
	DefaultNotificationTopic = "task_notifications"

	writeTimeout = 10 * time.Second
)

// Producer is the subset of kafka.Writer the notification path uses; tests
// substitute a mock.
type Producer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewWriter builds the kafka writer for notification events from
// KAFKA_BROKERS and NOTIFICATION_TOPIC, with local defaults.
func NewWriter() *kafka.Writer {
	kafkaBrokers := os.Getenv("KAFKA_BROKERS")
	if kafkaBrokers == "" {
		kafkaBrokers = DefaultKafkaBrokers
	}
	topic := os.Getenv("NOTIFICATION_TOPIC")
	if topic == "" {
		topic = DefaultNotificationTopic
	}
	brokerList := strings.Split(kafkaBrokers, ",")
	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers:      brokerList,
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: int(kafka.RequireOne),
		Async:        false,
	})
	log.Printf("Notification Kafka producer configured for topic: %s", topic)
	return writer
}

// NotificationProducer publishes terminal-outcome events, keyed by task ID
// so one task's outcomes stay ordered within a partition.
type NotificationProducer struct {
	producer Producer
}

func NewNotificationProducer(p Producer) *NotificationProducer {
	return &NotificationProducer{producer: p}
}

func (n *NotificationProducer) Notify(ctx context.Context, payload events.TaskOutcomePayload) error {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal outcome payload for task %s: %w", payload.TaskID, err)
	}
	msg := kafka.Message{
		Key:   []byte(payload.TaskID),
		Value: payloadBytes,
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := n.producer.WriteMessages(writeCtx, msg); err != nil {
		return fmt.Errorf("failed to publish outcome for task %s: %w", payload.TaskID, err)
	}
	log.Printf("Published %s outcome for task %s (run %s)", payload.Status, payload.TaskID, payload.RunID)
	return nil
}

func (n *NotificationProducer) Close() error {
	return n.producer.Close()
}
