package queue

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaQueue carries mark events over a Kafka topic for deployments that
// already run a broker; semantics match the Redis backend.
type KafkaQueue struct {
	writer *kafka.Writer
	reader *kafka.Reader
}

// NewKafkaQueue builds a queue on one topic. brokers is comma-separated.
func NewKafkaQueue(brokers, topic, groupID string) *KafkaQueue {
	if topic == "" {
		topic = "classtrack.marks"
	}
	addrs := strings.Split(brokers, ",")
	return &KafkaQueue{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(addrs...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 50 * time.Millisecond,
		},
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  addrs,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1,
			MaxBytes: 1 << 20,
		}),
	}
}

// Publish enqueues a message with the type as key.
func (q *KafkaQueue) Publish(ctx context.Context, msg Message) error {
	return q.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.Type),
		Value: msg.Body,
	})
}

// Consume streams messages until the context ends.
func (q *KafkaQueue) Consume(ctx context.Context) (<-chan Message, error) {
	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			m, err := q.reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Printf("kafka read failed: %v", err)
				continue
			}
			out <- Message{Type: string(m.Key), Body: m.Value}
		}
	}()
	return out, nil
}

// Close releases the underlying connections.
func (q *KafkaQueue) Close() error {
	rerr := q.reader.Close()
	werr := q.writer.Close()
	if rerr != nil {
		return rerr
	}
	return werr
}
