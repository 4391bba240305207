package jobs

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/segmentio/kafka-go"
)

// EventWriter is the minimal interface the orchestrator needs from a Kafka
// producer; satisfied directly by *kafka.Writer.
type EventWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// EventPublisher emits job lifecycle events to a Kafka topic for downstream
// consumers (a dashboard, an activity feed). It is optional: a nil Writer
// makes Publish a no-op so ragd runs without Kafka configured.
type EventPublisher struct {
	Writer EventWriter
	Topic  string
}

// NewEventPublisher builds a Kafka-backed publisher from a comma-separated
// broker list, or returns a no-op publisher when brokers is empty.
func NewEventPublisher(brokers, topic string) *EventPublisher {
	brokers = strings.TrimSpace(brokers)
	if brokers == "" {
		return &EventPublisher{}
	}
	addrs := strings.Split(brokers, ",")
	for i, a := range addrs {
		addrs[i] = strings.TrimSpace(a)
	}
	w := &kafka.Writer{
		Addr:     kafka.TCP(addrs...),
		Balancer: &kafka.LeastBytes{},
	}
	return &EventPublisher{Writer: w, Topic: topic}
}

// JobEvent is the payload published for every terminal job transition.
type JobEvent struct {
	JobID   string         `json:"job_id"`
	JobType string         `json:"job_type"`
	Status  string         `json:"status"`
	Result  map[string]any `json:"result,omitempty"`
	Error   string         `json:"error,omitempty"`
}

func (p *EventPublisher) Publish(ctx context.Context, ev JobEvent) error {
	if p == nil || p.Writer == nil {
		return nil
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.Writer.WriteMessages(ctx, kafka.Message{Key: []byte(ev.JobID), Value: body})
}
