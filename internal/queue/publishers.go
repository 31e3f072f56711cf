package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// CallEventPublisher emits call lifecycle events.
type CallEventPublisher struct {
	writer *kafka.Writer
}

// NewCallEventPublisher constructs a publisher for the given topic.
func NewCallEventPublisher(k *Kafka, topic string) *CallEventPublisher {
	return &CallEventPublisher{writer: k.NewWriter(topic)}
}

// PublishCallEvent writes the event, keyed by call SID so one call's events
// stay ordered within a partition.
func (p *CallEventPublisher) PublishCallEvent(ctx context.Context, msg CallEventMessage) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("call event publisher: marshal message: %w", err)
	}

	record := kafka.Message{
		Key:   []byte(msg.CallSID),
		Value: value,
		Time:  time.Now().UTC(),
	}

	if err := p.writer.WriteMessages(ctx, record); err != nil {
		return fmt.Errorf("call event publisher: write message: %w", err)
	}
	return nil
}

// Close closes the underlying writer.
func (p *CallEventPublisher) Close() error {
	return p.writer.Close()
}

// LeadStatusPublisher emits lead status changes.
type LeadStatusPublisher struct {
	writer *kafka.Writer
}

// NewLeadStatusPublisher constructs a publisher for the given topic.
func NewLeadStatusPublisher(k *Kafka, topic string) *LeadStatusPublisher {
	return &LeadStatusPublisher{writer: k.NewWriter(topic)}
}

// PublishLeadStatus writes the status change, keyed by lead ID.
func (p *LeadStatusPublisher) PublishLeadStatus(ctx context.Context, msg LeadStatusMessage) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("lead status publisher: marshal message: %w", err)
	}

	record := kafka.Message{
		Key:   msg.LeadID[:],
		Value: value,
		Time:  time.Now().UTC(),
	}

	if err := p.writer.WriteMessages(ctx, record); err != nil {
		return fmt.Errorf("lead status publisher: write message: %w", err)
	}
	return nil
}

// Close closes the underlying writer.
func (p *LeadStatusPublisher) Close() error {
	return p.writer.Close()
}
