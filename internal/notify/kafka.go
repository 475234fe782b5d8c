// Package notify delivers client share notifications over Kafka.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"practicedesk.io/internal/audit"
	"practicedesk.io/internal/document"
	"practicedesk.io/internal/finalise"
)

// Writer is the subset of kafka.Writer the notifier uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Config struct {
	Brokers []string
	Topic   string
	// Timeout bounds one publish. Zero means 5s.
	Timeout time.Duration
}

// EventShared names the event emitted when a document reaches the client.
const EventShared = "document.shared"

// Event is the message value published when a document is shared.
type Event struct {
	Event      string        `json:"event"`
	EntityType document.Type `json:"entity_type"`
	EntityID   string        `json:"entity_id"`
	ClientID   string        `json:"client_id"`
	RequestID  string        `json:"request_id,omitempty"`
	OccurredAt time.Time     `json:"occurred_at"`
}

// KafkaNotifier publishes one Event per share, keyed by client id so a
// client's notifications stay ordered within a partition.
type KafkaNotifier struct {
	writer  Writer
	timeout time.Duration
	now     func() time.Time
}

var _ finalise.Notifier = (*KafkaNotifier)(nil)

func NewKafkaNotifier(cfg Config) (*KafkaNotifier, error) {
	brokers := make([]string, 0, len(cfg.Brokers))
	for _, b := range cfg.Brokers {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	if len(brokers) == 0 {
		return nil, errors.New("notify: kafka brokers required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("notify: kafka topic required")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
	return NewWithWriter(w, cfg.Timeout), nil
}

// NewWithWriter wraps an existing writer.
func NewWithWriter(w Writer, timeout time.Duration) *KafkaNotifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &KafkaNotifier{writer: w, timeout: timeout, now: func() time.Time { return time.Now().UTC() }}
}

func (n *KafkaNotifier) Notify(ctx context.Context, ref document.Ref, clientID string) error {
	if n == nil || n.writer == nil {
		return errors.New("notify: kafka notifier not initialized")
	}
	value, err := json.Marshal(Event{
		Event:      EventShared,
		EntityType: ref.Type,
		EntityID:   ref.ID,
		ClientID:   clientID,
		RequestID:  audit.RequestIDFromContext(ctx),
		OccurredAt: n.now(),
	})
	if err != nil {
		return fmt.Errorf("notify: marshal event: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	msg := kafka.Message{Key: []byte(clientID), Value: value}
	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("notify: publish %s: %w", ref, err)
	}
	return nil
}

func (n *KafkaNotifier) Close() error {
	if n == nil || n.writer == nil {
		return nil
	}
	return n.writer.Close()
}
