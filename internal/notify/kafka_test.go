package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"practicedesk.io/internal/audit"
	"practicedesk.io/internal/document"
)

type fakeWriter struct {
	msgs     []kafka.Message
	err      error
	deadline bool
	closed   bool
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	_, f.deadline = ctx.Deadline()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestNotifyPublishesKeyedEvent(t *testing.T) {
	fw := &fakeWriter{}
	n := NewWithWriter(fw, time.Second)
	ctx := audit.WithRequestID(context.Background(), "req-1")
	ref := document.Ref{Type: document.TypeReport, ID: "r1"}
	if err := n.Notify(ctx, ref, "C1"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(fw.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(fw.msgs))
	}
	if string(fw.msgs[0].Key) != "C1" {
		t.Fatalf("expected client id key, got %q", fw.msgs[0].Key)
	}
	var ev Event
	if err := json.Unmarshal(fw.msgs[0].Value, &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Event != "document.shared" || ev.EntityID != "r1" || ev.EntityType != document.TypeReport || ev.RequestID != "req-1" {
		t.Fatalf("unexpected event %+v", ev)
	}
	if !fw.deadline {
		t.Fatalf("publish should run under a deadline")
	}
	_ = n.Close()
	if !fw.closed {
		t.Fatalf("Close should close the writer")
	}
}

func TestNotifyWrapsWriteError(t *testing.T) {
	boom := errors.New("leader not available")
	n := NewWithWriter(&fakeWriter{err: boom}, 0)
	err := n.Notify(context.Background(), document.Ref{Type: document.TypeDeliverable, ID: "d1"}, "C1")
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped write error, got %v", err)
	}
}

func TestNewKafkaNotifierValidates(t *testing.T) {
	if _, err := NewKafkaNotifier(Config{Brokers: []string{" "}, Topic: "t"}); err == nil {
		t.Fatalf("expected error for empty brokers")
	}
	if _, err := NewKafkaNotifier(Config{Brokers: []string{"localhost:9092"}}); err == nil {
		t.Fatalf("expected error for empty topic")
	}
	n, err := NewKafkaNotifier(Config{Brokers: []string{"localhost:9092"}, Topic: "document-shares"})
	if err != nil {
		t.Fatalf("NewKafkaNotifier: %v", err)
	}
	_ = n.Close()
}
