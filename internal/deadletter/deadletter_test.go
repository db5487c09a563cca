package deadletter

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	amqp "github.com/rabbitmq/amqp091-go"

	apperrors "github.com/jittakal/dumpshard/internal/errors"
	"github.com/jittakal/dumpshard/pkg/record"
)

func sampleRejection() record.Rejection {
	return record.Rejection{
		Path:   "/dumps/RC_2023-11.zst",
		Offset: 1024,
		Reason: "malformed_json",
		Line:   `{"id":`,
		Time:   time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC),
	}
}

func TestEncode(t *testing.T) {
	rej := sampleRejection()

	event, data, err := Encode(rej)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	var decoded cloudevents.Event
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("envelope is not a CloudEvent: %v", err)
	}
	if decoded.ID() != event.ID() || decoded.Type() != EventTypeRejected || decoded.Subject() != rej.Path {
		t.Errorf("decoded attributes = %s %s %s", decoded.ID(), decoded.Type(), decoded.Subject())
	}
	if decoded.SpecVersion() != "1.0" {
		t.Errorf("SpecVersion() = %s", decoded.SpecVersion())
	}

	var got record.Rejection
	if err := decoded.DataAs(&got); err != nil {
		t.Fatalf("DataAs() error = %v", err)
	}
	if got.Offset != rej.Offset || got.Reason != rej.Reason || got.Line != rej.Line || !got.Time.Equal(rej.Time) {
		t.Errorf("data = %+v, want %+v", got, rej)
	}
}

func TestEncode_TruncatesLongLines(t *testing.T) {
	rej := sampleRejection()
	rej.Line = strings.Repeat("x", MaxLineBytes+10)

	event, _, err := Encode(rej)
	if err != nil {
		t.Fatal(err)
	}
	var got record.Rejection
	if err := event.DataAs(&got); err != nil {
		t.Fatal(err)
	}
	if len(got.Line) != MaxLineBytes {
		t.Errorf("line length = %d, want %d", len(got.Line), MaxLineBytes)
	}
}

func TestFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", DefaultFileName)

	sink, err := NewFileSink(path, nil)
	if err != nil {
		t.Fatalf("NewFileSink() error = %v", err)
	}

	for i := 0; i < 2; i++ {
		rej := sampleRejection()
		rej.Offset = int64(i)
		if err := sink.Publish(context.Background(), rej); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	if err := sink.Publish(context.Background(), sampleRejection()); !errors.Is(err, apperrors.ErrPublisherClosed) {
		t.Errorf("Publish() after Close error = %v, want ErrPublisherClosed", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var lines int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var event cloudevents.Event
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			t.Fatalf("line %d is not a CloudEvent: %v", lines, err)
		}
		lines++
	}
	if lines != 2 {
		t.Errorf("got %d lines, want 2", lines)
	}
}

type mockMetrics struct {
	counts map[string]int
}

func (m *mockMetrics) IncDeadLetters(sink string, status string) {
	if m.counts == nil {
		m.counts = make(map[string]int)
	}
	m.counts[sink+"/"+status]++
}

type failingPublisher struct {
	calls int
}

func (p *failingPublisher) Publish(ctx context.Context, rej record.Rejection) error {
	p.calls++
	if p.calls%2 == 0 {
		return errors.New("broker unavailable")
	}
	return nil
}

func (p *failingPublisher) Close() error { return nil }

func TestHandler_Reject(t *testing.T) {
	pub := &failingPublisher{}
	metrics := &mockMetrics{}
	h := NewHandler(pub, SinkKafka, nil, metrics)

	for i := 0; i < 3; i++ {
		h.Reject(sampleRejection())
	}

	if pub.calls != 3 {
		t.Errorf("publisher calls = %d, want 3", pub.calls)
	}
	if metrics.counts["kafka/success"] != 2 || metrics.counts["kafka/error"] != 1 {
		t.Errorf("metrics = %v", metrics.counts)
	}
	if err := h.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

type mockChannel struct {
	published []amqp.Publishing
	keys      []string
	err       error
	closed    bool
}

func (c *mockChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if c.err != nil {
		return c.err
	}
	c.keys = append(c.keys, key)
	c.published = append(c.published, msg)
	return nil
}

func (c *mockChannel) Close() error {
	c.closed = true
	return nil
}

func TestAMQPSink_Publish(t *testing.T) {
	ch := &mockChannel{}
	sink := &AMQPSink{channel: ch, queue: "dumpshard-dlq", logger: discardLogger()}

	if err := sink.Publish(context.Background(), sampleRejection()); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if len(ch.published) != 1 || ch.keys[0] != "dumpshard-dlq" {
		t.Fatalf("published = %d to %v", len(ch.published), ch.keys)
	}

	msg := ch.published[0]
	if msg.ContentType != MediaType || msg.DeliveryMode != amqp.Persistent {
		t.Errorf("ContentType = %s, DeliveryMode = %d", msg.ContentType, msg.DeliveryMode)
	}
	if msg.Headers["reason"] != "malformed_json" || msg.MessageId == "" {
		t.Errorf("headers = %v, id = %q", msg.Headers, msg.MessageId)
	}

	if err := sink.Close(); err != nil {
		t.Fatal(err)
	}
	if !ch.closed {
		t.Error("channel should be closed")
	}
	if err := sink.Publish(context.Background(), sampleRejection()); !errors.Is(err, apperrors.ErrPublisherClosed) {
		t.Errorf("Publish() after Close error = %v", err)
	}
}

func TestAMQPSink_PublishError(t *testing.T) {
	sink := &AMQPSink{channel: &mockChannel{err: amqp.ErrClosed}, queue: "q", logger: discardLogger()}
	if err := sink.Publish(context.Background(), sampleRejection()); !errors.Is(err, amqp.ErrClosed) {
		t.Errorf("Publish() error = %v, want wrapped ErrClosed", err)
	}
}

func TestNewAMQPSink_Validation(t *testing.T) {
	var cfgErr *apperrors.ConfigError
	if _, err := NewAMQPSink(AMQPConfig{Queue: "q"}, nil); !errors.As(err, &cfgErr) {
		t.Errorf("NewAMQPSink() without URL error = %v", err)
	}
	if _, err := NewAMQPSink(AMQPConfig{URL: "amqp://localhost"}, nil); !errors.As(err, &cfgErr) {
		t.Errorf("NewAMQPSink() without queue error = %v", err)
	}
}
