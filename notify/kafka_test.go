package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/MrEthical07/authgate"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestKafkaNotifierPublishesResetMessage(t *testing.T) {
	w := &fakeWriter{}
	n := &KafkaNotifier{writer: w}
	expires := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	user := authgate.PublicUser{ID: "u-1", Email: "alice@example.com", Username: "alice"}

	if err := n.SendPasswordReset(context.Background(), user, "tok", expires); err != nil {
		t.Fatalf("SendPasswordReset: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(w.msgs))
	}
	if string(w.msgs[0].Key) != "u-1" {
		t.Fatalf("expected key u-1, got %q", w.msgs[0].Key)
	}
	var got ResetMessage
	if err := json.Unmarshal(w.msgs[0].Value, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Email != user.Email || got.Token != "tok" || !got.ExpiresAt.Equal(expires) {
		t.Fatalf("unexpected message %+v", got)
	}
}

func TestKafkaNotifierReturnsWriteError(t *testing.T) {
	n := &KafkaNotifier{writer: &fakeWriter{err: errors.New("broker down")}}
	err := n.SendPasswordReset(context.Background(), authgate.PublicUser{ID: "u-1"}, "tok", time.Now())
	if err == nil {
		t.Fatalf("expected write error")
	}
}
