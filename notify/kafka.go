// Package notify delivers password reset tokens to an out-of-process
// mailer.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/MrEthical07/authgate"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ResetMessage is the JSON value published for each reset request.
type ResetMessage struct {
	SubjectID string    `json:"subject_id"`
	Email     string    `json:"email"`
	Username  string    `json:"username"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// KafkaNotifier publishes reset tokens to a topic keyed by subject id. The
// topic carries live credentials and should be readable only by the mailer.
type KafkaNotifier struct {
	writer messageWriter
}

var _ authgate.ResetNotifier = (*KafkaNotifier)(nil)

// NewKafkaNotifier creates a notifier for the given brokers and topic.
func NewKafkaNotifier(brokers []string, topic string) *KafkaNotifier {
	return &KafkaNotifier{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		},
	}
}

func (n *KafkaNotifier) SendPasswordReset(ctx context.Context, user authgate.PublicUser, token string, expiresAt time.Time) error {
	value, err := json.Marshal(ResetMessage{
		SubjectID: user.ID,
		Email:     user.Email,
		Username:  user.Username,
		Token:     token,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		return err
	}
	return n.writer.WriteMessages(ctx, kafka.Message{Key: []byte(user.ID), Value: value})
}

func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}
