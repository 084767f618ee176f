package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"fiqh-rag/internal/model"
)

// MessagePublisher persists chat messages asynchronously: the message UID
// and timestamp are fixed here, and the persist worker writes the row.
type MessagePublisher struct {
	conn      *amqp.Connection
	queueName string
}

func NewMessagePublisher(conn *amqp.Connection, queueName string) *MessagePublisher {
	return &MessagePublisher{
		conn:      conn,
		queueName: queueName,
	}
}

func (p *MessagePublisher) PersistMessage(ctx context.Context, conversationUID, userUID, prompt, answer string) (string, error) {
	msg := newQueuedMessage(conversationUID, userUID, prompt, answer, time.Now().UTC())
	if err := p.Publish(ctx, msg); err != nil {
		return "", err
	}
	return msg.UID, nil
}

func (p *MessagePublisher) Publish(ctx context.Context, msg model.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message payload failed: %w", err)
	}
	return publishJSON(ctx, p.conn, p.queueName, payload)
}

func newQueuedMessage(conversationUID, userUID, prompt, answer string, now time.Time) model.Message {
	return model.Message{
		UID:             uuid.NewString(),
		ConversationUID: conversationUID,
		UserUID:         userUID,
		Prompt:          prompt,
		Response:        answer,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}
