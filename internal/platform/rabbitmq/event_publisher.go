package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const DefaultUploadResultQueue = "document.upload.result"

// UploadResultEvent is published once per uploaded file.
type UploadResultEvent struct {
	DocumentUID string    `json:"document_uid"`
	Status      string    `json:"status"`
	ChunkCount  int       `json:"chunk_count"`
	Error       string    `json:"error,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

type EventPublisher struct {
	conn      *amqp.Connection
	queueName string
}

func NewEventPublisher(conn *amqp.Connection, queueName string) *EventPublisher {
	if queueName == "" {
		queueName = DefaultUploadResultQueue
	}
	return &EventPublisher{conn: conn, queueName: queueName}
}

func (p *EventPublisher) NotifyUploadResult(ctx context.Context, documentUID string, chunkCount int, err error) error {
	payload, mErr := json.Marshal(newUploadResultEvent(documentUID, chunkCount, err, time.Now().UTC()))
	if mErr != nil {
		return fmt.Errorf("marshal upload event failed: %w", mErr)
	}
	return publishJSON(ctx, p.conn, p.queueName, payload)
}

func newUploadResultEvent(documentUID string, chunkCount int, err error, now time.Time) UploadResultEvent {
	ev := UploadResultEvent{
		DocumentUID: documentUID,
		Status:      "success",
		ChunkCount:  chunkCount,
		OccurredAt:  now,
	}
	if err != nil {
		ev.Status = "failed"
		ev.Error = err.Error()
	}
	return ev
}
