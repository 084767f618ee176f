package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"fiqh-rag/internal/model"
	"fiqh-rag/internal/pkg/logger"
)

var errMalformedMessage = errors.New("malformed message payload")

// MessageStore writes a queued message. Create must ignore a UID that is
// already stored, since the broker may deliver the same message twice.
type MessageStore interface {
	Create(ctx context.Context, message *model.Message) error
}

// ConversationToucher bumps the conversation after a message lands.
type ConversationToucher interface {
	Touch(ctx context.Context, uid string) error
}

type MessagePersistWorker struct {
	conn      *amqp.Connection
	store     MessageStore
	touch     ConversationToucher
	queueName string
	log       logrus.FieldLogger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewMessagePersistWorker(
	conn *amqp.Connection,
	store MessageStore,
	touch ConversationToucher,
	queueName string,
	log logrus.FieldLogger,
) *MessagePersistWorker {
	return &MessagePersistWorker{
		conn:      conn,
		store:     store,
		touch:     touch,
		queueName: queueName,
		log:       logger.OrDiscard(log).WithFields(logrus.Fields{"component": "message_persist_worker", "queue": queueName}),
	}
}

func (w *MessagePersistWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	ch, err := w.conn.Channel()
	if err != nil {
		cancel()
		return fmt.Errorf("open worker channel failed: %w", err)
	}

	if _, err := ch.QueueDeclare(w.queueName, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("declare worker queue failed: %w", err)
	}

	deliveries, err := ch.Consume(w.queueName, "", false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ch.Close()

		for {
			select {
			case <-workerCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					w.log.Warn("delivery channel closed")
					return
				}
				w.settle(d, w.handle(workerCtx, d.Body))
			}
		}
	}()

	w.log.Info("message persist worker started")
	return nil
}

func (w *MessagePersistWorker) settle(d amqp.Delivery, err error) {
	switch {
	case err == nil:
		_ = d.Ack(false)
	case errors.Is(err, errMalformedMessage):
		w.log.WithError(err).Error("dropping undecodable message")
		_ = d.Nack(false, false)
	default:
		// One retry through the broker, then drop.
		requeue := !d.Redelivered
		w.log.WithError(err).WithField("requeue", requeue).Error("persist message failed")
		_ = d.Nack(false, requeue)
	}
}

func (w *MessagePersistWorker) handle(ctx context.Context, body []byte) error {
	var msg model.Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("%w: %v", errMalformedMessage, err)
	}
	if msg.UID == "" || msg.ConversationUID == "" {
		return fmt.Errorf("%w: missing uid or conversation", errMalformedMessage)
	}

	if err := w.store.Create(ctx, &msg); err != nil {
		return err
	}
	if w.touch != nil {
		if err := w.touch.Touch(ctx, msg.ConversationUID); err != nil {
			w.log.WithError(err).WithField("conversation_uid", msg.ConversationUID).Warn("touch conversation failed")
		}
	}
	w.log.WithFields(logrus.Fields{"message_uid": msg.UID, "conversation_uid": msg.ConversationUID}).Debug("message persisted")
	return nil
}

func (w *MessagePersistWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
