package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fiqh-rag/internal/model"
)

type fakeStore struct {
	rows map[string]model.Message
	err  error
}

func (s *fakeStore) Create(_ context.Context, m *model.Message) error {
	if s.err != nil {
		return s.err
	}
	if _, ok := s.rows[m.UID]; ok {
		return nil
	}
	s.rows[m.UID] = *m
	return nil
}

type fakeToucher struct {
	touched []string
}

func (f *fakeToucher) Touch(_ context.Context, uid string) error {
	f.touched = append(f.touched, uid)
	return nil
}

func payload(t *testing.T, m model.Message) []byte {
	t.Helper()
	b, err := json.Marshal(m)
	require.NoError(t, err)
	return b
}

func TestHandleIsIdempotent(t *testing.T) {
	store := &fakeStore{rows: map[string]model.Message{}}
	touch := &fakeToucher{}
	w := NewMessagePersistWorker(nil, store, touch, "q", nil)

	body := payload(t, model.Message{UID: "m1", ConversationUID: "c1", Prompt: "p", Response: "r", CreatedAt: time.Now()})
	require.NoError(t, w.handle(context.Background(), body))
	require.NoError(t, w.handle(context.Background(), body))

	assert.Len(t, store.rows, 1)
	assert.Equal(t, "r", store.rows["m1"].Response)
	assert.Equal(t, []string{"c1", "c1"}, touch.touched)
}

func TestHandleRejectsMalformed(t *testing.T) {
	w := NewMessagePersistWorker(nil, &fakeStore{rows: map[string]model.Message{}}, nil, "q", nil)

	err := w.handle(context.Background(), []byte("{"))
	assert.ErrorIs(t, err, errMalformedMessage)

	err = w.handle(context.Background(), payload(t, model.Message{Prompt: "p"}))
	assert.ErrorIs(t, err, errMalformedMessage)
}

func TestHandleStoreFailure(t *testing.T) {
	w := NewMessagePersistWorker(nil, &fakeStore{err: errors.New("db down")}, nil, "q", nil)

	err := w.handle(context.Background(), payload(t, model.Message{UID: "m1", ConversationUID: "c1"}))
	require.Error(t, err)
	assert.NotErrorIs(t, err, errMalformedMessage)
}
