package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"linktrace/services/testutil"
)

func newTestProducer(t *testing.T, enq *fakeEnqueuer, store FactStore) *Producer {
	t.Helper()
	return &Producer{
		enq:     enq,
		store:   store,
		node:    testNode(t),
		window:  5 * time.Minute,
		ttlDays: 365,
	}
}

func TestTrackPublishesInBackground(t *testing.T) {
	enq := &fakeEnqueuer{}
	p := newTestProducer(t, enq, &mockStore{})

	id := p.Track("https://example.com/landing", "203.0.113.7", "spring_sale")
	require.NotEmpty(t, id)
	require.NoError(t, p.Drain(context.Background()))

	require.Len(t, enq.calls, 1)
	require.Equal(t, TaskRecord, enq.calls[0].task.Type())

	var msg QueueMessage
	require.NoError(t, json.Unmarshal(enq.calls[0].task.Payload(), &msg))
	require.Equal(t, id, msg.TrackingID)
	require.Equal(t, "spring_sale", msg.SourceAttribution)

	group, ok := optionValue(enq.calls[0].opts, asynq.GroupOpt)
	require.True(t, ok)
	require.Equal(t, GroupKey("203.0.113.7"), group)

	_, ok = optionValue(enq.calls[0].opts, asynq.TaskIDOpt)
	require.True(t, ok, "publish carries the dedup key")
}

func TestTrackDuplicateIsCollapsed(t *testing.T) {
	enq := &fakeEnqueuer{
		enqueueFn: func(context.Context, *asynq.Task, ...asynq.Option) (*asynq.TaskInfo, error) {
			return nil, asynq.ErrTaskIDConflict
		},
	}
	fallbackUsed := false
	store := &mockStore{
		putIfAbsentFn: func(context.Context, TrackingFact) error {
			fallbackUsed = true
			return nil
		},
	}
	p := newTestProducer(t, enq, store)

	p.Track("https://example.com/landing", "203.0.113.7", "spring_sale")
	require.NoError(t, p.Drain(context.Background()))
	require.False(t, fallbackUsed, "a collapsed duplicate is not an error")
}

func TestTrackFallsBackToDirectWrite(t *testing.T) {
	enq := &fakeEnqueuer{
		enqueueFn: func(context.Context, *asynq.Task, ...asynq.Option) (*asynq.TaskInfo, error) {
			return nil, errors.New("redis down")
		},
	}
	db := testutil.NewTestDB(t, &TrackingFact{})
	p := newTestProducer(t, enq, NewStore(db))

	id := p.Track("https://example.com/landing", "203.0.113.7", "")
	require.NoError(t, p.Drain(context.Background()))

	var fact TrackingFact
	require.NoError(t, db.First(&fact, "tracking_id = ?", id).Error)
	require.Equal(t, "https://example.com/landing", fact.DestinationURL)
}
