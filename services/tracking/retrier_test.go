package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"linktrace/pkg/errutil"
	"linktrace/services/testutil"
)

func testEnvelope(id string, retryCount int) DeadLetterEnvelope {
	return DeadLetterEnvelope{
		Fact:          testMessage(id),
		Error:         ErrorInfo{Message: "store unavailable", Kind: string(errutil.KindTransientStore)},
		RetryCount:    retryCount,
		FailedAt:      time.Now().UTC(),
		CorrelationID: "corr-" + id,
	}
}

func rawEnvelopes(t *testing.T, envs ...DeadLetterEnvelope) []json.RawMessage {
	t.Helper()
	items := make([]json.RawMessage, 0, len(envs))
	for _, e := range envs {
		b, err := json.Marshal(e)
		require.NoError(t, err)
		items = append(items, b)
	}
	return items
}

func TestBackoff(t *testing.T) {
	base, cap := time.Minute, 15*time.Minute

	require.Equal(t, time.Minute, Backoff(0, base, cap))
	require.Equal(t, 2*time.Minute, Backoff(1, base, cap))
	require.Equal(t, 8*time.Minute, Backoff(3, base, cap))
	require.Equal(t, cap, Backoff(4, base, cap), "saturates at the cap")
	require.Equal(t, cap, Backoff(100, base, cap), "large counts never overflow")
	require.Equal(t, base, Backoff(-1, base, cap))
}

func TestProcessRoundPersists(t *testing.T) {
	db := testutil.NewTestDB(t, &TrackingFact{})
	r := &Retrier{store: NewStore(db), enq: &fakeEnqueuer{}, cfg: testTrackingConfig()}

	report := r.ProcessRound(context.Background(), rawEnvelopes(t,
		testEnvelope("rt-1", 1),
		testEnvelope("rt-2", 2),
	))

	require.ElementsMatch(t, []string{"rt-1", "rt-2"}, report.Persisted)
	require.Empty(t, report.Requeued)
	require.Empty(t, report.Discarded)
	require.Empty(t, report.Failed)

	var count int64
	require.NoError(t, db.Model(&TrackingFact{}).Count(&count).Error)
	require.EqualValues(t, 2, count)
}

func TestProcessRoundDiscardsAtCeiling(t *testing.T) {
	storeCalled := false
	store := &mockStore{
		putBatchFn: func(context.Context, []TrackingFact) error {
			storeCalled = true
			return nil
		},
		putIfAbsentFn: func(context.Context, TrackingFact) error {
			storeCalled = true
			return nil
		},
	}
	enq := &fakeEnqueuer{}
	r := &Retrier{store: store, enq: enq, cfg: testTrackingConfig()}

	report := r.ProcessRound(context.Background(), rawEnvelopes(t, testEnvelope("max-1", 3)))

	require.Equal(t, []string{"max-1"}, report.Discarded)
	require.False(t, storeCalled, "a discarded envelope is never written")
	require.Empty(t, enq.calls, "a discarded envelope is never requeued")
}

func TestProcessRoundDiscardsUnparseable(t *testing.T) {
	r := &Retrier{store: &mockStore{}, enq: &fakeEnqueuer{}, cfg: testTrackingConfig()}

	report := r.ProcessRound(context.Background(), []json.RawMessage{
		json.RawMessage(`{{{`),
	})

	require.Equal(t, []string{"item-0"}, report.Discarded)
	require.Empty(t, report.Failed)
}

func TestProcessRoundFallsBackPerItem(t *testing.T) {
	// Batch fails as a whole, the first item succeeds individually, the
	// second stays broken and must be requeued with its backoff.
	store := &mockStore{
		putBatchFn: func(context.Context, []TrackingFact) error {
			return errutil.TransientStore("batch write failed", nil)
		},
		putIfAbsentFn: func(_ context.Context, fact TrackingFact) error {
			if fact.TrackingID == "poison" {
				return errutil.TransientStore("still failing", nil)
			}
			return nil
		},
	}
	enq := &fakeEnqueuer{}
	r := &Retrier{store: store, enq: enq, cfg: testTrackingConfig()}

	report := r.ProcessRound(context.Background(), rawEnvelopes(t,
		testEnvelope("fine", 0),
		testEnvelope("poison", 1),
	))

	require.Equal(t, []string{"fine"}, report.Persisted)
	require.Equal(t, []string{"poison"}, report.Requeued)
	require.Empty(t, report.Failed)
	require.Len(t, enq.calls, 1)

	var env DeadLetterEnvelope
	require.NoError(t, json.Unmarshal(enq.calls[0].task.Payload(), &env))
	require.Equal(t, 2, env.RetryCount, "retry count advances on requeue")
	require.Equal(t, "corr-poison", env.CorrelationID, "correlation id follows the fact")

	delay, ok := optionValue(enq.calls[0].opts, asynq.ProcessInOpt)
	require.True(t, ok, "requeue carries the backoff delay")
	require.Equal(t, Backoff(1, r.cfg.BackoffBase, r.cfg.BackoffCap), delay)
}

func TestProcessRoundDirectSendFallback(t *testing.T) {
	store := &mockStore{
		putBatchFn: func(context.Context, []TrackingFact) error {
			return errutil.TransientStore("batch write failed", nil)
		},
		putIfAbsentFn: func(context.Context, TrackingFact) error {
			return errutil.TransientStore("still failing", nil)
		},
	}
	enq := &fakeEnqueuer{}
	enq.enqueueFn = func(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
		if _, grouped := optionValue(opts, asynq.GroupOpt); grouped {
			return nil, errors.New("aggregation broker unavailable")
		}
		return &asynq.TaskInfo{}, nil
	}
	r := &Retrier{store: store, enq: enq, cfg: testTrackingConfig()}

	report := r.ProcessRound(context.Background(), rawEnvelopes(t, testEnvelope("d-1", 0)))

	require.Equal(t, []string{"d-1"}, report.Requeued)
	require.Empty(t, report.Failed)
	require.Len(t, enq.calls, 2)

	_, grouped := optionValue(enq.calls[1].opts, asynq.GroupOpt)
	require.False(t, grouped, "direct send bypasses aggregation")
	_, delayed := optionValue(enq.calls[1].opts, asynq.ProcessInOpt)
	require.False(t, delayed, "direct send is immediate")
}

func TestProcessRoundReportsUnrecoverableLoss(t *testing.T) {
	store := &mockStore{
		putBatchFn: func(context.Context, []TrackingFact) error {
			return errutil.TransientStore("batch write failed", nil)
		},
		putIfAbsentFn: func(context.Context, TrackingFact) error {
			return errutil.TransientStore("still failing", nil)
		},
	}
	enq := &fakeEnqueuer{
		enqueueFn: func(context.Context, *asynq.Task, ...asynq.Option) (*asynq.TaskInfo, error) {
			return nil, errors.New("redis down")
		},
	}
	r := &Retrier{store: store, enq: enq, cfg: testTrackingConfig()}

	report := r.ProcessRound(context.Background(), rawEnvelopes(t, testEnvelope("lost-1", 0)))

	require.Equal(t, []string{"lost-1"}, report.Failed)
	require.Empty(t, report.Requeued)

	err := r.HandleBatch(context.Background(), mustBatchTask(t, TaskDeadLetterBatch, rawEnvelopes(t, testEnvelope("lost-2", 0))))
	require.Error(t, err, "hard failures make the handler fail so the round is redelivered")
}

func mustBatchTask(t *testing.T, taskType string, items []json.RawMessage) *asynq.Task {
	t.Helper()
	payload, err := json.Marshal(batchPayload{Items: items})
	require.NoError(t, err)
	return asynq.NewTask(taskType, payload)
}
