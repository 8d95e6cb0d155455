package tracking

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
)

type capturedEnqueue struct {
	task *asynq.Task
	opts []asynq.Option
}

type fakeEnqueuer struct {
	enqueueFn func(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	calls     []capturedEnqueue
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	f.calls = append(f.calls, capturedEnqueue{task: task, opts: opts})
	if f.enqueueFn != nil {
		return f.enqueueFn(ctx, task, opts...)
	}
	return &asynq.TaskInfo{}, nil
}

type mockStore struct {
	putIfAbsentFn func(ctx context.Context, fact TrackingFact) error
	putBatchFn    func(ctx context.Context, facts []TrackingFact) error
	purgeFn       func(ctx context.Context, before time.Time) (int64, error)
}

func (m *mockStore) PutIfAbsent(ctx context.Context, fact TrackingFact) error {
	if m.putIfAbsentFn != nil {
		return m.putIfAbsentFn(ctx, fact)
	}
	return nil
}

func (m *mockStore) PutBatch(ctx context.Context, facts []TrackingFact) error {
	if m.putBatchFn != nil {
		return m.putBatchFn(ctx, facts)
	}
	return nil
}

func (m *mockStore) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	if m.purgeFn != nil {
		return m.purgeFn(ctx, before)
	}
	return 0, nil
}

func optionValue(opts []asynq.Option, typ asynq.OptionType) (any, bool) {
	for _, opt := range opts {
		if opt.Type() == typ {
			return opt.Value(), true
		}
	}
	return nil, false
}
