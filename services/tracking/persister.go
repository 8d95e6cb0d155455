package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"linktrace/pkg/config"
	"linktrace/pkg/errutil"
	"linktrace/pkg/logger"
	"linktrace/pkg/task"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"github.com/samber/lo"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// BatchReport says what happened to every item of one invocation. Items in
// Failed must be redelivered by the queue; everything else is terminal.
type BatchReport struct {
	Persisted    []string
	Dropped      []string
	DeadLettered []string
	Failed       []string
}

// Persister consumes queued facts in batches and writes them durably.
type Persister struct {
	store FactStore
	enq   task.Enqueuer
	node  *snowflake.Node
	warm  *logger.WarmState
	cfg   config.Tracking
}

type PersisterParams struct {
	fx.In

	Store    FactStore
	Enqueuer task.Enqueuer
	Node     *snowflake.Node
	Warm     *logger.WarmState `optional:"true"`
	Config   *config.Config
}

func NewPersister(p PersisterParams) *Persister {
	return &Persister{
		store: p.Store,
		enq:   p.Enqueuer,
		node:  p.Node,
		warm:  p.Warm,
		cfg:   p.Config.Tracking,
	}
}

// ProcessBatch handles one invocation's items.
//
// Malformed items are dropped, never retried. Valid facts are written in
// sub-batches; a sub-batch that stays transiently broken after local retries
// is handed to the dead-letter queue item by item. Only items whose
// dead-letter handoff itself failed end up in the Failed report.
func (p *Persister) ProcessBatch(ctx context.Context, items []json.RawMessage) BatchReport {
	var report BatchReport
	var valid []QueueMessage

	for i, raw := range items {
		var msg QueueMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			zap.L().Warn("dropping malformed queue item",
				zap.Int("index", i),
				zap.Error(err),
			)
			report.Dropped = append(report.Dropped, fmt.Sprintf("item-%d", i))
			continue
		}
		if err := msg.Validate(); err != nil {
			zap.L().Warn("dropping structurally invalid tracking fact",
				zap.String("tracking_id", msg.TrackingID),
				zap.Error(err),
			)
			report.Dropped = append(report.Dropped, msg.TrackingID)
			continue
		}
		valid = append(valid, msg)
	}

	for _, chunk := range lo.Chunk(valid, p.cfg.WriteBatchSize) {
		facts := lo.Map(chunk, func(m QueueMessage, _ int) TrackingFact {
			return m.Fact(p.cfg.TTLDays)
		})

		err := p.writeChunk(ctx, facts)
		if err == nil {
			for _, m := range chunk {
				report.Persisted = append(report.Persisted, m.TrackingID)
			}
			continue
		}

		if !errutil.KindOf(err).Retryable() {
			// Permanent store failures never enter the retry path; surface
			// them loudly and stop accounting the items as retryable.
			zap.L().Error("non-retryable store failure, dropping sub-batch",
				zap.Int("size", len(chunk)),
				zap.Error(err),
			)
			for _, m := range chunk {
				report.Dropped = append(report.Dropped, m.TrackingID)
			}
			continue
		}

		for _, m := range chunk {
			if dlqErr := p.deadLetter(ctx, m, err); dlqErr != nil {
				zap.L().Error("failed to dead-letter tracking fact",
					zap.String("tracking_id", m.TrackingID),
					zap.Error(dlqErr),
				)
				report.Failed = append(report.Failed, m.TrackingID)
				continue
			}
			report.DeadLettered = append(report.DeadLettered, m.TrackingID)
		}
	}

	return report
}

// writeChunk attempts one sub-batch with bounded local retries. Only
// retryable failures are attempted again; the backoff is short because the
// dead-letter stage owns long-horizon retry.
func (p *Persister) writeChunk(ctx context.Context, facts []TrackingFact) error {
	attempts := p.cfg.LocalAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		err = p.store.PutBatch(ctx, facts)
		if err == nil {
			return nil
		}
		if !errutil.KindOf(err).Retryable() {
			return err
		}
		if i < attempts-1 {
			select {
			case <-ctx.Done():
				return errutil.TransientStore("invocation cancelled mid-retry", ctx.Err())
			case <-time.After(time.Duration(i+1) * 100 * time.Millisecond):
			}
		}
	}
	return err
}

func (p *Persister) deadLetter(ctx context.Context, msg QueueMessage, cause error) error {
	env := DeadLetterEnvelope{
		Fact:          msg,
		Error:         errorInfo(cause),
		RetryCount:    0,
		FailedAt:      time.Now().UTC(),
		CorrelationID: p.node.Generate().String(),
	}

	t, opts, err := NewDeadLetterTask(env, 0)
	if err != nil {
		return err
	}
	if _, err := p.enq.Enqueue(ctx, t, opts...); err != nil {
		return errutil.Delivery("dead-letter enqueue failed", err)
	}
	return nil
}

// HandleBatch is the queue-facing wrapper around ProcessBatch. Returning an
// error makes the queue redeliver the whole invocation; idempotent puts make
// re-persisting the already-written subset a no-op.
func (p *Persister) HandleBatch(ctx context.Context, t *asynq.Task) error {
	var batch batchPayload
	if err := json.Unmarshal(t.Payload(), &batch); err != nil {
		return fmt.Errorf("malformed batch payload: %v: %w", err, asynq.SkipRetry)
	}

	report := p.ProcessBatch(ctx, batch.Items)

	fields := []zap.Field{
		zap.Int("received", len(batch.Items)),
		zap.Int("persisted", len(report.Persisted)),
		zap.Int("dropped", len(report.Dropped)),
		zap.Int("dead_lettered", len(report.DeadLettered)),
		zap.Int("failed", len(report.Failed)),
	}
	if p.warm != nil && p.warm.MarkWarm() {
		fields = append(fields, zap.Bool("cold_start", true))
	}
	zap.L().Info("persisted tracking batch", fields...)

	if len(report.Failed) > 0 {
		return errors.New("batch items require redelivery")
	}
	return nil
}

// HandleRecord processes a single un-aggregated record task; same semantics
// as a batch of one.
func (p *Persister) HandleRecord(ctx context.Context, t *asynq.Task) error {
	var batch batchPayload
	batch.Items = []json.RawMessage{json.RawMessage(t.Payload())}

	report := p.ProcessBatch(ctx, batch.Items)
	if len(report.Failed) > 0 {
		return errors.New("item requires redelivery")
	}
	return nil
}

func errorInfo(err error) ErrorInfo {
	var e errutil.Error
	if errors.As(err, &e) {
		return ErrorInfo{Message: e.Message, Kind: string(e.Kind), Code: e.Code}
	}
	return ErrorInfo{Message: err.Error(), Kind: string(errutil.Classify(err))}
}
