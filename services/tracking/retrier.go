package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"linktrace/pkg/config"
	"linktrace/pkg/errutil"
	"linktrace/pkg/task"

	"github.com/hibiken/asynq"
	"github.com/samber/lo"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// perItemParallelism bounds the fallback writes of one round so a struggling
// store is not hammered by its own retry traffic.
const perItemParallelism = 4

// RoundReport accounts for every envelope of one retry round. Failed items
// must be redelivered; all others are terminal for this invocation
// (persisted, requeued with backoff, or discarded for good).
type RoundReport struct {
	Persisted []string
	Requeued  []string
	Discarded []string
	Failed    []string
}

// Retrier drains the dead-letter queue: persist what it can, requeue the rest
// with exponential backoff, and discard past the retry ceiling.
type Retrier struct {
	store FactStore
	enq   task.Enqueuer
	cfg   config.Tracking
}

type RetrierParams struct {
	fx.In

	Store    FactStore
	Enqueuer task.Enqueuer
	Config   *config.Config
}

func NewRetrier(p RetrierParams) *Retrier {
	return &Retrier{
		store: p.Store,
		enq:   p.Enqueuer,
		cfg:   p.Config.Tracking,
	}
}

// Backoff computes the requeue delay for an envelope that has already failed
// retryCount times: base doubled per failure, saturating at cap.
func Backoff(retryCount int, base, cap time.Duration) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount > 30 {
		return cap
	}
	d := base << uint(retryCount)
	if d <= 0 || d > cap {
		return cap
	}
	return d
}

// ProcessRound handles one aggregated round of dead-letter envelopes.
func (r *Retrier) ProcessRound(ctx context.Context, items []json.RawMessage) RoundReport {
	var report RoundReport
	var eligible []DeadLetterEnvelope

	for i, raw := range items {
		var env DeadLetterEnvelope
		if err := json.Unmarshal(raw, &env); err != nil || env.Fact.Validate() != nil {
			// Not structurally a tracking fact; retrying cannot fix it.
			zap.L().Error("permanently failed dead-letter item: unparseable envelope",
				zap.Int("index", i),
				zap.ByteString("payload", raw),
			)
			report.Discarded = append(report.Discarded, fmt.Sprintf("item-%d", i))
			continue
		}

		if env.RetryCount >= r.cfg.MaxRetry {
			zap.L().Error("discarding tracking fact after retry ceiling, manual recovery required",
				zap.String("tracking_id", env.Fact.TrackingID),
				zap.String("correlation_id", env.CorrelationID),
				zap.Int("retry_count", env.RetryCount),
				zap.Any("envelope", env),
			)
			report.Discarded = append(report.Discarded, env.Fact.TrackingID)
			continue
		}

		eligible = append(eligible, env)
	}

	for _, chunk := range lo.Chunk(eligible, r.cfg.WriteBatchSize) {
		facts := lo.Map(chunk, func(e DeadLetterEnvelope, _ int) TrackingFact {
			return e.Fact.Fact(r.cfg.TTLDays)
		})

		if err := r.store.PutBatch(ctx, facts); err == nil {
			for _, e := range chunk {
				report.Persisted = append(report.Persisted, e.Fact.TrackingID)
			}
			continue
		}

		// The batch as a whole failed. Fall back to independent per-item
		// writes so one poisoned item cannot block the rest of the round.
		itemErrs := make([]error, len(chunk))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(perItemParallelism)
		for i, e := range chunk {
			g.Go(func() error {
				itemErrs[i] = r.store.PutIfAbsent(gctx, e.Fact.Fact(r.cfg.TTLDays))
				return nil
			})
		}
		_ = g.Wait()

		for i, e := range chunk {
			if itemErrs[i] == nil {
				report.Persisted = append(report.Persisted, e.Fact.TrackingID)
				continue
			}
			r.requeue(ctx, e, itemErrs[i], &report)
		}
	}

	return report
}

// requeue republishes the envelope with its backoff delay, falling back to a
// direct undelayed send, and finally to an unrecoverable-loss log.
func (r *Retrier) requeue(ctx context.Context, env DeadLetterEnvelope, cause error, report *RoundReport) {
	delay := Backoff(env.RetryCount, r.cfg.BackoffBase, r.cfg.BackoffCap)

	next := DeadLetterEnvelope{
		Fact:          env.Fact,
		Error:         errorInfo(cause),
		RetryCount:    env.RetryCount + 1,
		FailedAt:      time.Now().UTC(),
		CorrelationID: env.CorrelationID,
	}

	zapLog := zap.L().With(
		zap.String("tracking_id", env.Fact.TrackingID),
		zap.String("correlation_id", env.CorrelationID),
		zap.Int("retry_count", next.RetryCount),
		zap.Duration("backoff", delay),
	)

	t, opts, err := NewDeadLetterTask(next, delay)
	if err == nil {
		if _, err = r.enq.Enqueue(ctx, t, opts...); err == nil {
			zapLog.Info("requeued tracking fact with backoff")
			report.Requeued = append(report.Requeued, env.Fact.TrackingID)
			return
		}
	}
	zapLog.Warn("failed to requeue dead-letter envelope, attempting direct send", zap.Error(err))

	directErr := r.directSend(ctx, next)
	if directErr == nil {
		report.Requeued = append(report.Requeued, env.Fact.TrackingID)
		return
	}

	zapLog.Error("unrecoverable tracking fact loss, manual intervention required",
		zap.Any("envelope", next),
		zap.Error(errutil.Delivery("dead-letter requeue and direct send both failed", directErr)),
	)
	report.Failed = append(report.Failed, env.Fact.TrackingID)
}

// directSend bypasses grouping and delay: one plain enqueue onto the
// dead-letter queue as the last automated recovery step.
func (r *Retrier) directSend(ctx context.Context, env DeadLetterEnvelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	_, err = r.enq.Enqueue(ctx, asynq.NewTask(TaskDeadLetter, payload),
		asynq.Queue(task.QueueDeadLetter),
		asynq.MaxRetry(5),
	)
	return err
}

// HandleBatch is the queue-facing wrapper around ProcessRound.
func (r *Retrier) HandleBatch(ctx context.Context, t *asynq.Task) error {
	var batch batchPayload
	if err := json.Unmarshal(t.Payload(), &batch); err != nil {
		return fmt.Errorf("malformed dead-letter batch payload: %v: %w", err, asynq.SkipRetry)
	}

	report := r.ProcessRound(ctx, batch.Items)

	zap.L().Info("processed dead-letter round",
		zap.Int("received", len(batch.Items)),
		zap.Int("persisted", len(report.Persisted)),
		zap.Int("requeued", len(report.Requeued)),
		zap.Int("discarded", len(report.Discarded)),
		zap.Int("failed", len(report.Failed)),
	)

	if len(report.Failed) > 0 {
		return errors.New("dead-letter items require redelivery")
	}
	return nil
}

// HandleEnvelope processes a single un-aggregated envelope; a round of one.
func (r *Retrier) HandleEnvelope(ctx context.Context, t *asynq.Task) error {
	report := r.ProcessRound(ctx, []json.RawMessage{json.RawMessage(t.Payload())})
	if len(report.Failed) > 0 {
		return errors.New("dead-letter item requires redelivery")
	}
	return nil
}
