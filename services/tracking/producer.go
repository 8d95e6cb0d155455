package tracking

import (
	"context"
	"errors"
	"sync"
	"time"

	"linktrace/pkg/config"
	"linktrace/pkg/task"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const publishTimeout = 10 * time.Second

// Producer turns redirect requests into queued tracking facts.
//
// Publishing is fire-and-forget with respect to the caller: Track returns
// immediately and the outcome is settled in a background goroutine. The
// outcome is never silently discarded; failures are logged and escalated to
// the durable fallback sink.
type Producer struct {
	enq     task.Enqueuer
	store   FactStore
	node    *snowflake.Node
	window  time.Duration
	ttlDays int

	wg sync.WaitGroup
}

type ProducerParams struct {
	fx.In

	Enqueuer task.Enqueuer
	Store    FactStore
	Node     *snowflake.Node
	Config   *config.Config
}

func NewProducer(p ProducerParams) *Producer {
	return &Producer{
		enq:     p.Enqueuer,
		store:   p.Store,
		node:    p.Node,
		window:  p.Config.Tracking.DedupWindow,
		ttlDays: p.Config.Tracking.TTLDays,
	}
}

// NewFact constructs the queue message for one redirect event.
func (p *Producer) NewFact(destinationURL, clientIP, sourceAttribution string) QueueMessage {
	return QueueMessage{
		TrackingID:        p.node.Generate().String(),
		Timestamp:         time.Now().UTC(),
		SourceAttribution: sourceAttribution,
		ClientIP:          clientIP,
		DestinationURL:    destinationURL,
	}
}

// Track publishes the event in the background and returns the tracking id.
// The redirect response must never wait on, or fail because of, tracking.
func (p *Producer) Track(destinationURL, clientIP, sourceAttribution string) string {
	msg := p.NewFact(destinationURL, clientIP, sourceAttribution)

	p.wg.Add(1)
	go p.publish(msg)

	return msg.TrackingID
}

func (p *Producer) publish(msg QueueMessage) {
	defer p.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	zapLog := zap.L().With(
		zap.String("tracking_id", msg.TrackingID),
		zap.String("group_key", GroupKey(msg.ClientIP)),
	)

	t, opts, err := NewRecordTask(msg, p.window)
	if err != nil {
		zapLog.Error("failed to encode tracking task", zap.Error(err))
		return
	}

	_, err = p.enq.Enqueue(ctx, t, opts...)
	switch {
	case err == nil:
		zapLog.Debug("tracking fact published")
	case errors.Is(err, asynq.ErrTaskIDConflict):
		// Same client, destination and attribution inside the dedup window:
		// collapse into the already-queued item.
		zapLog.Debug("duplicate tracking fact collapsed")
	default:
		zapLog.Warn("failed to publish tracking fact, falling back to direct write", zap.Error(err))
		p.fallback(ctx, msg, zapLog)
	}
}

// fallback is the sink of last resort when the queue itself is unreachable:
// write the fact durably right away so nothing is lost, at the cost of
// skipping dedup and ordering for this one item.
func (p *Producer) fallback(ctx context.Context, msg QueueMessage, zapLog *zap.Logger) {
	if err := p.store.PutIfAbsent(ctx, msg.Fact(p.ttlDays)); err != nil {
		zapLog.Error("tracking fact lost, manual recovery required",
			zap.Any("fact", msg),
			zap.Error(err),
		)
		return
	}
	zapLog.Info("tracking fact persisted via fallback sink")
}

// Drain waits for in-flight publishes; wired to fx shutdown.
func (p *Producer) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
