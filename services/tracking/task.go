package tracking

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"linktrace/pkg/task"

	"github.com/hibiken/asynq"
)

// Task types. Single-item tasks are what producers enqueue; the server-side
// aggregator folds each group's pending items into one batch task per round.
const (
	TaskRecord          = "tracking:record"
	TaskRecordBatch     = "tracking:record:batch"
	TaskDeadLetter      = "tracking:deadletter"
	TaskDeadLetterBatch = "tracking:deadletter:batch"
)

// deadLetterGroup is a single aggregation group: retry rounds batch across
// all clients, ordering no longer matters once an item has dead-lettered.
const deadLetterGroup = "dead"

// GroupKey derives the queue ordering key from the client IP. Items sharing a
// group are delivered in order and aggregated together; distinct clients
// proceed in parallel.
func GroupKey(clientIP string) string {
	h := fnv.New64a()
	h.Write([]byte(clientIP))
	return fmt.Sprintf("c%016x", h.Sum64())
}

// DedupKey collapses identical requests from one client inside a dedup
// window. Used as the queue task ID: a second enqueue with the same ID while
// the first is still live is rejected by the queue, which is exactly the
// dedup semantics wanted.
func DedupKey(clientIP, destinationURL, sourceAttribution string, at time.Time, window time.Duration) string {
	h := fnv.New64a()
	h.Write([]byte(strings.Join([]string{
		clientIP,
		destinationURL,
		sourceAttribution,
		at.Truncate(window).UTC().Format(time.RFC3339),
	}, "|")))
	return fmt.Sprintf("d%016x", h.Sum64())
}

// NewRecordTask builds the enqueue request for one tracking fact.
func NewRecordTask(msg QueueMessage, window time.Duration) (*asynq.Task, []asynq.Option, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, nil, err
	}

	opts := []asynq.Option{
		asynq.Queue(task.QueueTracking),
		asynq.Group(GroupKey(msg.ClientIP)),
		asynq.TaskID(DedupKey(msg.ClientIP, msg.DestinationURL, msg.SourceAttribution, msg.Timestamp, window)),
		asynq.MaxRetry(5),
		asynq.Timeout(30 * time.Second),
	}

	return asynq.NewTask(TaskRecord, payload), opts, nil
}

// NewDeadLetterTask builds the requeue request for a failed fact. A zero
// delay means immediate processing (the persister's first handoff); retry
// rounds pass the computed backoff.
func NewDeadLetterTask(env DeadLetterEnvelope, delay time.Duration) (*asynq.Task, []asynq.Option, error) {
	payload, err := json.Marshal(env)
	if err != nil {
		return nil, nil, err
	}

	opts := []asynq.Option{
		asynq.Queue(task.QueueDeadLetter),
		asynq.Group(deadLetterGroup),
		asynq.MaxRetry(5),
		asynq.Timeout(60 * time.Second),
	}
	if delay > 0 {
		opts = append(opts, asynq.ProcessIn(delay))
	}

	return asynq.NewTask(TaskDeadLetter, payload), opts, nil
}

// batchPayload is the body of an aggregated task: the raw single-item
// payloads in aggregation order. Items stay raw so one malformed member
// cannot poison decoding of the rest.
type batchPayload struct {
	Items []json.RawMessage `json:"items"`
}

// NewAggregator folds a group's pending tasks into one batch task. Works for
// both queues; the batch type is derived from the member type.
func NewAggregator() asynq.GroupAggregator {
	return asynq.GroupAggregatorFunc(func(group string, tasks []*asynq.Task) *asynq.Task {
		items := make([]json.RawMessage, 0, len(tasks))
		batchType := TaskRecordBatch
		for _, t := range tasks {
			if t.Type() == TaskDeadLetter {
				batchType = TaskDeadLetterBatch
			}
			items = append(items, json.RawMessage(t.Payload()))
		}

		payload, err := json.Marshal(batchPayload{Items: items})
		if err != nil {
			// Marshalling raw messages cannot fail unless a payload is not
			// valid JSON; fall back to an empty batch the handler will log.
			payload = []byte(`{"items":[]}`)
		}

		return asynq.NewTask(batchType, payload)
	})
}
