package tracking

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestGroupKeyStable(t *testing.T) {
	require.Equal(t, GroupKey("203.0.113.7"), GroupKey("203.0.113.7"))
	require.NotEqual(t, GroupKey("203.0.113.7"), GroupKey("203.0.113.8"))
	require.Regexp(t, `^c[0-9a-f]{16}$`, GroupKey("203.0.113.7"))
}

func TestDedupKeyWindow(t *testing.T) {
	window := 5 * time.Minute
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	k1 := DedupKey("203.0.113.7", "https://example.com/a", "spring", base, window)
	k2 := DedupKey("203.0.113.7", "https://example.com/a", "spring", base.Add(2*time.Minute), window)
	require.Equal(t, k1, k2, "same request inside one window must collapse")

	k3 := DedupKey("203.0.113.7", "https://example.com/a", "spring", base.Add(6*time.Minute), window)
	require.NotEqual(t, k1, k3, "next window is a fresh event")

	k4 := DedupKey("203.0.113.7", "https://example.com/a", "summer", base, window)
	require.NotEqual(t, k1, k4, "attribution is part of the identity")

	k5 := DedupKey("203.0.113.7", "https://example.com/b", "spring", base, window)
	require.NotEqual(t, k1, k5, "destination is part of the identity")
}

func TestAggregatorBuildsRecordBatch(t *testing.T) {
	agg := NewAggregator()

	tasks := []*asynq.Task{
		asynq.NewTask(TaskRecord, []byte(`{"tracking_id":"1"}`)),
		asynq.NewTask(TaskRecord, []byte(`{"tracking_id":"2"}`)),
	}

	batch := agg.Aggregate("c0001", tasks)
	require.Equal(t, TaskRecordBatch, batch.Type())

	var payload batchPayload
	require.NoError(t, json.Unmarshal(batch.Payload(), &payload))
	require.Len(t, payload.Items, 2)
	require.JSONEq(t, `{"tracking_id":"1"}`, string(payload.Items[0]))
	require.JSONEq(t, `{"tracking_id":"2"}`, string(payload.Items[1]))
}

func TestAggregatorBuildsDeadLetterBatch(t *testing.T) {
	agg := NewAggregator()

	tasks := []*asynq.Task{
		asynq.NewTask(TaskDeadLetter, []byte(`{"retry_count":1}`)),
	}

	batch := agg.Aggregate(deadLetterGroup, tasks)
	require.Equal(t, TaskDeadLetterBatch, batch.Type())
}

func TestQueueMessageValidate(t *testing.T) {
	valid := QueueMessage{
		TrackingID:        "1",
		Timestamp:         time.Now(),
		ClientIP:          "203.0.113.7",
		DestinationURL:    "https://example.com",
		SourceAttribution: "spring_sale",
	}
	require.NoError(t, valid.Validate())

	missingIP := valid
	missingIP.ClientIP = ""
	require.Error(t, missingIP.Validate())

	badAttribution := valid
	badAttribution.SourceAttribution = "has spaces"
	require.Error(t, badAttribution.Validate())

	noAttribution := valid
	noAttribution.SourceAttribution = ""
	require.NoError(t, noAttribution.Validate(), "attribution is optional")
}

func TestFactDerivesBucketAndTTL(t *testing.T) {
	msg := QueueMessage{
		TrackingID:     "1",
		Timestamp:      time.Date(2026, 3, 1, 20, 30, 0, 0, time.UTC),
		ClientIP:       "203.0.113.7",
		DestinationURL: "https://example.com",
	}

	fact := msg.Fact(365)
	require.Equal(t, "2026-03-02 04:30:00", fact.FormattedTimestamp, "bucket is rendered in UTC+8")
	require.Equal(t, msg.Timestamp.Add(365*24*time.Hour).Unix(), fact.TTL)
}
