package tracking

import (
	"regexp"
	"time"

	"linktrace/pkg/errutil"
)

// bucketLayout renders the alternate partition key used by time-bucketed
// queries. The fixed UTC+8 offset matches the reporting timezone the
// dashboards were built around; it is part of the stored schema, not a
// display concern.
const bucketLayout = "2006-01-02 15:04:05"

var bucketZone = time.FixedZone("UTC+8", 8*60*60)

// AttributionPattern constrains campaign tags on both the write and the read
// path.
var AttributionPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// TrackingFact is the immutable record of one redirect event.
//
// tracking_id is unique and never rewritten: persistence uses an
// insert-if-absent so redelivery from the at-least-once queue is a no-op.
type TrackingFact struct {
	TrackingID         string    `gorm:"column:tracking_id;primaryKey" json:"tracking_id"`
	Timestamp          time.Time `gorm:"column:timestamp;index:idx_tracking_facts_attribution,priority:2" json:"timestamp"`
	FormattedTimestamp string    `gorm:"column:formatted_timestamp;index:idx_tracking_facts_bucket" json:"formatted_timestamp"`
	SourceAttribution  string    `gorm:"column:source_attribution;index:idx_tracking_facts_attribution,priority:1" json:"source_attribution,omitempty"`
	ClientIP           string    `gorm:"column:client_ip" json:"client_ip"`
	DestinationURL     string    `gorm:"column:destination_url" json:"destination_url"`
	TTL                int64     `gorm:"column:ttl" json:"ttl,omitempty"`
}

func (TrackingFact) TableName() string {
	return "tracking_facts"
}

// QueueMessage is the wire body published by the producer and consumed by the
// persister. formatted_timestamp and ttl are derived at persist time, not
// carried on the queue.
type QueueMessage struct {
	TrackingID        string    `json:"tracking_id"`
	Timestamp         time.Time `json:"timestamp"`
	SourceAttribution string    `json:"source_attribution,omitempty"`
	ClientIP          string    `json:"client_ip"`
	DestinationURL    string    `json:"destination_url"`
}

// Validate checks the structural invariants of a queued message. A failure
// here means the item is malformed, not transient: it is dropped, never
// retried.
func (m QueueMessage) Validate() error {
	if m.TrackingID == "" {
		return errutil.Validation("tracking_id is required", nil)
	}
	if m.Timestamp.IsZero() {
		return errutil.Validation("timestamp is required", nil)
	}
	if m.ClientIP == "" {
		return errutil.Validation("client_ip is required", nil)
	}
	if m.DestinationURL == "" {
		return errutil.Validation("destination_url is required", nil)
	}
	if m.SourceAttribution != "" && !AttributionPattern.MatchString(m.SourceAttribution) {
		return errutil.Validation("source_attribution has invalid format", nil)
	}
	return nil
}

// Fact materializes the stored record, deriving the bucket timestamp and the
// retention deadline.
func (m QueueMessage) Fact(ttlDays int) TrackingFact {
	return TrackingFact{
		TrackingID:         m.TrackingID,
		Timestamp:          m.Timestamp.UTC(),
		FormattedTimestamp: FormatBucket(m.Timestamp),
		SourceAttribution:  m.SourceAttribution,
		ClientIP:           m.ClientIP,
		DestinationURL:     m.DestinationURL,
		TTL:                m.Timestamp.Add(time.Duration(ttlDays) * 24 * time.Hour).Unix(),
	}
}

// FormatBucket renders an instant in the fixed-offset bucket representation.
func FormatBucket(t time.Time) string {
	return t.In(bucketZone).Format(bucketLayout)
}

// ErrorInfo is the classification carried inside a dead-letter envelope.
type ErrorInfo struct {
	Message string `json:"message"`
	Kind    string `json:"kind"`
	Code    string `json:"code,omitempty"`
}

// DeadLetterEnvelope wraps a fact whose durable write failed after the
// persister's local retries. retry_count is incremented on every requeue;
// past the ceiling the envelope is discarded with a terminal log entry.
type DeadLetterEnvelope struct {
	Fact          QueueMessage `json:"fact"`
	Error         ErrorInfo    `json:"error"`
	RetryCount    int          `json:"retry_count"`
	FailedAt      time.Time    `json:"failed_at"`
	CorrelationID string       `json:"correlation_id"`
}
