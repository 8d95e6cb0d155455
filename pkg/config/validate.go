package config

import "linktrace/pkg/errutil"

// Validate rejects settings that would make the pipeline misbehave silently.
// A failure here is a Configuration error: fatal at startup, never retried.
func (c *Config) Validate() error {
	if c.Redis.Addr == "" {
		return errutil.Configuration("redis address is required", nil)
	}

	t := c.Tracking
	if t.MaxRetry < 0 {
		return errutil.Configuration("tracking max retry must not be negative", nil)
	}
	if t.BackoffBase <= 0 || t.BackoffCap < t.BackoffBase {
		return errutil.Configuration("tracking backoff base/cap out of order", nil)
	}
	if t.ReceiveBatchSize < 1 || t.WriteBatchSize < 1 {
		return errutil.Configuration("tracking batch sizes must be positive", nil)
	}
	if t.DedupWindow <= 0 {
		return errutil.Configuration("tracking dedup window must be positive", nil)
	}
	if t.Concurrency < 1 {
		return errutil.Configuration("tracking concurrency must be positive", nil)
	}

	a := c.Analytics
	if a.DefaultLimit < 1 || a.MaxLimit < a.DefaultLimit {
		return errutil.Configuration("analytics limits out of order", nil)
	}

	return nil
}
