package errutil

import "net/http"

// Kind is the closed set of failure classes the pipeline distinguishes.
// Every error that crosses a component boundary carries exactly one Kind;
// retry decisions are derived from it and nowhere else.
type Kind string

const (
	// KindValidation marks malformed or out-of-range input. Never retried;
	// reported to the caller or dropped at the boundary that detected it.
	KindValidation Kind = "validation"

	// KindTransientStore marks throttling, timeouts and 5xx-class store
	// failures. Retried with backoff, eventually escalated to dead-letter.
	KindTransientStore Kind = "transient_store"

	// KindPermanentStore marks conditional-check, not-found and access
	// failures. Not retried.
	KindPermanentStore Kind = "permanent_store"

	// KindConfiguration marks a missing or inconsistent runtime setting.
	// Fatal at startup.
	KindConfiguration Kind = "configuration"

	// KindDelivery marks a failure to hand an item to the queue itself.
	KindDelivery Kind = "delivery"
)

// Retryable reports whether an error of this kind may be attempted again.
func (k Kind) Retryable() bool {
	return k == KindTransientStore || k == KindDelivery
}

// HTTPStatus maps the kind to a client-facing status. Anything that is not a
// caller mistake collapses to 500 so storage-engine detail never leaks out.
func (k Kind) HTTPStatus() int {
	if k == KindValidation {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
