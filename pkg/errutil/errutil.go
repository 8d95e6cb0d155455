package errutil

import (
	"errors"
	"fmt"
)

// Error is the one error shape exchanged between pipeline components.
type Error struct {
	Kind    Kind   `json:"kind"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure may be attempted again.
func (e Error) Retryable() bool {
	return e.Kind.Retryable()
}

// JSON renders the generic client-facing body. The wrapped cause is
// deliberately omitted.
func (e Error) JSON() interface{} {
	return map[string]interface{}{
		"error": map[string]interface{}{
			"kind":    e.Kind,
			"message": e.Message,
		},
	}
}

type Option func(*Error)

func WithCode(code string) Option {
	return func(e *Error) { e.Code = code }
}

func WithErr(err error) Option {
	return func(e *Error) { e.Err = err }
}

func New(kind Kind, message string, opts ...Option) error {
	e := Error{Kind: kind, Message: message}
	for _, opt := range opts {
		opt(&e)
	}
	return e
}

func Validation(msg string, err error, opts ...Option) error {
	return New(KindValidation, msg, append(opts, WithErr(err))...)
}

func TransientStore(msg string, err error, opts ...Option) error {
	return New(KindTransientStore, msg, append(opts, WithErr(err))...)
}

func PermanentStore(msg string, err error, opts ...Option) error {
	return New(KindPermanentStore, msg, append(opts, WithErr(err))...)
}

func Configuration(msg string, err error, opts ...Option) error {
	return New(KindConfiguration, msg, append(opts, WithErr(err))...)
}

func Delivery(msg string, err error, opts ...Option) error {
	return New(KindDelivery, msg, append(opts, WithErr(err))...)
}

// KindOf extracts the kind of err, defaulting to permanent-store for
// unclassified failures so unknown errors are never retried blindly.
func KindOf(err error) Kind {
	var e Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindPermanentStore
}
