// Package retry drives every outbound provider and platform call through one
// policy: bounded attempts, exponential backoff, and a classifier deciding
// whether a failure is terminal, retryable, or carries its own retry delay.
package retry

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Outcome is the classifier verdict for a failed attempt.
type Outcome int

const (
	// Fatal stops immediately and surfaces the error.
	Fatal Outcome = iota
	// Retryable is retried with exponential backoff until attempts run out.
	Retryable
	// RetryAfter is retried after the delay the remote side asked for.
	RetryAfter
	// Blocked is terminal: the recipient refuses delivery for good.
	Blocked
)

func (o Outcome) String() string {
	switch o {
	case Retryable:
		return "retryable"
	case RetryAfter:
		return "retry_after"
	case Blocked:
		return "blocked"
	default:
		return "fatal"
	}
}

// Decision is what a Classifier returns for one error.
type Decision struct {
	Outcome Outcome
	After   time.Duration
}

// Classifier maps an attempt error to a Decision.
type Classifier func(err error) Decision

// Error tags an error with its classification. Integrations return it so the
// default classifier does not have to guess.
type Error struct {
	Outcome Outcome
	After   time.Duration
	Err     error
}

func (e *Error) Error() string { return e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

func Transient(err error) error { return &Error{Outcome: Retryable, Err: err} }
func Permanent(err error) error { return &Error{Outcome: Fatal, Err: err} }
func Refused(err error) error   { return &Error{Outcome: Blocked, Err: err} }

func After(d time.Duration, err error) error {
	return &Error{Outcome: RetryAfter, After: d, Err: err}
}

// Classify is the default classifier. Tagged errors win; bare network
// timeouts and truncated bodies are retryable; everything else is fatal.
func Classify(err error) Decision {
	var tagged *Error
	if errors.As(err, &tagged) {
		return Decision{Outcome: tagged.Outcome, After: tagged.After}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Decision{Outcome: Fatal}
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, io.ErrUnexpectedEOF) {
		return Decision{Outcome: Retryable}
	}
	return Decision{Outcome: Fatal}
}

// OutcomeOf reports the default classification of err.
func OutcomeOf(err error) Outcome {
	if err == nil {
		return Fatal
	}
	return Classify(err).Outcome
}

// Policy is reusable across goroutines; Do builds fresh backoff state per call.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	Jitter      float64
	Classify    Classifier
	OnRetry     func(attempt int, err error, wait time.Duration)
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		Multiplier:  2,
		Jitter:      0.2,
	}
}

// delayedError carries a provider-requested delay to backoff while keeping
// the original error as the one reported to the caller.
type delayedError struct {
	err   error
	after *backoff.RetryAfterError
}

func (e *delayedError) Error() string   { return e.err.Error() }
func (e *delayedError) Unwrap() []error { return []error{e.err, e.after} }

// Do runs op until it succeeds, the classifier calls it terminal, attempts
// run out, or ctx is done.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	classify := p.Classify
	if classify == nil {
		classify = Classify
	}
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	multiplier := p.Multiplier
	if multiplier < 1 {
		multiplier = 2
	}

	eb := &backoff.ExponentialBackOff{
		InitialInterval:     p.BaseDelay,
		RandomizationFactor: p.Jitter,
		Multiplier:          multiplier,
		MaxInterval:         p.MaxDelay,
	}
	if eb.MaxInterval <= 0 {
		eb.MaxInterval = backoff.DefaultMaxInterval
	}
	eb.Reset()

	attempt := 0
	operation := func() (T, error) {
		attempt++
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}

		d := classify(err)
		switch d.Outcome {
		case Retryable:
			return v, err
		case RetryAfter:
			return v, &delayedError{err: err, after: &backoff.RetryAfterError{Duration: d.After}}
		default:
			return v, backoff.Permanent(err)
		}
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(uint(attempts)),
	}
	if p.OnRetry != nil {
		opts = append(opts, backoff.WithNotify(func(err error, wait time.Duration) {
			p.OnRetry(attempt, unwrap(err), wait)
		}))
	}

	v, err := backoff.Retry(ctx, operation, opts...)
	return v, unwrap(err)
}

func unwrap(err error) error {
	if err == nil {
		return nil
	}
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Unwrap()
	}
	var delayed *delayedError
	if errors.As(err, &delayed) {
		return delayed.err
	}
	return err
}
