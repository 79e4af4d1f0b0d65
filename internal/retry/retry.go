package retry

import (
	"context"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
)

// Policy is a bounded retry policy for a single operation.
// MaxAttempts counts the first call, so MaxAttempts=3 means up to two retries.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration

	// OnRetry is called before every retry with the attempt number that failed
	OnRetry func(attempt int, err error)
}

// Do runs fn until it succeeds, the attempts are used up, or ctx is done.
// When every attempt fails the last error is returned as is.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	return failsafe.With[any](p.build()).WithContext(ctx).Run(fn)
}

func (p Policy) build() retrypolicy.RetryPolicy[any] {
	maxRetries := p.MaxAttempts - 1
	if maxRetries < 0 {
		maxRetries = 0
	}

	builder := retrypolicy.NewBuilder[any]().
		WithMaxRetries(maxRetries).
		AbortOnErrors(context.Canceled, context.DeadlineExceeded).
		ReturnLastFailure()

	if p.Delay > 0 {
		builder = builder.WithDelay(p.Delay)
	}

	if p.OnRetry != nil {
		onRetry := p.OnRetry
		builder = builder.OnRetry(func(e failsafe.ExecutionEvent[any]) {
			onRetry(e.Attempts(), e.LastError())
		})
	}

	return builder.Build()
}
