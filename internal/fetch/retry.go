package fetch

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/handiism/multipartus-downloader/internal/http"
	"github.com/handiism/multipartus-downloader/internal/model"
)

// RetryPolicy bounds the attempts made for a single request.
type RetryPolicy struct {
	// Attempts is the total number of tries, at least 1.
	Attempts int

	// Cooldown is the wait after the first failure. Later waits grow by
	// Exponent: cooldown * exponent^tries.
	Cooldown time.Duration
	Exponent float64

	// Jitter randomizes each wait by +/- this fraction.
	Jitter float64
}

// DefaultRetryPolicy matches the environment defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts: 3,
		Cooldown: 500 * time.Millisecond,
		Exponent: 2,
		Jitter:   0.2,
	}
}

// Do runs fn until it succeeds, fails permanently or runs out of attempts.
// Failures are returned as *model.FetchError. stop is consulted before every
// attempt; once closed, Do returns model.ErrCancelled.
func (p RetryPolicy) Do(ctx context.Context, stop <-chan struct{}, url string, fn func(context.Context) error) error {
	attempts := max(p.Attempts, 1)

	var lastErr error
	for try := 0; try < attempts; try++ {
		if stopped(stop) {
			return model.ErrCancelled
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, model.ErrCancelled) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		lastErr = err
		if !http.IsTransient(err) {
			return &model.FetchError{URL: url, Transient: false, Err: err}
		}
		if try == attempts-1 {
			break
		}

		select {
		case <-time.After(p.backoff(try)):
		case <-stop:
			return model.ErrCancelled
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return &model.FetchError{URL: url, Transient: true, Err: lastErr}
}

func (p RetryPolicy) backoff(try int) time.Duration {
	exponent := p.Exponent
	if exponent < 1 {
		exponent = 1
	}
	wait := float64(p.Cooldown) * math.Pow(exponent, float64(try))
	if p.Jitter > 0 {
		wait += (rand.Float64() - 0.5) * 2 * p.Jitter * wait
	}
	return time.Duration(wait)
}

func stopped(stop <-chan struct{}) bool {
	select {
	case <-stop:
		return true
	default:
		return false
	}
}
