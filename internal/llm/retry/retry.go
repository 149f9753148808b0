// Package retry wraps provider streams with bounded, silent retries.
//
// Only the phase before the first event of a stream is retried. Once a
// content delta has been received the stream is committed and any later
// failure is terminal, so callers never see output from an attempt that was
// later thrown away.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/agentround/agentround/internal/config"
	"github.com/agentround/agentround/internal/llm/provider"
	"github.com/sethvargo/go-retry"
)

// Policy configures how a provider call is retried.
type Policy struct {
	// Attempts is the total number of calls, including the first one.
	Attempts      int
	BaseDelay     time.Duration
	Multiplier    float64
	MaxDelay      time.Duration
	JitterPercent int
	// Timeout bounds a whole call, retries and streaming included. 0 means
	// no limit.
	Timeout time.Duration

	// OnRetry, if set, is called before each retry with the 1-based number
	// of the attempt that failed.
	OnRetry func(attempt int, err error)
}

// FromConfig builds a Policy from the retry section of the configuration.
func FromConfig(cfg config.RetryConfig) Policy {
	return Policy{
		Attempts:      cfg.Attempts,
		BaseDelay:     cfg.BaseDelay,
		Multiplier:    cfg.Multiplier,
		MaxDelay:      cfg.MaxDelay,
		JitterPercent: cfg.JitterPercent,
		Timeout:       cfg.Timeout,
	}
}

func (p Policy) attempts() int {
	return max(p.Attempts, 1)
}

// Delay returns the backoff before retry n (0-based), without jitter and
// before any upstream Retry-After hint is applied.
func (p Policy) Delay(n int) time.Duration {
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := time.Duration(float64(p.BaseDelay) * math.Pow(mult, float64(n)))
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

func (p Policy) backoff(hint func() time.Duration) retry.Backoff {
	n := 0
	var b retry.Backoff = retry.BackoffFunc(func() (time.Duration, bool) {
		d := p.Delay(n)
		n++
		if h := hint(); h > d {
			d = h
		}
		return d, false
	})
	if p.JitterPercent > 0 {
		b = retry.WithJitterPercent(uint64(p.JitterPercent), b)
	}
	if p.MaxDelay > 0 {
		b = retry.WithCappedDuration(p.MaxDelay, b)
	}
	return retry.WithMaxRetries(uint64(p.attempts()-1), b)
}

// OpenFunc starts one provider call.
type OpenFunc func(ctx context.Context) <-chan provider.ProviderEvent

// Stream calls open until it yields a first event that is not a transient
// error, or the policy gives up. On success the returned channel replays
// that event and forwards the rest of the stream, ending with exactly one
// EventComplete or EventError unless ctx is cancelled. The error return is
// the terminal failure of the last attempt, or ctx.Err() if ctx ended first.
// providerID names the upstream in errors raised here.
func Stream(ctx context.Context, p Policy, providerID string, open OpenFunc) (<-chan provider.ProviderEvent, error) {
	var (
		callCtx context.Context
		cancel  context.CancelFunc
	)
	if p.Timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, p.Timeout)
	} else {
		callCtx, cancel = context.WithCancel(ctx)
	}

	var (
		events   <-chan provider.ProviderEvent
		first    provider.ProviderEvent
		attempt  int
		lastHint time.Duration
	)
	err := retry.Do(callCtx, p.backoff(func() time.Duration { return lastHint }), func(ctx context.Context) error {
		attempt++
		ch := open(ctx)
		select {
		case ev, ok := <-ch:
			if !ok {
				if err := ctx.Err(); err != nil {
					return err
				}
				return &provider.ProtocolError{Provider: providerID, Err: errors.New("stream closed before any event")}
			}
			if ev.Type != provider.EventError {
				events, first = ch, ev
				return nil
			}
			if !provider.IsTransient(ev.Error) || attempt >= p.attempts() {
				return ev.Error
			}
			lastHint = provider.RetryAfter(ev.Error)
			slog.Warn("Retrying provider call", "attempt", attempt, "error", ev.Error)
			if p.OnRetry != nil {
				p.OnRetry(attempt, ev.Error)
			}
			return retry.RetryableError(ev.Error)
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	if err != nil {
		cancel()
		return nil, terminal(ctx, p, providerID, err)
	}

	out := make(chan provider.ProviderEvent)
	go func() {
		defer cancel()
		defer close(out)

		if !forward(ctx, out, first) || first.Type != provider.EventContentDelta {
			return
		}
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					err := terminal(ctx, p, providerID, callCtx.Err())
					if err == nil {
						err = &provider.ProtocolError{Provider: providerID, Err: errors.New("stream ended without completion")}
					}
					forward(ctx, out, provider.ProviderEvent{Type: provider.EventError, Error: err})
					return
				}
				if ev.Type == provider.EventError {
					ev.Error = terminal(ctx, p, providerID, ev.Error)
				}
				if !forward(ctx, out, ev) || ev.Type != provider.EventContentDelta {
					return
				}
			case <-callCtx.Done():
				if ctx.Err() != nil {
					return
				}
				forward(ctx, out, provider.ProviderEvent{Type: provider.EventError, Error: terminal(ctx, p, providerID, callCtx.Err())})
				return
			}
		}
	}()
	return out, nil
}

// terminal turns the expiry of the call timeout into a transient error
// naming the timeout. Cancellation of the parent context is returned as is.
func terminal(parent context.Context, p Policy, providerID string, err error) error {
	if err == nil {
		return nil
	}
	if parent.Err() != nil {
		return parent.Err()
	}
	var transient *provider.TransientError
	if errors.Is(err, context.DeadlineExceeded) && !errors.As(err, &transient) {
		return &provider.TransientError{Provider: providerID, Err: fmt.Errorf("call timed out after %s: %w", p.Timeout, err)}
	}
	return err
}

func forward(ctx context.Context, out chan<- provider.ProviderEvent, ev provider.ProviderEvent) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
