// Package transport wraps outbound HTTP calls with retry, backoff, and a
// shared rate-limit gate. Every remote call the sync engine issues passes
// through a Transport.
package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/fernhill/plansync/internal/log"
	"github.com/fernhill/plansync/internal/telemetry"
)

// Default retry tuning
const (
	DefaultMaxRetries     = 5
	DefaultInitialBackoff = 500 * time.Millisecond
	DefaultMaxBackoff     = 30 * time.Second
)

// Options configures a Transport
type Options struct {
	// Base is the underlying round tripper; http.DefaultTransport when nil
	Base http.RoundTripper

	// MaxRetries bounds retry attempts per request (not counting the first)
	MaxRetries int

	// InitialBackoff is the first retry delay; doubles per attempt with
	// jitter, capped at MaxBackoff
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// Gate is the shared rate-limit gate; a private one is created when nil.
	// Pass one Gate to every Transport of a process so all callers honor
	// the same limit.
	Gate *Gate

	Logger *log.Logger
}

// Transport is a retrying http.RoundTripper
type Transport struct {
	base           http.RoundTripper
	maxRetries     int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	gate           *Gate
	logger         *log.Logger
}

// New creates a Transport from options
func New(opts Options) *Transport {
	if opts.Base == nil {
		opts.Base = http.DefaultTransport
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = DefaultInitialBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = DefaultMaxBackoff
	}
	if opts.Gate == nil {
		opts.Gate = NewGate()
	}
	if opts.Logger == nil {
		opts.Logger = log.DefaultLogger()
	}
	return &Transport{
		base:           opts.Base,
		maxRetries:     opts.MaxRetries,
		initialBackoff: opts.InitialBackoff,
		maxBackoff:     opts.MaxBackoff,
		gate:           opts.Gate,
		logger:         opts.Logger,
	}
}

// Gate returns the transport's shared rate-limit gate
func (t *Transport) Gate() *Gate {
	return t.gate
}

// RoundTrip implements http.RoundTripper.
//
// Transport-level errors and 502/503/504 responses are retried with
// exponential backoff and jitter; exhausting retries returns the error. A
// 429 closes the shared gate for the Retry-After duration and is retried
// once the gate reopens; exhausting retries on 429 returns the last 429
// response so the caller decides what to do with it.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = t.initialBackoff
	bo.MaxInterval = t.maxBackoff

	var lastErr error
	for attempt := 0; ; attempt++ {
		if t.gate.Blocked() {
			telemetry.RecordRateLimitWait(ctx)
			t.logger.DebugContext(ctx, "waiting on rate-limit gate", "url", req.URL.String())
		}
		if err := t.gate.Wait(ctx); err != nil {
			return nil, err
		}

		attemptReq, err := cloneRequest(req)
		if err != nil {
			return nil, err
		}

		resp, err := t.base.RoundTrip(attemptReq)
		if err != nil {
			lastErr = err
			if attempt >= t.maxRetries {
				return nil, fmt.Errorf("request failed after %d attempts: %w", attempt+1, lastErr)
			}
			delay := t.capDelay(bo.NextBackOff())
			telemetry.RecordRetry(ctx, "transport")
			t.logger.DebugContext(ctx, "retrying after transport error",
				"url", req.URL.String(), "attempt", attempt+1, "delay", delay.String(), "error", err.Error())
			if err := sleep(ctx, delay); err != nil {
				return nil, err
			}
			continue
		}

		switch resp.StatusCode {
		case http.StatusTooManyRequests:
			delay := retryAfter(resp)
			if delay <= 0 {
				delay = t.capDelay(bo.NextBackOff())
			}
			t.gate.Pause(time.Now().Add(delay))
			if attempt >= t.maxRetries {
				// Hand the final 429 back to the caller unconsumed
				return resp, nil
			}
			drain(resp)
			telemetry.RecordRetry(ctx, "rate_limit")
			t.logger.WarnContext(ctx, "rate limited, gating all requests",
				"url", req.URL.String(), "delay", delay.String())

		case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			if attempt >= t.maxRetries {
				drain(resp)
				return nil, fmt.Errorf("server returned %d after %d attempts", resp.StatusCode, attempt+1)
			}
			delay := retryAfter(resp)
			if delay <= 0 {
				delay = t.capDelay(bo.NextBackOff())
			}
			drain(resp)
			telemetry.RecordRetry(ctx, "server_error")
			t.logger.DebugContext(ctx, "retrying after server error",
				"url", req.URL.String(), "status", resp.StatusCode, "delay", delay.String())
			if err := sleep(ctx, delay); err != nil {
				return nil, err
			}

		default:
			return resp, nil
		}
	}
}

func (t *Transport) capDelay(d time.Duration) time.Duration {
	if d > t.maxBackoff {
		return t.maxBackoff
	}
	return d
}

// cloneRequest produces a request safe to send again. Bodies are replayed
// through GetBody, which net/http sets for all byte-buffer bodies.
func cloneRequest(req *http.Request) (*http.Request, error) {
	clone := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		return clone, nil
	}
	if req.GetBody == nil {
		return nil, fmt.Errorf("cannot retry request with non-replayable body")
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, fmt.Errorf("replay request body: %w", err)
	}
	clone.Body = body
	return clone, nil
}

// retryAfter parses the Retry-After header as delta seconds or HTTP date
func retryAfter(resp *http.Response) time.Duration {
	value := resp.Header.Get("Retry-After")
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		return time.Until(at)
	}
	return 0
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
