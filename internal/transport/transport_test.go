package transport

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastTransport(maxRetries int, gate *Gate) *Transport {
	return New(Options{
		MaxRetries:     maxRetries,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Gate:           gate,
	})
}

func TestRoundTripSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "ok")
	}))
	defer srv.Close()

	client := &http.Client{Transport: fastTransport(3, nil)}
	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRoundTripRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := &http.Client{Transport: fastTransport(5, nil)}
	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRoundTripServerErrorExhaustionFails(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := &http.Client{Transport: fastTransport(2, nil)}
	resp, err := client.Get(srv.URL) //nolint:bodyclose
	require.Error(t, err)
	assert.Nil(t, resp)
	assert.Contains(t, err.Error(), "502")
	// first attempt plus two retries
	assert.Equal(t, int32(3), calls.Load())
}

func TestRoundTripReplaysRequestBody(t *testing.T) {
	var bodies []string
	var mu sync.Mutex
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(data))
		mu.Unlock()
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := &http.Client{Transport: fastTransport(3, nil)}
	resp, err := client.Post(srv.URL, "application/json", bytes.NewReader([]byte(`{"q":1}`)))
	require.NoError(t, err)
	defer resp.Body.Close()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, bodies, 2)
	assert.Equal(t, `{"q":1}`, bodies[0])
	assert.Equal(t, `{"q":1}`, bodies[1], "retried request must carry the same body")
}

func TestRoundTripNonReplayableBodyFails(t *testing.T) {
	tr := fastTransport(3, nil)
	req, err := http.NewRequest(http.MethodPost, "http://unused.invalid", strings.NewReader("x"))
	require.NoError(t, err)
	req.GetBody = nil

	resp, err := tr.RoundTrip(req) //nolint:bodyclose
	require.Error(t, err)
	assert.Nil(t, resp)
	assert.Contains(t, err.Error(), "non-replayable")
}

func TestRoundTripRateLimitRetriesAfterGate(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := &http.Client{Transport: fastTransport(3, nil)}
	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(2), calls.Load())
}

func TestRoundTripRateLimitExhaustionReturnsResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := &http.Client{Transport: fastTransport(1, nil)}
	resp, err := client.Get(srv.URL)
	require.NoError(t, err, "exhausted 429 hands the response back, not an error")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestRateLimitGateIsShared(t *testing.T) {
	gate := NewGate()
	gate.Pause(time.Now().Add(50 * time.Millisecond))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	// A transport sharing the paused gate must not issue its request until
	// the gate reopens, even though it never saw the 429 itself.
	client := &http.Client{Transport: fastTransport(3, gate)}
	start := time.Now()
	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestGatePauseNeverShortens(t *testing.T) {
	gate := NewGate()
	far := time.Now().Add(time.Hour)
	gate.Pause(far)
	gate.Pause(time.Now().Add(time.Millisecond))
	assert.True(t, gate.Blocked())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := gate.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGateOpenByDefault(t *testing.T) {
	gate := NewGate()
	assert.False(t, gate.Blocked())
	assert.NoError(t, gate.Wait(context.Background()))
}

func TestRetryAfterParsing(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   time.Duration
	}{
		{name: "seconds", header: "7", want: 7 * time.Second},
		{name: "missing", header: "", want: 0},
		{name: "garbage", header: "soon", want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &http.Response{Header: http.Header{}}
			if tt.header != "" {
				resp.Header.Set("Retry-After", tt.header)
			}
			assert.Equal(t, tt.want, retryAfter(resp))
		})
	}
}

func TestRetryAfterHTTPDate(t *testing.T) {
	resp := &http.Response{Header: http.Header{}}
	resp.Header.Set("Retry-After", time.Now().Add(10*time.Second).UTC().Format(http.TimeFormat))

	got := retryAfter(resp)
	assert.Greater(t, got, 5*time.Second)
	assert.LessOrEqual(t, got, 10*time.Second)
}
