package httpx

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/erauner12/pagesync/internal/ratelimit"
	"github.com/erauner12/pagesync/internal/retry"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	limiter := ratelimit.New("test", 1000)
	t.Cleanup(limiter.Stop)
	return New("test", srv.URL, "secret", limiter, retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}, map[string]string{"X-Api-Version": "1"})
}

func TestJSONDecodesResponse(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("X-Api-Version"); got != "1" {
			t.Errorf("X-Api-Version = %q", got)
		}
		if r.Header.Get("X-Correlation-ID") == "" {
			t.Error("missing correlation id")
		}
		w.Write([]byte(`{"value":42}`))
	}))

	var out struct {
		Value int `json:"value"`
	}
	if err := c.JSON(context.Background(), http.MethodGet, "/thing", nil, nil, &out, time.Second); err != nil {
		t.Fatalf("JSON() error: %v", err)
	}
	if out.Value != 42 {
		t.Errorf("decoded value = %d, want 42", out.Value)
	}
}

func TestJSONRetriesServerErrors(t *testing.T) {
	var calls int32
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			http.Error(w, "oops", http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{}`))
	}))

	if err := c.JSON(context.Background(), http.MethodGet, "/flaky", nil, nil, nil, time.Second); err != nil {
		t.Fatalf("JSON() error after retries: %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Errorf("calls = %d, want 3", n)
	}
}

func TestJSONDoesNotRetryNotFound(t *testing.T) {
	var calls int32
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "missing", http.StatusNotFound)
	}))

	err := c.JSON(context.Background(), http.MethodGet, "/gone", nil, nil, nil, time.Second)
	var se *retry.StatusError
	if !errors.As(err, &se) || se.Status != http.StatusNotFound {
		t.Fatalf("expected 404 StatusError, got %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("calls = %d, want 1", n)
	}
}

func TestJSONCancellation(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := c.JSON(ctx, http.MethodGet, "/slow", nil, nil, nil, time.Minute)
	if err == nil {
		t.Fatal("expected cancellation error")
	}
}
