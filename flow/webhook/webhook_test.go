package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
)

func TestCallSuccess(t *testing.T) {
	var got struct {
		method string
		body   map[string]any
		ctype  string
		header string
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.method = r.Method
		got.ctype = r.Header.Get("Content-Type")
		got.header = r.Header.Get("X-Token")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &got.body)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), zerolog.Nop())
	res := c.Call(context.Background(), Request{
		URL:     srv.URL,
		Headers: map[string]string{"X-Token": "secret"},
		Body:    map[string]any{"lead": "Maria"},
	})

	if !res.Success {
		t.Fatalf("Success = false: %+v", res)
	}
	if res.StatusCode != http.StatusCreated {
		t.Errorf("StatusCode = %d, want 201", res.StatusCode)
	}
	if res.BodyExcerpt != `{"ok": true}` {
		t.Errorf("BodyExcerpt = %q", res.BodyExcerpt)
	}
	if got.method != http.MethodPost {
		t.Errorf("method = %s, want POST default", got.method)
	}
	if got.ctype != "application/json" {
		t.Errorf("Content-Type = %q", got.ctype)
	}
	if got.header != "secret" {
		t.Errorf("custom header lost: %q", got.header)
	}
	if got.body["lead"] != "Maria" {
		t.Errorf("body = %v", got.body)
	}
}

func TestCallHTTPFailureNoRetry(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), zerolog.Nop())
	res := c.Call(context.Background(), Request{URL: srv.URL, RetryOnFail: true})

	if res.Success {
		t.Fatal("HTTP 500 must not be a success")
	}
	if res.StatusCode != http.StatusInternalServerError {
		t.Errorf("StatusCode = %d", res.StatusCode)
	}
	// Status failures never retry; only network-class errors do.
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("calls = %d, want 1", n)
	}
}

func TestCallNetworkErrorRetriesOnce(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			// Drop the first connection to force a network-class error.
			hj, ok := w.(http.Hijacker)
			if !ok {
				t.Fatal("server does not support hijacking")
			}
			conn, _, err := hj.Hijack()
			if err != nil {
				t.Fatal(err)
			}
			_ = conn.Close()
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), zerolog.Nop())
	res := c.Call(context.Background(), Request{URL: srv.URL, RetryOnFail: true})

	if !res.Success {
		t.Fatalf("retry must recover: %+v", res)
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Errorf("calls = %d, want 2", n)
	}
}

func TestCallValidation(t *testing.T) {
	c := NewClient(nil, zerolog.Nop())

	if res := c.Call(context.Background(), Request{}); res.Success || res.Error == "" {
		t.Errorf("missing URL must fail, got %+v", res)
	}
	if res := c.Call(context.Background(), Request{URL: "http://x", Method: "PATCH"}); res.Success || res.Error == "" {
		t.Errorf("unsupported method must fail, got %+v", res)
	}
}

func TestCallExcerptCapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		big := make([]byte, 5000)
		for i := range big {
			big[i] = 'x'
		}
		_, _ = w.Write(big)
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), zerolog.Nop())
	res := c.Call(context.Background(), Request{URL: srv.URL, Method: "GET"})

	if !res.Success {
		t.Fatalf("got %+v", res)
	}
	if len(res.BodyExcerpt) != 1000 {
		t.Errorf("excerpt length = %d, want capped at 1000", len(res.BodyExcerpt))
	}
}
