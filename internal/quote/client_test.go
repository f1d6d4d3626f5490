package quote

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("symbols"); got != "AAPL,MSFT" {
			t.Errorf("symbols = %q, want %q", got, "AAPL,MSFT")
		}
		if got := r.URL.Query().Get("interval"); got != "1d" {
			t.Errorf("interval = %q, want %q", got, "1d")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"rows":[
			{"symbol":"AAPL","trade_date":"2026-08-21","close":232.75,"prev_close":229.9},
			{"symbol":"MSFT","trade_date":"2026-08-21","close":415.2,"prev_close":417.0}
		]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	rows, err := c.Fetch(context.Background(), []string{"AAPL", "MSFT"}, "1d", "5d")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	if len(rows) != 2 {
		t.Fatalf("len(rows) = %d, want 2", len(rows))
	}
	if rows[0].Symbol != "AAPL" || rows[0].Close != 232.75 {
		t.Errorf("rows[0] = %+v", rows[0])
	}
}

func TestFetchRetriesServerErrors(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"rows":[{"symbol":"AAPL","close":1}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRetries(3, time.Millisecond))
	rows, err := c.Fetch(context.Background(), []string{"AAPL"}, "1d", "5d")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("len(rows) = %d, want 1", len(rows))
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("server calls = %d, want 3", got)
	}
}

func TestFetchDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRetries(3, time.Millisecond))
	_, err := c.Fetch(context.Background(), []string{"AAPL"}, "1d", "5d")
	if err == nil {
		t.Fatal("Fetch succeeded, want error")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("server calls = %d, want 1 (no retries on 400)", got)
	}
}
