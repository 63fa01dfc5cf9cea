package marketdata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func TestListPage_RequestAndDecode(t *testing.T) {
	var gotPath, gotQuery, gotKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotKey = r.Header.Get("x-cg-demo-api-key")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"id": "bitcoin", "symbol": "btc", "market_cap": 1000000, "total_volume": 50000},
			{"id": "ethereum", "symbol": "eth", "market_cap": 500000, "total_volume": 25000}
		]`))
	}))
	defer server.Close()

	client := NewClient("test-key",
		WithBaseURL(server.URL),
		WithLimiter(rate.NewLimiter(rate.Inf, 1)),
	)

	entries, err := client.ListPage(context.Background(), 3)
	if err != nil {
		t.Fatalf("ListPage failed: %v", err)
	}

	if gotPath != "/coins/markets" {
		t.Errorf("path = %s, want /coins/markets", gotPath)
	}
	for _, param := range []string{"vs_currency=usd", "order=market_cap_desc", "per_page=100", "page=3"} {
		if !strings.Contains(gotQuery, param) {
			t.Errorf("query %q missing %q", gotQuery, param)
		}
	}
	if gotKey != "test-key" {
		t.Errorf("credential header = %q, want test-key", gotKey)
	}

	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].ID != "bitcoin" || entries[0].Symbol != "btc" {
		t.Errorf("entry 0 = %+v", entries[0])
	}
	if entries[0].MarketCap != 1000000 || entries[0].CurrentVolume != 50000 {
		t.Errorf("entry 0 numerics = %+v", entries[0])
	}
}

func TestListPage_EmptyAPIKeySendsNoHeader(t *testing.T) {
	headerSet := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, headerSet = r.Header["X-Cg-Demo-Api-Key"]
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	client := NewClient("",
		WithBaseURL(server.URL),
		WithLimiter(rate.NewLimiter(rate.Inf, 1)),
	)

	if _, err := client.ListPage(context.Background(), 1); err != nil {
		t.Fatalf("ListPage failed: %v", err)
	}
	if headerSet {
		t.Error("credential header sent despite empty API key")
	}
}

func TestHistory_DayBucketing(t *testing.T) {
	// Two samples on the same UTC day: the later one wins. The third sample
	// is the following day.
	day1a := time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC).UnixMilli()
	day1b := time.Date(2024, 3, 14, 18, 30, 0, 0, time.UTC).UnixMilli()
	day2 := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC).UnixMilli()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/coins/bitcoin/market_chart" {
			t.Errorf("path = %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("days") != "30" || q.Get("interval") != "daily" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		body := `{
			"prices": [[` + itoa(day1a) + `, 1.0], [` + itoa(day1b) + `, 1.5], [` + itoa(day2) + `, 2.0]],
			"total_volumes": [[` + itoa(day1a) + `, 100], [` + itoa(day1b) + `, 150], [` + itoa(day2) + `, 200]]
		}`
		w.Write([]byte(body))
	}))
	defer server.Close()

	client := NewClient("k",
		WithBaseURL(server.URL),
		WithLimiter(rate.NewLimiter(rate.Inf, 1)),
	)

	prices, volumes, err := client.History(context.Background(), "bitcoin")
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}

	if len(prices) != 2 || len(volumes) != 2 {
		t.Fatalf("got %d price and %d volume days, want 2 and 2", len(prices), len(volumes))
	}
	if prices["2024-03-14"] != 1.5 {
		t.Errorf("prices[2024-03-14] = %v, want 1.5 (last sample wins)", prices["2024-03-14"])
	}
	if prices["2024-03-15"] != 2.0 {
		t.Errorf("prices[2024-03-15] = %v, want 2.0", prices["2024-03-15"])
	}
	if volumes["2024-03-14"] != 150 {
		t.Errorf("volumes[2024-03-14] = %v, want 150", volumes["2024-03-14"])
	}
}

func TestGet_Non200Propagates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": "rate limited"}`))
	}))
	defer server.Close()

	client := NewClient("k",
		WithBaseURL(server.URL),
		WithLimiter(rate.NewLimiter(rate.Inf, 1)),
	)

	_, err := client.ListPage(context.Background(), 1)
	if err == nil {
		t.Fatal("expected an error for a 429 response")
	}
	if !strings.Contains(err.Error(), "unexpected status 429") {
		t.Errorf("error = %v, want status code in message", err)
	}
}

func TestSharedLimiter_SerializesClients(t *testing.T) {
	var mu sync.Mutex
	var times []time.Time
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		times = append(times, time.Now())
		mu.Unlock()
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	// Two clients with distinct credentials share one reservoir.
	refill := 50 * time.Millisecond
	limiter := NewLimiter(refill)
	a := NewClient("key-a", WithBaseURL(server.URL), WithLimiter(limiter))
	b := NewClient("key-b", WithBaseURL(server.URL), WithLimiter(limiter))

	var wg sync.WaitGroup
	for _, c := range []*Client{a, b, a, b} {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			if _, err := c.ListPage(context.Background(), 1); err != nil {
				t.Errorf("ListPage failed: %v", err)
			}
		}(c)
	}
	wg.Wait()

	if len(times) != 4 {
		t.Fatalf("got %d requests, want 4", len(times))
	}
	// Four requests through a one-token reservoir take at least three
	// refill intervals.
	var first, last time.Time
	for _, ts := range times {
		if first.IsZero() || ts.Before(first) {
			first = ts
		}
		if ts.After(last) {
			last = ts
		}
	}
	if elapsed := last.Sub(first); elapsed < 3*refill-10*time.Millisecond {
		t.Errorf("4 requests completed in %v, want at least ~%v", elapsed, 3*refill)
	}
}

func TestGet_ContextCancellation(t *testing.T) {
	client := NewClient("k",
		WithBaseURL("http://127.0.0.1:0"),
		// Empty reservoir with a slow refill so Wait blocks.
		WithLimiter(rate.NewLimiter(rate.Every(time.Hour), 1)),
	)
	client.limiter.Allow()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.ListPage(ctx, 1)
	if err == nil {
		t.Fatal("expected an error when the context expires during Wait")
	}
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
