package amazon

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *[]time.Duration, *httptest.Server) {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(Config{
		AccessKey:   "access",
		SecretKey:   "secret",
		PartnerTag:  "pricemate-au-20",
		Host:        "webservices.amazon.com.au",
		Region:      "us-west-2",
		Marketplace: "www.amazon.com.au",
	}, server.Client(), nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	u, _ := url.Parse(server.URL)
	client.baseURL = server.URL
	client.host = u.Host

	var sleeps []time.Duration
	client.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}
	return client, &sleeps, server
}

func TestGetItemsParsesListings(t *testing.T) {
	var gotTarget, gotPath string
	var gotBody getItemsRequest

	client, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotTarget = r.Header.Get("X-Amz-Target")
		gotPath = r.URL.Path
		if r.Header.Get("Authorization") == "" {
			t.Error("request missing authorization header")
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Write([]byte(`{
			"ItemsResult": {"Items": [
				{
					"ASIN": "B000000001",
					"DetailPageURL": "https://www.amazon.com.au/dp/B000000001",
					"ItemInfo": {"Title": {"DisplayValue": "Widget"}},
					"Images": {"Primary": {"Large": {"URL": "https://img/1.jpg"}}},
					"Offers": {"Listings": [{"Price": {"Amount": 42.5}}]}
				},
				{
					"ASIN": "B000000002",
					"DetailPageURL": "https://www.amazon.com.au/dp/B000000002",
					"ItemInfo": {"Title": {"DisplayValue": "No Offer"}}
				}
			]}
		}`))
	})

	items, err := client.GetItems(context.Background(), []string{"B000000001", "B000000002"})
	if err != nil {
		t.Fatalf("get items: %v", err)
	}

	if gotTarget != getItemsTarget {
		t.Fatalf("unexpected target: %q", gotTarget)
	}
	if gotPath != getItemsPath {
		t.Fatalf("unexpected path: %q", gotPath)
	}
	if gotBody.Marketplace != "www.amazon.com.au" || gotBody.PartnerType != "Associates" {
		t.Fatalf("unexpected request body: %+v", gotBody)
	}

	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].Title != "Widget" || items[0].Price == nil || *items[0].Price != 42.5 {
		t.Fatalf("unexpected first item: %+v", items[0])
	}
	if items[1].Price != nil {
		t.Fatalf("item without offer should have nil price, got %v", *items[1].Price)
	}
}

func TestGetItemsEmptyResult(t *testing.T) {
	client, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})

	items, err := client.GetItems(context.Background(), []string{"B000000001"})
	if err != nil {
		t.Fatalf("get items: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected no items, got %d", len(items))
	}
}

func TestGetItemsRetriesAfterThrottle(t *testing.T) {
	attempts := 0
	client, sleeps, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"ItemsResult": {"Items": [{"ASIN": "B000000001"}]}}`))
	})

	items, err := client.GetItems(context.Background(), []string{"B000000001"})
	if err != nil {
		t.Fatalf("get items: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
	// Backoff before the retry, then the pacing delay after success.
	if len(*sleeps) != 2 || (*sleeps)[0] != 2*time.Second || (*sleeps)[1] != pacingDelay {
		t.Fatalf("unexpected sleeps: %v", *sleeps)
	}
}

func TestGetItemsExhaustsRetries(t *testing.T) {
	attempts := 0
	client, sleeps, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := client.GetItems(context.Background(), []string{"B000000001"})
	if !errors.Is(err, ErrMaxRetries) {
		t.Fatalf("expected ErrMaxRetries, got %v", err)
	}
	if attempts != defaultMaxAttempts {
		t.Fatalf("expected %d attempts, got %d", defaultMaxAttempts, attempts)
	}
	// Exponential backoff between attempts, no pacing delay on failure.
	if len(*sleeps) != 2 || (*sleeps)[0] != 2*time.Second || (*sleeps)[1] != 4*time.Second {
		t.Fatalf("unexpected sleeps: %v", *sleeps)
	}
}

func TestGetItemsServerErrorDoesNotRetry(t *testing.T) {
	attempts := 0
	client, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := client.GetItems(context.Background(), []string{"B000000001"})
	if err == nil {
		t.Fatal("expected error for server failure")
	}
	if errors.Is(err, ErrMaxRetries) || errors.Is(err, ErrThrottled) {
		t.Fatalf("server failure misclassified as throttle: %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestGetItemsRejectsOversizedBatch(t *testing.T) {
	client, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("request should not be sent")
	})

	asins := make([]string, MaxBatchSize+1)
	for i := range asins {
		asins[i] = "B000000001"
	}
	if _, err := client.GetItems(context.Background(), asins); err == nil {
		t.Fatal("expected batch size error")
	}
}

func TestSearchItems(t *testing.T) {
	var gotBody searchItemsRequest
	client, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Write([]byte(`{"SearchResult": {"Items": [{
			"ASIN": "B000000009",
			"ItemInfo": {"Title": {"DisplayValue": "Result"}},
			"BrowseNodeInfo": {"BrowseNodes": [{"DisplayName": "Electronics"}, {"DisplayName": "Keyboards"}]}
		}]}}`))
	})

	items, err := client.SearchItems(context.Background(), "mechanical keyboard", 5)
	if err != nil {
		t.Fatalf("search items: %v", err)
	}
	if gotBody.Keywords != "mechanical keyboard" || gotBody.ItemCount != 5 {
		t.Fatalf("unexpected request body: %+v", gotBody)
	}
	if gotBody.SearchIndex != "All" {
		t.Fatalf("unexpected search index: %q", gotBody.SearchIndex)
	}
	found := false
	for _, r := range gotBody.Resources {
		if r == "BrowseNodeInfo.BrowseNodes" {
			found = true
		}
	}
	if !found {
		t.Fatalf("browse node resource missing: %v", gotBody.Resources)
	}
	if len(items) != 1 || items[0].Title != "Result" {
		t.Fatalf("unexpected items: %+v", items)
	}
	if items[0].Category != "Electronics" {
		t.Fatalf("expected first browse node as category, got %q", items[0].Category)
	}
}

func TestSearchItemsClampsPageSize(t *testing.T) {
	var gotBody searchItemsRequest
	client, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Write([]byte(`{}`))
	})

	if _, err := client.SearchItems(context.Background(), "widgets", 50); err != nil {
		t.Fatalf("search items: %v", err)
	}
	if gotBody.ItemCount != MaxBatchSize {
		t.Fatalf("oversized page not clamped: %d", gotBody.ItemCount)
	}

	if _, err := client.SearchItems(context.Background(), "widgets", 0); err != nil {
		t.Fatalf("search items: %v", err)
	}
	if gotBody.ItemCount != MaxBatchSize {
		t.Fatalf("non-positive page not defaulted: %d", gotBody.ItemCount)
	}
}

func TestCallBlockedByContext(t *testing.T) {
	client, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})

	// Occupy the gate so the next call must wait on the context.
	client.gate <- struct{}{}
	defer func() { <-client.gate }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := client.GetItems(ctx, []string{"B000000001"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
