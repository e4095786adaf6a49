package rest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestClientBook(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/book" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("token_id"); got != "tok-up" {
			t.Errorf("expected token_id tok-up, got %s", got)
		}
		_, _ = w.Write([]byte(`{
			"market": "0xabc",
			"asset_id": "tok-up",
			"timestamp": "1735830000000",
			"bids": [{"price": "0.48", "size": "100"}, {"price": "0.47", "size": "10"}],
			"asks": [{"price": "0.55", "size": "5"}, {"price": "0.52", "size": "12"}, {"price": "0.51", "size": "0"}]
		}`))
	}))
	defer server.Close()

	client := New(server.URL+"/", time.Second, zap.NewNop())
	book, err := client.Book(context.Background(), "tok-up")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ask, ok := book.BestAsk()
	if !ok || ask.String() != "0.52" {
		t.Fatalf("expected best ask 0.52, got %s (%v)", ask, ok)
	}
	bid, ok := book.BestBid()
	if !ok || bid.String() != "0.48" {
		t.Fatalf("expected best bid 0.48, got %s (%v)", bid, ok)
	}
	if book.Timestamp.Time().UnixMilli() != 1735830000000 {
		t.Fatalf("unexpected timestamp %s", book.Timestamp.Time())
	}
}

func TestClientPrice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("side") != "sell" {
			t.Errorf("expected side=sell, got %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{"price": "0.515"}`))
	}))
	defer server.Close()

	client := New(server.URL, time.Second, zap.NewNop())
	price, err := client.Price(context.Background(), "tok", "sell")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if price.String() != "0.515" {
		t.Fatalf("expected 0.515, got %s", price)
	}
}

func TestClientHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no orderbook exists", http.StatusNotFound)
	}))
	defer server.Close()

	client := New(server.URL, time.Second, zap.NewNop())
	_, err := client.Book(context.Background(), "missing")
	if err == nil || !strings.Contains(err.Error(), "http 404") {
		t.Fatalf("expected http 404 error, got %v", err)
	}
}
