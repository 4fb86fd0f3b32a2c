package oracle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/golang-jwt/jwt/v4"
)

func TestAMMSourceFetchesPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/quote" || r.URL.Query().Get("symbol") != "CTN" {
			t.Fatalf("unexpected request %s?%s", r.URL.Path, r.URL.RawQuery)
		}
		json.NewEncoder(w).Encode(ammQuoteResponse{Price: 1.23})
	}))
	defer srv.Close()

	s := NewAMMSource(srv.URL, testLogger())
	price, err := s.FetchPrice(context.Background(), "CTN")
	if err != nil {
		t.Fatal(err)
	}
	if price != 1.23 {
		t.Fatalf("expected price 1.23, got %v", price)
	}
}

func TestAMMSourceRetriesOn5xxThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(ammQuoteResponse{Price: 2.0})
	}))
	defer srv.Close()

	s := NewAMMSource(srv.URL, testLogger())
	price, err := s.FetchPrice(context.Background(), "CTN")
	if err != nil {
		t.Fatal(err)
	}
	if price != 2.0 {
		t.Fatalf("expected price 2.0, got %v", price)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls)
	}
}

func TestJWTSourceSignsBearerTokenAndFetchesPrice(t *testing.T) {
	secret := "test-secret"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			t.Fatalf("missing bearer token: %q", auth)
		}
		tokStr := strings.TrimPrefix(auth, "Bearer ")
		tok, err := jwt.Parse(tokStr, func(*jwt.Token) (interface{}, error) {
			return []byte(secret), nil
		})
		if err != nil || !tok.Valid {
			t.Fatalf("token failed to verify: %v", err)
		}
		json.NewEncoder(w).Encode(tickerResponse{Price: 0.99})
	}))
	defer srv.Close()

	s := NewJWTSource(srv.URL, secret, testLogger())
	price, err := s.FetchPrice(context.Background(), "CTN")
	if err != nil {
		t.Fatal(err)
	}
	if price != 0.99 {
		t.Fatalf("expected price 0.99, got %v", price)
	}
}

func TestJWTSourceRejectsNonPositivePrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(tickerResponse{Price: 0})
	}))
	defer srv.Close()

	s := NewJWTSource(srv.URL, "secret", testLogger())
	if _, err := s.FetchPrice(context.Background(), "CTN"); err == nil {
		t.Fatal("expected error for non-positive price")
	}
}
