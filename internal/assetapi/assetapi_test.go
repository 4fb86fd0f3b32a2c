package assetapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

func testLogger() log.Logger {
	return log.NewLogger(log.NewTerminalHandler(io.Discard, false))
}

func TestSnapshotDecodesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/assets/snapshot" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(Snapshot{
			SnapshotID: "snap-1",
			TotalValue: "1000.000000000000000000",
			StateHash:  "0xabc",
			Assets: []Asset{
				{AssetID: "a1", CurrentValue: "1000.000000000000000000"},
			},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "tok", time.Second, testLogger())
	snap, err := c.Snapshot(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if snap.SnapshotID != "snap-1" || len(snap.Assets) != 1 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestVerifyStateHashReturnsValidFlag(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req verifyRequest
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(verifyResponse{Valid: req.StateHash == "0xgood"})
	}))
	defer srv.Close()

	c := New(srv.URL, "tok", time.Second, testLogger())
	ok, err := c.VerifyStateHash(context.Background(), "0xgood")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected valid=true for 0xgood")
	}
	ok, err = c.VerifyStateHash(context.Background(), "0xbad")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected valid=false for 0xbad")
	}
}

func TestBatchRetriesOn5xxThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(batchResponse{Assets: []Asset{{AssetID: "a1"}}})
	}))
	defer srv.Close()

	c := New(srv.URL, "tok", time.Second, testLogger())
	assets, err := c.Batch(context.Background(), []string{"a1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(assets) != 1 {
		t.Fatalf("expected 1 asset, got %d", len(assets))
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls)
	}
}

func TestDoDoesNotRetryClientError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New(srv.URL, "tok", time.Second, testLogger())
	if _, err := c.Snapshot(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected exactly 1 attempt for a 400, got %d", calls)
	}
}
