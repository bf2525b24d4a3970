package transport

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lucidgrid/raidfive/internal/wire"
)

func TestStoreAndRetrieveBlockRoundTrip(t *testing.T) {
	var stored []byte
	var header wire.BlockRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/blocks":
			json.Unmarshal([]byte(r.Header.Get(wire.HeaderBlockHeader)), &header)
			stored, _ = io.ReadAll(r.Body)
			json.NewEncoder(w).Encode(wire.BlockResponse{OK: true, BlockID: header.BlockID})
		case r.Method == http.MethodGet && r.URL.Path == "/blocks/blk-1":
			w.Header().Set(wire.HeaderBlockHeader, mustJSON(wire.BlockResponse{OK: true, BlockID: "blk-1"}))
			w.Write(stored)
		}
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, MaxAttempts: 2})

	resp, err := c.StoreBlock(context.Background(), wire.BlockRequest{BlockID: "blk-1"}, []byte("payload"))
	if err != nil {
		t.Fatalf("StoreBlock: %v", err)
	}
	if !resp.OK {
		t.Fatalf("expected OK response")
	}

	payload, getResp, err := c.RetrieveBlock(context.Background(), "blk-1")
	if err != nil {
		t.Fatalf("RetrieveBlock: %v", err)
	}
	if string(payload) != "payload" {
		t.Fatalf("got payload %q", payload)
	}
	if !getResp.OK {
		t.Fatalf("expected OK response on retrieve")
	}
}

func TestRetryOnServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(wire.BlockResponse{OK: true})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, MaxAttempts: 3, RetryDelay: time.Millisecond})

	resp, err := c.DeleteBlock(context.Background(), "blk-2")
	if err != nil {
		t.Fatalf("DeleteBlock: %v", err)
	}
	if !resp.OK {
		t.Fatalf("expected eventual success")
	}
	if calls.Load() != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", calls.Load())
	}
}

func TestRetrieveBlockNotFoundDoesNotRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, MaxAttempts: 3, RetryDelay: time.Millisecond})

	_, resp, err := c.RetrieveBlock(context.Background(), "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.OK {
		t.Fatalf("expected not-ok response for missing block")
	}
	if calls.Load() != 1 {
		t.Fatalf("expected no retry on 404, got %d calls", calls.Load())
	}
}

func mustJSON(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}
