package nodeserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/lucidgrid/raidfive/internal/blockstore"
	"github.com/lucidgrid/raidfive/internal/transport"
	"github.com/lucidgrid/raidfive/internal/wire"
)

func contextBackground() context.Context { return context.Background() }

func newTestServer(t *testing.T) (*httptest.Server, *transport.Client) {
	t.Helper()
	store, err := blockstore.Open(blockstore.Config{Path: filepath.Join(t.TempDir(), "badger")})
	if err != nil {
		t.Fatalf("blockstore.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	handler := New(1, store)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := transport.New(transport.Config{BaseURL: srv.URL, MaxAttempts: 1})
	return srv, client
}

func TestStoreRetrieveDeleteOverHTTP(t *testing.T) {
	_, client := newTestServer(t)
	ctx := contextBackground()

	storeResp, err := client.StoreBlock(ctx, wire.BlockRequest{BlockID: "b1", StripeIndex: 0, Position: 0}, []byte("hello"))
	if err != nil || !storeResp.OK {
		t.Fatalf("StoreBlock: resp=%+v err=%v", storeResp, err)
	}

	payload, resp, err := client.RetrieveBlock(ctx, "b1")
	if err != nil || !resp.OK {
		t.Fatalf("RetrieveBlock: resp=%+v err=%v", resp, err)
	}
	if string(payload) != "hello" {
		t.Fatalf("got %q", payload)
	}

	exists, err := client.BlockExists(ctx, "b1")
	if err != nil || !exists {
		t.Fatalf("expected block to exist, err=%v", err)
	}

	delResp, err := client.DeleteBlock(ctx, "b1")
	if err != nil || !delResp.OK {
		t.Fatalf("DeleteBlock: resp=%+v err=%v", delResp, err)
	}

	exists, err = client.BlockExists(ctx, "b1")
	if err != nil {
		t.Fatalf("BlockExists after delete: %v", err)
	}
	if exists {
		t.Fatalf("expected block to be gone after delete")
	}
}

func TestRetrieveMissingBlockReturnsNotOK(t *testing.T) {
	_, client := newTestServer(t)
	ctx := contextBackground()

	_, resp, err := client.RetrieveBlock(ctx, "missing")
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}
	if resp.OK {
		t.Fatalf("expected not-ok response for missing block")
	}
}

func TestListAndInfo(t *testing.T) {
	_, client := newTestServer(t)
	ctx := contextBackground()

	for _, id := range []string{"a", "b"} {
		if _, err := client.StoreBlock(ctx, wire.BlockRequest{BlockID: id}, []byte("xy")); err != nil {
			t.Fatalf("StoreBlock(%s): %v", id, err)
		}
	}

	list, err := client.ListBlocks(ctx)
	if err != nil {
		t.Fatalf("ListBlocks: %v", err)
	}
	if len(list.Blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(list.Blocks))
	}

	info, err := client.NodeInfo(ctx)
	if err != nil {
		t.Fatalf("NodeInfo: %v", err)
	}
	if info.BlockCount != 2 || info.UsedBytes != 4 {
		t.Fatalf("unexpected info: %+v", info)
	}
}

func TestHealthEndpoint(t *testing.T) {
	_, client := newTestServer(t)
	resp, _, err := client.Health(contextBackground())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if !resp.OK || resp.NodeID != 1 {
		t.Fatalf("unexpected health response: %+v", resp)
	}
}

func TestStoreRejectsMissingBlockID(t *testing.T) {
	srv, _ := newTestServer(t)
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/blocks", nil)
	req.Header.Set(wire.HeaderBlockHeader, `{"blockId":""}`)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("http request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}
