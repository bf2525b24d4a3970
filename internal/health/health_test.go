package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lucidgrid/raidfive/internal/transport"
	"github.com/lucidgrid/raidfive/pkg/model"
)

func healthyServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":true,"nodeId":1}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func downServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCheckNodeTransitionsToOnline(t *testing.T) {
	srv := healthyServer(t)
	clients := map[model.NodeID]*transport.Client{
		1: transport.New(transport.Config{BaseURL: srv.URL, MaxAttempts: 1}),
	}
	m := New(Config{Clients: clients})

	m.CheckNode(context.Background(), 1)

	if !m.IsOnline(1) {
		t.Fatalf("expected node 1 to be online after a successful probe")
	}
}

func TestCheckNodeEmitsFailureEvent(t *testing.T) {
	srv := healthyServer(t)
	clients := map[model.NodeID]*transport.Client{
		1: transport.New(transport.Config{BaseURL: srv.URL, MaxAttempts: 1}),
	}
	m := New(Config{Clients: clients, StaleAfter: 10 * time.Millisecond})
	m.CheckNode(context.Background(), 1) // -> online, no event (unknown->online)

	srv.Close()
	down := downServer(t)
	clients[1] = transport.New(transport.Config{BaseURL: down.URL, MaxAttempts: 1})
	m.clients[1] = clients[1]

	// A single failed probe is within the grace window (errorThreshold and
	// staleAfter both still unexceeded immediately after a prior success);
	// only once the heartbeat goes stale does the node actually drop.
	time.Sleep(15 * time.Millisecond)
	m.CheckNode(context.Background(), 1)

	select {
	case ev := <-m.Events():
		if ev.Kind != NodeFailure || ev.NodeID != 1 {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected a NodeFailure event")
	}

	if m.IsOnline(1) {
		t.Fatalf("expected node 1 to be offline")
	}
}

func TestCheckNodeToleratesFailuresWithinGraceWindow(t *testing.T) {
	srv := healthyServer(t)
	down := downServer(t)
	clients := map[model.NodeID]*transport.Client{
		1: transport.New(transport.Config{BaseURL: srv.URL, MaxAttempts: 1}),
	}
	m := New(Config{Clients: clients, StaleAfter: time.Hour})
	m.CheckNode(context.Background(), 1)

	m.clients[1] = transport.New(transport.Config{BaseURL: down.URL, MaxAttempts: 1})
	for i := 0; i < errorThreshold-1; i++ {
		m.CheckNode(context.Background(), 1)
		if !m.IsOnline(1) {
			t.Fatalf("expected node to stay online through the grace window (failure %d)", i+1)
		}
	}

	m.CheckNode(context.Background(), 1)
	if m.IsOnline(1) {
		t.Fatalf("expected node to go offline after %d consecutive failures", errorThreshold)
	}
}

func TestAvailabilityStatsThresholds(t *testing.T) {
	srv := healthyServer(t)
	down := downServer(t)

	clients := map[model.NodeID]*transport.Client{
		1: transport.New(transport.Config{BaseURL: srv.URL, MaxAttempts: 1}),
		2: transport.New(transport.Config{BaseURL: srv.URL, MaxAttempts: 1}),
		3: transport.New(transport.Config{BaseURL: srv.URL, MaxAttempts: 1}),
		4: transport.New(transport.Config{BaseURL: srv.URL, MaxAttempts: 1}),
	}
	m := New(Config{Clients: clients, StaleAfter: time.Hour})
	m.CheckAll(context.Background())
	if got := m.AvailabilityStats(); got != Operational {
		t.Fatalf("expected Operational with all 4 online, got %s", got)
	}

	m.clients[4] = transport.New(transport.Config{BaseURL: down.URL, MaxAttempts: 1})
	for i := 0; i < errorThreshold; i++ {
		m.CheckAll(context.Background())
	}
	if got := m.AvailabilityStats(); got != Degraded {
		t.Fatalf("expected Degraded with 3 online, got %s", got)
	}

	m.clients[3] = transport.New(transport.Config{BaseURL: down.URL, MaxAttempts: 1})
	for i := 0; i < errorThreshold; i++ {
		m.CheckAll(context.Background())
	}
	if got := m.AvailabilityStats(); got != Critical {
		t.Fatalf("expected Critical with 2 online, got %s", got)
	}
}

func TestStopWithoutStartDoesNotBlock(t *testing.T) {
	clients := map[model.NodeID]*transport.Client{
		1: transport.New(transport.Config{BaseURL: "http://127.0.0.1:0", MaxAttempts: 1}),
	}
	m := New(Config{Clients: clients})

	done := make(chan struct{})
	go func() {
		m.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Stop blocked despite Start never having been called")
	}
}

func TestStartStop(t *testing.T) {
	srv := healthyServer(t)
	clients := map[model.NodeID]*transport.Client{
		1: transport.New(transport.Config{BaseURL: srv.URL, MaxAttempts: 1}),
	}
	m := New(Config{Clients: clients, Interval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.Start(ctx)
	time.Sleep(30 * time.Millisecond)
	m.Stop()

	if !m.IsOnline(1) {
		t.Fatalf("expected node to be marked online by the background loop")
	}
}
