package model

import (
	"testing"
	"time"
)

func TestNodeIsHealthy(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	staleAfter := time.Minute

	cases := []struct {
		name string
		node Node
		want bool
	}{
		{
			name: "online, no errors, fresh heartbeat",
			node: Node{Online: true, ErrorCount: 0, LastHeartbeat: now.Add(-time.Second)},
			want: true,
		},
		{
			name: "offline",
			node: Node{Online: false, ErrorCount: 0, LastHeartbeat: now.Add(-time.Second)},
			want: false,
		},
		{
			name: "online but at the error threshold",
			node: Node{Online: true, ErrorCount: 5, LastHeartbeat: now.Add(-time.Second)},
			want: false,
		},
		{
			name: "online with errors below threshold",
			node: Node{Online: true, ErrorCount: 4, LastHeartbeat: now.Add(-time.Second)},
			want: true,
		},
		{
			name: "online but never heard from",
			node: Node{Online: true, ErrorCount: 0},
			want: false,
		},
		{
			name: "online but stale",
			node: Node{Online: true, ErrorCount: 0, LastHeartbeat: now.Add(-2 * time.Minute)},
			want: false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.node.IsHealthy(now, staleAfter); got != tc.want {
				t.Fatalf("IsHealthy() = %v, want %v", got, tc.want)
			}
		})
	}
}
