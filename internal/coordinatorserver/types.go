package coordinatorserver

import (
	"time"

	"github.com/lucidgrid/raidfive/pkg/model"
)

type uploadResponse struct {
	OK            bool           `json:"ok"`
	FileID        string         `json:"fileId"`
	BlocksCreated int            `json:"blocksCreated"`
	NodesUsed     []model.NodeID `json:"nodesUsed"`
}

type deleteResponse struct {
	OK            bool `json:"ok"`
	BlocksDeleted int  `json:"blocksDeleted"`
}

type listResponse struct {
	Files      []model.File `json:"files"`
	TotalCount int          `json:"totalCount"`
	TotalSize  int64        `json:"totalSize,omitempty"`
}

type raidStatusResponse struct {
	Status      string    `json:"status"`
	NodeCount   int       `json:"nodeCount"`
	OnlineNodes int       `json:"onlineNodes"`
	Timestamp   time.Time `json:"timestamp"`
}

type nodeStatusEntry struct {
	NodeID        int    `json:"nodeId"`
	Online        bool   `json:"online"`
	ErrorCount    int    `json:"errorCount"`
	LastLatencyMs int64  `json:"lastLatencyMs,omitempty"`
	Endpoint      string `json:"endpoint,omitempty"`
}

type nodesStatusResponse struct {
	Nodes []nodeStatusEntry `json:"nodes"`
}

type healthStatusResponse struct {
	OK     bool   `json:"ok"`
	Uptime string `json:"uptime"`
}
