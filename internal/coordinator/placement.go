package coordinator

import (
	"fmt"

	"github.com/lucidgrid/raidfive/internal/config"
	"github.com/lucidgrid/raidfive/pkg/model"
)

// splitBlocks cuts data into blockSize-sized slices in file order. The
// final slice may be shorter than blockSize; it is never zero-length
// unless data itself is empty.
func splitBlocks(data []byte, blockSize int64) [][]byte {
	if len(data) == 0 {
		return nil
	}
	var blocks [][]byte
	for off := int64(0); off < int64(len(data)); off += blockSize {
		end := off + blockSize
		if end > int64(len(data)) {
			end = int64(len(data))
		}
		blocks = append(blocks, data[off:end])
	}
	return blocks
}

// groupStripes partitions data blocks into stripes of D contiguous
// blocks each. The final stripe may hold fewer than D blocks.
func groupStripes(blocks [][]byte) [][][]byte {
	var stripes [][][]byte
	for off := 0; off < len(blocks); off += config.DataPerStripe {
		end := off + config.DataPerStripe
		if end > len(blocks) {
			end = len(blocks)
		}
		stripes = append(stripes, blocks[off:end])
	}
	return stripes
}

// parityNode returns P(s), the node holding stripe s's parity member:
// rotation across the N nodes in stripe-index order, 1-indexed.
func parityNode(s int) model.NodeID {
	return model.NodeID((s % config.NodeCount) + 1)
}

// dataNodesForStripe returns the N-1 non-parity nodes for stripe s, in
// the deterministic order the k-th data block is assigned to: ascending
// node id, skipping P(s). This function of (s, k) alone — never of
// current liveness — is what lets recovery work from (stripeIndex,
// position, isParity) with no extra placement metadata.
func dataNodesForStripe(s int) []model.NodeID {
	p := parityNode(s)
	nodes := make([]model.NodeID, 0, config.DataPerStripe)
	for id := 1; id <= config.NodeCount; id++ {
		if model.NodeID(id) == p {
			continue
		}
		nodes = append(nodes, model.NodeID(id))
	}
	return nodes
}

// blockID derives the cluster-unique id for one stripe member.
func blockID(fileID string, stripeIndex, position int, isParity bool) string {
	kind := "d"
	if isParity {
		kind = "p"
	}
	return fmt.Sprintf("%s:s=%d:k=%d:%s", fileID, stripeIndex, position, kind)
}
