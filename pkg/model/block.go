package model

import "time"

// BlockPositionParity is the sentinel position value used for a stripe's
// parity member, distinguishing it from the 0..D-1 positions used by data
// members of the same stripe.
const BlockPositionParity = -1

// Block is a single stripe member: either one of a stripe's D data slices
// or its one parity slice, with its payload still attached. The
// coordinator builds one of these per member while dispatching a
// stripe's writes, then discards the payload and keeps only a
// BlockDescriptor once the member is durably stored on its node.
type Block struct {
	ID          string
	Payload     []byte
	Length      int
	Checksum    string // lowercase hex SHA-256 over Payload
	IsParity    bool
	StripeIndex int
	Position    int // 0..D-1 for data blocks, BlockPositionParity for parity
	CreatedAt   time.Time
}

// BlockDescriptor is what the coordinator keeps about a block after it has
// been placed on a node: enough to address, verify, and — for data
// blocks — reassemble it, without holding the bytes.
type BlockDescriptor struct {
	NodeID      NodeID
	BlockID     string
	Checksum    string
	Length      int
	StripeIndex int
	Position    int // 0..D-1 for data, BlockPositionParity for parity
	IsParity    bool
}
