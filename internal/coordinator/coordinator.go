// Package coordinator implements the RAID Coordinator: stripe planning
// and placement, the parallel write/read/delete paths, and parity-based
// recovery when a stripe member is missing or corrupt.
package coordinator

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lucidgrid/raidfive/internal/catalog"
	"github.com/lucidgrid/raidfive/internal/config"
	"github.com/lucidgrid/raidfive/internal/health"
	"github.com/lucidgrid/raidfive/internal/parity"
	"github.com/lucidgrid/raidfive/internal/transport"
	"github.com/lucidgrid/raidfive/internal/wire"
	"github.com/lucidgrid/raidfive/internal/workerpool"
	"github.com/lucidgrid/raidfive/pkg/model"
)

// Coordinator ties the cluster's node clients, health monitor, block
// placement rules, and metadata catalog into the file-level upload,
// download, and delete operations.
type Coordinator struct {
	cfg     config.Config
	clients map[model.NodeID]*transport.Client
	catalog *catalog.Catalog
	health  *health.Monitor
	pool    *workerpool.Pool
	log     *logrus.Logger
}

// Deps bundles a Coordinator's collaborators for construction.
type Deps struct {
	Config  config.Config
	Clients map[model.NodeID]*transport.Client
	Catalog *catalog.Catalog
	Health  *health.Monitor
	Pool    *workerpool.Pool
	Logger  *logrus.Logger
}

// New builds a Coordinator from its dependencies.
func New(deps Deps) *Coordinator {
	if deps.Logger == nil {
		deps.Logger = logrus.New()
	}
	if deps.Pool == nil {
		deps.Pool = workerpool.New(workerpool.Config{})
	}
	return &Coordinator{
		cfg:     deps.Config,
		clients: deps.Clients,
		catalog: deps.Catalog,
		health:  deps.Health,
		pool:    deps.Pool,
		log:     deps.Logger,
	}
}

// UploadResult reports what Upload accomplished.
type UploadResult struct {
	FileID        string
	BlocksCreated int
	NodesUsed     []model.NodeID
}

var pdfMagic = []byte("%PDF")

// Upload validates, stripes, places, and durably commits a new file.
// Writes require every configured node to be online — the coordinator
// takes the stricter of the two options the design left open, refusing
// to accumulate a degraded-write backlog.
func (c *Coordinator) Upload(ctx context.Context, fileName string, data []byte, contentType string) (UploadResult, error) {
	if fileName == "" {
		return UploadResult{}, fmt.Errorf("%w: file name is required", ErrValidation)
	}
	if !bytes.HasPrefix(data, pdfMagic) {
		return UploadResult{}, fmt.Errorf("%w: file is not a PDF", ErrValidation)
	}
	if int64(len(data)) > c.cfg.MaxFileSize {
		return UploadResult{}, fmt.Errorf("%w: file exceeds maxFileSize", ErrValidation)
	}
	if c.health != nil && c.health.OnlineCount() < config.NodeCount {
		return UploadResult{}, ErrServiceDegraded
	}

	if err := c.catalog.Begin(fileName); err != nil {
		if err == catalog.ErrAlreadyExists {
			return UploadResult{}, fmt.Errorf("%w: %s already exists", ErrValidation, fileName)
		}
		return UploadResult{}, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}

	fileID, err := newFileID()
	if err != nil {
		c.catalog.Abort(fileName)
		return UploadResult{}, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}

	dataBlocks := splitBlocks(data, c.cfg.BlockSize)
	stripes := groupStripes(dataBlocks)

	var allData []model.BlockDescriptor
	var allParity []model.BlockDescriptor
	var stored []storedRef
	nodesSeen := make(map[model.NodeID]bool)

	for s, stripeBlocks := range stripes {
		parityBytes, err := parity.ComputeParity(stripeBlocks)
		if err != nil {
			c.rollback(ctx, stored)
			c.catalog.Abort(fileName)
			return UploadResult{}, fmt.Errorf("%w: %v", ErrStorageFailure, err)
		}

		now := time.Now()
		blocks := make([]model.Block, len(stripeBlocks))
		for k, payload := range stripeBlocks {
			blocks[k] = model.Block{
				ID:          blockID(fileID, s, k, false),
				Payload:     payload,
				Length:      len(payload),
				Checksum:    parity.Checksum(payload),
				StripeIndex: s,
				Position:    k,
				CreatedAt:   now,
			}
		}
		parityBlock := model.Block{
			ID:          blockID(fileID, s, model.BlockPositionParity, true),
			Payload:     parityBytes,
			Length:      len(parityBytes),
			Checksum:    parity.Checksum(parityBytes),
			IsParity:    true,
			StripeIndex: s,
			Position:    model.BlockPositionParity,
			CreatedAt:   now,
		}

		dataDescs, parityDesc, refs, err := c.writeStripe(ctx, s, blocks, parityBlock)
		if err != nil {
			c.rollback(ctx, stored)
			c.rollback(ctx, refs)
			c.catalog.Abort(fileName)
			return UploadResult{}, fmt.Errorf("%w: %v", ErrStorageFailure, err)
		}

		stored = append(stored, refs...)
		allData = append(allData, dataDescs...)
		allParity = append(allParity, parityDesc)
		for _, d := range dataDescs {
			nodesSeen[d.NodeID] = true
		}
		nodesSeen[parityDesc.NodeID] = true
	}

	file := model.File{
		ID:           fileID,
		Name:         fileName,
		SizeBytes:    int64(len(data)),
		ContentType:  contentType,
		UploadedAt:   time.Now(),
		DataBlocks:   allData,
		ParityBlocks: allParity,
	}
	if err := c.catalog.Commit(file); err != nil {
		c.rollback(ctx, stored)
		return UploadResult{}, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}

	nodes := make([]model.NodeID, 0, len(nodesSeen))
	for id := range nodesSeen {
		nodes = append(nodes, id)
	}

	return UploadResult{
		FileID:        fileID,
		BlocksCreated: len(allData) + len(allParity),
		NodesUsed:     nodes,
	}, nil
}

type storedRef struct {
	node    model.NodeID
	blockID string
}

// writeStripe dispatches a stripe's D+1 stores concurrently and requires
// all of them to succeed for the stripe to be considered committed. Each
// member travels as a model.Block carrying its own id, checksum, and
// position, so the dispatch closure never has to recompute or thread
// those alongside a bare payload.
func (c *Coordinator) writeStripe(ctx context.Context, stripeIndex int, dataBlocks []model.Block, parityBlock model.Block) ([]model.BlockDescriptor, model.BlockDescriptor, []storedRef, error) {
	dataNodes := dataNodesForStripe(stripeIndex)
	pNode := parityNode(stripeIndex)

	room := c.pool.CreateRoom(len(dataBlocks) + 1)

	type memberResult struct {
		desc model.BlockDescriptor
		ref  storedRef
		err  error
	}

	submit := func(node model.NodeID, block model.Block) {
		room.Submit(func() workerpool.Result {
			client, ok := c.clients[node]
			if !ok {
				return workerpool.Result{Value: memberResult{err: fmt.Errorf("no client for node %d", node)}}
			}
			resp, err := client.StoreBlock(ctx, wire.BlockRequest{
				BlockID:     block.ID,
				StripeIndex: block.StripeIndex,
				Position:    block.Position,
				IsParity:    block.IsParity,
			}, block.Payload)
			if err != nil || !resp.OK {
				return workerpool.Result{Value: memberResult{err: fmt.Errorf("store %s on node %d: %v", block.ID, node, err)}}
			}
			return workerpool.Result{Value: memberResult{
				desc: model.BlockDescriptor{
					NodeID:      node,
					BlockID:     block.ID,
					Checksum:    block.Checksum,
					Length:      block.Length,
					StripeIndex: block.StripeIndex,
					Position:    block.Position,
					IsParity:    block.IsParity,
				},
				ref: storedRef{node: node, blockID: block.ID},
			}}
		})
	}

	for k, block := range dataBlocks {
		submit(dataNodes[k], block)
	}
	submit(pNode, parityBlock)

	results := room.Collect()

	var dataDescs []model.BlockDescriptor
	var parityDesc model.BlockDescriptor
	var refs []storedRef
	var firstErr error

	for _, r := range results {
		mr := r.Value.(memberResult)
		if mr.err != nil {
			if firstErr == nil {
				firstErr = mr.err
			}
			continue
		}
		refs = append(refs, mr.ref)
		if mr.desc.IsParity {
			parityDesc = mr.desc
		} else {
			dataDescs = append(dataDescs, mr.desc)
		}
	}

	if firstErr != nil {
		return nil, model.BlockDescriptor{}, refs, firstErr
	}

	// Restore file order: results arrive in completion order, not
	// submission order.
	ordered := make([]model.BlockDescriptor, len(dataDescs))
	for _, d := range dataDescs {
		ordered[d.Position] = d
	}

	return ordered, parityDesc, refs, nil
}

// rollback best-effort deletes blocks already stored for a failed upload.
func (c *Coordinator) rollback(ctx context.Context, refs []storedRef) {
	for _, ref := range refs {
		client, ok := c.clients[ref.node]
		if !ok {
			continue
		}
		if _, err := client.DeleteBlock(ctx, ref.blockID); err != nil {
			c.log.WithError(err).WithField("blockId", ref.blockID).Warn("coordinator: rollback delete failed, orphan left for cleanupOrphans")
		}
	}
}

// Download reassembles a file's bytes, recovering any single missing or
// corrupt block per stripe via parity.
func (c *Coordinator) Download(ctx context.Context, fileName string) ([]byte, model.File, error) {
	file, err := c.catalog.Get(fileName)
	if err != nil {
		if err == catalog.ErrNotFound {
			return nil, model.File{}, ErrNotFound
		}
		return nil, model.File{}, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}

	stripeCount := file.StripeCount()
	stripeData := make([][]byte, stripeCount)
	dataByStripe := make(map[int][]model.BlockDescriptor, stripeCount)
	for _, d := range file.DataBlocks {
		dataByStripe[d.StripeIndex] = append(dataByStripe[d.StripeIndex], d)
	}
	parityByStripe := make(map[int]model.BlockDescriptor, stripeCount)
	for _, p := range file.ParityBlocks {
		parityByStripe[p.StripeIndex] = p
	}

	for s := 0; s < stripeCount; s++ {
		descs := dataByStripe[s]
		reconstructed, err := c.readStripe(ctx, descs, parityByStripe[s])
		if err != nil {
			return nil, file, err
		}
		stripeData[s] = reconstructed
	}

	var out bytes.Buffer
	for _, sd := range stripeData {
		out.Write(sd)
	}

	full := out.Bytes()
	if int64(len(full)) > file.SizeBytes {
		full = full[:file.SizeBytes]
	}
	return full, file, nil
}

// readStripe fetches a stripe's data blocks, recovering at most one
// missing or corrupt member via parity.
func (c *Coordinator) readStripe(ctx context.Context, descs []model.BlockDescriptor, parityDesc model.BlockDescriptor) ([]byte, error) {
	type fetchResult struct {
		position int
		payload  []byte
		ok       bool
	}

	room := c.pool.CreateRoom(len(descs))
	for _, d := range descs {
		d := d
		room.Submit(func() workerpool.Result {
			client, ok := c.clients[d.NodeID]
			if !ok {
				return workerpool.Result{Value: fetchResult{position: d.Position}}
			}
			payload, resp, err := client.RetrieveBlock(ctx, d.BlockID)
			if err != nil || !resp.OK || !parity.VerifyChecksum(payload, d.Checksum) {
				return workerpool.Result{Value: fetchResult{position: d.Position}}
			}
			return workerpool.Result{Value: fetchResult{position: d.Position, payload: payload, ok: true}}
		})
	}
	results := room.Collect()

	byPosition := make([][]byte, len(descs))
	present := make([]bool, len(descs))
	missing := 0
	missingPos := -1
	for _, r := range results {
		fr := r.Value.(fetchResult)
		byPosition[fr.position] = fr.payload
		present[fr.position] = fr.ok
		if !fr.ok {
			missing++
			missingPos = fr.position
		}
	}

	switch {
	case missing == 0:
		out := make([]byte, 0)
		for _, b := range byPosition {
			out = append(out, b...)
		}
		return out, nil

	case missing == 1:
		surviving := make([][]byte, 0, len(byPosition)-1)
		for i, b := range byPosition {
			if present[i] {
				surviving = append(surviving, b)
			}
		}

		client, ok := c.clients[parityDesc.NodeID]
		if !ok {
			return nil, ErrUnrecoverableLoss
		}
		parityPayload, resp, err := client.RetrieveBlock(ctx, parityDesc.BlockID)
		if err != nil || !resp.OK || !parity.VerifyChecksum(parityPayload, parityDesc.Checksum) {
			return nil, ErrUnrecoverableLoss
		}

		recovered := parity.RecoverBlock(surviving, parityPayload, missingPos)
		var expectedLen int
		for _, d := range descs {
			if d.Position == missingPos {
				expectedLen = d.Length
			}
		}
		if expectedLen > 0 && expectedLen < len(recovered) {
			recovered = recovered[:expectedLen]
		}

		var expectedChecksum string
		for _, d := range descs {
			if d.Position == missingPos {
				expectedChecksum = d.Checksum
			}
		}
		if !parity.VerifyChecksum(recovered, expectedChecksum) {
			return nil, ErrUnrecoverableLoss
		}

		byPosition[missingPos] = recovered
		out := make([]byte, 0)
		for _, b := range byPosition {
			out = append(out, b...)
		}
		return out, nil

	default:
		return nil, ErrUnrecoverableLoss
	}
}

// DeleteResult reports how many blocks Delete removed.
type DeleteResult struct {
	BlocksDeleted int
}

// Delete removes every block of a file, best-effort in parallel, then
// removes its catalog entry regardless of per-block failures — orphaned
// blocks on unreachable nodes are reaped later by cleanupOrphans.
func (c *Coordinator) Delete(ctx context.Context, fileName string) (DeleteResult, error) {
	file, err := c.catalog.Get(fileName)
	if err != nil {
		if err == catalog.ErrNotFound {
			return DeleteResult{}, ErrNotFound
		}
		return DeleteResult{}, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}

	all := make([]model.BlockDescriptor, 0, len(file.DataBlocks)+len(file.ParityBlocks))
	all = append(all, file.DataBlocks...)
	all = append(all, file.ParityBlocks...)

	room := c.pool.CreateRoom(len(all))
	for _, d := range all {
		d := d
		room.Submit(func() workerpool.Result {
			client, ok := c.clients[d.NodeID]
			if !ok {
				return workerpool.Result{Value: false}
			}
			resp, err := client.DeleteBlock(ctx, d.BlockID)
			return workerpool.Result{Value: err == nil && resp.OK}
		})
	}
	results := room.Collect()

	deleted := 0
	for _, r := range results {
		if ok, _ := r.Value.(bool); ok {
			deleted++
		}
	}

	if err := c.catalog.Delete(fileName); err != nil {
		return DeleteResult{BlocksDeleted: deleted}, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	return DeleteResult{BlocksDeleted: deleted}, nil
}

// List returns every complete file's metadata.
func (c *Coordinator) List() ([]model.File, error) {
	files, err := c.catalog.List()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	return files, nil
}

// Search returns every complete file whose name contains query.
func (c *Coordinator) Search(query string) ([]model.File, error) {
	if len(query) < 2 {
		return nil, fmt.Errorf("%w: query must be at least 2 characters", ErrValidation)
	}
	files, err := c.catalog.Search(query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	return files, nil
}

// Info returns one file's full metadata record.
func (c *Coordinator) Info(fileName string) (model.File, error) {
	f, err := c.catalog.Get(fileName)
	if err == catalog.ErrNotFound {
		return model.File{}, ErrNotFound
	}
	if err != nil {
		return model.File{}, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	return f, nil
}
