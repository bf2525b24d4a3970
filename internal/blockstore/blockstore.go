// Package blockstore is the per-node persistence layer: it owns one
// badger database holding every block this node has ever accepted, plus
// the sidecar metadata (checksum, length, parity flag) needed to verify
// and enumerate them without touching the payload.
package blockstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"runtime"

	"github.com/dgraph-io/badger/v4"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/sirupsen/logrus"

	"github.com/lucidgrid/raidfive/internal/parity"
)

// ErrBlockNotFound is returned by RetrieveBlock when the block ID is
// unknown to this node. DeleteBlock does not return it: deleting an
// unknown ID succeeds without error.
var ErrBlockNotFound = errors.New("blockstore: block not found")

// ErrChecksumMismatch is returned by RetrieveBlock when the stored payload
// no longer matches its recorded checksum.
var ErrChecksumMismatch = errors.New("blockstore: checksum mismatch")

var (
	payloadPrefix = []byte("blk:")
	metaPrefix    = []byte("meta:")
)

// Meta is the sidecar record kept alongside every block payload.
type Meta struct {
	BlockID     string `json:"blockId"`
	Checksum    string `json:"checksum"`
	Length      int    `json:"length"`
	IsParity    bool   `json:"isParity"`
	StripeIndex int    `json:"stripeIndex"`
	Position    int    `json:"position"`
}

// IntegrityReport describes the outcome of scanning every stored block's
// payload against its recorded checksum.
type IntegrityReport struct {
	Checked  int
	Corrupt  []string
	OrphanSC []string // sidecars with no matching payload
	OrphanPL []string // payloads with no matching sidecar
}

// Store is a single node's block store, backed by badger.
type Store struct {
	db       *badger.DB
	diskPath string
	log      *logrus.Logger
}

// Config controls how a Store opens its underlying database.
type Config struct {
	Path   string
	Logger *logrus.Logger
}

// Open opens (creating if necessary) the badger database at cfg.Path.
func Open(cfg Config) (*Store, error) {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("blockstore: path is required")
	}

	opts := badger.DefaultOptions(cfg.Path)
	opts.Logger = nil
	opts.ValueLogFileSize = 1024 * 1024 * 100
	opts.SyncWrites = false

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("blockstore: open %s: %w", cfg.Path, err)
	}

	return &Store{db: db, diskPath: cfg.Path, log: cfg.Logger}, nil
}

// Close flushes and closes the underlying database.
func (s *Store) Close() error {
	if err := s.db.Sync(); err != nil {
		s.log.WithError(err).Warn("blockstore: sync failed on close")
	}
	return s.db.Close()
}

// StoreBlock persists a block's payload and sidecar metadata as two
// independent keys in the same transaction. The checksum is computed here,
// not trusted from the caller, so a corrupted transport layer cannot
// silently poison the store.
func (s *Store) StoreBlock(blockID string, payload []byte, stripeIndex, position int, isParity bool) error {
	meta := Meta{
		BlockID:     blockID,
		Checksum:    parity.Checksum(payload),
		Length:      len(payload),
		IsParity:    isParity,
		StripeIndex: stripeIndex,
		Position:    position,
	}

	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("blockstore: marshal meta for %s: %w", blockID, err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(payloadKey(blockID), payload); err != nil {
			return err
		}
		return txn.Set(metaKey(blockID), metaBytes)
	})
	if err != nil {
		s.log.WithError(err).WithField("blockId", blockID).Error("blockstore: store failed")
		return fmt.Errorf("blockstore: store %s: %w", blockID, err)
	}
	return nil
}

// RetrieveBlock returns a block's payload after verifying it against the
// recorded checksum.
func (s *Store) RetrieveBlock(blockID string) ([]byte, Meta, error) {
	var payload []byte
	var meta Meta

	err := s.db.View(func(txn *badger.Txn) error {
		metaItem, err := txn.Get(metaKey(blockID))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return ErrBlockNotFound
			}
			return err
		}
		metaBytes, err := metaItem.ValueCopy(nil)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(metaBytes, &meta); err != nil {
			return fmt.Errorf("blockstore: corrupt meta for %s: %w", blockID, err)
		}

		payloadItem, err := txn.Get(payloadKey(blockID))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return ErrBlockNotFound
			}
			return err
		}
		payload, err = payloadItem.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, Meta{}, err
	}

	if !parity.VerifyChecksum(payload, meta.Checksum) {
		s.log.WithField("blockId", blockID).Error("blockstore: checksum mismatch on read")
		return nil, meta, ErrChecksumMismatch
	}
	return payload, meta, nil
}

// DeleteBlock removes a block's payload and sidecar metadata. It does not
// report whether the block existed; an unknown ID returns nil.
func (s *Store) DeleteBlock(blockID string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(payloadKey(blockID)); err != nil && err != badger.ErrKeyNotFound {
			return err
		}
		if err := txn.Delete(metaKey(blockID)); err != nil && err != badger.ErrKeyNotFound {
			return err
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("blockstore: delete %s: %w", blockID, err)
	}
	return nil
}

// BlockExists reports whether blockID has both a payload and sidecar
// record.
func (s *Store) BlockExists(blockID string) (bool, error) {
	exists := false
	err := s.db.View(func(txn *badger.Txn) error {
		if _, err := txn.Get(metaKey(blockID)); err != nil {
			if err == badger.ErrKeyNotFound {
				return nil
			}
			return err
		}
		if _, err := txn.Get(payloadKey(blockID)); err != nil {
			if err == badger.ErrKeyNotFound {
				return nil
			}
			return err
		}
		exists = true
		return nil
	})
	return exists, err
}

// ListBlocks returns the sidecar metadata for every block this node holds.
func (s *Store) ListBlocks() ([]Meta, error) {
	var metas []Meta
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = metaPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(metaPrefix); it.ValidForPrefix(metaPrefix); it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var m Meta
			if err := json.Unmarshal(val, &m); err != nil {
				return err
			}
			metas = append(metas, m)
		}
		return nil
	})
	return metas, err
}

// UsedSpace sums the recorded length of every stored block's metadata.
// This is the store's own logical accounting, independent of whatever the
// filesystem or badger's compaction state currently reports.
func (s *Store) UsedSpace() (int64, error) {
	metas, err := s.ListBlocks()
	if err != nil {
		return 0, err
	}
	var total int64
	for _, m := range metas {
		total += int64(m.Length)
	}
	return total, nil
}

// AvailableSpace reports the free space on the filesystem backing this
// store's data directory, via gopsutil.
func (s *Store) AvailableSpace() (int64, error) {
	usage, err := disk.Usage(s.diskPath)
	if err != nil {
		return 0, fmt.Errorf("blockstore: disk usage for %s: %w", s.diskPath, err)
	}
	return int64(usage.Free), nil
}

// VerifyIntegrity scans every block this store holds, recomputing its
// checksum, and reports sidecars or payloads that have no counterpart.
func (s *Store) VerifyIntegrity() (IntegrityReport, error) {
	report := IntegrityReport{}

	payloadKeys := make(map[string]bool)
	metaByID := make(map[string]Meta)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = payloadPrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(payloadPrefix); it.ValidForPrefix(payloadPrefix); it.Next() {
			id := string(it.Item().Key()[len(payloadPrefix):])
			payloadKeys[id] = true
		}
		return nil
	})
	if err != nil {
		return report, err
	}

	metas, err := s.ListBlocks()
	if err != nil {
		return report, err
	}
	for _, m := range metas {
		metaByID[m.BlockID] = m
	}

	for id := range metaByID {
		report.Checked++
		if !payloadKeys[id] {
			report.OrphanSC = append(report.OrphanSC, id)
			continue
		}
		payload, _, err := s.RetrieveBlock(id)
		if err != nil {
			if errors.Is(err, ErrChecksumMismatch) {
				report.Corrupt = append(report.Corrupt, id)
			}
			continue
		}
		_ = payload
	}

	for id := range payloadKeys {
		if _, ok := metaByID[id]; !ok {
			report.OrphanPL = append(report.OrphanPL, id)
		}
	}

	return report, nil
}

// CleanupOrphans removes any payload with no sidecar and any sidecar with
// no payload, as identified by a prior VerifyIntegrity call.
func (s *Store) CleanupOrphans(report IntegrityReport) error {
	return s.db.Update(func(txn *badger.Txn) error {
		for _, id := range report.OrphanPL {
			if err := txn.Delete(payloadKey(id)); err != nil && err != badger.ErrKeyNotFound {
				return err
			}
		}
		for _, id := range report.OrphanSC {
			if err := txn.Delete(metaKey(id)); err != nil && err != badger.ErrKeyNotFound {
				return err
			}
		}
		return nil
	})
}

// Flatten compacts the underlying database. Cheap to call periodically;
// expensive enough that callers should not call it on every write.
func (s *Store) Flatten() error {
	return s.db.Flatten(runtime.NumCPU())
}

func payloadKey(blockID string) []byte {
	return append(append([]byte{}, payloadPrefix...), []byte(blockID)...)
}

func metaKey(blockID string) []byte {
	return append(append([]byte{}, metaPrefix...), []byte(blockID)...)
}
