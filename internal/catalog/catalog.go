// Package catalog is the coordinator's Metadata Catalog: a badger-backed
// record of every file the cluster has stored, keyed case-insensitively by
// name, with the block layout the RAID Coordinator used to place it.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/lucidgrid/raidfive/pkg/model"
)

// ErrNotFound is returned when a named file has no catalog entry.
var ErrNotFound = errors.New("catalog: file not found")

// ErrAlreadyExists is returned by Begin when a complete file already owns
// the requested name.
var ErrAlreadyExists = errors.New("catalog: file already exists")

var filePrefix = []byte("file:")

// Catalog is the coordinator's single metadata store. Names are compared
// case-insensitively but stored under their caller-supplied casing;
// the case-insensitive key is what's actually used for lookups.
type Catalog struct {
	db *badger.DB
	// writeLocks enforces single-writer-per-filename: only one upload for
	// a given name may be in flight at a time.
	mu         sync.Mutex
	writeLocks map[string]bool
	log        *logrus.Logger
}

// Config controls how a Catalog opens its database.
type Config struct {
	Path   string
	Logger *logrus.Logger
}

// Open opens (creating if necessary) the catalog database and reconciles
// it: any file record left Complete=false from a crashed upload is
// dropped, since its blocks may never have finished landing on nodes.
func Open(cfg Config) (*Catalog, error) {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	opts := badger.DefaultOptions(cfg.Path)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("catalog: open %s: %w", cfg.Path, err)
	}

	c := &Catalog{db: db, writeLocks: make(map[string]bool), log: cfg.Logger}
	if err := c.reconcile(); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

func (c *Catalog) reconcile() error {
	var stale [][]byte
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = filePrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(filePrefix); it.ValidForPrefix(filePrefix); it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var f model.File
			if err := json.Unmarshal(val, &f); err != nil {
				return err
			}
			if !f.Complete {
				stale = append(stale, it.Item().KeyCopy(nil))
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("catalog: reconcile scan: %w", err)
	}

	if len(stale) == 0 {
		return nil
	}
	c.log.WithField("count", len(stale)).Warn("catalog: dropping incomplete file records from a prior crash")
	return c.db.Update(func(txn *badger.Txn) error {
		for _, k := range stale {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close closes the underlying database.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// Begin reserves name for a new upload, returning ErrAlreadyExists if a
// complete file already owns it. It must be paired with a later call to
// Commit or Abort, and holds the single-writer lock for name until then.
func (c *Catalog) Begin(name string) error {
	key := normalize(name)

	c.mu.Lock()
	if c.writeLocks[key] {
		c.mu.Unlock()
		return fmt.Errorf("catalog: %q already has an upload in progress", name)
	}
	c.writeLocks[key] = true
	c.mu.Unlock()

	existing, err := c.lookup(key)
	if err == nil && existing.Complete {
		c.releaseLock(key)
		return ErrAlreadyExists
	}
	if err != nil && err != ErrNotFound {
		c.releaseLock(key)
		return err
	}
	return nil
}

// Abort releases name's write lock without writing anything, for a failed
// upload.
func (c *Catalog) Abort(name string) {
	c.releaseLock(normalize(name))
}

func (c *Catalog) releaseLock(key string) {
	c.mu.Lock()
	delete(c.writeLocks, key)
	c.mu.Unlock()
}

// Commit writes file as Complete and releases name's write lock.
func (c *Catalog) Commit(file model.File) error {
	file.Complete = true
	key := normalize(file.Name)

	data, err := json.Marshal(file)
	if err != nil {
		c.releaseLock(key)
		return fmt.Errorf("catalog: marshal %q: %w", file.Name, err)
	}

	err = c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(fileKey(key), data)
	})
	c.releaseLock(key)
	if err != nil {
		return fmt.Errorf("catalog: commit %q: %w", file.Name, err)
	}
	return nil
}

// Get returns the catalog entry for name, matched case-insensitively.
func (c *Catalog) Get(name string) (model.File, error) {
	return c.lookup(normalize(name))
}

func (c *Catalog) lookup(key string) (model.File, error) {
	var f model.File
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(fileKey(key))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return ErrNotFound
			}
			return err
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return json.Unmarshal(val, &f)
	})
	return f, err
}

// Delete removes name's catalog entry.
func (c *Catalog) Delete(name string) error {
	key := normalize(name)
	err := c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(fileKey(key))
	})
	if err != nil {
		return fmt.Errorf("catalog: delete %q: %w", name, err)
	}
	return nil
}

// List returns every complete file's record, sorted by name.
func (c *Catalog) List() ([]model.File, error) {
	var files []model.File
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = filePrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(filePrefix); it.ValidForPrefix(filePrefix); it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var f model.File
			if err := json.Unmarshal(val, &f); err != nil {
				return err
			}
			if f.Complete {
				files = append(files, f)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// Search returns every complete file whose name contains substr,
// case-insensitively.
func (c *Catalog) Search(substr string) ([]model.File, error) {
	all, err := c.List()
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(substr)
	var matches []model.File
	for _, f := range all {
		if strings.Contains(strings.ToLower(f.Name), needle) {
			matches = append(matches, f)
		}
	}
	return matches, nil
}

func normalize(name string) string {
	return strings.ToLower(name)
}

func fileKey(normalizedName string) []byte {
	return append(append([]byte{}, filePrefix...), []byte(normalizedName)...)
}
