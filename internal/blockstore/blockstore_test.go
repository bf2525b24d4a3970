package blockstore

import (
	"path/filepath"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "badger")
	s, err := Open(Config{Path: dir})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreAndRetrieveBlock(t *testing.T) {
	s := openTestStore(t)

	payload := []byte("hello stripe")
	require.NoError(t, s.StoreBlock("blk-1", payload, 0, 1, false))

	got, meta, err := s.RetrieveBlock("blk-1")
	require.NoError(t, err)
	require.Equal(t, payload, got)
	require.Equal(t, len(payload), meta.Length)
	require.Equal(t, 0, meta.StripeIndex)
	require.Equal(t, 1, meta.Position)
}

func TestRetrieveBlockNotFound(t *testing.T) {
	s := openTestStore(t)
	_, _, err := s.RetrieveBlock("missing")
	require.ErrorIs(t, err, ErrBlockNotFound)
}

func TestDeleteBlock(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.StoreBlock("blk-2", []byte("data"), 0, 0, false))
	require.NoError(t, s.DeleteBlock("blk-2"))

	exists, err := s.BlockExists("blk-2")
	require.NoError(t, err)
	require.False(t, exists, "expected block to be gone after delete")
}

func TestBlockExists(t *testing.T) {
	s := openTestStore(t)
	exists, err := s.BlockExists("nope")
	require.NoError(t, err)
	require.False(t, exists)

	require.NoError(t, s.StoreBlock("blk-3", []byte("x"), 0, 0, true))
	exists, err = s.BlockExists("blk-3")
	require.NoError(t, err)
	require.True(t, exists)
}

func TestListBlocks(t *testing.T) {
	s := openTestStore(t)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.StoreBlock(id, []byte{byte(i)}, 0, i, false))
	}

	metas, err := s.ListBlocks()
	require.NoError(t, err)
	require.Len(t, metas, 3)
}

func TestUsedSpace(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.StoreBlock("blk-4", []byte("12345"), 0, 0, false))
	require.NoError(t, s.StoreBlock("blk-5", []byte("678"), 0, 1, false))

	used, err := s.UsedSpace()
	require.NoError(t, err)
	require.EqualValues(t, 8, used)
}

func TestVerifyIntegrityDetectsCorruption(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.StoreBlock("blk-6", []byte("original"), 0, 0, false))

	// Corrupt the payload directly, bypassing StoreBlock's checksum write.
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(payloadKey("blk-6"), []byte("tampered"))
	})
	require.NoError(t, err)

	report, err := s.VerifyIntegrity()
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"blk-6"}, report.Corrupt)
}

func TestCleanupOrphans(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.StoreBlock("blk-7", []byte("keep me"), 0, 0, false))

	report, err := s.VerifyIntegrity()
	require.NoError(t, err)
	require.Empty(t, report.OrphanPL)
	require.Empty(t, report.OrphanSC)

	require.NoError(t, s.CleanupOrphans(report))

	exists, err := s.BlockExists("blk-7")
	require.NoError(t, err)
	require.True(t, exists, "CleanupOrphans should not remove a block with no orphan entries")
}
