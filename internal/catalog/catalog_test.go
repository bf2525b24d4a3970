package catalog

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"

	"github.com/lucidgrid/raidfive/pkg/model"
)

func openTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := Open(Config{Path: filepath.Join(t.TempDir(), "catalog")})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestBeginCommitGet(t *testing.T) {
	c := openTestCatalog(t)

	require.NoError(t, c.Begin("Report.pdf"))
	require.NoError(t, c.Commit(model.File{Name: "Report.pdf", SizeBytes: 100}))

	got, err := c.Get("report.pdf")
	require.NoError(t, err)
	require.True(t, got.Complete)
	require.EqualValues(t, 100, got.SizeBytes)
}

func TestBeginRejectsDuplicateName(t *testing.T) {
	c := openTestCatalog(t)

	require.NoError(t, c.Begin("a.pdf"))
	require.NoError(t, c.Commit(model.File{Name: "a.pdf"}))

	require.ErrorIs(t, c.Begin("A.PDF"), ErrAlreadyExists)
}

func TestBeginRejectsConcurrentUpload(t *testing.T) {
	c := openTestCatalog(t)

	require.NoError(t, c.Begin("b.pdf"))
	require.Error(t, c.Begin("b.pdf"), "expected second Begin to fail while first is in flight")
	c.Abort("b.pdf")

	require.NoError(t, c.Begin("b.pdf"), "Begin after Abort should succeed")
}

func TestGetNotFound(t *testing.T) {
	c := openTestCatalog(t)
	_, err := c.Get("missing.pdf")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListAndSearch(t *testing.T) {
	c := openTestCatalog(t)
	for _, name := range []string{"Alpha.pdf", "Beta.pdf", "Alphabet.pdf"} {
		require.NoError(t, c.Begin(name))
		require.NoError(t, c.Commit(model.File{Name: name}))
	}

	all, err := c.List()
	require.NoError(t, err)
	require.Len(t, all, 3)

	matches, err := c.Search("alpha")
	require.NoError(t, err)
	require.Len(t, matches, 2)
}

func TestDelete(t *testing.T) {
	c := openTestCatalog(t)
	require.NoError(t, c.Begin("gone.pdf"))
	require.NoError(t, c.Commit(model.File{Name: "gone.pdf"}))
	require.NoError(t, c.Delete("gone.pdf"))

	_, err := c.Get("gone.pdf")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestReconcileDropsIncompleteRecords(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "catalog")

	c, err := Open(Config{Path: dir})
	require.NoError(t, err)

	// Write an incomplete record directly, bypassing Begin/Commit, to
	// simulate a crash mid-upload.
	incomplete := model.File{Name: "crashed.pdf", Complete: false}
	data, err := json.Marshal(incomplete)
	require.NoError(t, err)

	err = c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(fileKey(normalize(incomplete.Name)), data)
	})
	require.NoError(t, err)
	require.NoError(t, c.Close())

	reopened, err := Open(Config{Path: dir})
	require.NoError(t, err)
	defer reopened.Close()

	_, err = reopened.Get("crashed.pdf")
	require.ErrorIs(t, err, ErrNotFound, "expected incomplete record to be dropped on reopen")
}
