package harvest

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/canopy-network/subnetx/pkg/dataset"
	"github.com/canopy-network/subnetx/pkg/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// countingStore counts Open calls per netuid.
type countingStore struct {
	dataset.Store
	opens   map[uint64]int
	openErr error
}

func newCountingStore(t *testing.T, path string) *countingStore {
	dir, err := dataset.NewDir(path, zaptest.NewLogger(t))
	require.NoError(t, err)
	return &countingStore{Store: dir, opens: map[uint64]int{}}
}

func (c *countingStore) Open(netuid uint64) (dataset.Appender, error) {
	c.opens[netuid]++
	if c.openErr != nil {
		return nil, c.openErr
	}
	return c.Store.Open(netuid)
}

func entry(netuid, block uint64) Entry {
	return Entry{Netuid: netuid, Row: dataset.NewRow(block, blockTime(block), &rpc.Subnet{Netuid: netuid, TaoIn: 1})}
}

func readLines(t *testing.T, path string, netuid uint64) []string {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join(path, dataset.FileName(netuid)))
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(raw)), "\n")
}

func TestWriter_DedupAndLazyOpen(t *testing.T) {
	path := t.TempDir()
	store := newCountingStore(t, path)
	cp := NewCheckpoints()
	cp.Add(1, 10)

	w := NewWriter(store, cp, zaptest.NewLogger(t))
	written, err := w.Write([]Result{
		{Height: 10, Entries: []Entry{entry(1, 10), entry(2, 10)}},
		{Height: 9, Err: errors.New("boom"), Entries: []Entry{entry(1, 9)}},
		{Height: 8, Entries: []Entry{entry(1, 8), entry(2, 8), entry(1, 8)}},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, written)

	written, err = w.Write([]Result{{Height: 7, Entries: []Entry{entry(1, 7), entry(2, 8)}}})
	require.NoError(t, err)
	assert.Equal(t, 1, written)
	require.NoError(t, w.Close())

	assert.Equal(t, map[uint64]int{1: 1, 2: 1}, store.opens)
	assert.True(t, cp.Has(1, 8))
	assert.True(t, cp.Has(1, 7))
	assert.True(t, cp.Has(2, 10))
	assert.False(t, cp.Has(1, 9))

	lines := readLines(t, path, 1)
	require.Len(t, lines, 3)
	assert.Equal(t, strings.Join(dataset.Columns, ","), lines[0])
	assert.True(t, strings.HasPrefix(lines[1], dataset.FormatTime(blockTime(8))+",8,"))
	assert.True(t, strings.HasPrefix(lines[2], dataset.FormatTime(blockTime(7))+",7,"))

	lines = readLines(t, path, 2)
	assert.Len(t, lines, 3)
}

func TestWriter_FlushesEachBatch(t *testing.T) {
	path := t.TempDir()
	store := newCountingStore(t, path)
	w := NewWriter(store, NewCheckpoints(), zaptest.NewLogger(t))
	defer w.Close()

	_, err := w.Write([]Result{{Height: 3, Entries: []Entry{entry(4, 3)}}})
	require.NoError(t, err)

	// visible on disk before Close
	assert.Len(t, readLines(t, path, 4), 2)
}

func TestWriter_OpenError(t *testing.T) {
	store := newCountingStore(t, t.TempDir())
	store.openErr = errors.New("read-only filesystem")
	cp := NewCheckpoints()
	w := NewWriter(store, cp, zaptest.NewLogger(t))

	written, err := w.Write([]Result{{Height: 3, Entries: []Entry{entry(4, 3)}}})
	assert.ErrorContains(t, err, "read-only filesystem")
	assert.Zero(t, written)
	assert.False(t, cp.Has(4, 3))
	assert.NoError(t, w.Close())
}
