package sfs

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDirOps(t *testing.T, blockSize, totalBlocks uint32) (*dirOps, *INode) {
	t.Helper()
	dev := newMemDevice(int(totalBlocks) * int(blockSize))
	io := newBlockIO(dev, blockSize)
	l := layoutFor(Params{BlockSize: blockSize, TotalBlocks: totalBlocks})
	bm := newBitmapAllocator(totalBlocks, 0)
	// Block 0 holds the superblock on a real image; reserve it so no
	// directory is ever handed block id 0, which means "not allocated".
	bm.markUsed(0)
	sb := &Superblock{NumFreeBlocks: totalBlocks}
	sbW := func() error { return nil }
	dirs := newDirOps(io, bm, l, sb, sbW)
	dir := &INode{Flags: makeFlags(true, DirType)}
	return dirs, dir
}

func TestDirOpsAddFindRemoveEntry(t *testing.T) {
	dirs, dir := newTestDirOps(t, 256, 64)

	require.NoError(t, dirs.addFileEntry(dir, 5, "foo"))
	require.NoError(t, dirs.addFileEntry(dir, 6, "bar"))
	assert.Equal(t, uint32(2), dir.ChildCount)

	id, _, _, found, err := dirs.findFileEntry(dir, "bar")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint32(6), id)

	require.NoError(t, dirs.removeFileEntry(dir, "foo"))
	assert.Equal(t, uint32(1), dir.ChildCount)

	_, _, _, found, err = dirs.findFileEntry(dir, "foo")
	require.NoError(t, err)
	assert.False(t, found)

	id, _, _, found, err = dirs.findFileEntry(dir, "bar")
	require.NoError(t, err)
	require.True(t, found, "removeFileEntry must compact by moving the last entry into the removed slot")
	assert.Equal(t, uint32(6), id)
}

func TestDirOpsListEntriesPreservesInsertionOrder(t *testing.T) {
	dirs, dir := newTestDirOps(t, 256, 64)
	require.NoError(t, dirs.addFileEntry(dir, 1, "a"))
	require.NoError(t, dirs.addFileEntry(dir, 2, "b"))
	require.NoError(t, dirs.addFileEntry(dir, 3, "c"))

	entries, err := dirs.listEntries(dir)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "a", entries[0].Name)
	assert.Equal(t, "b", entries[1].Name)
	assert.Equal(t, "c", entries[2].Name)
}

func TestDirOpsCapacityExhaustionReturnsNoSpace(t *testing.T) {
	dirs, dir := newTestDirOps(t, 256, 4096)
	l := layoutFor(Params{BlockSize: 256, TotalBlocks: 4096})
	capacity := l.dirCapacity()

	for i := uint32(0); i < capacity; i++ {
		require.NoError(t, dirs.addFileEntry(dir, i+1, fmt.Sprintf("f%d", i)))
	}
	err := dirs.addFileEntry(dir, 9999, "overflow")
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, NoSpace, kind)
}

func TestDirOpsAddFileEntryRollsBackOnAllocationFailure(t *testing.T) {
	dirs, dir := newTestDirOps(t, 256, 64)
	// Exhaust the allocator entirely so the first addFileEntry, which must
	// allocate dir's first block, fails and rolls back.
	for {
		if _, err := dirs.bm.allocate(); err != nil {
			break
		}
	}
	freeBefore := dirs.bm.freeCount()
	assert.Equal(t, uint32(0), freeBefore)

	err := dirs.addFileEntry(dir, 1, "foo")
	require.Error(t, err)
	assert.Equal(t, uint32(0), dir.ChildCount)
	assert.Equal(t, uint64(0), dir.Size)
	assert.Equal(t, uint32(0), dir.Blocks[0])
}

func TestDirOpsFreeAllBlocksClearsReferences(t *testing.T) {
	dirs, dir := newTestDirOps(t, 256, 64)
	require.NoError(t, dirs.addFileEntry(dir, 1, "a"))
	freeBefore := dirs.bm.freeCount()

	dirs.freeAllBlocks(dir)
	for _, b := range dir.Blocks {
		assert.Equal(t, uint32(0), b)
	}
	assert.Equal(t, freeBefore+1, dirs.bm.freeCount())
}
