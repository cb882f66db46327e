package sfs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestINodeMarshalUnmarshalRoundTrips(t *testing.T) {
	n := &INode{
		ID:         3,
		Flags:      makeFlags(true, FileType),
		Size:       4096,
		ChildCount: 0,
		LastAccess: 1000,
		LastModify: 2000,
		LastChange: 3000,
	}
	n.Blocks[0] = 7
	n.Blocks[singleIndirectIx] = 9

	var got INode
	require.NoError(t, got.unmarshalBinary(n.marshalBinary()))
	got.ID = n.ID

	assert.Equal(t, n.Flags, got.Flags)
	assert.Equal(t, n.Size, got.Size)
	assert.Equal(t, n.LastAccess, got.LastAccess)
	assert.Equal(t, n.LastModify, got.LastModify)
	assert.Equal(t, n.LastChange, got.LastChange)
	assert.Equal(t, n.Blocks, got.Blocks)
	assert.True(t, got.InUse())
	assert.True(t, got.Type().IsFile())
}

func newTestLayout(blockSize, totalBlocks uint32) layout {
	return layoutFor(Params{BlockSize: blockSize, TotalBlocks: totalBlocks, NumOpenFiles: NumOpenFiles})
}

func TestINodeTableAllocateSkipsInUseAndReusesFreed(t *testing.T) {
	l := newTestLayout(512, 64)
	dev := newMemDevice(int(l.totalBlocks) * int(l.blockSize))
	io := newBlockIO(dev, l.blockSize)
	table := newINodeTable(io, l)

	now := time.Now()
	first, err := table.allocate(FileType, now)
	require.NoError(t, err)
	second, err := table.allocate(DirType, now)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	require.NoError(t, table.free(first.ID))
	reread, err := table.read(first.ID)
	require.NoError(t, err)
	assert.False(t, reread.InUse())

	third, err := table.allocate(FileType, now)
	require.NoError(t, err)
	assert.Equal(t, first.ID, third.ID, "allocate should reuse the lowest freed id")
}

func TestINodeTableAllocateExhaustionReturnsNoSpace(t *testing.T) {
	l := newTestLayout(512, 64)
	dev := newMemDevice(int(l.totalBlocks) * int(l.blockSize))
	io := newBlockIO(dev, l.blockSize)
	table := newINodeTable(io, l)

	now := time.Now()
	for i := uint32(0); i < l.numINodes; i++ {
		_, err := table.allocate(FileType, now)
		require.NoError(t, err)
	}
	_, err := table.allocate(FileType, now)
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, NoSpace, kind)
}
