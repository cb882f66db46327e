package sfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mountFresh(t *testing.T, blockSize, totalBlocks uint32) *FileSystem {
	t.Helper()
	dev := newMemDevice(int(totalBlocks) * int(blockSize))
	fsys, err := Mount(dev, WithBlockSize(blockSize), WithTotalBlocks(totalBlocks))
	require.NoError(t, err)
	return fsys
}

func TestMountFormatsAnUnrecognizedImage(t *testing.T) {
	fsys := mountFresh(t, 256, 256)
	attr, err := fsys.GetAttr("/")
	require.NoError(t, err)
	assert.True(t, attr.IsDir)
	assert.Equal(t, uint32(0), attr.Ino)
}

func TestMountOfAnAlreadyFormattedImageReopensState(t *testing.T) {
	dev := newMemDevice(256 * 256)
	fsys, err := Mount(dev, WithBlockSize(256), WithTotalBlocks(256))
	require.NoError(t, err)
	fh, _, err := fsys.Create("/note.txt", 0644)
	require.NoError(t, err)
	_, err = fsys.Write(fh, []byte("hi"), 0)
	require.NoError(t, err)
	require.NoError(t, fsys.Release(fh))
	require.NoError(t, fsys.Close())

	reopened, err := Mount(dev, WithBlockSize(256), WithTotalBlocks(256))
	require.NoError(t, err)
	attr, err := reopened.GetAttr("/note.txt")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), attr.Size)
}

func TestCreateThenReadWriteRoundTrips(t *testing.T) {
	fsys := mountFresh(t, 256, 256)
	fh, _, err := fsys.Create("/hello.txt", 0644)
	require.NoError(t, err)

	payload := []byte("hello, filesystem")
	n, err := fsys.Write(fh, payload, 0)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)

	got := make([]byte, len(payload))
	n, err = fsys.Read(fh, got, 0)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)
	assert.Equal(t, payload, got)
}

func TestCreateOnExistingFileBehavesLikeOpen(t *testing.T) {
	fsys := mountFresh(t, 256, 256)
	fh1, ino1, err := fsys.Create("/a.txt", 0644)
	require.NoError(t, err)
	require.NoError(t, fsys.Release(fh1))

	fh2, ino2, err := fsys.Create("/a.txt", 0644)
	require.NoError(t, err)
	assert.Equal(t, ino1, ino2)
	require.NoError(t, fsys.Release(fh2))
}

func TestReadPastEndOfFileReturnsZero(t *testing.T) {
	fsys := mountFresh(t, 256, 256)
	fh, _, err := fsys.Create("/a.txt", 0644)
	require.NoError(t, err)
	_, err = fsys.Write(fh, []byte("abc"), 0)
	require.NoError(t, err)

	buf := make([]byte, 10)
	n, err := fsys.Read(fh, buf, 100)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestReadClampsToFileSizeAndZeroFillsTail(t *testing.T) {
	fsys := mountFresh(t, 256, 256)
	fh, _, err := fsys.Create("/a.txt", 0644)
	require.NoError(t, err)
	_, err = fsys.Write(fh, []byte("abc"), 0)
	require.NoError(t, err)

	buf := []byte{9, 9, 9, 9, 9}
	n, err := fsys.Read(fh, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []byte{'a', 'b', 'c', 0, 0}, buf)
}

func TestWriteExtendsSizeToOffsetPlusLengthNotCumulativeSum(t *testing.T) {
	fsys := mountFresh(t, 256, 256)
	fh, ino, err := fsys.Create("/a.txt", 0644)
	require.NoError(t, err)

	_, err = fsys.Write(fh, []byte("0123456789"), 0)
	require.NoError(t, err)
	// Overwrite the middle of the file; size must stay 10, not grow to 10+5.
	_, err = fsys.Write(fh, []byte("XXXXX"), 2)
	require.NoError(t, err)

	n, err := fsys.inodes.read(ino)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), n.Size)
}

func TestMkdirThenCreateNestedFile(t *testing.T) {
	fsys := mountFresh(t, 256, 256)
	_, err := fsys.Mkdir("/dir", 0755)
	require.NoError(t, err)

	fh, _, err := fsys.Create("/dir/file.txt", 0644)
	require.NoError(t, err)
	require.NoError(t, fsys.Release(fh))

	attr, err := fsys.GetAttr("/dir/file.txt")
	require.NoError(t, err)
	assert.False(t, attr.IsDir)
}

func TestMkdirOnExistingPathFails(t *testing.T) {
	fsys := mountFresh(t, 256, 256)
	_, err := fsys.Mkdir("/dir", 0755)
	require.NoError(t, err)
	_, err = fsys.Mkdir("/dir", 0755)
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, AlreadyExists, kind)
}

func TestUnlinkFreesBlocksAndRemovesEntry(t *testing.T) {
	fsys := mountFresh(t, 256, 256)
	fh, _, err := fsys.Create("/a.txt", 0644)
	require.NoError(t, err)
	_, err = fsys.Write(fh, make([]byte, 256*3), 0)
	require.NoError(t, err)
	require.NoError(t, fsys.Release(fh))

	freeBefore := fsys.bm.freeCount()
	require.NoError(t, fsys.Unlink("/a.txt"))
	assert.Greater(t, fsys.bm.freeCount(), freeBefore)

	_, err = fsys.GetAttr("/a.txt")
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, NotFound, kind)
}

func TestRmdirRefusesNonEmptyDirectory(t *testing.T) {
	fsys := mountFresh(t, 256, 256)
	_, err := fsys.Mkdir("/dir", 0755)
	require.NoError(t, err)
	fh, _, err := fsys.Create("/dir/file.txt", 0644)
	require.NoError(t, err)
	require.NoError(t, fsys.Release(fh))

	err = fsys.Rmdir("/dir")
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, NotEmpty, kind)
}

func TestRmdirRemovesEmptyDirectory(t *testing.T) {
	fsys := mountFresh(t, 256, 256)
	_, err := fsys.Mkdir("/dir", 0755)
	require.NoError(t, err)
	require.NoError(t, fsys.Rmdir("/dir"))

	_, err = fsys.GetAttr("/dir")
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, NotFound, kind)
}

func TestReadDirListsCreatedEntries(t *testing.T) {
	fsys := mountFresh(t, 256, 256)
	fh1, _, err := fsys.Create("/a.txt", 0644)
	require.NoError(t, err)
	require.NoError(t, fsys.Release(fh1))
	_, err = fsys.Mkdir("/sub", 0755)
	require.NoError(t, err)

	dh, err := fsys.OpenDir("/")
	require.NoError(t, err)
	var names []string
	require.NoError(t, fsys.ReadDir(dh, func(name string, ino uint32, isDir bool) bool {
		names = append(names, name)
		return true
	}))
	assert.ElementsMatch(t, []string{"a.txt", "sub"}, names)
}

func TestWriteAcrossMultipleBlocksThroughIndirection(t *testing.T) {
	l := layoutFor(Params{BlockSize: 128, TotalBlocks: 1024})
	idsPerBlock := l.idsPerBlock()
	fsys := mountFresh(t, 128, 1024)
	fh, ino, err := fsys.Create("/big.bin", 0644)
	require.NoError(t, err)

	// Enough bytes to spill past the 12 direct blocks into single-indirect.
	size := int(l.blockSize) * (numDirect + int(idsPerBlock)/2)
	payload := make([]byte, size)
	for i := range payload {
		payload[i] = byte(i)
	}
	n, err := fsys.Write(fh, payload, 0)
	require.NoError(t, err)
	assert.Equal(t, size, n)

	node, err := fsys.inodes.read(ino)
	require.NoError(t, err)
	assert.NotZero(t, node.Blocks[singleIndirectIx])

	got := make([]byte, size)
	n, err = fsys.Read(fh, got, 0)
	require.NoError(t, err)
	assert.Equal(t, size, n)
	assert.Equal(t, payload, got)
}
