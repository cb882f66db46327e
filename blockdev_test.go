package sfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockIOWriteThenReadRoundTrips(t *testing.T) {
	dev := newMemDevice(4096)
	io := newBlockIO(dev, 512)

	payload := make([]byte, 512)
	copy(payload, "hello block")
	require.NoError(t, io.writeBlock(2, payload))

	got, err := io.readBlock(2)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.Equal(t, 1, dev.syncs, "writeBlock must sync through a syncer backing store")
}

func TestBlockIOReadPastEndReturnsZeroedBlock(t *testing.T) {
	dev := newMemDevice(512)
	io := newBlockIO(dev, 512)

	got, err := io.readBlock(5)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 512), got)
}

func TestBlockIOPadsShortWrites(t *testing.T) {
	dev := newMemDevice(4096)
	io := newBlockIO(dev, 512)

	require.NoError(t, io.writeBlock(0, []byte("short")))
	got, err := io.readBlock(0)
	require.NoError(t, err)
	assert.Len(t, got, 512)
	assert.Equal(t, byte(0), got[511])
}

func TestBlockIOSurfacesReadFailureAsIOKind(t *testing.T) {
	dev := newMemDevice(4096)
	dev.failRead = true
	io := newBlockIO(dev, 512)

	_, err := io.readBlock(0)
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, IO, kind)
}

func TestBlockIOSurfacesWriteFailureAsIOKind(t *testing.T) {
	dev := newMemDevice(4096)
	dev.failWrite = true
	io := newBlockIO(dev, 512)

	err := io.writeBlock(0, make([]byte, 512))
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, IO, kind)
}
