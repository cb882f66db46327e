package sfs

import (
	"fmt"
	"io"
)

// BlockDevice is the narrowest interface the core needs from a backing
// image: positioned reads and writes of whole blocks, plus a way to
// release the underlying handle. Mirroring the disk-image ancestry's
// BlockStream, it is kept deliberately narrow so tests can swap in an
// in-memory or failure-injecting implementation without dragging in a
// real *os.File.
type BlockDevice interface {
	io.ReaderAt
	io.WriterAt
	io.Closer
}

// syncer is implemented by backing stores (like *os.File) that can flush
// writes through to stable storage. blockIO calls it after every write, per
// the no-write-ahead-log ordering guarantee in the core's design: each
// metadata-modifying primitive is durable before it returns.
type syncer interface {
	Sync() error
}

// blockIO performs positioned whole-block I/O against a BlockDevice. It
// holds no cache of its own: everything above it re-reads a block whenever
// it needs fresh data, relying on the host's buffered I/O for performance.
type blockIO struct {
	dev       BlockDevice
	blockSize uint32
}

func newBlockIO(dev BlockDevice, blockSize uint32) *blockIO {
	return &blockIO{dev: dev, blockSize: blockSize}
}

func (b *blockIO) readBlock(id uint32) ([]byte, error) {
	buf := make([]byte, b.blockSize)
	off := int64(id) * int64(b.blockSize)
	if _, err := b.dev.ReadAt(buf, off); err != nil && err != io.EOF {
		return nil, &Error{Kind: IO, Op: "readBlock", Msg: fmt.Sprintf("block %d", id), err: err}
	}
	return buf, nil
}

func (b *blockIO) writeBlock(id uint32, data []byte) error {
	if uint32(len(data)) != b.blockSize {
		padded := make([]byte, b.blockSize)
		copy(padded, data)
		data = padded
	}
	off := int64(id) * int64(b.blockSize)
	if _, err := b.dev.WriteAt(data, off); err != nil {
		return &Error{Kind: IO, Op: "writeBlock", Msg: fmt.Sprintf("block %d", id), err: err}
	}
	if s, ok := b.dev.(syncer); ok {
		if err := s.Sync(); err != nil {
			return &Error{Kind: IO, Op: "writeBlock", Msg: "sync", err: err}
		}
	}
	return nil
}

func (b *blockIO) close() error {
	return b.dev.Close()
}
