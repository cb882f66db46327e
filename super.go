package sfs

import (
	"bytes"
	"encoding/binary"
	"reflect"
)

// Superblock is the fixed-layout record persisted to block 0. Field order
// here is the on-disk order; only the exported uint32 fields are
// marshaled, following the reflect-over-exported-fields trick this
// codebase already used for its previous on-disk header.
type Superblock struct {
	Magic           uint32
	BlockSize       uint32
	NumBlocks       uint32
	NumINodes       uint32
	NumINodeBlocks  uint32
	NumFreeBlocks   uint32
	NumFreeINodes   uint32
	FirstINodeBlock uint32
	FirstDataBlock  uint32
	BitmapBlock     uint32
}

var order = binary.LittleEndian

func (s *Superblock) layout() layout {
	return layout{
		blockSize:       s.BlockSize,
		totalBlocks:     s.NumBlocks,
		numINodeBlocks:  s.NumINodeBlocks,
		numINodes:       s.NumINodes,
		inodesPerBlock:  s.BlockSize / INodeSize,
		firstINodeBlock: s.FirstINodeBlock,
		firstDataBlock:  s.FirstDataBlock,
		bitmapBlock:     s.BitmapBlock,
	}
}

func (s *Superblock) binarySize() int {
	v := reflect.ValueOf(s).Elem()
	sz := uintptr(0)
	for i := 0; i < v.NumField(); i++ {
		sz += v.Field(i).Type().Size()
	}
	return int(sz)
}

// UnmarshalBinary decodes a superblock from a raw block-0 image. It does
// not validate Magic; callers check that themselves to decide whether to
// format.
func (s *Superblock) UnmarshalBinary(data []byte) error {
	v := reflect.ValueOf(s).Elem()
	r := bytes.NewReader(data)
	for i := 0; i < v.NumField(); i++ {
		if err := binary.Read(r, order, v.Field(i).Addr().Interface()); err != nil {
			return &Error{Kind: IO, Op: "Superblock.UnmarshalBinary", err: err}
		}
	}
	return nil
}

// MarshalBinary encodes the superblock into a block-sized buffer, zero
// padded beyond the header.
func (s *Superblock) MarshalBinary(blockSize uint32) ([]byte, error) {
	var buf bytes.Buffer
	v := reflect.ValueOf(s).Elem()
	for i := 0; i < v.NumField(); i++ {
		if err := binary.Write(&buf, order, v.Field(i).Interface()); err != nil {
			return nil, &Error{Kind: IO, Op: "Superblock.MarshalBinary", err: err}
		}
	}
	out := make([]byte, blockSize)
	copy(out, buf.Bytes())
	return out, nil
}

// newSuperblock populates a fresh superblock from format parameters.
func newSuperblock(p Params) *Superblock {
	l := layoutFor(p)
	return &Superblock{
		Magic:           Magic,
		BlockSize:       l.blockSize,
		NumBlocks:       l.totalBlocks,
		NumINodes:       l.numINodes,
		NumINodeBlocks:  l.numINodeBlocks,
		NumFreeBlocks:   l.totalBlocks,
		NumFreeINodes:   l.numINodes,
		FirstINodeBlock: l.firstINodeBlock,
		FirstDataBlock:  l.firstDataBlock,
		BitmapBlock:     l.bitmapBlock,
	}
}
