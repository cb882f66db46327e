package sfs

import (
	"bytes"
	"encoding/binary"
	"time"
)

// INode is the fixed-size on-disk record describing one file or directory
//. blocks[0:12] are direct references for files; for directories all
// 14 slots are direct (no indirection). A zero reference means
// "not allocated".
type INode struct {
	ID         uint32
	Flags      INodeFlags
	Size       uint64
	ChildCount uint32
	LastAccess int64
	LastModify int64
	LastChange int64
	Blocks     [numBlockRefs]uint32
}

func (n *INode) InUse() bool    { return n.Flags.InUse() }
func (n *INode) Type() NodeType { return n.Flags.Type() }
func (n *INode) IsDir() bool    { return n.Flags.Type().IsDir() }

func (n *INode) touchAccess(now time.Time) { n.LastAccess = now.Unix() }
func (n *INode) touchModify(now time.Time) {
	n.LastModify = now.Unix()
	n.LastChange = now.Unix()
}
func (n *INode) touchChange(now time.Time) { n.LastChange = now.Unix() }

// marshalBinary encodes the inode in its fixed-size on-disk layout. Field
// order follows : flags, size, childCount, three timestamps, 14 block
// references.
func (n *INode) marshalBinary() []byte {
	b := bytes.NewBuffer(make([]byte, 0, INodeSize))
	binary.Write(b, order, uint32(n.Flags))
	binary.Write(b, order, n.Size)
	binary.Write(b, order, n.ChildCount)
	binary.Write(b, order, n.LastAccess)
	binary.Write(b, order, n.LastModify)
	binary.Write(b, order, n.LastChange)
	for _, blk := range n.Blocks {
		binary.Write(b, order, blk)
	}
	return b.Bytes()
}

func (n *INode) unmarshalBinary(data []byte) error {
	r := bytes.NewReader(data)
	var flags uint32
	if err := binary.Read(r, order, &flags); err != nil {
		return &Error{Kind: IO, Op: "INode.unmarshalBinary", err: err}
	}
	n.Flags = INodeFlags(flags)
	if err := binary.Read(r, order, &n.Size); err != nil {
		return &Error{Kind: IO, Op: "INode.unmarshalBinary", err: err}
	}
	if err := binary.Read(r, order, &n.ChildCount); err != nil {
		return &Error{Kind: IO, Op: "INode.unmarshalBinary", err: err}
	}
	for _, p := range []*int64{&n.LastAccess, &n.LastModify, &n.LastChange} {
		if err := binary.Read(r, order, p); err != nil {
			return &Error{Kind: IO, Op: "INode.unmarshalBinary", err: err}
		}
	}
	for i := range n.Blocks {
		if err := binary.Read(r, order, &n.Blocks[i]); err != nil {
			return &Error{Kind: IO, Op: "INode.unmarshalBinary", err: err}
		}
	}
	return nil
}

// inodeTable packs inodesPerBlock records into each block of the table:
// inode id lives in block firstINodeBlock + id/inodesPerBlock at byte
// (id%inodesPerBlock)*INodeSize, so no record straddles a block boundary.
// It reads and writes through the shared blockIO.
type inodeTable struct {
	io     *blockIO
	l      layout
	firstB uint32 // byte offset of the inode table
}

func newINodeTable(io *blockIO, l layout) *inodeTable {
	return &inodeTable{io: io, l: l, firstB: l.firstINodeBlock * l.blockSize}
}

func (t *inodeTable) offsetOf(id uint32) (block uint32, inBlock uint32) {
	return t.l.firstINodeBlock + id/t.l.inodesPerBlock, (id % t.l.inodesPerBlock) * INodeSize
}

func (t *inodeTable) read(id uint32) (*INode, error) {
	block, off := t.offsetOf(id)
	data, err := t.io.readBlock(block)
	if err != nil {
		return nil, err
	}
	n := &INode{ID: id}
	if err := n.unmarshalBinary(data[off : off+INodeSize]); err != nil {
		return nil, err
	}
	return n, nil
}

func (t *inodeTable) write(n *INode) error {
	block, off := t.offsetOf(n.ID)
	data, err := t.io.readBlock(block)
	if err != nil {
		return err
	}
	copy(data[off:off+INodeSize], n.marshalBinary())
	return t.io.writeBlock(block, data)
}

// allocate linearly scans for the first inode with IN_USE clear, marks it
// used, writes the fresh zeroed record for it, and returns it. The caller
// is responsible for decrementing NumFreeINodes in the superblock.
func (t *inodeTable) allocate(typ NodeType, now time.Time) (*INode, error) {
	for id := uint32(0); id < t.l.numINodes; id++ {
		n, err := t.read(id)
		if err != nil {
			return nil, err
		}
		if n.InUse() {
			continue
		}
		n.Flags = makeFlags(true, typ)
		n.Size = 0
		n.ChildCount = 0
		n.LastAccess = now.Unix()
		n.LastModify = now.Unix()
		n.LastChange = now.Unix()
		n.Blocks = [numBlockRefs]uint32{}
		if err := t.write(n); err != nil {
			return nil, err
		}
		return n, nil
	}
	return nil, newError(NoSpace, "allocateNextINode", "")
}

// free zeroes the inode record and clears IN_USE.
func (t *inodeTable) free(id uint32) error {
	n := &INode{ID: id}
	return t.write(n)
}
