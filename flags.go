package sfs

import "strings"

// INodeFlags packs the inode's liveness bit and its type into one word:
// bit 0 is IN_USE, bits 1-2 are the NodeType.
type INodeFlags uint32

const (
	flagInUse INodeFlags = 1 << 0
	typeShift            = 1
	typeMask  INodeFlags = 0x3 << typeShift
)

func makeFlags(inUse bool, t NodeType) INodeFlags {
	var f INodeFlags
	if inUse {
		f |= flagInUse
	}
	f |= INodeFlags(t) << typeShift
	return f
}

func (f INodeFlags) Has(what INodeFlags) bool {
	return f&what == what
}

func (f INodeFlags) InUse() bool {
	return f.Has(flagInUse)
}

func (f INodeFlags) Type() NodeType {
	return NodeType((f & typeMask) >> typeShift)
}

func (f INodeFlags) withInUse(v bool) INodeFlags {
	if v {
		return f | flagInUse
	}
	return f &^ flagInUse
}

func (f INodeFlags) String() string {
	var opt []string
	if f.InUse() {
		opt = append(opt, "IN_USE")
	}
	switch f.Type() {
	case DirType:
		opt = append(opt, "DIR")
	case FileType:
		opt = append(opt, "FILE")
	}
	return strings.Join(opt, "|")
}
