//go:build linux

package btrfs

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"unsafe"

	"github.com/dennwc/ioctl"
	"golang.org/x/sys/unix"
)

const ioctlMagic = 0x94

const (
	searchArgsBufSize = 4096 - int(unsafe.Sizeof(searchKey{}))
	searchHeaderSize  = int(unsafe.Sizeof(searchHeader{}))
	inoLookupPathMax  = 4080
	searchBatch       = 4096
)

type searchKey struct {
	TreeID      uint64
	MinObjectID uint64
	MaxObjectID uint64
	MinOffset   uint64
	MaxOffset   uint64
	MinTransID  uint64
	MaxTransID  uint64
	MinType     uint32
	MaxType     uint32
	NrItems     uint32
	_           uint32
	_           [4]uint64
}

type searchHeader struct {
	TransID  uint64
	ObjectID uint64
	Offset   uint64
	Type     uint32
	Len      uint32
}

type searchArgs struct {
	Key searchKey
	Buf [searchArgsBufSize]byte
}

type inoLookupArgs struct {
	TreeID   uint64
	ObjectID uint64
	Name     [inoLookupPathMax]byte
}

var (
	iocTreeSearch = ioctl.IOWR(ioctlMagic, 17, unsafe.Sizeof(searchArgs{}))
	iocInoLookup  = ioctl.IOWR(ioctlMagic, 18, unsafe.Sizeof(inoLookupArgs{}))
)

// Volume is a Source backed by the kernel's tree search interface. Any
// directory on the filesystem can be opened; queries address trees by id,
// so results do not depend on which subvolume the handle is in. Searching
// the root tree requires CAP_SYS_ADMIN.
type Volume struct {
	f    *os.File
	path string
}

// Open opens path as a metadata handle.
func Open(path string) (*Volume, error) {
	f, err := os.OpenFile(path, os.O_RDONLY|unix.O_DIRECTORY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open volume handle: %w", err)
	}
	return &Volume{f: f, path: path}, nil
}

// Path returns the path the handle was opened with.
func (v *Volume) Path() string { return v.path }

// Close releases the handle.
func (v *Volume) Close() error { return v.f.Close() }

// Search runs q to completion, issuing as many ioctls as the kernel's
// result buffer requires.
func (v *Volume) Search(q Query) ([]Item, error) {
	var (
		args  searchArgs
		items []Item
	)
	minOffset := q.MinOffset

	for {
		args.Key = searchKey{
			TreeID:      q.TreeID,
			MinObjectID: q.ObjectID,
			MaxObjectID: q.ObjectID,
			MinOffset:   minOffset,
			MaxOffset:   q.MaxOffset,
			MinTransID:  0,
			MaxTransID:  MaxOffset,
			MinType:     q.Type,
			MaxType:     q.Type,
			NrItems:     searchBatch,
		}
		if err := ioctl.Do(v.f, iocTreeSearch, &args); err != nil {
			return nil, fmt.Errorf("tree search (tree %d, object %d, type %d): %w",
				q.TreeID, q.ObjectID, q.Type, err)
		}
		n := args.Key.NrItems
		if n == 0 {
			return items, nil
		}

		var last Header
		off := 0
		for i := uint32(0); i < n; i++ {
			if off+searchHeaderSize > len(args.Buf) {
				return nil, fmt.Errorf("%w: search result header overruns buffer", ErrCorrupt)
			}
			hdr := decodeSearchHeader(args.Buf[off : off+searchHeaderSize])
			off += searchHeaderSize
			end := off + int(hdr.Len)
			if end > len(args.Buf) {
				return nil, fmt.Errorf("%w: search result item overruns buffer", ErrCorrupt)
			}
			if hdr.ObjectID == q.ObjectID && hdr.Type == q.Type {
				items = append(items, Item{Header: hdr, Data: bytes.Clone(args.Buf[off:end])})
			}
			off = end
			last = hdr
		}

		if last.Offset >= q.MaxOffset {
			return items, nil
		}
		minOffset = last.Offset + 1
	}
}

// LookupName resolves objectID inside treeID to a path relative to the
// tree's top directory.
func (v *Volume) LookupName(treeID, objectID uint64) (string, error) {
	args := inoLookupArgs{TreeID: treeID, ObjectID: objectID}
	if err := ioctl.Do(v.f, iocInoLookup, &args); err != nil {
		return "", fmt.Errorf("inode lookup (tree %d, inode %d): %w", treeID, objectID, err)
	}
	name := args.Name[:]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	return string(bytes.TrimSuffix(name, []byte("/"))), nil
}

func decodeSearchHeader(b []byte) Header {
	return Header{
		TransID:  binary.NativeEndian.Uint64(b[0:8]),
		ObjectID: binary.NativeEndian.Uint64(b[8:16]),
		Offset:   binary.NativeEndian.Uint64(b[16:24]),
		Type:     binary.NativeEndian.Uint32(b[24:28]),
		Len:      binary.NativeEndian.Uint32(b[28:32]),
	}
}
