// Package btrfstest provides an in-memory btrfs.Source for tests.
package btrfstest

import (
	"cmp"
	"encoding/binary"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/bamsammich/subvol/internal/btrfs"
)

// Volume is an in-memory root tree plus the directory paths that root refs
// point at. It is safe for concurrent use.
type Volume struct {
	dirs     map[[2]uint64]string
	items    []btrfs.Item
	mu       sync.Mutex
	searches int
	closed   bool
}

// New returns a volume holding only the top-level subvolume.
func New() *Volume {
	v := &Volume{dirs: map[[2]uint64]string{}}
	v.AddItem(btrfs.Item{
		Header: btrfs.Header{ObjectID: btrfs.FSTreeObjectID, Type: btrfs.RootItemKey},
		Data:   EncodeRootItem(1, 0),
	})
	return v
}

// AddSubvolume links tree id into directory dirID (at dir, relative to the
// parent tree's top) of parentTree under name. Its generation is id*10.
func (v *Volume) AddSubvolume(id, parentTree, dirID uint64, dir, name string) {
	v.mu.Lock()
	v.dirs[[2]uint64{parentTree, dirID}] = dir
	v.mu.Unlock()

	v.AddItem(btrfs.Item{
		Header: btrfs.Header{ObjectID: parentTree, Type: btrfs.RootRefKey, Offset: id},
		Data:   EncodeRootRef(dirID, 0, name),
	})
	v.AddItem(btrfs.Item{
		Header: btrfs.Header{ObjectID: id, Type: btrfs.RootItemKey},
		Data:   EncodeRootItem(id*10, 0),
	})
}

// AddItem inserts a raw root tree item.
func (v *Volume) AddItem(it btrfs.Item) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.items = append(v.items, it)
}

// Search implements btrfs.Source.
func (v *Volume) Search(q btrfs.Query) ([]btrfs.Item, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.searches++
	if v.closed {
		return nil, errors.New("search on closed volume")
	}
	if q.TreeID != btrfs.RootTreeObjectID {
		return nil, fmt.Errorf("unexpected tree %d", q.TreeID)
	}

	var out []btrfs.Item
	for _, it := range v.items {
		h := it.Header
		if h.ObjectID == q.ObjectID && h.Type == q.Type && h.Offset >= q.MinOffset && h.Offset <= q.MaxOffset {
			out = append(out, it)
		}
	}
	slices.SortStableFunc(out, func(a, b btrfs.Item) int {
		return cmp.Compare(a.Header.Offset, b.Header.Offset)
	})
	return out, nil
}

// LookupName implements btrfs.Source. Directory 256 is the tree's top.
func (v *Volume) LookupName(treeID, objectID uint64) (string, error) {
	if objectID == btrfs.FirstFreeObjectID {
		return "", nil
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	p, ok := v.dirs[[2]uint64{treeID, objectID}]
	if !ok {
		return "", fmt.Errorf("no inode %d in tree %d", objectID, treeID)
	}
	return p + "/", nil
}

// Close marks the volume closed; later searches fail.
func (v *Volume) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closed = true
	return nil
}

// Searches returns the number of Search calls so far.
func (v *Volume) Searches() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.searches
}

// Closed reports whether Close was called.
func (v *Volume) Closed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.closed
}

// EncodeRootRef builds ROOT_REF item data.
func EncodeRootRef(dirID, seq uint64, name string) []byte {
	b := make([]byte, 18+len(name))
	binary.LittleEndian.PutUint64(b[0:8], dirID)
	binary.LittleEndian.PutUint64(b[8:16], seq)
	binary.LittleEndian.PutUint16(b[16:18], uint16(len(name))) //nolint:gosec // G115: names are short
	copy(b[18:], name)
	return b
}

// EncodeRootItem builds full-size ROOT_ITEM data.
func EncodeRootItem(gen, flags uint64) []byte {
	b := make([]byte, 439)
	binary.LittleEndian.PutUint64(b[160:168], gen)
	binary.LittleEndian.PutUint64(b[208:216], flags)
	return b
}
