package btrfs

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RootRef links a subvolume to the directory that contains it
// (ROOT_REF key: parent tree, ROOT_REF, child tree).
type RootRef struct {
	Name       string
	ParentTree uint64 // tree holding the containing directory
	TreeID     uint64 // the referenced subvolume
	DirID      uint64 // containing directory inode inside ParentTree
	Sequence   uint64
}

// root_ref layout: dirid u64, sequence u64, name_len u16, name.
const rootRefHeaderSize = 18

// DecodeRootRef parses a ROOT_REF item.
func DecodeRootRef(it Item) (RootRef, error) {
	if it.Header.Type != RootRefKey {
		return RootRef{}, fmt.Errorf("%w: item type %d is not a root ref", ErrCorrupt, it.Header.Type)
	}
	data := it.Data
	if len(data) < rootRefHeaderSize {
		return RootRef{}, fmt.Errorf("%w: root ref too small: %d bytes", ErrCorrupt, len(data))
	}
	nameLen := int(binary.LittleEndian.Uint16(data[16:18]))
	if len(data) < rootRefHeaderSize+nameLen {
		return RootRef{}, fmt.Errorf("%w: root ref name overruns item (%d > %d)",
			ErrCorrupt, rootRefHeaderSize+nameLen, len(data))
	}
	return RootRef{
		ParentTree: it.Header.ObjectID,
		TreeID:     it.Header.Offset,
		DirID:      binary.LittleEndian.Uint64(data[0:8]),
		Sequence:   binary.LittleEndian.Uint64(data[8:16]),
		Name:       string(data[rootRefHeaderSize : rootRefHeaderSize+nameLen]),
	}, nil
}

// RootItem carries the identity fields of a ROOT_ITEM. Discovery treats it as
// opaque; the long listing prints it.
type RootItem struct {
	OTime      time.Time
	Generation uint64
	Flags      uint64
	UUID       [16]byte
}

// RootSubvolReadonly is the read-only flag in RootItem.Flags.
const RootSubvolReadonly uint64 = 1 << 0

// root_item offsets. Items written by old kernels stop at the legacy size
// and carry no UUID or times.
const (
	rootItemLegacySize = 239
	rootItemUUIDEnd    = 263
	rootItemOTimeEnd   = 351
)

// DecodeRootItem parses a ROOT_ITEM.
func DecodeRootItem(it Item) (RootItem, error) {
	if it.Header.Type != RootItemKey {
		return RootItem{}, fmt.Errorf("%w: item type %d is not a root item", ErrCorrupt, it.Header.Type)
	}
	data := it.Data
	if len(data) < rootItemLegacySize {
		return RootItem{}, fmt.Errorf("%w: root item too small: %d bytes", ErrCorrupt, len(data))
	}

	ri := RootItem{
		Generation: binary.LittleEndian.Uint64(data[160:168]),
		Flags:      binary.LittleEndian.Uint64(data[208:216]),
	}
	if len(data) >= rootItemUUIDEnd {
		copy(ri.UUID[:], data[247:263])
	}
	if len(data) >= rootItemOTimeEnd {
		sec := int64(binary.LittleEndian.Uint64(data[339:347])) //nolint:gosec // G115: on-disk signed seconds
		nsec := int64(binary.LittleEndian.Uint32(data[347:351]))
		if sec > 0 {
			ri.OTime = time.Unix(sec, nsec)
		}
	}
	return ri, nil
}

// Readonly reports whether the subvolume is read-only.
func (r RootItem) Readonly() bool { return r.Flags&RootSubvolReadonly != 0 }

// UUIDString formats the subvolume UUID, or "-" when unset.
func (r RootItem) UUIDString() string {
	u := uuid.UUID(r.UUID)
	if u == uuid.Nil {
		return "-"
	}
	return u.String()
}
