// Package btrfs discovers subvolumes by reading volume metadata directly,
// independent of what is currently mounted, and wraps the subvolume
// deletion primitive.
package btrfs

import (
	"errors"
	"math"
)

// ErrCorrupt reports metadata that contradicts itself, such as a root
// reference without exactly one matching root item. A concurrent deletion
// racing the traversal also surfaces as ErrCorrupt.
var ErrCorrupt = errors.New("inconsistent subvolume metadata")

// Well-known object ids.
const (
	RootTreeObjectID  uint64 = 1
	FSTreeObjectID    uint64 = 5
	FirstFreeObjectID uint64 = 256
)

// Item key types in the root tree.
const (
	RootItemKey    uint32 = 132
	RootBackrefKey uint32 = 144
	RootRefKey     uint32 = 156
)

// MaxOffset is the upper bound of the key offset space.
const MaxOffset uint64 = math.MaxUint64

// Header is the key and length of one metadata item.
type Header struct {
	TransID  uint64
	ObjectID uint64
	Offset   uint64
	Type     uint32
	Len      uint32
}

// Item is one raw metadata record returned by a search.
type Item struct {
	Data   []byte
	Header Header
}

// Query selects every item of one type for one object id, with key offsets
// in [MinOffset, MaxOffset], from tree TreeID.
type Query struct {
	TreeID    uint64
	ObjectID  uint64
	MinOffset uint64
	MaxOffset uint64
	Type      uint32
}

// Source answers metadata queries against one volume. Both calls are
// synchronous and side-effect free.
type Source interface {
	// Search returns matching items ordered by key.
	Search(q Query) ([]Item, error)
	// LookupName returns the path of inode objectID inside tree treeID,
	// relative to that tree's top directory ("" for the top directory).
	LookupName(treeID, objectID uint64) (string, error)
}

// Subvolume is one discovered subvolume.
type Subvolume struct {
	Path   string // physical path from the volume root
	Ref    RootRef
	Root   RootItem
	TreeID uint64
}

// IsRoot reports whether s is the volume's top-level subvolume.
func (s Subvolume) IsRoot() bool { return s.TreeID == FSTreeObjectID }
