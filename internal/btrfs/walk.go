package btrfs

import (
	"fmt"
	"slices"

	"github.com/bamsammich/subvol/internal/pathutil"
)

// WalkOptions bounds a traversal.
type WalkOptions struct {
	// SearchRoot is a physical path. Only subvolumes at or below it are
	// yielded.
	SearchRoot string
	// IncludeRoot yields the top-level subvolume, but only when SearchRoot
	// is "/".
	IncludeRoot bool
}

// Walk reconstructs the subvolume tree from src, starting at the top-level
// subvolume, and calls fn for each subvolume within opts.SearchRoot. A
// subvolume's children are visited when it is yielded or when the search
// root lies inside it, so a search root nested several subvolumes deep is
// still reached. Traversal uses an explicit worklist; children are examined
// in key order.
func Walk(src Source, opts WalkOptions, fn func(Subvolume) error) error {
	searchRoot := pathutil.Clean(opts.SearchRoot)

	top := Subvolume{TreeID: FSTreeObjectID, Path: "/"}
	if opts.IncludeRoot && searchRoot == "/" {
		item, err := rootItem(src, FSTreeObjectID)
		if err != nil {
			return err
		}
		top.Root = item
		if err := fn(top); err != nil {
			return err
		}
	}

	pending := []Subvolume{top}
	for len(pending) > 0 {
		parent := pending[len(pending)-1]
		pending = pending[:len(pending)-1]

		children, err := childrenOf(src, parent)
		if err != nil {
			return err
		}

		var descend []Subvolume
		for _, child := range children {
			yield := pathutil.Within(child.Path, searchRoot)
			if yield {
				if err := fn(child); err != nil {
					return err
				}
			}
			if yield || pathutil.Within(searchRoot, child.Path) {
				descend = append(descend, child)
			}
		}
		for i := len(descend) - 1; i >= 0; i-- {
			pending = append(pending, descend[i])
		}
	}
	return nil
}

// List collects Walk's results sorted parent-before-child.
func List(src Source, opts WalkOptions) ([]Subvolume, error) {
	var subs []Subvolume
	err := Walk(src, opts, func(s Subvolume) error {
		subs = append(subs, s)
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(subs, func(a, b Subvolume) int {
		return pathutil.Compare(a.Path, b.Path)
	})
	return subs, nil
}

func childrenOf(src Source, parent Subvolume) ([]Subvolume, error) {
	refs, err := src.Search(Query{
		TreeID:    RootTreeObjectID,
		ObjectID:  parent.TreeID,
		Type:      RootRefKey,
		MinOffset: 0,
		MaxOffset: MaxOffset,
	})
	if err != nil {
		return nil, fmt.Errorf("search root refs of tree %d: %w", parent.TreeID, err)
	}

	children := make([]Subvolume, 0, len(refs))
	for _, it := range refs {
		ref, err := DecodeRootRef(it)
		if err != nil {
			return nil, err
		}
		// The directory name is resolved in the tree the ref declares,
		// which is the key's object id.
		dir, err := src.LookupName(ref.ParentTree, ref.DirID)
		if err != nil {
			return nil, fmt.Errorf("lookup dir %d in tree %d: %w", ref.DirID, ref.ParentTree, err)
		}
		item, err := rootItem(src, ref.TreeID)
		if err != nil {
			return nil, err
		}
		children = append(children, Subvolume{
			TreeID: ref.TreeID,
			Root:   item,
			Ref:    ref,
			Path:   pathutil.Join(parent.Path, dir, ref.Name),
		})
	}
	return children, nil
}

func rootItem(src Source, treeID uint64) (RootItem, error) {
	items, err := src.Search(Query{
		TreeID:    RootTreeObjectID,
		ObjectID:  treeID,
		Type:      RootItemKey,
		MinOffset: 0,
		MaxOffset: MaxOffset,
	})
	if err != nil {
		return RootItem{}, fmt.Errorf("search root item of tree %d: %w", treeID, err)
	}
	if len(items) != 1 {
		return RootItem{}, fmt.Errorf("%w: tree %d has %d root items, want 1", ErrCorrupt, treeID, len(items))
	}
	return DecodeRootItem(items[0])
}
