// Package listing enumerates subvolumes below user-supplied paths and
// renders them in the requested path namespace.
package listing

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/bamsammich/subvol/internal/btrfs"
	"github.com/bamsammich/subvol/internal/pathns"
)

// ErrNotBtrfs is returned when an input path is on another filesystem.
var ErrNotBtrfs = errors.New("not on a btrfs filesystem")

// Handle is an open metadata source.
type Handle interface {
	btrfs.Source
	Close() error
}

// OpenFunc opens a metadata handle through a directory on the volume.
type OpenFunc func(dir string) (Handle, error)

// OpenVolume opens the kernel-backed handle.
func OpenVolume(dir string) (Handle, error) {
	v, err := btrfs.Open(dir)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// Entry is one listed subvolume.
type Entry struct {
	Display   string // the subvolume path rendered in the requested namespace
	Subvolume btrfs.Subvolume
}

// Lister enumerates subvolumes.
type Lister struct {
	translator *pathns.Translator
	open       OpenFunc
	cwd        string
}

// Option configures a Lister.
type Option func(*Lister)

// WithOpener replaces the metadata handle opener.
func WithOpener(fn OpenFunc) Option {
	return func(l *Lister) { l.open = fn }
}

// WithCwd sets the directory find-style output is relative to.
func WithCwd(dir string) Option {
	return func(l *Lister) { l.cwd = dir }
}

// New returns a Lister resolving paths through tr.
func New(tr *pathns.Translator, opts ...Option) *Lister {
	l := &Lister{translator: tr, open: OpenVolume}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// List runs one traversal per path, in order, and calls fn for every
// subvolume found, sorted parent-before-child within each path. Consecutive
// paths on the same volume and mount root share one handle. An empty paths
// lists ".".
func (l *Lister) List(paths []string, mode Mode, fn func(Entry) error) error {
	if len(paths) == 0 {
		paths = []string{"."}
	}
	cwd, err := l.workdir()
	if err != nil {
		return err
	}

	var (
		handle    Handle
		handleKey string
	)
	defer func() {
		if handle != nil {
			_ = handle.Close()
		}
	}()

	for _, arg := range paths {
		loc, err := l.translator.ToPhysical(arg)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", arg, err)
		}
		if loc.Mount.FSType != "btrfs" {
			return fmt.Errorf("%s is on %s (%s): %w", arg, loc.Mount.Target, loc.Mount.FSType, ErrNotBtrfs)
		}

		key := loc.Mount.Source + "\x00" + loc.Mount.Root
		if handle == nil || key != handleKey {
			if handle != nil {
				_ = handle.Close()
				handle = nil
			}
			slog.Debug("opening volume", "mount", loc.Mount.Target, "source", loc.Mount.Source)
			handle, err = l.open(loc.Mount.Target)
			if err != nil {
				return fmt.Errorf("open %s: %w", loc.Mount.Target, err)
			}
			handleKey = key
		}

		root := searchRoot(mode.filter, loc)
		subs, err := btrfs.List(handle, btrfs.WalkOptions{SearchRoot: root, IncludeRoot: mode.includeRoot})
		if err != nil {
			return fmt.Errorf("list subvolumes under %s: %w", arg, err)
		}
		slog.Debug("listed subvolumes", "path", arg, "search_root", root, "count", len(subs))

		for _, s := range subs {
			display, err := l.render(mode.output, arg, loc, root, cwd, s.Path)
			if err != nil {
				return err
			}
			if err := fn(Entry{Display: display, Subvolume: s}); err != nil {
				return err
			}
		}
	}
	return nil
}

// Subvolumes returns the absolute paths of every subvolume at or below dir,
// sorted parent-before-child. When dir is itself a subvolume it comes first.
func (l *Lister) Subvolumes(dir string) ([]string, error) {
	mode, err := NewMode(FilterPath, OutputAbsolute, false)
	if err != nil {
		return nil, err
	}
	var out []string
	err = l.List([]string{dir}, mode, func(e Entry) error {
		out = append(out, e.Display)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (l *Lister) workdir() (string, error) {
	if l.cwd != "" {
		return l.cwd, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}
	return cwd, nil
}

func searchRoot(f Filter, loc pathns.Location) string {
	switch f {
	case FilterMountpoint:
		return loc.Mount.Root
	case FilterAll:
		return "/"
	default:
		return loc.Physical
	}
}

func (l *Lister) render(o Output, arg string, loc pathns.Location, root, cwd, physical string) (string, error) {
	switch o {
	case OutputPhysical:
		return physical, nil
	case OutputAbsolute:
		return l.translator.ToAbsolute(loc.Mount, physical)
	case OutputMountpoint:
		return pathns.ToMountpointRelative(loc.Mount, physical)
	case OutputFindRelative:
		return pathns.ToSearchRelative(root, physical)
	default:
		return l.translator.ToFind(arg, loc, physical, cwd)
	}
}

// Details renders the long form of an entry: tree id, generation, parent
// tree, read-only flag, UUID and the display path.
func Details(e Entry) string {
	s := e.Subvolume
	ro := "rw"
	if s.Root.Readonly() {
		ro = "ro"
	}
	return fmt.Sprintf("ID %d gen %d top level %d %s uuid %s path %s",
		s.TreeID, s.Root.Generation, s.Ref.ParentTree, ro, s.Root.UUIDString(), e.Display)
}
