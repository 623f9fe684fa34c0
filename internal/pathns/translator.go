// Package pathns translates between the path namespaces a subvolume can be
// named in: VFS paths as the user sees them, physical paths from the
// volume's anonymous root, paths relative to a mountpoint, and find(1)-style
// paths relative to a search argument.
package pathns

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bamsammich/subvol/internal/mounts"
	"github.com/bamsammich/subvol/internal/pathutil"
)

// ErrOutsideMount is returned when a physical path is not exposed by a mount.
var ErrOutsideMount = errors.New("physical path not visible through mount")

// Location is a VFS path pinned to the mount that owns it.
type Location struct {
	Mount    mounts.Entry
	VFS      string // canonical absolute VFS path
	Physical string // path from the volume root
}

// Translator converts paths using a mount table.
type Translator struct {
	mounts *mounts.Table
}

// New returns a Translator backed by tbl.
func New(tbl *mounts.Table) *Translator {
	return &Translator{mounts: tbl}
}

// Mounts returns the backing mount table.
func (t *Translator) Mounts() *mounts.Table { return t.mounts }

// ToPhysical resolves vfsPath to its owning mount and physical path.
func (t *Translator) ToPhysical(vfsPath string) (Location, error) {
	entry, rel, err := t.mounts.Resolve(vfsPath)
	if err != nil {
		return Location{}, err
	}
	return Location{
		Mount:    entry,
		VFS:      pathutil.Join(entry.Target, rel),
		Physical: pathutil.Join(entry.Root, rel),
	}, nil
}

// ToAbsolute returns the VFS path at which physical is visible through m.
func (*Translator) ToAbsolute(m mounts.Entry, physical string) (string, error) {
	rel, err := ToMountpointRelative(m, physical)
	if err != nil {
		return "", err
	}
	if rel == "." {
		return m.Target, nil
	}
	return pathutil.Join(m.Target, rel), nil
}

// ToMountpointRelative returns physical relative to the root exposed by m.
// The mount root itself is ".".
func ToMountpointRelative(m mounts.Entry, physical string) (string, error) {
	rel, ok := pathutil.Rel(m.Root, physical)
	if !ok {
		return "", fmt.Errorf("%s under %s (root %s): %w", physical, m.Target, m.Root, ErrOutsideMount)
	}
	if rel == "" {
		return ".", nil
	}
	return rel, nil
}

// ToSearchRelative returns physical relative to searchRoot, "." for the
// search root itself.
func ToSearchRelative(searchRoot, physical string) (string, error) {
	rel, ok := pathutil.Rel(searchRoot, physical)
	if !ok {
		return "", fmt.Errorf("%s is not within search root %s: %w", physical, searchRoot, ErrOutsideMount)
	}
	if rel == "" {
		return ".", nil
	}
	return rel, nil
}

// ToFind renders physical the way find(1) would print it when started at
// arg: arg itself for the search root, arg/rel below it. Subvolumes outside
// the argument (mountpoint-wide listings) are printed relative to cwd.
func (t *Translator) ToFind(arg string, loc Location, physical, cwd string) (string, error) {
	if rel, ok := pathutil.Rel(loc.Physical, physical); ok {
		switch {
		case rel == "":
			return arg, nil
		case strings.HasSuffix(arg, "/"):
			return arg + rel, nil
		default:
			return arg + "/" + rel, nil
		}
	}

	abs, err := t.ToAbsolute(loc.Mount, physical)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(cwd, abs)
	if err != nil {
		return "", fmt.Errorf("relativize %s: %w", abs, err)
	}
	return rel, nil
}
