package listing

import (
	"errors"
	"fmt"
)

// ErrInvalidMode is returned for a filter/output combination that cannot be
// rendered.
var ErrInvalidMode = errors.New("invalid listing mode")

// Filter selects the search root for each input path.
type Filter int

const (
	// FilterPath searches at and below the input path.
	FilterPath Filter = iota
	// FilterMountpoint searches everything the input path's mount exposes.
	FilterMountpoint
	// FilterAll searches the whole volume, mounted or not.
	FilterAll
)

func (f Filter) String() string {
	switch f {
	case FilterPath:
		return "path"
	case FilterMountpoint:
		return "mountpoint"
	case FilterAll:
		return "all"
	default:
		return fmt.Sprintf("Filter(%d)", int(f))
	}
}

// Output selects the namespace each subvolume is printed in.
type Output int

const (
	// OutputFind prints paths the way find(1) would, starting at the input
	// path.
	OutputFind Output = iota
	// OutputFindRelative prints paths relative to the search root.
	OutputFindRelative
	// OutputPhysical prints paths from the volume root.
	OutputPhysical
	// OutputMountpoint prints paths relative to the owning mountpoint.
	OutputMountpoint
	// OutputAbsolute prints absolute VFS paths.
	OutputAbsolute
)

var outputNames = map[Output]string{
	OutputFind:         "find",
	OutputFindRelative: "relative",
	OutputPhysical:     "physical",
	OutputMountpoint:   "mountpoint-relative",
	OutputAbsolute:     "absolute",
}

func (o Output) String() string {
	if name, ok := outputNames[o]; ok {
		return name
	}
	return fmt.Sprintf("Output(%d)", int(o))
}

// ParseOutput maps a name as printed by Output.String back to its value.
func ParseOutput(name string) (Output, error) {
	for o, n := range outputNames {
		if n == name {
			return o, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown output %q", ErrInvalidMode, name)
}

// Mode is a validated filter/output pair.
type Mode struct {
	filter      Filter
	output      Output
	includeRoot bool
}

// NewMode validates a combination. FilterAll reaches subvolumes that are
// not visible through any mount, so it only allows physical output.
func NewMode(filter Filter, output Output, includeRoot bool) (Mode, error) {
	if filter < FilterPath || filter > FilterAll {
		return Mode{}, fmt.Errorf("%w: %s", ErrInvalidMode, filter)
	}
	if _, ok := outputNames[output]; !ok {
		return Mode{}, fmt.Errorf("%w: %s", ErrInvalidMode, output)
	}
	if filter == FilterAll && output != OutputPhysical {
		return Mode{}, fmt.Errorf("%w: --all requires --physical output, got %s", ErrInvalidMode, output)
	}
	return Mode{filter: filter, output: output, includeRoot: includeRoot}, nil
}

// Filter returns the mode's filter.
func (m Mode) Filter() Filter { return m.filter }

// Output returns the mode's output.
func (m Mode) Output() Output { return m.output }

// IncludeRoot reports whether the top-level subvolume may be listed.
func (m Mode) IncludeRoot() bool { return m.includeRoot }
