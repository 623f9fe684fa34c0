package main

import (
	"bufio"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/bamsammich/subvol/internal/filter"
	"github.com/bamsammich/subvol/internal/listing"
)

// filterFlag is a custom pflag.Value that preserves CLI ordering of
// --exclude and --include rules by appending to a shared filter.Chain.
type filterFlag struct {
	chain   *filter.Chain
	include bool
}

func (*filterFlag) String() string { return "" }
func (*filterFlag) Type() string   { return "pattern" }

func (f *filterFlag) Set(val string) error {
	if f.include {
		return f.chain.AddInclude(val)
	}
	return f.chain.AddExclude(val)
}

// outputFlag is a boolean pflag.Value that selects one output namespace.
// All output flags share one listing.Output.
type outputFlag struct {
	target *listing.Output
	value  listing.Output
	set    bool
}

func (f *outputFlag) String() string { return strconv.FormatBool(f.set) }
func (*outputFlag) Type() string     { return "bool" }

func (f *outputFlag) Set(val string) error {
	b, err := strconv.ParseBool(val)
	if err != nil {
		return err
	}
	f.set = b
	if b {
		*f.target = f.value
	}
	return nil
}

var outputFlags = []struct {
	name  string
	usage string
	value listing.Output
}{
	{"find", "print paths as find(1) would from each argument (default)", listing.OutputFind},
	{"relative", "print paths relative to the search root", listing.OutputFindRelative},
	{"physical", "print paths from the volume root", listing.OutputPhysical},
	{"mountpoint-relative", "print paths relative to the owning mountpoint", listing.OutputMountpoint},
	{"absolute", "print absolute paths", listing.OutputAbsolute},
}

func newListCmd(a *app) *cobra.Command {
	var (
		output      = listing.OutputFind
		mountpoint  bool
		all         bool
		includeRoot bool
		long        bool
		filterFile  string
	)
	chain := filter.NewChain()

	cmd := &cobra.Command{
		Use:   "list [flags] [PATH...]",
		Short: "List the subvolumes at or below each path",
		Long: `List the subvolumes at or below each PATH (default ".").

--mountpoint widens the search to everything the path's mount exposes;
--all searches the whole volume and requires --physical. --exclude and
--include take rsync-style patterns matched against the path from the
volume root; the first matching rule wins.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !outputChanged(cmd.Flags()) && a.cfg.List.Output != nil {
				o, err := listing.ParseOutput(*a.cfg.List.Output)
				if err != nil {
					return fmt.Errorf("config list.output: %w", err)
				}
				output = o
			}

			scope := listing.FilterPath
			switch {
			case all:
				scope = listing.FilterAll
			case mountpoint:
				scope = listing.FilterMountpoint
			}
			mode, err := listing.NewMode(scope, output, includeRoot)
			if err != nil {
				return err
			}
			if filterFile != "" {
				if err := chain.LoadFile(filterFile); err != nil {
					return fmt.Errorf("load filter file: %w", err)
				}
			}

			w := bufio.NewWriter(cmd.OutOrStdout())
			err = a.lister().List(args, mode, func(e listing.Entry) error {
				if !chain.Match(e.Subvolume.Path) {
					return nil
				}
				line := e.Display
				if long {
					line = listing.Details(e)
				}
				_, err := fmt.Fprintln(w, line)
				return err
			})
			if ferr := w.Flush(); err == nil {
				err = ferr
			}
			return err
		},
	}

	names := make([]string, 0, len(outputFlags))
	for _, of := range outputFlags {
		f := cmd.Flags().VarPF(&outputFlag{target: &output, value: of.value}, of.name, "", of.usage)
		f.NoOptDefVal = "true"
		names = append(names, of.name)
	}
	cmd.MarkFlagsMutuallyExclusive(names...)

	cmd.Flags().BoolVarP(&mountpoint, "mountpoint", "m", false, "search everything the path's mount exposes")
	cmd.Flags().BoolVarP(&all, "all", "a", false, "search the whole volume (requires --physical)")
	cmd.Flags().BoolVar(&includeRoot, "root", false, "include the top-level subvolume when searching from it")
	cmd.Flags().BoolVarP(&long, "long", "l", false, "print id, generation, parent, flags and uuid")
	cmd.MarkFlagsMutuallyExclusive("mountpoint", "all")

	// Filter rules match the path from the volume root, in CLI order.
	cmd.Flags().Var(&filterFlag{chain: chain}, "exclude", "hide subvolumes matching `PATTERN` and everything below them")
	cmd.Flags().Var(&filterFlag{chain: chain, include: true}, "include", "show subvolumes matching `PATTERN`")
	cmd.Flags().StringVar(&filterFile, "filter-from", "", "read include/exclude rules from `FILE`")

	return cmd
}

// outputChanged reports whether an output flag was given on the command line.
func outputChanged(fs *pflag.FlagSet) bool {
	for _, of := range outputFlags {
		if fs.Changed(of.name) {
			return true
		}
	}
	return false
}
