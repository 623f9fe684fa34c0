package btrfs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
)

// DeleteFlags are the options of the deletion primitive that the recursive
// delete wrapper forwards.
type DeleteFlags struct {
	CommitAfter bool
	CommitEach  bool
	Verbose     bool
	Quiet       bool
}

// Args renders the flags as btrfs-progs arguments.
func (f DeleteFlags) Args() []string {
	var args []string
	if f.CommitAfter {
		args = append(args, "--commit-after")
	}
	if f.CommitEach {
		args = append(args, "--commit-each")
	}
	if f.Verbose {
		args = append(args, "--verbose")
	}
	if f.Quiet {
		args = append(args, "--quiet")
	}
	return args
}

// Deleter removes subvolumes. Paths are deleted in the order given.
type Deleter interface {
	Delete(ctx context.Context, paths []string, flags DeleteFlags) error
}

const defaultDeleteBatch = 64

// ExecDeleter runs `btrfs subvolume delete`.
type ExecDeleter struct {
	Stdout    io.Writer
	Binary    string // defaults to "btrfs"
	BatchSize int    // paths per invocation; defaults to 64
}

// Delete invokes the tool once per batch and stops at the first failure.
func (d *ExecDeleter) Delete(ctx context.Context, paths []string, flags DeleteFlags) error {
	bin := d.Binary
	if bin == "" {
		bin = "btrfs"
	}
	size := d.BatchSize
	if size <= 0 {
		size = defaultDeleteBatch
	}

	for start := 0; start < len(paths); start += size {
		batch := paths[start:min(start+size, len(paths))]

		args := append([]string{"subvolume", "delete"}, flags.Args()...)
		args = append(args, "--")
		args = append(args, batch...)

		slog.Debug("running delete", "binary", bin, "count", len(batch))
		var stderr bytes.Buffer
		cmd := exec.CommandContext(ctx, bin, args...) //nolint:gosec // G204: paths come from discovery
		cmd.Stdout = d.Stdout
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			if msg := strings.TrimSpace(stderr.String()); msg != "" {
				return fmt.Errorf("%s subvolume delete: %w: %s", bin, err, msg)
			}
			return fmt.Errorf("%s subvolume delete: %w", bin, err)
		}
	}
	return nil
}
