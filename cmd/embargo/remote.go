package main

import (
	"context"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"

	"github.com/panbanda/embargo/internal/remote"
)

// cloneRemotes replaces remote repository references in paths with fresh
// clones. The returned cleanup removes them and is always safe to call.
func cloneRemotes(ctx context.Context, c *cli.Context, paths []string) ([]string, func(), error) {
	var sources []*remote.Source
	cleanup := func() {
		for _, src := range sources {
			src.Cleanup()
		}
	}

	var progress io.Writer = io.Discard
	if c.Bool("verbose") {
		progress = errWriter(c)
	}

	resolved := make([]string, len(paths))
	for i, p := range paths {
		src, err := remote.Parse(p)
		if err != nil {
			cleanup()
			return nil, func() {}, err
		}
		if src == nil {
			resolved[i] = p
			continue
		}

		color.New(color.FgCyan).Fprintf(errWriter(c), "Cloning %s...\n", src.URL)
		if err := src.Clone(ctx, progress, c.Bool("shallow")); err != nil {
			cleanup()
			return nil, func() {}, err
		}
		sources = append(sources, src)
		resolved[i] = src.CloneDir
	}
	return resolved, cleanup, nil
}

// rejectRemotes errors on the first remote reference in paths.
func rejectRemotes(paths []string, flag string) error {
	for _, p := range paths {
		if src, _ := remote.Parse(p); src != nil {
			return fmt.Errorf("%s needs a local directory, got %s", flag, p)
		}
	}
	return nil
}
