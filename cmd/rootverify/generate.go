package main

import (
	"fmt"
	"log/slog"

	"github.com/opencontainers/go-digest"
	"github.com/urfave/cli/v2"

	"github.com/tqbf/rootverify/pkg/mtree"
)

func generateCmd() *cli.Command {
	return &cli.Command{
		Name:      "generate",
		Usage:     "write a manifest describing a directory tree",
		ArgsUsage: "<dir>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Value:   "-",
				Usage:   "manifest destination, - for stdout",
			},
			&cli.StringSliceFlag{
				Name:  "exclude",
				Usage: "exclude pattern (repeatable)",
			},
			&cli.StringFlag{
				Name:  "digest",
				Value: string(digest.SHA256),
				Usage: "content digest algorithm",
			},
			&cli.IntFlag{
				Name:  "workers",
				Usage: "concurrent hashers (default: number of CPUs)",
			},
		},
		Action: generateAction,
	}
}

func generateAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("usage: rootverify generate <dir>")
	}
	dir := c.Args().Get(0)

	alg := digest.Algorithm(c.String("digest"))
	if !alg.Available() {
		return fmt.Errorf("unsupported digest %q", alg)
	}

	entries, err := mtree.Generate(dir, mtree.GenerateOptions{
		Excludes:  c.StringSlice("exclude"),
		Algorithm: alg,
		Workers:   c.Int("workers"),
	})
	if err != nil {
		return err
	}
	slog.Debug("generated manifest",
		"dir", dir,
		"entries", len(entries),
	)

	out, closeOut, err := openOutput(c.String("output"))
	if err != nil {
		return fmt.Errorf("open output: %w", err)
	}
	writeErr := mtree.Write(out, entries)
	closeErr := closeOut()
	if writeErr != nil {
		return fmt.Errorf("write manifest: %w", writeErr)
	}
	return closeErr
}
