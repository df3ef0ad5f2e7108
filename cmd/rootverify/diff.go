package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/opencontainers/go-digest"
	"github.com/urfave/cli/v2"

	"github.com/tqbf/rootverify/pkg/mtree"
)

func diffCmd() *cli.Command {
	return &cli.Command{
		Name:      "diff",
		Usage:     "show how two manifests differ",
		ArgsUsage: "<old> <new>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "digest",
				Value: string(digest.SHA256),
				Usage: "content digest algorithm of both manifests",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "JSON output",
			},
		},
		Action: diffAction,
	}
}

type diffJSON struct {
	Added   []string    `json:"added"`
	Removed []string    `json:"removed"`
	Changed []string    `json:"changed"`
	Summary diffSummary `json:"summary"`
}

type diffSummary struct {
	AddedCount   int `json:"added_count"`
	RemovedCount int `json:"removed_count"`
	ChangedCount int `json:"changed_count"`
}

func diffAction(c *cli.Context) error {
	if c.NArg() != 2 {
		return fmt.Errorf("usage: rootverify diff <old> <new>")
	}
	dec := mtree.Decoder{
		Algorithm: digest.Algorithm(c.String("digest")),
	}

	before, err := loadManifest(dec, c.Args().Get(0))
	if err != nil {
		return err
	}
	after, err := loadManifest(dec, c.Args().Get(1))
	if err != nil {
		return err
	}

	diff := mtree.Diff(before, after)

	if c.Bool("json") {
		return printDiffJSON(diff)
	}
	if diff.Empty() {
		fmt.Println("Manifests are identical.")
		return nil
	}

	var b strings.Builder
	for _, p := range diff.Added {
		fmt.Fprintf(&b, "  + %s\n", p)
	}
	for _, p := range diff.Changed {
		fmt.Fprintf(&b, "  ~ %s\n", p)
	}
	for _, p := range diff.Removed {
		fmt.Fprintf(&b, "  - %s\n", p)
	}
	fmt.Fprintf(&b, "---\n")
	fmt.Fprintf(&b,
		"%d added, %d changed, %d removed\n",
		len(diff.Added), len(diff.Changed), len(diff.Removed),
	)
	fmt.Print(b.String())
	return nil
}

func loadManifest(
	dec mtree.Decoder, name string,
) ([]mtree.Entry, error) {
	rc, err := mtree.Open(name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	entries, err := mtree.ReadAll(dec.NewReader(rc))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return entries, nil
}

func printDiffJSON(diff mtree.DiffResult) error {
	out := diffJSON{
		Added:   nonNil(diff.Added),
		Removed: nonNil(diff.Removed),
		Changed: nonNil(diff.Changed),
		Summary: diffSummary{
			AddedCount:   len(diff.Added),
			RemovedCount: len(diff.Removed),
			ChangedCount: len(diff.Changed),
		},
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
