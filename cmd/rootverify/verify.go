package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/urfave/cli/v2"
	"github.com/urfave/cli/v2/altsrc"

	"github.com/tqbf/rootverify/pkg/mtree"
	"github.com/tqbf/rootverify/pkg/verify"
)

func verifyFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			EnvVars: []string{"ROOTVERIFY_CONFIG"},
			Usage:   "YAML file supplying defaults for the flags below",
		},
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:    "manifest",
			Value:   "/conf/rootfs.mtree",
			EnvVars: []string{"ROOTVERIFY_MANIFEST"},
			Usage:   "manifest to verify against (plain, gzip or zstd)",
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:    "log",
			Value:   "/var/log/rootverify.log",
			EnvVars: []string{"ROOTVERIFY_LOG"},
			Usage:   "report destination, - for stdout",
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:    "root",
			Value:   "/",
			EnvVars: []string{"ROOTVERIFY_ROOT"},
			Usage:   "directory the manifest paths are relative to",
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:    "digest",
			Value:   string(digest.SHA256),
			EnvVars: []string{"ROOTVERIFY_DIGEST"},
			Usage:   "content digest algorithm the manifest was written with",
		}),
		altsrc.NewStringSliceFlag(&cli.StringSliceFlag{
			Name:  "exclude",
			Usage: "skip manifest paths matching pattern (repeatable)",
		}),
		altsrc.NewIntFlag(&cli.IntFlag{
			Name:  "workers",
			Value: 1,
			Usage: "entries verified concurrently",
		}),
		altsrc.NewBoolFlag(&cli.BoolFlag{
			Name:  "check-link-target",
			Usage: "also compare symlink targets",
		}),
		altsrc.NewBoolFlag(&cli.BoolFlag{
			Name:  "strict-ownership",
			Usage: "abort on the first uid/gid mismatch",
		}),
		altsrc.NewBoolFlag(&cli.BoolFlag{
			Name:  "fail-on-mismatch",
			Usage: "exit with status 2 when the report is not empty",
		}),
	}
}

func verifyCmd() *cli.Command {
	flags := verifyFlags()
	return &cli.Command{
		Name:  "verify",
		Usage: "check the filesystem against the manifest",
		Flags: flags,
		Before: altsrc.InitInputSourceWithContext(
			flags, altsrc.NewYamlSourceFromFlagFunc("config"),
		),
		Action: verifyAction,
	}
}

func verifyAction(c *cli.Context) error {
	alg := digest.Algorithm(c.String("digest"))
	if !alg.Available() {
		return fmt.Errorf("unsupported digest %q", alg)
	}

	v, err := verify.New(verify.Options{
		Root:            c.String("root"),
		Excludes:        c.StringSlice("exclude"),
		CheckLinkTarget: c.Bool("check-link-target"),
		StrictOwnership: c.Bool("strict-ownership"),
		Workers:         c.Int("workers"),
	})
	if err != nil {
		return err
	}
	defer v.Close()

	ctx, stop := signal.NotifyContext(
		c.Context, os.Interrupt, syscall.SIGTERM,
	)
	defer stop()

	start := time.Now()
	report, err := runManifest(
		ctx, v, mtree.Decoder{Algorithm: alg}, c.String("manifest"),
	)
	if err != nil {
		return err
	}

	if err := writeReport(c.String("log"), report); err != nil {
		return err
	}

	slog.Info("verification finished",
		"findings", len(report.Findings),
		"elapsed", time.Since(start),
	)
	for kind, n := range report.Counts() {
		slog.Debug("findings", "kind", kind, "count", n)
	}

	if !report.Empty() && c.Bool("fail-on-mismatch") {
		return cli.Exit(
			fmt.Sprintf("%d mismatches", len(report.Findings)),
			exitMismatch,
		)
	}
	return nil
}

func runManifest(
	ctx context.Context,
	v *verify.Verifier,
	dec mtree.Decoder,
	manifest string,
) (*verify.Report, error) {
	rc, err := mtree.Open(manifest)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	report, err := v.Run(ctx, dec.NewReader(rc))
	if err != nil {
		return nil, fmt.Errorf("verify %s: %w", manifest, err)
	}
	return report, nil
}

func writeReport(name string, report *verify.Report) error {
	out, closeOut, err := openOutput(name)
	if err != nil {
		return fmt.Errorf("open report: %w", err)
	}
	_, writeErr := report.WriteTo(out)
	closeErr := closeOut()
	if writeErr != nil {
		return fmt.Errorf("write report: %w", writeErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close report: %w", closeErr)
	}
	return nil
}
