package mtree

import (
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/opencontainers/go-digest"

	"github.com/tqbf/rootverify/pkg/paths"
	"github.com/tqbf/rootverify/pkg/platform"
)

type GenerateOptions struct {
	Excludes  []string
	Algorithm digest.Algorithm
	// Workers bounds concurrent hashing; zero means runtime.NumCPU().
	Workers int
}

type hashJob struct {
	index   int
	absPath string
}

type hashResult struct {
	index  int
	digest digest.Digest
	size   int64
	err    error
}

// Generate walks dir and returns entries for its directories, regular
// files and symlinks in lexical order. The root itself and other file
// types are not recorded.
func Generate(
	dir string,
	opts GenerateOptions,
) ([]Entry, error) {
	alg := opts.Algorithm
	if alg == "" {
		alg = digest.SHA256
	}
	matcher := paths.NewExcludeMatcher(opts.Excludes)

	var entries []Entry
	var jobs []hashJob
	err := filepath.WalkDir(
		dir,
		func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(dir, p)
			if err != nil {
				return err
			}
			rel = filepath.ToSlash(rel)
			if rel == "." {
				return nil
			}
			manifestPath := "/" + rel
			if matcher.Match(manifestPath) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}

			info, err := d.Info()
			if err != nil {
				return err
			}
			uid, gid := platform.FileOwner(info)
			e := Entry{
				Path: manifestPath,
				Mode: FormatMode(info.Mode()),
				UID:  uid,
				GID:  gid,
			}

			switch {
			case info.IsDir():
				e.Kind = KindDir
			case info.Mode().IsRegular():
				e.Kind = KindFile
				jobs = append(jobs, hashJob{
					index:   len(entries),
					absPath: p,
				})
			case info.Mode()&fs.ModeSymlink != 0:
				e.Kind = KindLink
				if e.Link, err = os.Readlink(p); err != nil {
					return err
				}
			default:
				slog.Debug("skipping unsupported file type",
					"path", manifestPath,
					"mode", info.Mode().Type(),
				)
				return nil
			}
			entries = append(entries, e)
			return nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}

	results, err := hashAll(jobs, alg, opts.Workers)
	if err != nil {
		return nil, err
	}
	for _, r := range results {
		entries[r.index].Digest = r.digest
		entries[r.index].Size = r.size
	}
	return entries, nil
}

func hashAll(
	jobs []hashJob,
	alg digest.Algorithm,
	workers int,
) ([]hashResult, error) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(jobs) {
		workers = len(jobs)
	}
	if workers == 0 {
		return nil, nil
	}

	jobCh := make(chan hashJob, len(jobs))
	resultCh := make(chan hashResult, len(jobs))

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hashWorker(jobCh, resultCh, alg)
		}()
	}

	for _, j := range jobs {
		jobCh <- j
	}
	close(jobCh)

	wg.Wait()
	close(resultCh)

	results := make([]hashResult, 0, len(jobs))
	for r := range resultCh {
		if r.err != nil {
			return nil, r.err
		}
		results = append(results, r)
	}
	return results, nil
}

func hashWorker(
	jobs <-chan hashJob,
	results chan<- hashResult,
	alg digest.Algorithm,
) {
	buf := make([]byte, 1<<20)
	for j := range jobs {
		d, n, err := HashFile(j.absPath, alg, buf)
		if err != nil {
			err = fmt.Errorf("hash %s: %w", j.absPath, err)
		}
		results <- hashResult{
			index:  j.index,
			digest: d,
			size:   n,
			err:    err,
		}
	}
}

// Write encodes entries as manifest lines to w.
func Write(w io.Writer, entries []Entry) error {
	if _, err := io.WriteString(w, "#mtree\n"); err != nil {
		return err
	}
	for _, e := range entries {
		if _, err := fmt.Fprintln(w, e.String()); err != nil {
			return err
		}
	}
	return nil
}
