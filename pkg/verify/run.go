package verify

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/tqbf/rootverify/pkg/mtree"
)

// EntrySource yields manifest entries in order and io.EOF at the end.
// *mtree.Reader implements it.
type EntrySource interface {
	Next() (mtree.Entry, error)
}

// Run verifies every entry src yields and returns the findings in
// manifest order. Errors from src, such as a malformed manifest line,
// abort the run and no report is returned.
func (v *Verifier) Run(
	ctx context.Context,
	src EntrySource,
) (*Report, error) {
	if v.workers > 1 {
		return v.runParallel(ctx, src)
	}
	return v.runSequential(ctx, src)
}

func (v *Verifier) runSequential(
	ctx context.Context,
	src EntrySource,
) (*Report, error) {
	report := &Report{}
	buf := make([]byte, 1<<20)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		e, err := v.next(src)
		if err == io.EOF {
			return report, nil
		}
		if err != nil {
			return nil, err
		}
		findings, err := v.verify(e, buf)
		if err != nil {
			return nil, err
		}
		report.Add(findings...)
	}
}

// next skips excluded entries.
func (v *Verifier) next(src EntrySource) (mtree.Entry, error) {
	for {
		e, err := src.Next()
		if err != nil {
			return mtree.Entry{}, err
		}
		if v.excludes.Match(e.Path) {
			slog.Debug("excluded", "path", e.Path)
			continue
		}
		return e, nil
	}
}

type verifyJob struct {
	index int
	entry mtree.Entry
}

type verifyResult struct {
	index    int
	findings []Finding
	err      error
}

func (v *Verifier) runParallel(
	ctx context.Context,
	src EntrySource,
) (*Report, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobCh := make(chan verifyJob, v.workers)
	resultCh := make(chan verifyResult, v.workers)
	dispatchErr := make(chan error, 1)

	go func() {
		defer close(jobCh)
		dispatchErr <- v.dispatch(ctx, src, jobCh)
	}()

	var wg sync.WaitGroup
	for range v.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v.verifyWorker(ctx, jobCh, resultCh)
		}()
	}
	go func() {
		wg.Wait()
		close(resultCh)
	}()

	var ordered [][]Finding
	var workerErr error
	for r := range resultCh {
		if r.err != nil && workerErr == nil {
			workerErr = r.err
			cancel()
		}
		for len(ordered) <= r.index {
			ordered = append(ordered, nil)
		}
		ordered[r.index] = r.findings
	}

	if workerErr != nil {
		return nil, workerErr
	}
	if err := <-dispatchErr; err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	report := &Report{}
	for _, findings := range ordered {
		report.Add(findings...)
	}
	return report, nil
}

func (v *Verifier) dispatch(
	ctx context.Context,
	src EntrySource,
	jobs chan<- verifyJob,
) error {
	for i := 0; ; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		e, err := v.next(src)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		select {
		case jobs <- verifyJob{index: i, entry: e}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (v *Verifier) verifyWorker(
	ctx context.Context,
	jobs <-chan verifyJob,
	results chan<- verifyResult,
) {
	buf := make([]byte, 1<<20)
	for j := range jobs {
		if ctx.Err() != nil {
			continue
		}
		findings, err := v.verify(j.entry, buf)
		results <- verifyResult{
			index:    j.index,
			findings: findings,
			err:      err,
		}
	}
}
