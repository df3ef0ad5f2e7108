package mtree

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// Open opens the manifest at name. Gzip and zstd compressed manifests
// are detected by their magic bytes and decompressed on the fly.
func Open(name string) (io.ReadCloser, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	rc, err := Decompress(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open manifest %s: %w", name, err)
	}
	return rc, nil
}

// Decompress wraps src according to its leading magic bytes. Closing
// the result closes src.
func Decompress(src io.ReadCloser) (io.ReadCloser, error) {
	br := bufio.NewReader(src)
	magic, err := br.Peek(len(zstdMagic))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("peek: %w", err)
	}

	switch {
	case bytes.HasPrefix(magic, gzipMagic):
		gr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("gzip reader: %w", err)
		}
		return &stackedReader{
			Reader:  gr,
			closers: []io.Closer{gr, src},
		}, nil
	case bytes.HasPrefix(magic, zstdMagic):
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("zstd reader: %w", err)
		}
		rc := zr.IOReadCloser()
		return &stackedReader{
			Reader:  rc,
			closers: []io.Closer{rc, src},
		}, nil
	default:
		return &stackedReader{
			Reader:  br,
			closers: []io.Closer{src},
		}, nil
	}
}

type stackedReader struct {
	io.Reader
	closers []io.Closer
}

func (s *stackedReader) Close() error {
	var errs []error
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
