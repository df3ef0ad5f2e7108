package mtree

import (
	"bufio"
	"errors"
	"fmt"
	"io"
)

const maxLineSize = 1 << 20

// Reader yields manifest entries one line at a time. It is single-pass:
// once drained, a new Reader over a reopened source is needed.
type Reader struct {
	dec  Decoder
	sc   *bufio.Scanner
	line int
}

func NewReader(r io.Reader) *Reader {
	return Decoder{}.NewReader(r)
}

func (d Decoder) NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64<<10), maxLineSize)
	return &Reader{dec: d, sc: sc}
}

// Next returns the next entry, skipping comments and blank lines. It
// returns io.EOF once the manifest is exhausted and a *ParseError for
// a malformed line.
func (r *Reader) Next() (Entry, error) {
	for r.sc.Scan() {
		r.line++
		e, ok, err := r.dec.Decode(r.sc.Text())
		if err != nil {
			var pe *ParseError
			if errors.As(err, &pe) {
				pe.Line = r.line
				return Entry{}, pe
			}
			return Entry{}, err
		}
		if ok {
			return e, nil
		}
	}
	if err := r.sc.Err(); err != nil {
		return Entry{}, fmt.Errorf(
			"read manifest line %d: %w", r.line+1, err,
		)
	}
	return Entry{}, io.EOF
}

// Line is the number of the line most recently read.
func (r *Reader) Line() int {
	return r.line
}

// ReadAll drains r. It stops at the first malformed line.
func ReadAll(r *Reader) ([]Entry, error) {
	var entries []Entry
	for {
		e, err := r.Next()
		if err == io.EOF {
			return entries, nil
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
}
