// Package mtree decodes and encodes the line-oriented manifest that
// describes the expected state of a root filesystem image.
//
// Each entry line has the form
//
//	./usr/bin/env mode=755 uid=0 gid=0 type=file size=48536 sha256=<hex>
//
// Directories carry no further keys, symlinks carry link=<target> and
// regular files carry size= and a content digest keyed by the
// manifest's digest algorithm.
package mtree

import (
	"fmt"
	"strings"

	"github.com/opencontainers/go-digest"
)

type Kind int

const (
	KindDir Kind = iota + 1
	KindFile
	KindLink
)

func (k Kind) String() string {
	switch k {
	case KindDir:
		return "dir"
	case KindFile:
		return "file"
	case KindLink:
		return "link"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Entry is the expected state of one path. Link is set only for
// KindLink; Size and Digest only for KindFile.
type Entry struct {
	Path   string
	Mode   string
	UID    uint32
	GID    uint32
	Kind   Kind
	Link   string
	Size   int64
	Digest digest.Digest

	// typeName keeps a non-canonical type spelling ("regular-file") so
	// re-encoding writes the token the manifest used.
	typeName string
}

func (e Entry) typeToken() string {
	if e.typeName != "" {
		return e.typeName
	}
	return e.Kind.String()
}

// SameState reports whether e and o describe the same expected state,
// ignoring how the manifest spelled the type.
func (e Entry) SameState(o Entry) bool {
	e.typeName, o.typeName = "", ""
	return e == o
}

// String encodes the entry as a canonical manifest line.
func (e Entry) String() string {
	var b strings.Builder
	b.WriteString(".")
	if e.Path != "/" {
		b.WriteString(e.Path)
	}
	fmt.Fprintf(&b,
		" mode=%s uid=%d gid=%d type=%s",
		e.Mode, e.UID, e.GID, e.typeToken(),
	)
	switch e.Kind {
	case KindLink:
		fmt.Fprintf(&b, " link=%s", e.Link)
	case KindFile:
		fmt.Fprintf(&b,
			" size=%d %s=%s",
			e.Size, e.Digest.Algorithm(), e.Digest.Encoded(),
		)
	}
	return b.String()
}
