// Package verify checks manifest entries against the live filesystem.
//
// Findings never abort a run: every entry is checked and its problems
// are appended to a Report in manifest order. Only a broken manifest,
// a cancelled context or, with StrictOwnership, an ownership mismatch
// stops verification early.
package verify

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"syscall"

	"github.com/opencontainers/go-digest"

	"github.com/tqbf/rootverify/pkg/mtree"
	"github.com/tqbf/rootverify/pkg/paths"
	"github.com/tqbf/rootverify/pkg/platform"
)

// ErrOwnership is returned instead of an owner finding when the
// verifier runs with StrictOwnership.
var ErrOwnership = errors.New("ownership mismatch")

type Options struct {
	// Root is prepended to every manifest path. Defaults to "/".
	Root     string
	Excludes []string
	// CheckLinkTarget also compares symlink targets with the manifest.
	CheckLinkTarget bool
	// StrictOwnership turns uid/gid mismatches into ErrOwnership.
	StrictOwnership bool
	// Workers > 1 verifies entries concurrently; the report keeps
	// manifest order either way.
	Workers int
}

type Verifier struct {
	root            *os.Root
	excludes        *paths.ExcludeMatcher
	checkLinkTarget bool
	strictOwnership bool
	workers         int
}

func New(opts Options) (*Verifier, error) {
	root := opts.Root
	if root == "" {
		root = "/"
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("verification root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf(
			"verification root %s is not a directory", root,
		)
	}

	excludes := paths.NewExcludeMatcher(opts.Excludes)
	if err := excludes.Validate(); err != nil {
		return nil, fmt.Errorf("exclude patterns: %w", err)
	}

	r, err := os.OpenRoot(root)
	if err != nil {
		return nil, fmt.Errorf("verification root: %w", err)
	}

	return &Verifier{
		root:            r,
		excludes:        excludes,
		checkLinkTarget: opts.CheckLinkTarget,
		strictOwnership: opts.StrictOwnership,
		workers:         opts.Workers,
	}, nil
}

// Close releases the handle on the verification root.
func (v *Verifier) Close() error {
	return v.root.Close()
}

// Verify checks one entry and returns its findings in check order:
// existence, ownership, type (with content digest or link target),
// then mode.
func (v *Verifier) Verify(e mtree.Entry) ([]Finding, error) {
	return v.verify(e, make([]byte, 1<<20))
}

func (v *Verifier) verify(
	e mtree.Entry, buf []byte,
) ([]Finding, error) {
	// Lookups go through the os.Root: a parent symlink that leaves the
	// root, or is absolute, fails the lookup.
	name := paths.RootRelative(e.Path)

	info, err := v.root.Lstat(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) ||
			errors.Is(err, syscall.ENOTDIR) {
			return []Finding{
				finding(e, FindingMissing, "file does not exist."),
			}, nil
		}
		return []Finding{
			finding(e, FindingRead, "could not stat file: %v", err),
		}, nil
	}

	var out []Finding

	uid, gid := platform.FileOwner(info)
	if uid != e.UID || gid != e.GID {
		if v.strictOwnership {
			return nil, fmt.Errorf(
				"%w: %s: got %d:%d, expected: %d:%d",
				ErrOwnership, e.Path, uid, gid, e.UID, e.GID,
			)
		}
		out = append(out, finding(e, FindingOwner,
			"got owner %d:%d, expected: %d:%d",
			uid, gid, e.UID, e.GID,
		))
	}

	switch e.Kind {
	case mtree.KindDir:
		if !info.IsDir() {
			out = append(out, wrongType(e))
		}
	case mtree.KindFile:
		if !info.Mode().IsRegular() {
			out = append(out, wrongType(e))
			break
		}
		if f, ok := v.checkDigest(e, name, buf); !ok {
			out = append(out, f)
		}
	case mtree.KindLink:
		if info.Mode()&fs.ModeSymlink == 0 {
			out = append(out, wrongType(e))
			break
		}
		if !v.checkLinkTarget {
			break
		}
		if f, ok := v.checkLink(e, name); !ok {
			out = append(out, f)
		}
	default:
		return nil, fmt.Errorf(
			"%s: unsupported entry kind %v", e.Path, e.Kind,
		)
	}

	if mode := mtree.FormatMode(info.Mode()); mode != e.Mode {
		out = append(out, finding(e, FindingMode,
			"got mode %s, expected: %s", mode, e.Mode,
		))
	}
	return out, nil
}

func (v *Verifier) checkDigest(
	e mtree.Entry, name string, buf []byte,
) (Finding, bool) {
	got, err := v.hash(name, e.Digest.Algorithm(), buf)
	if err != nil {
		return finding(e, FindingRead,
			"could not read/hash file: %v", err,
		), false
	}
	if got != e.Digest {
		return finding(e, FindingDigest,
			"expected: %s, got: %s",
			e.Digest.Encoded(), got.Encoded(),
		), false
	}
	return Finding{}, true
}

func (v *Verifier) hash(
	name string, alg digest.Algorithm, buf []byte,
) (digest.Digest, error) {
	f, err := platform.OpenFileNoFollow(v.root, name)
	if err != nil {
		return "", err
	}
	defer f.Close()

	d, _, err := mtree.Hash(f, alg, buf)
	return d, err
}

func (v *Verifier) checkLink(e mtree.Entry, name string) (Finding, bool) {
	target, err := v.root.Readlink(name)
	if err != nil {
		return finding(e, FindingRead,
			"could not read link: %v", err,
		), false
	}
	if target != e.Link {
		return finding(e, FindingLink,
			"got link target %s, expected: %s", target, e.Link,
		), false
	}
	return Finding{}, true
}

func wrongType(e mtree.Entry) Finding {
	return finding(e, FindingType, "incorrect file type.")
}

func finding(
	e mtree.Entry, kind FindingKind, format string, args ...any,
) Finding {
	return Finding{
		Path:    e.Path,
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
	}
}
