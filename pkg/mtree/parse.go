package mtree

import (
	_ "crypto/sha256"
	_ "crypto/sha512"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/opencontainers/go-digest"

	"github.com/tqbf/rootverify/pkg/paths"
)

// ErrMalformed marks a manifest line that does not follow the grammar.
// A malformed manifest cannot be trusted, so callers stop on it.
var ErrMalformed = errors.New("malformed manifest line")

type ParseError struct {
	Line int
	Text string
	Err  error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %v", e.Line, e.Err)
	}
	return e.Err.Error()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Decoder turns manifest lines into entries. Algorithm names the digest
// key carried by file entries; it is fixed for a whole manifest and
// defaults to sha256.
type Decoder struct {
	Algorithm digest.Algorithm
}

func (d Decoder) algorithm() digest.Algorithm {
	if d.Algorithm == "" {
		return digest.SHA256
	}
	return d.Algorithm
}

// ParseLine decodes line with the default decoder.
func ParseLine(line string) (Entry, bool, error) {
	return Decoder{}.Decode(line)
}

// Decode returns ok=false for comments and blank lines.
func (d Decoder) Decode(line string) (Entry, bool, error) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return Entry{}, false, nil
	}

	e, err := d.decode(trimmed)
	if err != nil {
		return Entry{}, false, &ParseError{Text: line, Err: err}
	}
	return e, true, nil
}

func (d Decoder) decode(line string) (Entry, error) {
	fields := strings.Fields(line)

	p, err := paths.CleanManifestPath(fields[0])
	if err != nil {
		return Entry{}, malformed("path: %v", err)
	}

	kv, err := splitKeys(fields[1:])
	if err != nil {
		return Entry{}, err
	}

	e := Entry{Path: p}

	if e.Mode, err = kv.take("mode"); err != nil {
		return Entry{}, err
	}
	if _, err := strconv.ParseUint(e.Mode, 8, 32); err != nil {
		return Entry{}, malformed("mode %q is not octal", e.Mode)
	}
	if e.UID, err = kv.takeID("uid"); err != nil {
		return Entry{}, err
	}
	if e.GID, err = kv.takeID("gid"); err != nil {
		return Entry{}, err
	}

	typ, err := kv.take("type")
	if err != nil {
		return Entry{}, err
	}
	switch typ {
	case "dir":
		e.Kind = KindDir
	case "link":
		e.Kind = KindLink
		if e.Link, err = kv.take("link"); err != nil {
			return Entry{}, err
		}
	case "file", "regular-file":
		e.Kind = KindFile
		if typ != KindFile.String() {
			e.typeName = typ
		}
		if e.Size, err = kv.takeSize("size"); err != nil {
			return Entry{}, err
		}
		if e.Digest, err = kv.takeDigest(d.algorithm()); err != nil {
			return Entry{}, err
		}
	default:
		return Entry{}, malformed("unknown type %q", typ)
	}

	if len(kv) > 0 {
		return Entry{}, malformed(
			"unexpected keys for type=%s: %s",
			typ, strings.Join(kv.keys(), ", "),
		)
	}
	return e, nil
}

func malformed(format string, args ...any) error {
	return fmt.Errorf(
		"%w: %s", ErrMalformed, fmt.Sprintf(format, args...),
	)
}

type keyValues map[string]string

func splitKeys(tokens []string) (keyValues, error) {
	kv := make(keyValues, len(tokens))
	for _, tok := range tokens {
		k, v, ok := strings.Cut(tok, "=")
		if !ok || k == "" {
			return nil, malformed("token %q is not key=value", tok)
		}
		if _, dup := kv[k]; dup {
			return nil, malformed("duplicate key %q", k)
		}
		kv[k] = v
	}
	return kv, nil
}

func (kv keyValues) take(key string) (string, error) {
	v, ok := kv[key]
	if !ok {
		return "", malformed("missing %s", key)
	}
	delete(kv, key)
	if v == "" {
		return "", malformed("empty %s", key)
	}
	return v, nil
}

func (kv keyValues) takeID(key string) (uint32, error) {
	v, err := kv.take(key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0, malformed("%s %q: %v", key, v, err)
	}
	return uint32(n), nil
}

func (kv keyValues) takeSize(key string) (int64, error) {
	v, err := kv.take(key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, malformed("%s %q is not a byte count", key, v)
	}
	return n, nil
}

func (kv keyValues) takeDigest(
	alg digest.Algorithm,
) (digest.Digest, error) {
	v, err := kv.take(string(alg))
	if err != nil {
		return "", err
	}
	d := digest.NewDigestFromEncoded(alg, v)
	if err := d.Validate(); err != nil {
		return "", malformed("%s %q: %v", alg, v, err)
	}
	return d, nil
}

func (kv keyValues) keys() []string {
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
