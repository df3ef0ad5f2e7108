package mtree

import (
	"fmt"
	"io"

	"github.com/opencontainers/go-digest"

	"github.com/tqbf/rootverify/pkg/platform"
)

// HashFile digests the full content of the regular file at absPath
// with alg. The file is opened without following a final symlink.
func HashFile(
	absPath string,
	alg digest.Algorithm,
	buf []byte,
) (digest.Digest, int64, error) {
	if err := checkAlgorithm(alg); err != nil {
		return "", 0, err
	}

	f, err := platform.OpenNoFollow(absPath)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	return Hash(f, alg, buf)
}

// Hash digests everything r yields. buf is scratch space and may be
// shared across calls by one goroutine.
func Hash(
	r io.Reader,
	alg digest.Algorithm,
	buf []byte,
) (digest.Digest, int64, error) {
	if err := checkAlgorithm(alg); err != nil {
		return "", 0, err
	}
	d := alg.Digester()
	n, err := io.CopyBuffer(d.Hash(), r, buf)
	if err != nil {
		return "", n, err
	}
	return d.Digest(), n, nil
}

func checkAlgorithm(alg digest.Algorithm) error {
	if !alg.Available() {
		return fmt.Errorf(
			"%w: %s", digest.ErrDigestUnsupported, alg,
		)
	}
	return nil
}
