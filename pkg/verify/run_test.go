package verify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tqbf/rootverify/pkg/mtree"
)

func manifestLine(e mtree.Entry) string {
	return e.String() + "\n"
}

func TestRunEndToEnd(t *testing.T) {
	root := t.TempDir()
	mkdir(t, root, "etc", 0755)
	writeFile(t, root, "etc/motd", "tampered", 0644)

	manifest := "#mtree\n" +
		manifestLine(dirEntry("/etc", "755")) +
		manifestLine(fileEntry("/etc/motd", "644", "hello")) +
		manifestLine(linkEntry("/bin", "usr/bin"))

	for _, workers := range []int{0, 1, 4} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			v := newVerifier(t, root, Options{Workers: workers})
			report, err := v.Run(
				context.Background(),
				mtree.NewReader(strings.NewReader(manifest)),
			)
			require.NoError(t, err)
			assert.Equal(t, []string{
				"/etc/motd: expected: " + sha256Hex("hello") +
					", got: " + sha256Hex("tampered"),
				"/bin: file does not exist.",
			}, report.Lines())
		})
	}
}

type entrySlice []mtree.Entry

func (s *entrySlice) Next() (mtree.Entry, error) {
	if len(*s) == 0 {
		return mtree.Entry{}, io.EOF
	}
	e := (*s)[0]
	*s = (*s)[1:]
	return e, nil
}

func TestRunContinuesAfterReadFailure(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a", "hello", 0644)

	unhashable := fileEntry("/a", "644", "hello")
	unhashable.Digest = digest.NewDigestFromEncoded(
		"bogus", sha256Hex("hello"),
	)

	for _, workers := range []int{1, 4} {
		src := entrySlice{unhashable, dirEntry("/b", "755")}
		v := newVerifier(t, root, Options{Workers: workers})
		report, err := v.Run(context.Background(), &src)
		require.NoError(t, err)
		require.Len(t, report.Findings, 2)
		assert.Equal(t, FindingRead, report.Findings[0].Kind)
		assert.Contains(t, report.Findings[0].Message,
			"could not read/hash file",
		)
		assert.Equal(t, "/b: file does not exist.",
			report.Findings[1].String(),
		)
	}
}

func TestRunCleanTreeIsEmpty(t *testing.T) {
	root := t.TempDir()
	mkdir(t, root, "etc", 0755)
	writeFile(t, root, "etc/motd", "hello", 0644)
	require.NoError(t, os.Symlink("etc", filepath.Join(root, "cfg")))

	manifest := manifestLine(dirEntry("/etc", "755")) +
		manifestLine(fileEntry("/etc/motd", "644", "hello")) +
		manifestLine(linkEntry("/cfg", "etc"))

	v := newVerifier(t, root, Options{CheckLinkTarget: true})
	report, err := v.Run(
		context.Background(),
		mtree.NewReader(strings.NewReader(manifest)),
	)
	require.NoError(t, err)
	assert.True(t, report.Empty())

	var buf bytes.Buffer
	n, err := report.WriteTo(&buf)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRunParallelKeepsManifestOrder(t *testing.T) {
	root := t.TempDir()
	var b strings.Builder
	var want []string
	for i := range 50 {
		p := fmt.Sprintf("/missing-%02d", i)
		b.WriteString(manifestLine(dirEntry(p, "755")))
		want = append(want, p+": file does not exist.")
	}

	v := newVerifier(t, root, Options{Workers: 8})
	report, err := v.Run(
		context.Background(),
		mtree.NewReader(strings.NewReader(b.String())),
	)
	require.NoError(t, err)
	assert.Equal(t, want, report.Lines())
}

func TestRunAbortsOnMalformedLine(t *testing.T) {
	root := t.TempDir()
	manifest := manifestLine(dirEntry("/a", "755")) +
		"./b mode=755 gid=0 uid=0 type=dir unexpected=1\n" +
		manifestLine(dirEntry("/c", "755"))

	for _, workers := range []int{1, 4} {
		v := newVerifier(t, root, Options{Workers: workers})
		report, err := v.Run(
			context.Background(),
			mtree.NewReader(strings.NewReader(manifest)),
		)
		assert.ErrorIs(t, err, mtree.ErrMalformed)
		assert.Nil(t, report)
	}
}

func TestRunStrictOwnershipAborts(t *testing.T) {
	root := t.TempDir()
	mkdir(t, root, "etc", 0755)
	e := dirEntry("/etc", "755")
	e.UID++

	for _, workers := range []int{1, 4} {
		v := newVerifier(t, root, Options{
			StrictOwnership: true,
			Workers:         workers,
		})
		_, err := v.Run(
			context.Background(),
			mtree.NewReader(strings.NewReader(manifestLine(e))),
		)
		assert.ErrorIs(t, err, ErrOwnership)
	}
}

func TestRunExcludes(t *testing.T) {
	root := t.TempDir()
	manifest := manifestLine(dirEntry("/var/cache", "755")) +
		manifestLine(dirEntry("/var/cache/apt", "755")) +
		manifestLine(dirEntry("/etc", "755"))

	v := newVerifier(t, root, Options{Excludes: []string{"cache"}})
	report, err := v.Run(
		context.Background(),
		mtree.NewReader(strings.NewReader(manifest)),
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"/etc: file does not exist."}, report.Lines())
}

func TestRunCancelled(t *testing.T) {
	root := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for _, workers := range []int{1, 4} {
		v := newVerifier(t, root, Options{Workers: workers})
		_, err := v.Run(
			ctx,
			mtree.NewReader(strings.NewReader(
				manifestLine(dirEntry("/a", "755")),
			)),
		)
		assert.ErrorIs(t, err, context.Canceled)
	}
}

func TestReport(t *testing.T) {
	var r Report
	assert.True(t, r.Empty())
	r.Add(
		Finding{Path: "/a", Kind: FindingMissing, Message: "file does not exist."},
		Finding{Path: "/b", Kind: FindingMode, Message: "got mode 644, expected: 755"},
		Finding{Path: "/c", Kind: FindingMode, Message: "got mode 600, expected: 755"},
	)
	assert.False(t, r.Empty())
	assert.Equal(t, map[FindingKind]int{
		FindingMissing: 1,
		FindingMode:    2,
	}, r.Counts())

	var buf bytes.Buffer
	_, err := r.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t,
		"/a: file does not exist.\n"+
			"/b: got mode 644, expected: 755\n"+
			"/c: got mode 600, expected: 755\n",
		buf.String(),
	)
	assert.Equal(t, strings.Join(r.Lines(), "\n")+"\n", buf.String())
}
