package verify

import (
	"io"
	"strings"
)

type FindingKind string

const (
	FindingMissing FindingKind = "missing"
	FindingOwner   FindingKind = "owner"
	FindingType    FindingKind = "type"
	FindingDigest  FindingKind = "digest"
	FindingLink    FindingKind = "link"
	FindingMode    FindingKind = "mode"
	FindingRead    FindingKind = "read"
)

// Finding is one discrepancy between a manifest entry and the live
// filesystem.
type Finding struct {
	Path    string
	Kind    FindingKind
	Message string
}

func (f Finding) String() string {
	return f.Path + ": " + f.Message
}

// Report accumulates findings in manifest order. A zero Report is ready
// to use and is empty exactly when the tree matched the manifest.
type Report struct {
	Findings []Finding
}

func (r *Report) Add(findings ...Finding) {
	r.Findings = append(r.Findings, findings...)
}

func (r *Report) Empty() bool {
	return len(r.Findings) == 0
}

func (r *Report) Lines() []string {
	lines := make([]string, len(r.Findings))
	for i, f := range r.Findings {
		lines[i] = f.String()
	}
	return lines
}

// Counts tallies findings per kind.
func (r *Report) Counts() map[FindingKind]int {
	counts := make(map[FindingKind]int)
	for _, f := range r.Findings {
		counts[f.Kind]++
	}
	return counts
}

// WriteTo writes one finding per line. Every line, the last included,
// ends in a newline, so the output is Lines joined by "\n" plus one
// trailing "\n". An empty report writes nothing.
func (r *Report) WriteTo(w io.Writer) (int64, error) {
	if r.Empty() {
		return 0, nil
	}
	n, err := io.WriteString(
		w, strings.Join(r.Lines(), "\n")+"\n",
	)
	return int64(n), err
}
