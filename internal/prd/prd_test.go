package prd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleDoc = `# Title

intro text

## Background

background body here

## Requirements

req body line one
req body line two

## Appendix

appendix body
`

func TestExtractSectionsByAnchor(t *testing.T) {
	sections := ExtractSections([]byte(sampleDoc), []Ref{{Anchor: "requirements"}})
	require.Len(t, sections, 1)
	require.Empty(t, sections[0].Warning)
	require.Contains(t, sections[0].Text, "req body line one")
	require.NotContains(t, sections[0].Text, "appendix body")
}

func TestExtractSectionsMissingAnchor(t *testing.T) {
	sections := ExtractSections([]byte(sampleDoc), []Ref{{Anchor: "nonexistent"}})
	require.Len(t, sections, 1)
	require.NotEmpty(t, sections[0].Warning)
}

func TestExtractSectionsLineRangeOverridesAnchor(t *testing.T) {
	sections := ExtractSections([]byte(sampleDoc), []Ref{{Anchor: "requirements", Lines: []int{1, 1}}})
	require.Equal(t, "# Title", sections[0].Text)
}

func TestHashDeterministic(t *testing.T) {
	require.Equal(t, Hash([]byte("abc")), Hash([]byte("abc")))
	require.NotEqual(t, Hash([]byte("abc")), Hash([]byte("abcd")))
}

func TestDriftUnchanged(t *testing.T) {
	h := Hash([]byte(sampleDoc))
	res := Drift([]byte(sampleDoc), []Ref{{Anchor: "requirements"}}, h)
	require.False(t, res.Changed)
	require.Empty(t, res.AffectedRefs)
}

func TestDriftAnchorDisappeared(t *testing.T) {
	modified := "# Title\n\nno more headings here\n"
	res := Drift([]byte(modified), []Ref{{Anchor: "requirements"}}, "stale-hash")
	require.True(t, res.Changed)
	require.Contains(t, res.AffectedRefs, "requirements")
}

func TestDriftLineRangePastEOF(t *testing.T) {
	short := "line1\nline2\n"
	res := Drift([]byte(short), []Ref{{Lines: []int{1, 50}}}, "stale-hash")
	require.True(t, res.Changed)
	require.Len(t, res.AffectedRefs, 1)
}

func TestDeliverMissingSource(t *testing.T) {
	_, err := Deliver(filepath.Join(t.TempDir(), "missing.md"), nil, "", "", 0)
	require.ErrorIs(t, err, ErrSourceMissing)
}

func TestDeliverTruncatesBody(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prd.md")
	require.NoError(t, os.WriteFile(path, []byte(sampleDoc), 0o644))

	d, err := Deliver(path, []Ref{{Anchor: "requirements"}}, "frozen excerpt", Hash([]byte(sampleDoc)), 10)
	require.NoError(t, err)
	require.True(t, d.Truncated)
	require.Len(t, d.Body, 10)
	require.False(t, d.Drift.Changed)
}

func TestDeliverUnbounded(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prd.md")
	require.NoError(t, os.WriteFile(path, []byte(sampleDoc), 0o644))

	d, err := Deliver(path, []Ref{{Anchor: "requirements"}}, "frozen excerpt", Hash([]byte(sampleDoc)), 0)
	require.NoError(t, err)
	require.False(t, d.Truncated)
	require.Contains(t, d.Body, "req body line two")
}
