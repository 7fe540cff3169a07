// Package prd resolves a task's PRD binding against an external
// product-requirements document: extracting referenced sections, hashing
// the source, and detecting drift against a frozen excerpt.
package prd

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// ErrSourceMissing is returned when the bound source document cannot be read.
var ErrSourceMissing = errors.New("prd: source document missing")

// Ref mirrors specstore.PRDRef without importing specstore, keeping this
// package usable standalone and free of cycles.
type Ref struct {
	Anchor string
	Lines  []int // [start, end], 1-indexed inclusive; overrides Anchor when non-empty
}

// Section is one resolved reference.
type Section struct {
	Ref     Ref
	Text    string
	Warning string // set when the anchor could not be resolved
}

var headingPattern = regexp.MustCompile(`^(#{1,6})\s+(.*)$`)

// anchorSlug mirrors the common heading->anchor slugify rule (lowercase,
// spaces to hyphens, strip anything not alnum/hyphen).
func anchorSlug(heading string) string {
	s := strings.ToLower(strings.TrimSpace(heading))
	var b strings.Builder
	lastHyphen := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		case r == ' ' || r == '-' || r == '_':
			if !lastHyphen && b.Len() > 0 {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}

// heading is one parsed markdown heading line.
type heading struct {
	level int
	slug  string
	line  int // 0-indexed line number of the heading itself
}

func parseHeadings(lines []string) []heading {
	var out []heading
	for i, l := range lines {
		if m := headingPattern.FindStringSubmatch(l); m != nil {
			out = append(out, heading{level: len(m[1]), slug: anchorSlug(m[2]), line: i})
		}
	}
	return out
}

// ExtractSections resolves each ref against source's bytes. A line range in
// Ref overrides the anchor; an anchor selects from its heading through the
// next heading of the same or higher level (fewer or equal '#'s). Missing
// anchors produce a Section with a Warning instead of an error.
func ExtractSections(source []byte, refs []Ref) []Section {
	lines := strings.Split(string(source), "\n")
	headings := parseHeadings(lines)

	out := make([]Section, 0, len(refs))
	for _, ref := range refs {
		if len(ref.Lines) == 2 {
			out = append(out, Section{Ref: ref, Text: sliceLines(lines, ref.Lines[0], ref.Lines[1])})
			continue
		}
		idx := -1
		for i, h := range headings {
			if h.slug == ref.Anchor {
				idx = i
				break
			}
		}
		if idx == -1 {
			out = append(out, Section{Ref: ref, Warning: fmt.Sprintf("anchor %q not found", ref.Anchor)})
			continue
		}
		start := headings[idx].line
		end := len(lines)
		for j := idx + 1; j < len(headings); j++ {
			if headings[j].level <= headings[idx].level {
				end = headings[j].line
				break
			}
		}
		out = append(out, Section{Ref: ref, Text: strings.Join(lines[start:end], "\n")})
	}
	return out
}

// sliceLines returns the 1-indexed inclusive [start, end] line range,
// clamped to the document bounds.
func sliceLines(lines []string, start, end int) string {
	if start < 1 {
		start = 1
	}
	if end > len(lines) {
		end = len(lines)
	}
	if start > end {
		return ""
	}
	return strings.Join(lines[start-1:end], "\n")
}

// Hash returns a deterministic hex digest over the full source bytes.
func Hash(source []byte) string {
	sum := sha256.Sum256(source)
	return hex.EncodeToString(sum[:])
}

// DriftResult reports whether a source document has changed since a task's
// PRD binding was frozen, and which refs are now affected.
type DriftResult struct {
	Changed       bool
	AffectedRefs  []string
	PreviousHash  string
	CurrentHash   string
}

// Drift compares currentHash against the frozen hash and, if different,
// identifies which refs now point past EOF or at a vanished anchor.
func Drift(source []byte, refs []Ref, frozenHash string) DriftResult {
	current := Hash(source)
	res := DriftResult{PreviousHash: frozenHash, CurrentHash: current, Changed: current != frozenHash}
	if !res.Changed {
		return res
	}
	lines := strings.Split(string(source), "\n")
	headings := parseHeadings(lines)
	headingSlugs := make(map[string]bool, len(headings))
	for _, h := range headings {
		headingSlugs[h.slug] = true
	}
	for _, ref := range refs {
		name := ref.Anchor
		if name == "" && len(ref.Lines) == 2 {
			name = fmt.Sprintf("lines:%d-%d", ref.Lines[0], ref.Lines[1])
		}
		switch {
		case len(ref.Lines) == 2 && ref.Lines[1] > len(lines):
			res.AffectedRefs = append(res.AffectedRefs, name)
		case ref.Anchor != "" && len(ref.Lines) != 2 && !headingSlugs[ref.Anchor]:
			res.AffectedRefs = append(res.AffectedRefs, name)
		}
	}
	return res
}

// Delivery is the caller-facing result of Deliver: the frozen excerpt
// recorded on the task, the live re-resolved sections, and a concatenated
// body trimmed to the requested budget.
type Delivery struct {
	FrozenExcerpt string
	LiveSections  []Section
	Body          string
	Truncated     bool
	Drift         DriftResult
}

// Deliver loads source from disk, resolves refs live, and assembles a
// Delivery bounded by charBudget. charBudget <= 0 means unbounded.
func Deliver(sourcePath string, refs []Ref, frozenExcerpt, frozenHash string, charBudget int) (Delivery, error) {
	data, err := os.ReadFile(sourcePath)
	if err != nil {
		if os.IsNotExist(err) {
			return Delivery{}, ErrSourceMissing
		}
		return Delivery{}, fmt.Errorf("prd: read source: %w", err)
	}

	live := ExtractSections(data, refs)
	drift := Drift(data, refs, frozenHash)

	var body strings.Builder
	for i, s := range live {
		if i > 0 {
			body.WriteString("\n\n")
		}
		body.WriteString(s.Text)
	}
	text := body.String()
	truncated := false
	if charBudget > 0 && len(text) > charBudget {
		text = text[:charBudget]
		truncated = true
	}

	return Delivery{
		FrozenExcerpt: frozenExcerpt,
		LiveSections:  live,
		Body:          text,
		Truncated:     truncated,
		Drift:         drift,
	}, nil
}
