// Package highlight locates literal, case-insensitive term occurrences
// inside record content. Terms are matched as plain substrings via a
// single Aho-Corasick automaton, never interpreted as patterns, so
// arbitrary user input is safe to search for.
package highlight

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/coregx/ahocorasick"
)

// DefaultContextWindow is how many runes of surrounding text
// ExtractContext keeps on each side of a match.
const DefaultContextWindow = 100

// Segment is one slice of the content, in original order. Concatenating
// all segment texts reproduces the content exactly.
type Segment struct {
	Text      string `json:"text"`
	Highlight bool   `json:"highlight"`
}

// Context is a bounded window around one match.
type Context struct {
	Before string `json:"before"`
	Match  string `json:"match"`
	After  string `json:"after"`
	Start  int    `json:"start"` // byte offset of the match in content
	End    int    `json:"end"`
}

// span is a matched byte range in the original content.
type span struct {
	start, end int
}

// Highlight partitions content into highlighted and plain segments. An
// empty term list yields the whole content as one plain segment.
func Highlight(content string, terms []string) []Segment {
	spans := matchSpans(content, terms)
	if len(spans) == 0 {
		return []Segment{{Text: content}}
	}

	var out []Segment
	pos := 0
	for _, sp := range spans {
		if sp.start > pos {
			out = append(out, Segment{Text: content[pos:sp.start]})
		}
		out = append(out, Segment{Text: content[sp.start:sp.end], Highlight: true})
		pos = sp.end
	}
	if pos < len(content) {
		out = append(out, Segment{Text: content[pos:]})
	}
	return out
}

// ExtractContext returns a bounded window around each match. window is
// in runes per side; zero or negative means DefaultContextWindow.
func ExtractContext(content string, terms []string, window int) []Context {
	if window <= 0 {
		window = DefaultContextWindow
	}

	spans := matchSpans(content, terms)
	out := make([]Context, 0, len(spans))
	for _, sp := range spans {
		out = append(out, Context{
			Before: lastRunes(content[:sp.start], window),
			Match:  content[sp.start:sp.end],
			After:  firstRunes(content[sp.end:], window),
			Start:  sp.start,
			End:    sp.end,
		})
	}
	return out
}

// CountMatches counts term occurrences in content. Overlapping
// occurrences collapse to the leftmost-longest, matching what
// Highlight marks.
func CountMatches(content string, terms []string) int {
	return len(matchSpans(content, terms))
}

// matchSpans finds all term occurrences and resolves overlaps to
// leftmost-longest, returning byte ranges in the original content.
func matchSpans(content string, terms []string) []span {
	patterns := make([]string, 0, len(terms))
	seen := make(map[string]bool, len(terms))
	for _, t := range terms {
		lt := strings.ToLower(t)
		if lt == "" || seen[lt] {
			continue
		}
		seen[lt] = true
		patterns = append(patterns, lt)
	}
	if len(patterns) == 0 || content == "" {
		return nil
	}

	ac, err := ahocorasick.NewBuilder().
		AddStrings(patterns).
		SetMatchKind(ahocorasick.LeftmostLongest).
		SetPrefilter(true).
		Build()
	if err != nil {
		// Only possible with degenerate pattern sets, which the
		// dedupe/empty filtering above already rules out.
		panic(fmt.Sprintf("highlight: build automaton: %v", err))
	}

	lowered, offsets := lowerWithOffsets(content)
	matches := ac.FindAllOverlapping([]byte(lowered))

	spans := make([]span, 0, len(matches))
	for _, m := range matches {
		start := mapOffset(m.Start, offsets, len(content))
		end := mapOffset(m.End, offsets, len(content))
		if start >= end || end > len(content) {
			continue
		}
		spans = append(spans, span{start: start, end: end})
	}

	// Leftmost-longest wins among overlaps.
	sort.Slice(spans, func(i, j int) bool {
		if spans[i].start != spans[j].start {
			return spans[i].start < spans[j].start
		}
		return spans[i].end > spans[j].end
	})
	out := spans[:0]
	lastEnd := 0
	for _, sp := range spans {
		if sp.start < lastEnd {
			continue
		}
		out = append(out, sp)
		lastEnd = sp.end
	}
	return out
}

// lowerWithOffsets folds content to lowercase and records, for every
// byte of the folded string, the byte offset of the originating rune in
// content. Case folding can change a rune's encoded length, so offsets
// cannot be assumed stable.
func lowerWithOffsets(content string) (string, []int) {
	var b strings.Builder
	b.Grow(len(content))
	offsets := make([]int, 0, len(content)+1)

	for i, r := range content {
		lr := unicode.ToLower(r)
		b.WriteRune(lr)
		for n := utf8.RuneLen(lr); n > 0; n-- {
			offsets = append(offsets, i)
		}
	}
	offsets = append(offsets, len(content))
	return b.String(), offsets
}

// mapOffset translates a folded byte offset back to the original
// content. End offsets landing on a rune boundary map to the next
// original boundary.
func mapOffset(folded int, offsets []int, originalLen int) int {
	if folded < 0 {
		return 0
	}
	if folded >= len(offsets) {
		return originalLen
	}
	off := offsets[folded]
	if folded > 0 && offsets[folded-1] == off {
		// Inside a rune whose folded form is longer than one byte; the
		// boundary belongs to the next original rune.
		return nextBoundary(off, offsets, originalLen)
	}
	return off
}

func nextBoundary(off int, offsets []int, originalLen int) int {
	for _, o := range offsets {
		if o > off {
			return o
		}
	}
	return originalLen
}

func lastRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[len(runes)-n:])
}

func firstRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
