package highlight

import (
	"sort"
	"strings"
	"unicode"

	"github.com/orsinium-labs/stopwords"
)

var englishStopwords = stopwords.MustGet("en")

// minTermLength filters out fragments too short to search for.
const minTermLength = 3

// SuggestTerms proposes search terms from content: the most frequent
// words after stopword and short-token filtering. Useful for seeding a
// search box from an existing reflection. Returns at most max terms,
// most frequent first.
func SuggestTerms(content string, max int) []string {
	if max <= 0 {
		return nil
	}

	counts := make(map[string]int)
	first := make(map[string]int) // order of first appearance, for ties
	order := 0

	for _, field := range strings.FieldsFunc(content, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	}) {
		word := strings.ToLower(strings.Trim(field, "'"))
		if len([]rune(word)) < minTermLength {
			continue
		}
		if englishStopwords.Contains(word) {
			continue
		}
		if _, seen := counts[word]; !seen {
			first[word] = order
			order++
		}
		counts[word]++
	}

	terms := make([]string, 0, len(counts))
	for w := range counts {
		terms = append(terms, w)
	}
	sort.Slice(terms, func(i, j int) bool {
		if counts[terms[i]] != counts[terms[j]] {
			return counts[terms[i]] > counts[terms[j]]
		}
		return first[terms[i]] < first[terms[j]]
	})

	if len(terms) > max {
		terms = terms[:max]
	}
	return terms
}
