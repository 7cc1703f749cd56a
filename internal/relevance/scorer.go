// Package relevance scores free text against keyword taxonomies.
package relevance

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/cases"
)

var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}]+`)

// Tokenize returns the sorted, unique, case-folded word tokens of text
func Tokenize(text string) []string {
	if text == "" {
		return nil
	}
	raw := tokenPattern.FindAllString(cases.Fold().String(text), -1)
	if len(raw) == 0 {
		return nil
	}

	sort.Strings(raw)
	out := raw[:1]
	for _, tok := range raw[1:] {
		if tok != out[len(out)-1] {
			out = append(out, tok)
		}
	}
	return out
}

// TokenSetSimilarity compares the token sets of text and keyword in [0,1].
// The shared tokens and each side's remainder are compared pairwise with a
// normalized edit-distance ratio; the best pair wins. A keyword whose tokens
// all occur in text scores 1.
func TokenSetSimilarity(text, keyword string) float64 {
	return tokenSetSimilarity(Tokenize(text), Tokenize(keyword))
}

// Score returns the best TokenSetSimilarity of text over keywords.
// Empty text or an empty keyword list scores 0.
func Score(text string, keywords []string) float64 {
	if text == "" || len(keywords) == 0 {
		return 0
	}
	textTokens := Tokenize(text)
	if len(textTokens) == 0 {
		return 0
	}

	best := 0.0
	for _, kw := range keywords {
		s := tokenSetSimilarity(textTokens, Tokenize(kw))
		if s > best {
			best = s
			if best == 1 {
				break
			}
		}
	}
	return best
}

// BatchRelevance is the arithmetic mean of Score over texts.
// ok is false for an empty batch, whose relevance is undefined.
func BatchRelevance(texts []string, keywords []string) (avg float64, ok bool) {
	if len(texts) == 0 {
		return 0, false
	}
	total := 0.0
	for _, t := range texts {
		total += Score(t, keywords)
	}
	return total / float64(len(texts)), true
}

// tokenSetSimilarity expects sorted unique token slices
func tokenSetSimilarity(textTokens, keywordTokens []string) float64 {
	if len(textTokens) == 0 || len(keywordTokens) == 0 {
		return 0
	}

	inText := make(map[string]bool, len(textTokens))
	for _, tok := range textTokens {
		inText[tok] = true
	}

	var shared, keywordOnly []string
	inKeyword := make(map[string]bool, len(keywordTokens))
	for _, tok := range keywordTokens {
		inKeyword[tok] = true
		if inText[tok] {
			shared = append(shared, tok)
		} else {
			keywordOnly = append(keywordOnly, tok)
		}
	}
	var textOnly []string
	for _, tok := range textTokens {
		if !inKeyword[tok] {
			textOnly = append(textOnly, tok)
		}
	}

	if len(shared) > 0 && (len(keywordOnly) == 0 || len(textOnly) == 0) {
		return 1
	}

	sect := strings.Join(shared, " ")
	withKeyword := joinNonEmpty(sect, strings.Join(keywordOnly, " "))
	withText := joinNonEmpty(sect, strings.Join(textOnly, " "))

	best := ratio(withKeyword, withText)
	if sect != "" {
		best = max(best, ratio(sect, withKeyword), ratio(sect, withText))
	}
	return best
}

// ratio is 1 - levenshtein(a,b)/max(len(a),len(b)) over runes
func ratio(a, b string) float64 {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	longest := max(la, lb)
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

func joinNonEmpty(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	return a + " " + b
}
