package models

import (
	"fmt"
	"sort"
	"strings"
)

// CategoryKeywords maps a language code (e.g. "en", "fr") to its keyword list
type CategoryKeywords map[string][]string

// Taxonomy is the search matrix: keyword categories plus the locations to search.
// It is loaded once per run and treated as immutable afterwards.
type Taxonomy struct {
	Categories map[string]CategoryKeywords `json:"categories" yaml:"categories" validate:"required,min=1"`
	Locations  []string                    `json:"locations" yaml:"locations" validate:"required,min=1,dive,required"`
}

// Validate checks structural rules that tags cannot express.
// Every name in required must be present as a category.
func (t *Taxonomy) Validate(required []string) error {
	if t == nil {
		return fmt.Errorf("%w: taxonomy is nil", ErrInvalidTaxonomy)
	}
	if len(t.Locations) == 0 {
		return fmt.Errorf("%w: locations must not be empty", ErrInvalidTaxonomy)
	}
	for i, loc := range t.Locations {
		if strings.TrimSpace(loc) == "" {
			return fmt.Errorf("%w: location %d is blank", ErrInvalidTaxonomy, i)
		}
	}
	if len(t.Categories) == 0 {
		return fmt.Errorf("%w: categories must not be empty", ErrInvalidTaxonomy)
	}
	for _, name := range required {
		if _, ok := t.Categories[name]; !ok {
			return fmt.Errorf("%w: required category %q missing", ErrInvalidTaxonomy, name)
		}
	}
	for name, langs := range t.Categories {
		count := 0
		for _, kws := range langs {
			for _, kw := range kws {
				if strings.TrimSpace(kw) != "" {
					count++
				}
			}
		}
		if count == 0 {
			return fmt.Errorf("%w: category %q has no keywords", ErrInvalidTaxonomy, name)
		}
	}
	return nil
}

// CategoryNames returns the category names in sorted order
func (t *Taxonomy) CategoryNames() []string {
	names := make([]string, 0, len(t.Categories))
	for name := range t.Categories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CategoryKeywordList returns the keywords of one category for lang.
// An empty lang returns keywords of every language.
func (t *Taxonomy) CategoryKeywordList(name, lang string) []string {
	langs, ok := t.Categories[name]
	if !ok {
		return nil
	}
	var out []string
	if lang != "" {
		return appendNonBlank(out, langs[lang])
	}
	codes := make([]string, 0, len(langs))
	for code := range langs {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	for _, code := range codes {
		out = appendNonBlank(out, langs[code])
	}
	return out
}

// Keywords flattens every category into one de-duplicated keyword list.
// Category names are included since they are themselves search terms.
func (t *Taxonomy) Keywords(lang string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, name := range t.CategoryNames() {
		for _, kw := range append([]string{name}, t.CategoryKeywordList(name, lang)...) {
			key := strings.ToLower(strings.TrimSpace(kw))
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, strings.TrimSpace(kw))
		}
	}
	return out
}

func appendNonBlank(dst []string, src []string) []string {
	for _, s := range src {
		if strings.TrimSpace(s) != "" {
			dst = append(dst, s)
		}
	}
	return dst
}
