package relevance

import "strings"

// BuildBooleanQuery turns keywords and a location into a boolean search string:
//
//	("software engineer" OR "backend") AND "United States"
//
// Blank keywords are skipped and embedded double quotes removed. The location
// clause is omitted when location is blank, and an empty keyword list yields
// just the quoted location.
func BuildBooleanQuery(keywords []string, location string) string {
	quoted := make([]string, 0, len(keywords))
	seen := make(map[string]bool, len(keywords))
	for _, kw := range keywords {
		kw = clean(kw)
		if kw == "" || seen[strings.ToLower(kw)] {
			continue
		}
		seen[strings.ToLower(kw)] = true
		quoted = append(quoted, `"`+kw+`"`)
	}

	loc := clean(location)
	switch {
	case len(quoted) == 0 && loc == "":
		return ""
	case len(quoted) == 0:
		return `"` + loc + `"`
	case loc == "":
		return "(" + strings.Join(quoted, " OR ") + ")"
	}
	return "(" + strings.Join(quoted, " OR ") + `) AND "` + loc + `"`
}

func clean(s string) string {
	return strings.Join(strings.Fields(strings.ReplaceAll(s, `"`, "")), " ")
}
