package jobboard

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	relativeTimePattern = regexp.MustCompile(`(\d+)\s+(second|minute|hour|day|week)`)
	numberPattern       = regexp.MustCompile(`\d+`)
)

var relativeUnits = map[string]time.Duration{
	"second": time.Second,
	"minute": time.Minute,
	"hour":   time.Hour,
	"day":    24 * time.Hour,
	"week":   7 * 24 * time.Hour,
}

// ParseRelativeTime turns text such as "7 hours ago" into a yyyy/mm/dd date
// relative to now. ok is false when nothing recognisable is found.
func ParseRelativeTime(text string, now time.Time) (string, bool) {
	m := relativeTimePattern.FindStringSubmatch(strings.ToLower(text))
	if m == nil {
		return "", false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return "", false
	}
	return now.Add(-time.Duration(n) * relativeUnits[m[2]]).Format("2006/01/02"), true
}

// ExtractNumber returns the first integer in text
func ExtractNumber(text string) (int, bool) {
	m := numberPattern.FindString(strings.ReplaceAll(text, ",", ""))
	if m == "" {
		return 0, false
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return 0, false
	}
	return n, true
}

// cleanText collapses runs of whitespace
func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
