package relevance

import (
	"github.com/ternarybob/gleaner/internal/models"
)

// Classifier assigns the taxonomy category whose keywords best match a text
type Classifier struct {
	names    []string
	keywords map[string][]string
	minScore float64
}

// NewClassifier builds a classifier over taxonomy for one language ("" = all).
// Texts scoring at or below minScore for every category stay unclassified.
func NewClassifier(taxonomy *models.Taxonomy, language string, minScore float64) *Classifier {
	c := &Classifier{
		keywords: make(map[string][]string),
		minScore: minScore,
	}
	if taxonomy == nil {
		return c
	}
	c.names = taxonomy.CategoryNames()
	for _, name := range c.names {
		c.keywords[name] = append([]string{name}, taxonomy.CategoryKeywordList(name, language)...)
	}
	return c
}

// Classify returns the best category and its score.
// Ties go to the alphabetically first category name.
func (c *Classifier) Classify(text string) (string, float64) {
	bestName, bestScore := "", c.minScore
	for _, name := range c.names {
		score := Score(text, c.keywords[name])
		if score > bestScore {
			bestName, bestScore = name, score
		}
	}
	if bestName == "" {
		return "", 0
	}
	return bestName, bestScore
}
