package jobboard

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gleaner/internal/identity"
	"github.com/ternarybob/gleaner/internal/models"
)

func fixture(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return string(data)
}

func newTestExtractor() *Extractor {
	e := NewExtractor("https://jobs.example.com/", nil, arbor.NewLogger())
	e.now = func() time.Time { return time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC) }
	return e
}

func TestExtractor_ParsesCard(t *testing.T) {
	e := newTestExtractor()
	raw := models.RawItem{
		SourceID: "3912345678",
		Content:  fixture(t, "card.html"),
		Detail:   fixture(t, "description.html"),
		Location: "Germany",
	}

	rec, err := e.ExtractOne(context.Background(), raw)
	require.NoError(t, err)

	assert.Equal(t, SourceName, rec.Source)
	assert.Equal(t, "3912345678", rec.SourceID)
	assert.Equal(t, "Senior Backend Engineer", rec.Title)
	assert.Equal(t, "Acme Robotics", rec.Company)
	assert.Equal(t, "Berlin, Germany (Hybrid)", rec.Location)
	assert.Equal(t, "https://jobs.example.com/jobs/view/3912345678/", rec.URL)
	assert.Equal(t, identity.RecordID(SourceName, "3912345678", "Acme Robotics", "Senior Backend Engineer"), rec.ID)

	assert.Equal(t, map[string]string{
		"posted_at":       "2025/03/07",
		"seniority":       "Mid-Senior level",
		"employment_type": "Full-time",
		"job_function":    "Engineering",
		"industries":      "Software Development",
		"applicant_count": "1200",
	}, rec.Extra)
}

func TestExtractor_DescriptionIsSanitisedMarkdown(t *testing.T) {
	rec, err := newTestExtractor().ExtractOne(context.Background(), models.RawItem{
		Content: fixture(t, "card.html"),
		Detail:  fixture(t, "description.html"),
	})
	require.NoError(t, err)

	assert.Contains(t, rec.Description, "## About the role")
	assert.Contains(t, rec.Description, "**distributed**")
	assert.Contains(t, rec.Description, "- Kubernetes")
	assert.NotContains(t, rec.Description, "alert")
	assert.NotContains(t, rec.Description, "steal")
}

func TestExtractor_FallsBackToRawLocationAndID(t *testing.T) {
	card := `<div class="card"><span class="job-card-list__title">Data Engineer</span></div>`
	sel := DefaultSelectors()
	sel.Title = ".job-card-list__title"

	e := NewExtractor("https://jobs.example.com", sel, arbor.NewLogger())
	rec, err := e.ExtractOne(context.Background(), models.RawItem{SourceID: "42", Content: card, Location: "Remote"})
	require.NoError(t, err)
	assert.Equal(t, "42", rec.SourceID)
	assert.Equal(t, "Remote", rec.Location)
	assert.Empty(t, rec.Description)
	assert.Nil(t, rec.Extra)
}

func TestExtractor_RejectsIncompleteCards(t *testing.T) {
	e := newTestExtractor()

	_, err := e.ExtractOne(context.Background(), models.RawItem{Content: `<li><span class="job-card-list__title">X</span></li>`})
	var extractErr *models.ExtractionError
	require.True(t, errors.As(err, &extractErr))
	assert.ErrorIs(t, err, errMissingID)

	_, err = e.ExtractOne(context.Background(), models.RawItem{Content: `<li data-job-id="7"></li>`})
	require.True(t, errors.As(err, &extractErr))
	assert.Equal(t, "7", extractErr.SourceID)
	assert.ErrorIs(t, err, errMissingTitle)
}
