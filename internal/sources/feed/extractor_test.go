package feed

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/gleaner/internal/identity"
	"github.com/ternarybob/gleaner/internal/models"
)

func TestExtractor_MapsItem(t *testing.T) {
	raw := models.RawItem{
		SourceID: "77",
		Location: "Remote",
		Content: `{"id":77,"title":" Platform Engineer ","company":"Acme","description":"Run **Kubernetes**.",
			"url":"https://feed.example.com/77","category":"devops","posted_at":"2025/03/07","extra":{"salary":"90k"}}`,
	}

	rec, err := NewExtractor().ExtractOne(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, identity.RecordID(SourceName, "77", "Acme", "Platform Engineer"), rec.ID)
	assert.Equal(t, "Platform Engineer", rec.Title)
	assert.Equal(t, "devops", rec.Category)
	assert.Equal(t, "Remote", rec.Location)
	assert.Equal(t, "https://feed.example.com/77", rec.URL)
	assert.Equal(t, map[string]string{"salary": "90k", "posted_at": "2025/03/07"}, rec.Extra)
}

func TestExtractor_Rejects(t *testing.T) {
	e := NewExtractor()
	var extractErr *models.ExtractionError

	_, err := e.ExtractOne(context.Background(), models.RawItem{Content: `{not json`})
	assert.True(t, errors.As(err, &extractErr))

	_, err = e.ExtractOne(context.Background(), models.RawItem{Content: `{"title":"x"}`})
	assert.ErrorIs(t, err, errMissingID)

	_, err = e.ExtractOne(context.Background(), models.RawItem{Content: `{"id":"9"}`})
	assert.ErrorIs(t, err, errMissingTitle)
}
