// Package gate implements the per-batch dedup and quality decision.
package gate

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gleaner/internal/interfaces"
	"github.com/ternarybob/gleaner/internal/models"
	"github.com/ternarybob/gleaner/internal/relevance"
)

// ScoreFunc scores one record's text in [0,1]
type ScoreFunc func(text string) float64

// Decision is the outcome of evaluating one batch
type Decision struct {
	Accepted     []*models.Record // Records to write in input order, one per id
	Continue     bool             // Whether crawling should advance to further pages
	FreshRatio   float64          // Fraction of the batch not already stored
	AvgRelevance float64          // Mean score over the whole batch; 0 when not computed
	Existing     int              // Batch entries whose id was already stored
	Bootstrap    bool             // Empty store or deep ingest bypassed gating
}

// Decide applies the gating rules to a batch without any I/O.
//
// Thresholds are inclusive: a ratio equal to its threshold passes. The
// bootstrap rule (empty store, or either threshold 0) short-circuits before
// relevance is computed and accepts the whole batch, one record per id;
// already stored ids are overwritten in place. Otherwise only new records are
// accepted, whatever Continue says.
func Decide(batch []*models.Record, existing map[string]bool, totalStored int, th models.Thresholds, score ScoreFunc) *Decision {
	d := &Decision{}
	if len(batch) == 0 {
		return d
	}

	bootstrap := totalStored == 0 || th.Deep()

	fresh := 0
	seen := make(map[string]bool, len(batch))
	for _, r := range batch {
		stored := existing[r.ID]
		if stored {
			d.Existing++
		} else {
			fresh++
		}
		if seen[r.ID] || (stored && !bootstrap) {
			continue
		}
		seen[r.ID] = true
		d.Accepted = append(d.Accepted, r)
	}
	d.FreshRatio = float64(fresh) / float64(len(batch))

	if bootstrap {
		d.Bootstrap = true
		d.Continue = true
		return d
	}

	total := 0.0
	for _, r := range batch {
		total += score(r.Text())
	}
	d.AvgRelevance = total / float64(len(batch))

	d.Continue = d.FreshRatio >= th.Freshness && d.AvgRelevance >= th.Relevance
	return d
}

// Gate evaluates batches against the record store
type Gate struct {
	store    interfaces.RecordStorage
	keywords []string
	logger   arbor.ILogger
}

// New creates a gate scoring relevance against keywords
func New(store interfaces.RecordStorage, keywords []string, logger arbor.ILogger) *Gate {
	return &Gate{
		store:    store,
		keywords: keywords,
		logger:   logger,
	}
}

// Evaluate looks up existing ids in one call, decides, and commits the
// accepted records as one atomic write.
func (g *Gate) Evaluate(ctx context.Context, batch []*models.Record, th models.Thresholds) (*Decision, error) {
	if len(batch) == 0 {
		return &Decision{}, nil
	}

	ids := make([]string, len(batch))
	for i, r := range batch {
		ids[i] = r.ID
	}

	existing, err := g.store.ExistingIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to look up existing records: %w", err)
	}

	totalStored, err := g.store.CountRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count stored records: %w", err)
	}

	d := Decide(batch, existing, totalStored, th, g.score)

	if len(d.Accepted) > 0 {
		if err := g.store.SaveRecords(ctx, d.Accepted); err != nil {
			return nil, fmt.Errorf("failed to save %d records: %w", len(d.Accepted), err)
		}
	}

	g.logger.Info().
		Int("batch", len(batch)).
		Int("existing", d.Existing).
		Int("accepted", len(d.Accepted)).
		Float64("fresh_ratio", d.FreshRatio).
		Float64("avg_relevance", d.AvgRelevance).
		Bool("bootstrap", d.Bootstrap).
		Bool("continue", d.Continue).
		Msg("Batch evaluated")

	return d, nil
}

func (g *Gate) score(text string) float64 {
	return relevance.Score(text, g.keywords)
}
