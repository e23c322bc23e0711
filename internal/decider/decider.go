// Package decider applies grounding-sufficiency thresholds to retrieved
// hits. Deciding is pure: no I/O, deterministic for identical inputs.
package decider

import "ragqa/internal/domain"

// Config holds the sufficiency thresholds.
type Config struct {
	// MinScore is the minimum acceptable top similarity.
	MinScore float64
	// MinHits is the minimum number of surviving hits.
	MinHits int
	// MaxContextHits bounds how many hits enter the prompt context.
	MaxContextHits int
}

// Decide maps retrieved hits to an accept/reject decision. Hits are assumed
// pre-sorted descending by the retriever; Decide does not re-sort, it only
// caps the accepted list at MaxContextHits.
func Decide(hits []domain.SearchHit, cfg Config) domain.Decision {
	if len(hits) == 0 {
		return domain.Decision{Reason: domain.ReasonNoHits}
	}

	top := hits[0].Score
	for _, h := range hits[1:] {
		if h.Score > top {
			top = h.Score
		}
	}

	if top < cfg.MinScore {
		return domain.Decision{Reason: domain.ReasonLowScore, TopScore: &top}
	}
	if len(hits) < cfg.MinHits {
		return domain.Decision{Reason: domain.ReasonTooFewHits, TopScore: &top}
	}

	used := hits
	if cfg.MaxContextHits > 0 && len(used) > cfg.MaxContextHits {
		used = used[:cfg.MaxContextHits]
	}
	return domain.Decision{
		Accepted: true,
		Reason:   domain.ReasonEnoughContext,
		TopScore: &top,
		HitsUsed: used,
	}
}
