package daam

import (
	"log/slog"
	"sort"

	"github.com/openfluke/daam/grid"
)

// LayerInfo summarizes one cross-attention layer seen during capture.
type LayerInfo struct {
	Name    string
	Heads   int
	H, W    int
	Records int
}

// aggregator folds attention records into one canonical-resolution grid per
// key position. The capture path is inline and single-threaded (see
// TraceSession), so the aggregator itself takes no locks.
type aggregator struct {
	canonical int // 0 until the first record decides it
	resample  Resampler
	policy    HeadWeightPolicy

	grids   []grid.Grid // indexed by key position, grown on demand
	steps   map[int]struct{}
	layers  map[string]*LayerInfo
	records int

	retain   bool
	retained []AttentionRecord
}

func newAggregator(cfg *config, canonical int) *aggregator {
	return &aggregator{
		canonical: canonical,
		resample:  cfg.resample,
		policy:    cfg.headPolicy,
		steps:     map[int]struct{}{},
		layers:    map[string]*LayerInfo{},
		retain:    cfg.retain,
	}
}

// ingest folds one record into the aggregate: reduce heads, resample each
// key slice to the canonical resolution, accumulate additively. Malformed
// records are dropped with a warning; capture never fails.
func (a *aggregator) ingest(rec AttentionRecord) {
	if !rec.valid() {
		slog.Warn("dropping malformed attention record",
			"layer", rec.LayerID,
			"heads", rec.Heads, "h", rec.H, "w", rec.W, "keys", rec.Keys,
			"weights", len(rec.Weights))
		return
	}
	if a.canonical == 0 {
		a.canonical = max(rec.H, rec.W)
	}

	queries := rec.H * rec.W
	combined := make([]float32, queries*rec.Keys)
	for h, w := range a.headWeights(rec) {
		if w == 0 {
			continue
		}
		for i, v := range rec.head(h) {
			combined[i] += w * v
		}
	}

	for len(a.grids) < rec.Keys {
		a.grids = append(a.grids, grid.New(a.canonical, a.canonical))
	}
	buf := grid.New(rec.H, rec.W)
	for k := 0; k < rec.Keys; k++ {
		for q := 0; q < queries; q++ {
			buf.Data[q] = combined[q*rec.Keys+k]
		}
		resized := a.resample(buf, a.canonical, a.canonical)
		if err := a.grids[k].Add(resized); err != nil {
			slog.Warn("dropping key slice with unexpected dimensions",
				"layer", rec.LayerID, "key", k, "err", err)
		}
	}

	a.steps[rec.Step] = struct{}{}
	li := a.layers[rec.LayerID]
	if li == nil {
		li = &LayerInfo{Name: rec.LayerID, Heads: rec.Heads, H: rec.H, W: rec.W}
		a.layers[rec.LayerID] = li
	}
	li.Records++
	a.records++
	if a.retain {
		a.retained = append(a.retained, rec)
	}
}

// headWeights normalizes the policy's scores to sum to one, falling back to
// uniform when the policy yields nothing usable.
func (a *aggregator) headWeights(rec AttentionRecord) []float32 {
	scores := a.policy.Weights(rec)
	norm := make([]float32, rec.Heads)
	var total float64
	if len(scores) == rec.Heads {
		for _, s := range scores {
			if s > 0 {
				total += float64(s)
			}
		}
	}
	if total == 0 {
		for i := range norm {
			norm[i] = 1 / float32(rec.Heads)
		}
		return norm
	}
	for i, s := range scores {
		if s > 0 {
			norm[i] = float32(float64(s) / total)
		}
	}
	return norm
}

// size returns the canonical side length, zero when still undecided.
func (a *aggregator) size() int { return a.canonical }

// materialize clones the per-key grids, applying the accumulation policy's
// divisor. The stored sums stay untouched so repeated materialization is
// stable.
func (a *aggregator) materialize(policy AccumulationPolicy) []grid.Grid {
	divisor := float32(1)
	switch policy {
	case AccumulateMeanPerStep:
		if n := len(a.steps); n > 0 {
			divisor = float32(n)
		}
	case AccumulateMeanPerLayer:
		if n := len(a.layers); n > 0 {
			divisor = float32(n)
		}
	}
	out := make([]grid.Grid, len(a.grids))
	for i, g := range a.grids {
		c := g.Clone()
		if divisor != 1 {
			c.Scale(1 / divisor)
		}
		out[i] = c
	}
	return out
}

// layerInfos returns the layers seen, sorted by name for stable reports.
func (a *aggregator) layerInfos() []LayerInfo {
	out := make([]LayerInfo, 0, len(a.layers))
	for _, li := range a.layers {
		out = append(out, *li)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
