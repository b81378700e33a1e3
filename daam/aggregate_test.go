package daam

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// constPolicy returns fixed head scores regardless of the record.
type constPolicy struct{ scores []float32 }

func (p constPolicy) Name() string { return "const" }

func (p constPolicy) Weights(AttentionRecord) []float32 { return p.scores }

func TestUniformHeadReduction(t *testing.T) {
	cfg := defaultConfig()
	a := newAggregator(&cfg, 2)
	a.ingest(recOf("l", 0, headSnap(2, 2, [][]float32{{1, 2}, {3, 6}})))

	grids := a.materialize(AccumulateSum)
	require.Len(t, grids, 2)
	for _, v := range grids[0].Data {
		assert.InDelta(t, 2.0, v, 1e-6)
	}
	for _, v := range grids[1].Data {
		assert.InDelta(t, 4.0, v, 1e-6)
	}
}

func TestMassWeightedHeads(t *testing.T) {
	cfg := defaultConfig()
	cfg.headPolicy = MassWeightedHeads()
	a := newAggregator(&cfg, 2)

	// Head 0 puts all mass past the first key, head 1 only on it; the
	// weighting should keep head 0 and zero out head 1.
	a.ingest(recOf("l", 0, headSnap(2, 2, [][]float32{
		{0, 1, 0},
		{1, 0, 0},
	})))

	grids := a.materialize(AccumulateSum)
	require.Len(t, grids, 3)
	for _, v := range grids[0].Data {
		assert.InDelta(t, 0.0, v, 1e-6)
	}
	for _, v := range grids[1].Data {
		assert.InDelta(t, 1.0, v, 1e-6)
	}
}

// Uniform scores through a custom policy must reproduce the plain mean.
func TestEqualScoresMatchUniform(t *testing.T) {
	snap := headSnap(2, 2, [][]float32{{1, 4}, {3, 0}})

	cfg := defaultConfig()
	mean := newAggregator(&cfg, 2)
	mean.ingest(recOf("l", 0, snap))

	wcfg := defaultConfig()
	wcfg.headPolicy = constPolicy{scores: []float32{5, 5}}
	weighted := newAggregator(&wcfg, 2)
	weighted.ingest(recOf("l", 0, snap))

	m := mean.materialize(AccumulateSum)
	w := weighted.materialize(AccumulateSum)
	require.Len(t, w, len(m))
	for i := range m {
		assert.InDeltaSlice(t, m[i].Data, w[i].Data, 1e-6)
	}
}

func TestNegativeScoresAreIgnored(t *testing.T) {
	cfg := defaultConfig()
	cfg.headPolicy = constPolicy{scores: []float32{-1, 1}}
	a := newAggregator(&cfg, 2)
	a.ingest(recOf("l", 0, headSnap(2, 2, [][]float32{{9, 9}, {1, 2}})))

	grids := a.materialize(AccumulateSum)
	for _, v := range grids[0].Data {
		assert.InDelta(t, 1.0, v, 1e-6)
	}
	for _, v := range grids[1].Data {
		assert.InDelta(t, 2.0, v, 1e-6)
	}
}

func TestAccumulateMeanPerStep(t *testing.T) {
	cfg := defaultConfig()
	a := newAggregator(&cfg, 2)
	a.ingest(recOf("l", 0, flatSnap(2, 2, []float32{1})))
	a.ingest(recOf("l", 1, flatSnap(2, 2, []float32{3})))

	sum := a.materialize(AccumulateSum)
	for _, v := range sum[0].Data {
		assert.InDelta(t, 4.0, v, 1e-6)
	}
	mean := a.materialize(AccumulateMeanPerStep)
	for _, v := range mean[0].Data {
		assert.InDelta(t, 2.0, v, 1e-6)
	}
}

func TestAccumulateMeanPerLayer(t *testing.T) {
	cfg := defaultConfig()
	a := newAggregator(&cfg, 2)
	a.ingest(recOf("down_0.attn", 0, flatSnap(2, 2, []float32{1})))
	a.ingest(recOf("up_0.attn", 0, flatSnap(2, 2, []float32{3})))

	mean := a.materialize(AccumulateMeanPerLayer)
	for _, v := range mean[0].Data {
		assert.InDelta(t, 2.0, v, 1e-6)
	}
	// One distinct step, so the per-step mean is the plain sum.
	step := a.materialize(AccumulateMeanPerStep)
	for _, v := range step[0].Data {
		assert.InDelta(t, 4.0, v, 1e-6)
	}
}

// Materializing twice must give identical grids; the stored sums are never
// scaled in place.
func TestMaterializeIsStable(t *testing.T) {
	cfg := defaultConfig()
	a := newAggregator(&cfg, 2)
	a.ingest(recOf("l", 0, flatSnap(2, 2, []float32{1, 2})))

	first := a.materialize(AccumulateMeanPerStep)
	second := a.materialize(AccumulateMeanPerStep)
	for i := range first {
		assert.Equal(t, first[i].Data, second[i].Data)
	}
}

func TestCanonicalFromFirstRecord(t *testing.T) {
	cfg := defaultConfig()
	a := newAggregator(&cfg, 0)
	a.ingest(recOf("small", 0, flatSnap(4, 4, []float32{1})))
	a.ingest(recOf("large", 0, flatSnap(8, 8, []float32{1})))

	assert.Equal(t, 4, a.size())
	grids := a.materialize(AccumulateSum)
	require.Len(t, grids, 1)
	assert.Equal(t, 4, grids[0].H)
	assert.Equal(t, 4, grids[0].W)
	// A constant map stays constant through resampling, so both records
	// land as flat contributions.
	for _, v := range grids[0].Data {
		assert.InDelta(t, 2.0, v, 1e-5)
	}
}

func TestNonSquareRecordsCanonicalize(t *testing.T) {
	cfg := defaultConfig()
	a := newAggregator(&cfg, 0)
	a.ingest(recOf("wide", 0, flatSnap(2, 4, []float32{1})))

	assert.Equal(t, 4, a.size())
	grids := a.materialize(AccumulateSum)
	assert.Equal(t, 4, grids[0].H)
	assert.Equal(t, 4, grids[0].W)
}

func TestMalformedRecordDropped(t *testing.T) {
	cfg := defaultConfig()
	a := newAggregator(&cfg, 4)

	bad := recOf("l", 0, flatSnap(2, 2, []float32{1}))
	bad.Weights = bad.Weights[:2]
	a.ingest(bad)

	a.ingest(AttentionRecord{LayerID: "l", Heads: 0, H: 2, W: 2, Keys: 1})

	assert.Zero(t, a.records)
	assert.Empty(t, a.materialize(AccumulateSum))
}

func TestLayerInfosSorted(t *testing.T) {
	cfg := defaultConfig()
	a := newAggregator(&cfg, 2)
	a.ingest(recOf("up_1.attn", 0, flatSnap(2, 2, []float32{1})))
	a.ingest(recOf("down_0.attn", 0, flatSnap(2, 2, []float32{1})))
	a.ingest(recOf("down_0.attn", 1, flatSnap(2, 2, []float32{1})))

	infos := a.layerInfos()
	require.Len(t, infos, 2)
	assert.Equal(t, "down_0.attn", infos[0].Name)
	assert.Equal(t, 2, infos[0].Records)
	assert.Equal(t, "up_1.attn", infos[1].Name)
}

func TestRetentionKeepsRecords(t *testing.T) {
	cfg := defaultConfig()
	cfg.retain = true
	a := newAggregator(&cfg, 2)
	a.ingest(recOf("l", 0, flatSnap(2, 2, []float32{1})))
	a.ingest(recOf("l", 1, flatSnap(2, 2, []float32{1})))

	assert.Len(t, a.retained, 2)
	assert.Equal(t, 1, a.retained[1].Step)
}
