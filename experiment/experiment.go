// Package experiment persists generation runs for evaluation: the output
// image, the prompt and seed that produced it, the materialized heat map,
// ground-truth and predicted segmentation masks, and free-form
// annotations, all under one directory per run.
package experiment

import (
	"image"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/openfluke/daam/daam"
	"github.com/openfluke/daam/grid"
)

// Experiment holds everything one generation run produced. Masks are
// binary grids keyed by lowercase word.
type Experiment struct {
	ID      string
	Prompt  string
	Seed    int64
	Image   image.Image
	HeatMap *daam.GlobalHeatMap

	TruthMasks      map[string]grid.Grid
	PredictionMasks map[string]grid.Grid
	Annotations     map[string]any

	// Dir is where the experiment was last saved or loaded from.
	Dir string
}

// New builds an experiment for a finished run. An empty id gets a fresh
// UUID.
func New(id, prompt string, seed int64, img image.Image, heat *daam.GlobalHeatMap) *Experiment {
	if id == "" {
		id = uuid.NewString()
	}
	return &Experiment{
		ID:      id,
		Prompt:  prompt,
		Seed:    seed,
		Image:   img,
		HeatMap: heat,
	}
}

// Annotate records a key/value pair on the experiment and returns it for
// chaining.
func (e *Experiment) Annotate(key string, value any) *Experiment {
	if e.Annotations == nil {
		e.Annotations = make(map[string]any)
	}
	e.Annotations[key] = value
	return e
}

// HasAnnotation reports whether the key has been recorded.
func (e *Experiment) HasAnnotation(key string) bool {
	_, ok := e.Annotations[key]
	return ok
}

// AddTruthMask merges a ground-truth mask for a word. With simplify80 the
// word is first mapped onto its COCO-Stuff-27 class, so several object
// classes can fold into one mask.
func (e *Experiment) AddTruthMask(word string, mask grid.Grid, simplify80 bool) {
	if e.TruthMasks == nil {
		e.TruthMasks = make(map[string]grid.Grid)
	}
	addMask(e.TruthMasks, word, mask, simplify80)
}

// AddPredictionMask merges a predicted mask for a word, with the same
// simplification rule as AddTruthMask.
func (e *Experiment) AddPredictionMask(word string, mask grid.Grid, simplify80 bool) {
	if e.PredictionMasks == nil {
		e.PredictionMasks = make(map[string]grid.Grid)
	}
	addMask(e.PredictionMasks, word, mask, simplify80)
}

// ContainsTruthMask reports whether a truth mask exists for the word.
func (e *Experiment) ContainsTruthMask(word string) bool {
	_, ok := e.TruthMasks[strings.ToLower(word)]
	return ok
}

// addMask merges mask into the set under the word's lowercase (and
// optionally simplified) name. Overlapping masks accumulate and clamp to
// binary range.
func addMask(masks map[string]grid.Grid, word string, mask grid.Grid, simplify80 bool) {
	if simplify80 {
		word = SimplifyLabel(word)
	}
	word = strings.ToLower(word)
	if existing, ok := masks[word]; ok {
		merged := existing.Clone()
		if err := merged.Add(mask); err != nil {
			slog.Warn("experiment: mask size mismatch, keeping newer", "word", word, "error", err)
			masks[word] = mask.Clone()
			return
		}
		merged.Clamp(0, 1)
		masks[word] = merged
		return
	}
	masks[word] = mask.Clone()
}
