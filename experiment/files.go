package experiment

import (
	"encoding/json"
	"errors"
	"fmt"
	"image/color"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/openfluke/daam/daam"
	"github.com/openfluke/daam/grid"
	"github.com/openfluke/daam/render"
)

const (
	generationFile  = "generation.json"
	outputFile      = "output.png"
	promptFile      = "prompt.txt"
	seedFile        = "seed.txt"
	annotationsFile = "annotations.json"
)

type generationPayload struct {
	ID     string       `json:"id"`
	Prompt string       `json:"prompt"`
	Seed   int64        `json:"seed"`
	Heat   *heatPayload `json:"heat_map,omitempty"`
}

type heatPayload struct {
	Prompt string           `json:"prompt"`
	Size   int              `json:"size"`
	Spans  []daam.TokenSpan `json:"spans"`
	Grids  []gridPayload    `json:"grids"`
}

type gridPayload struct {
	H    int       `json:"h"`
	W    int       `json:"w"`
	Data []float32 `json:"data"`
}

func encodeHeat(m *daam.GlobalHeatMap) *heatPayload {
	if m == nil {
		return nil
	}
	p := &heatPayload{Prompt: m.Prompt(), Size: m.Size(), Spans: m.Spans()}
	for _, g := range m.Grids() {
		p.Grids = append(p.Grids, gridPayload{H: g.H, W: g.W, Data: g.Data})
	}
	return p
}

func decodeHeat(p *heatPayload) (*daam.GlobalHeatMap, error) {
	grids := make([]grid.Grid, 0, len(p.Grids))
	for i, gp := range p.Grids {
		g, err := grid.FromData(gp.H, gp.W, gp.Data)
		if err != nil {
			return nil, fmt.Errorf("heat map grid %d: %w", i, err)
		}
		grids = append(grids, g)
	}
	return daam.NewGlobalHeatMap(p.Prompt, p.Size, grids, p.Spans), nil
}

// Save writes the experiment under root/ID: the generation record with the
// serialized heat map, the output image, prompt and seed as plain text,
// one grayscale PNG per truth mask, and the annotations when present.
func (e *Experiment) Save(root string) error {
	dir := filepath.Join(root, e.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("save experiment: %w", err)
	}
	e.Dir = dir

	payload := generationPayload{ID: e.ID, Prompt: e.Prompt, Seed: e.Seed, Heat: encodeHeat(e.HeatMap)}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("save experiment %s: %w", e.ID, err)
	}
	if err := os.WriteFile(filepath.Join(dir, generationFile), data, 0o644); err != nil {
		return fmt.Errorf("save experiment %s: %w", e.ID, err)
	}

	if e.Image != nil {
		if err := render.SavePNG(filepath.Join(dir, outputFile), e.Image); err != nil {
			return fmt.Errorf("save experiment %s: %w", e.ID, err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, promptFile), []byte(e.Prompt), 0o644); err != nil {
		return fmt.Errorf("save experiment %s: %w", e.ID, err)
	}
	if err := os.WriteFile(filepath.Join(dir, seedFile), []byte(strconv.FormatInt(e.Seed, 10)), 0o644); err != nil {
		return fmt.Errorf("save experiment %s: %w", e.ID, err)
	}

	for name, mask := range e.TruthMasks {
		path := filepath.Join(dir, name+".gt.png")
		if err := render.SavePNG(path, render.GrayImage(mask)); err != nil {
			return fmt.Errorf("save experiment %s: truth mask %q: %w", e.ID, name, err)
		}
	}

	if e.Annotations != nil {
		if err := e.SaveAnnotations(); err != nil {
			return err
		}
	}
	return nil
}

// SaveAnnotations writes annotations.json into the experiment directory.
func (e *Experiment) SaveAnnotations() error {
	if e.Dir == "" {
		return fmt.Errorf("save annotations: experiment has no directory, call Save first")
	}
	data, err := json.MarshalIndent(e.Annotations, "", "  ")
	if err != nil {
		return fmt.Errorf("save annotations: %w", err)
	}
	if err := os.WriteFile(filepath.Join(e.Dir, annotationsFile), data, 0o644); err != nil {
		return fmt.Errorf("save annotations: %w", err)
	}
	return nil
}

// SavePredictionMask writes one predicted mask as
// "<word>.<prefix>.pred.png", so several predictors can coexist in one
// experiment directory under different prefixes.
func (e *Experiment) SavePredictionMask(word, prefix string, mask grid.Grid) error {
	if e.Dir == "" {
		return fmt.Errorf("save prediction mask: experiment has no directory, call Save first")
	}
	name := fmt.Sprintf("%s.%s.pred.png", strings.ToLower(word), prefix)
	if err := render.SavePNG(filepath.Join(e.Dir, name), render.GrayImage(mask)); err != nil {
		return fmt.Errorf("save prediction mask %q: %w", word, err)
	}
	return nil
}

type loadConfig struct {
	prefix     string
	composite  bool
	simplify80 bool
	vocab      []string
}

// LoadOption adjusts how an experiment directory is read back.
type LoadOption func(*loadConfig)

// WithPredictionPrefix selects which predictor's mask set to load.
// Defaults to "daam".
func WithPredictionPrefix(prefix string) LoadOption {
	return func(c *loadConfig) { c.prefix = prefix }
}

// WithComposite loads predictions from a single composite mask whose pixel
// values index vocab. Indices past the vocabulary get placeholder names.
func WithComposite(vocab []string) LoadOption {
	return func(c *loadConfig) {
		c.composite = true
		c.vocab = vocab
	}
}

// WithSimplify80 folds COCO-80 words onto their COCO-Stuff-27 classes
// while loading masks.
func WithSimplify80() LoadOption {
	return func(c *loadConfig) { c.simplify80 = true }
}

// Load reads an experiment directory back. The generation record is
// required; the image, masks and annotations load when present.
func Load(dir string, opts ...LoadOption) (*Experiment, error) {
	cfg := loadConfig{prefix: "daam"}
	for _, opt := range opts {
		opt(&cfg)
	}

	data, err := os.ReadFile(filepath.Join(dir, generationFile))
	if err != nil {
		return nil, fmt.Errorf("load experiment: %w", err)
	}
	var payload generationPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("load experiment %s: %w", dir, err)
	}

	e := &Experiment{ID: payload.ID, Prompt: payload.Prompt, Seed: payload.Seed, Dir: dir}
	if payload.Heat != nil {
		heat, err := decodeHeat(payload.Heat)
		if err != nil {
			return nil, fmt.Errorf("load experiment %s: %w", dir, err)
		}
		e.HeatMap = heat
	}

	if img, err := render.LoadPNG(filepath.Join(dir, outputFile)); err == nil {
		e.Image = img
	} else if !errors.Is(err, os.ErrNotExist) {
		slog.Warn("experiment: unreadable output image", "dir", dir, "error", err)
	}

	if err := e.loadTruthMasks(cfg); err != nil {
		return nil, err
	}
	if err := e.loadPredictionMasks(cfg); err != nil {
		return nil, err
	}

	if raw, err := os.ReadFile(filepath.Join(dir, annotationsFile)); err == nil {
		if err := json.Unmarshal(raw, &e.Annotations); err != nil {
			return nil, fmt.Errorf("load experiment %s: annotations: %w", dir, err)
		}
	}
	return e, nil
}

func (e *Experiment) loadTruthMasks(cfg loadConfig) error {
	paths, err := filepath.Glob(filepath.Join(e.Dir, "*.gt.png"))
	if err != nil {
		return fmt.Errorf("load truth masks: %w", err)
	}
	for _, p := range paths {
		img, err := render.LoadPNG(p)
		if err != nil {
			slog.Warn("experiment: skipping unreadable truth mask", "path", p, "error", err)
			continue
		}
		word := strings.TrimSuffix(filepath.Base(p), ".gt.png")
		e.AddTruthMask(word, render.MaskGrid(img), cfg.simplify80)
	}
	return nil
}

func (e *Experiment) loadPredictionMasks(cfg loadConfig) error {
	if cfg.composite {
		return e.loadCompositeMasks(cfg)
	}
	suffix := "." + cfg.prefix + ".pred.png"
	paths, err := filepath.Glob(filepath.Join(e.Dir, "*"+suffix))
	if err != nil {
		return fmt.Errorf("load prediction masks: %w", err)
	}
	for _, p := range paths {
		img, err := render.LoadPNG(p)
		if err != nil {
			slog.Warn("experiment: skipping unreadable prediction mask", "path", p, "error", err)
			continue
		}
		word := strings.TrimSuffix(filepath.Base(p), suffix)
		e.AddPredictionMask(word, render.MaskGrid(img), cfg.simplify80)
	}
	return nil
}

// loadCompositeMasks splits one indexed mask image into per-class binary
// masks: every distinct pixel value becomes the mask for the vocabulary
// entry at that index.
func (e *Experiment) loadCompositeMasks(cfg loadConfig) error {
	path := filepath.Join(e.Dir, "composite."+cfg.prefix+".pred.png")
	img, err := render.LoadPNG(path)
	if err != nil {
		return fmt.Errorf("load composite mask: %w", err)
	}

	b := img.Bounds()
	masks := make(map[uint8]grid.Grid)
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			lum := color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray).Y
			m, ok := masks[lum]
			if !ok {
				m = grid.New(b.Dy(), b.Dx())
				masks[lum] = m
			}
			m.Set(y, x, 1)
		}
	}
	for idx, mask := range masks {
		name := unusedLabel(int(idx))
		if int(idx) < len(cfg.vocab) {
			name = cfg.vocab[idx]
		}
		e.AddPredictionMask(name, mask, cfg.simplify80)
	}
	return nil
}

// HasExperiment reports whether root/id holds a saved generation record.
func HasExperiment(root, id string) bool {
	_, err := os.Stat(filepath.Join(root, id, generationFile))
	return err == nil
}

// HasAnnotations reports whether the directory holds annotations.
func HasAnnotations(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, annotationsFile))
	return err == nil
}

// ContainsTruthMask reports whether the directory holds any ground-truth
// mask.
func ContainsTruthMask(dir string) bool {
	paths, err := filepath.Glob(filepath.Join(dir, "*.gt.png"))
	return err == nil && len(paths) > 0
}

// ReadSeed reads the seed recorded in a directory.
func ReadSeed(dir string) (int64, error) {
	data, err := os.ReadFile(filepath.Join(dir, seedFile))
	if err != nil {
		return 0, fmt.Errorf("read seed: %w", err)
	}
	seed, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("read seed %s: %w", dir, err)
	}
	return seed, nil
}

// ReadPrompt reads the prompt recorded in a directory.
func ReadPrompt(dir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(dir, promptFile))
	if err != nil {
		return "", fmt.Errorf("read prompt: %w", err)
	}
	return string(data), nil
}
