package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/openfluke/daam/daam"
)

// RunPlan is the YAML shape of one generation run. Every field has a flag
// counterpart on the generate command; flags set explicitly override the
// plan file.
type RunPlan struct {
	ID       string  `yaml:"id"`
	Prompt   string  `yaml:"prompt"`
	Negative string  `yaml:"negative_prompt"`
	Seed     int64   `yaml:"seed"`
	Steps    int     `yaml:"steps"`
	Guidance float32 `yaml:"guidance_scale"`

	Out     string   `yaml:"out"`
	Words   []string `yaml:"words"`
	Display int      `yaml:"display"`
	// MaskThreshold > 0 additionally writes <word>.daam.pred.png binary
	// masks cut at the value after normalization.
	MaskThreshold float32 `yaml:"mask_threshold"`

	IncludeLayers []string `yaml:"include_layers"`
	ExcludeLayers []string `yaml:"exclude_layers"`
	Accumulation  string   `yaml:"accumulation"`
	Heads         string   `yaml:"heads"`
	Canonical     int      `yaml:"canonical"`
}

func loadPlan(path string) (RunPlan, error) {
	var p RunPlan
	raw, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("read run plan: %w", err)
	}
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("parse run plan %s: %w", path, err)
	}
	return p, nil
}

func (p RunPlan) validate() error {
	if p.Prompt == "" {
		return fmt.Errorf("run plan needs a prompt")
	}
	switch p.Accumulation {
	case "", "sum", "mean-per-step", "mean-per-layer":
	default:
		return fmt.Errorf("unknown accumulation %q, want sum, mean-per-step or mean-per-layer", p.Accumulation)
	}
	switch p.Heads {
	case "", "uniform", "mass-weighted":
	default:
		return fmt.Errorf("unknown head policy %q, want uniform or mass-weighted", p.Heads)
	}
	return nil
}

// traceOptions maps the plan's trace fields onto session options.
func (p RunPlan) traceOptions() []daam.Option {
	var opts []daam.Option
	if len(p.IncludeLayers) > 0 {
		opts = append(opts, daam.WithIncludeLayers(p.IncludeLayers...))
	}
	if len(p.ExcludeLayers) > 0 {
		opts = append(opts, daam.WithExcludeLayers(p.ExcludeLayers...))
	}
	switch p.Accumulation {
	case "mean-per-step":
		opts = append(opts, daam.WithAccumulation(daam.AccumulateMeanPerStep))
	case "mean-per-layer":
		opts = append(opts, daam.WithAccumulation(daam.AccumulateMeanPerLayer))
	}
	if p.Heads == "mass-weighted" {
		opts = append(opts, daam.WithHeadWeights(daam.MassWeightedHeads()))
	}
	if p.Canonical > 0 {
		opts = append(opts, daam.WithCanonicalSize(p.Canonical))
	}
	return opts
}
