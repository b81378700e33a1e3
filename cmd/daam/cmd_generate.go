package main

import (
	"fmt"
	"image"
	"log"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openfluke/daam/daam"
	"github.com/openfluke/daam/diffusion"
	"github.com/openfluke/daam/experiment"
	"github.com/openfluke/daam/grid"
	"github.com/openfluke/daam/render"
)

// effectivePlan merges the optional plan file with whatever flags were set
// explicitly on the command line.
func effectivePlan(cmd *cobra.Command) (RunPlan, error) {
	var plan RunPlan
	if planPath != "" {
		loaded, err := loadPlan(planPath)
		if err != nil {
			return plan, err
		}
		plan = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("prompt") {
		plan.Prompt = prompt
	}
	if flags.Changed("negative") {
		plan.Negative = negative
	}
	if flags.Changed("seed") {
		plan.Seed = seed
	}
	if flags.Changed("steps") {
		plan.Steps = steps
	}
	if flags.Changed("guidance") {
		plan.Guidance = guidance
	}
	if flags.Changed("out") {
		plan.Out = outDir
	}
	if flags.Changed("word") {
		plan.Words = words
	}
	if flags.Changed("display") {
		plan.Display = displaySide
	}
	if flags.Changed("mask-threshold") {
		plan.MaskThreshold = maskCutoff
	}
	if flags.Changed("include-layers") {
		plan.IncludeLayers = includeRegex
	}
	if flags.Changed("exclude-layers") {
		plan.ExcludeLayers = excludeRegex
	}
	if flags.Changed("accumulation") {
		plan.Accumulation = accumulation
	}
	if flags.Changed("heads") {
		plan.Heads = headPolicy
	}
	if flags.Changed("canonical") {
		plan.Canonical = canonical
	}

	if plan.Out == "" {
		plan.Out = "runs"
	}
	return plan, plan.validate()
}

func runGenerate(cmd *cobra.Command, args []string) {
	plan, err := effectivePlan(cmd)
	if err != nil {
		log.Fatalf("Invalid run configuration: %v", err)
	}

	model := diffusion.New(diffusion.DefaultModelConfig())
	gen := diffusion.Config{
		Prompt:         plan.Prompt,
		NegativePrompt: plan.Negative,
		Steps:          plan.Steps,
		GuidanceScale:  plan.Guidance,
		Seed:           plan.Seed,
		Progress: func(step, total int) {
			fmt.Printf("\rstep %d/%d", step, total)
		},
	}

	var res *diffusion.Result
	session, err := daam.Run(model, func() error {
		r, err := model.Generate(cmd.Context(), gen)
		res = r
		return err
	}, plan.traceOptions()...)
	fmt.Println()
	if err != nil {
		log.Fatalf("Generation failed: %v", err)
	}

	report := session.Report()
	fmt.Printf("captured %d records from %d sites over %d steps (canonical %dx%d)\n",
		report.Records, report.Sites, report.Steps, report.Canonical, report.Canonical)
	if rerr := report.Err(); rerr != nil {
		fmt.Printf("warning: %v\n", rerr)
	}

	heat := session.HeatMap(plan.Prompt)
	e := experiment.New(plan.ID, plan.Prompt, res.Seed, res.Image, heat)
	if err := e.Save(plan.Out); err != nil {
		log.Fatalf("Could not save experiment: %v", err)
	}
	fmt.Printf("experiment %s saved to %s\n", e.ID, e.Dir)

	for _, word := range plan.Words {
		g, err := heat.WordHeatMap(word)
		if err != nil {
			log.Printf("Skipping %q: %v", word, err)
			continue
		}
		if err := saveOverlay(e.Dir, word, res.Image, g, plan.Display); err != nil {
			log.Printf("Could not render %q: %v", word, err)
			continue
		}
		if plan.MaskThreshold > 0 {
			mask := grid.Expand(g, heat.Size(), grid.WithThreshold(plan.MaskThreshold))
			if err := e.SavePredictionMask(word, "daam", mask); err != nil {
				log.Printf("Could not save mask for %q: %v", word, err)
			}
		}
		fmt.Printf("  %-15s mass %8.3f\n", word, g.Sum())
	}
}

// saveOverlay composites the heat map over the base image and writes it
// as <word>.overlay.png, upscaled when display is set.
func saveOverlay(dir, word string, base image.Image, g grid.Grid, display int) error {
	out := render.Overlay(base, g)
	var img image.Image = out
	if display > 0 {
		img = render.Upscale(out, display)
	}
	return render.SavePNG(overlayPath(dir, word), img)
}

func overlayPath(dir, word string) string {
	return filepath.Join(dir, fmt.Sprintf("%s.overlay.png", strings.ToLower(word)))
}
