package main

import (
	"fmt"
	"log"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openfluke/daam/experiment"
	"github.com/openfluke/daam/grid"
	"github.com/openfluke/daam/render"
)

func runInspect(cmd *cobra.Command, args []string) {
	dir := args[0]
	e, err := experiment.Load(dir)
	if err != nil {
		log.Fatalf("Could not load experiment: %v", err)
	}

	fmt.Printf("prompt: %s\n", e.Prompt)
	fmt.Printf("seed:   %d\n", e.Seed)
	if e.HeatMap == nil {
		log.Fatalf("Experiment %s has no heat map payload", e.ID)
	}
	heat := e.HeatMap
	fmt.Printf("heat:   %dx%d over %d token positions\n", heat.Size(), heat.Size(), heat.TokenCount())

	if len(inspectWords) == 0 && inspectTerm == "" {
		printSummary(e)
		return
	}

	if occurrence >= 0 && len(inspectWords) != 1 {
		log.Fatalf("--occurrence needs exactly one --word")
	}

	for _, word := range inspectWords {
		var (
			g    grid.Grid
			werr error
		)
		if occurrence >= 0 {
			g, werr = heat.WordHeatMapAt(word, occurrence)
		} else {
			g, werr = heat.WordHeatMap(word)
		}
		if werr != nil {
			log.Printf("Skipping %q: %v", word, werr)
			continue
		}
		writeMap(e, word, g)
	}

	if inspectTerm != "" {
		g, terr := heat.TermHeatMap(inspectTerm)
		if terr != nil {
			log.Fatalf("Term %q: %v", inspectTerm, terr)
		}
		writeMap(e, strings.Join(strings.Fields(inspectTerm), "_"), g)
	}
}

// writeMap renders one heat map into the experiment directory, over the
// generated image when the experiment still has one, as a normalized
// grayscale map otherwise.
func writeMap(e *experiment.Experiment, name string, g grid.Grid) {
	var err error
	if e.Image != nil {
		err = saveOverlay(e.Dir, name, e.Image, g, displaySide)
	} else {
		side := g.W
		if displaySide > 0 {
			side = displaySide
		}
		err = render.SavePNG(overlayPath(e.Dir, name), render.GrayImage(grid.Expand(g, side)))
	}
	if err != nil {
		log.Printf("Could not render %q: %v", name, err)
		return
	}
	fmt.Printf("  %-15s mass %8.3f -> %s\n", name, g.Sum(), overlayPath(e.Dir, name))
}

// printSummary lists what the directory holds when no query was asked.
func printSummary(e *experiment.Experiment) {
	spans := e.HeatMap.Spans()
	if len(spans) > 0 {
		fmt.Println("words:")
		for _, s := range spans {
			fmt.Printf("  %-15s tokens [%d, %d)\n", s.Word, s.Start, s.End)
		}
	}
	if len(e.TruthMasks) > 0 {
		fmt.Println("truth masks:")
		for word := range e.TruthMasks {
			fmt.Printf("  %s\n", word)
		}
	}
	if len(e.PredictionMasks) > 0 {
		fmt.Println("prediction masks:")
		for word := range e.PredictionMasks {
			fmt.Printf("  %s\n", word)
		}
	}
	for key, value := range e.Annotations {
		fmt.Printf("annotation %s: %v\n", key, value)
	}
}
