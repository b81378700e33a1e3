package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	verbose bool

	planPath     string
	prompt       string
	negative     string
	seed         int64
	steps        int
	guidance     float32
	outDir       string
	words        []string
	displaySide  int
	maskCutoff   float32
	includeRegex []string
	excludeRegex []string
	accumulation string
	headPolicy   string
	canonical    int

	inspectWords []string
	inspectTerm  string
	occurrence   int

	rootCmd = &cobra.Command{
		Use:   "daam",
		Short: "Trace cross-attention during diffusion and render where each word landed",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelWarn
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}

	generateCmd = &cobra.Command{
		Use:   "generate",
		Short: "Run the reference pipeline under a trace and save the experiment",
		Long: `Generate runs the built-in latent diffusion model with a trace session
attached, then writes an experiment directory holding the output image, the
heat map payload and one overlay PNG per requested word. Settings come from
a YAML run plan, individual flags, or both (flags win).`,
		Run: runGenerate, // Defined in cmd_generate.go
	}

	inspectCmd = &cobra.Command{
		Use:   "inspect [experiment-dir]",
		Short: "Load a saved experiment and render word or term heat maps",
		Args:  cobra.ExactArgs(1),
		Run:   runInspect, // Defined in cmd_inspect.go
	}

	detectCmd = &cobra.Command{
		Use:   "detect",
		Short: "Probe the WebGPU adapter and print a capability report",
		Run:   runDetect, // Defined in cmd_detect.go
	}
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(generateCmd)
	generateCmd.Flags().StringVar(&planPath, "plan", "", "Path to a YAML run plan")
	generateCmd.Flags().StringVarP(&prompt, "prompt", "p", "", "Prompt to generate from")
	generateCmd.Flags().StringVar(&negative, "negative", "", "Negative prompt for guidance")
	generateCmd.Flags().Int64Var(&seed, "seed", 0, "Generation seed (0 picks one)")
	generateCmd.Flags().IntVar(&steps, "steps", 0, "Sampling steps (default 20)")
	generateCmd.Flags().Float32Var(&guidance, "guidance", 0, "Guidance scale (>1 enables CFG)")
	generateCmd.Flags().StringVarP(&outDir, "out", "o", "", "Experiment root directory (default runs)")
	generateCmd.Flags().StringSliceVarP(&words, "word", "w", nil, "Words to render overlays for (repeatable)")
	generateCmd.Flags().IntVar(&displaySide, "display", 0, "Upscale overlays to this side length")
	generateCmd.Flags().Float32Var(&maskCutoff, "mask-threshold", 0, "Also save binary prediction masks above this value")
	generateCmd.Flags().StringSliceVar(&includeRegex, "include-layers", nil, "Only trace layers matching these patterns")
	generateCmd.Flags().StringSliceVar(&excludeRegex, "exclude-layers", nil, "Skip layers matching these patterns")
	generateCmd.Flags().StringVar(&accumulation, "accumulation", "", "Aggregate moment: sum, mean-per-step or mean-per-layer")
	generateCmd.Flags().StringVar(&headPolicy, "heads", "", "Head reduction: uniform or mass-weighted")
	generateCmd.Flags().IntVar(&canonical, "canonical", 0, "Canonical heat map resolution (0 = largest site)")

	rootCmd.AddCommand(inspectCmd)
	inspectCmd.Flags().StringSliceVarP(&inspectWords, "word", "w", nil, "Words to render heat maps for (repeatable)")
	inspectCmd.Flags().StringVar(&inspectTerm, "term", "", "Multi-word term to render one combined map for")
	inspectCmd.Flags().IntVar(&occurrence, "occurrence", -1, "Occurrence index when a word repeats (single --word only)")
	inspectCmd.Flags().IntVar(&displaySide, "display", 0, "Upscale rendered maps to this side length")

	rootCmd.AddCommand(detectCmd)
}
