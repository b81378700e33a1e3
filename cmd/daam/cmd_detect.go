package main

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/openfluke/daam/gpu"
)

func runDetect(cmd *cobra.Command, args []string) {
	out, err := gpu.DetectJSON()
	if err != nil {
		log.Fatalf("No usable WebGPU adapter: %v (the resampler will fall back to the CPU)", err)
	}
	fmt.Println(out)
}
