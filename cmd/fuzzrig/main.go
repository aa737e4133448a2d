package main

import (
	"errors"
	"fmt"
	"fuzzrig/internal/types"
	"os"

	"github.com/spf13/cobra"
	_ "go.uber.org/automaxprocs"
)

var rootCmd = &cobra.Command{
	Use:   "fuzzrig",
	Short: "Build, run and triage libFuzzer targets of a cargo fuzz project",
	Long: `fuzzrig drives the Rust toolchain to build instrumented fuzz targets,
supervises libFuzzer runs, persists crashing inputs and maintains minimized
crashes, minimized corpora and coverage profiles.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	rootCmd.PersistentFlags().String("fuzz-dir", "", "fuzz project directory (default: discovered from the working directory)")

	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(tminCmd)
	rootCmd.AddCommand(cminCmd)
	rootCmd.AddCommand(coverageCmd)
	rootCmd.AddCommand(fmtCmd)

	err := rootCmd.Execute()
	if err != nil {
		var crash *types.CrashFoundError
		// the failure report has already been printed
		if !errors.As(err, &crash) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
	}
	os.Exit(types.ExitCode(err))
}
