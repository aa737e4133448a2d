package main

import (
	"context"
	"fmt"
	"fuzzrig/internal/fuzz"
	"fuzzrig/internal/workflow"

	"github.com/spf13/cobra"
)

var (
	buildCmd = &cobra.Command{
		Use:   "build [target]",
		Short: "Build fuzz targets, every target when none is named",
		Args:  cobra.MaximumNArgs(1),
	}
	buildOpts = addBuildFlags(buildCmd)

	checkCmd = &cobra.Command{
		Use:   "check [target]",
		Short: "Type-check fuzz targets with the fuzzing configuration",
		Args:  cobra.MaximumNArgs(1),
	}
	checkOpts = addBuildFlags(checkCmd)

	listCmd = &cobra.Command{
		Use:   "list",
		Short: "List the fuzz targets of the project",
		Args:  cobra.NoArgs,
	}

	runCmd = &cobra.Command{
		Use:   "run <target> [corpus dirs | input files] [-- engine args]",
		Short: "Fuzz a target, or replay input files against it",
		Args:  cobra.MinimumNArgs(1),
	}
	runBuild  = addBuildFlags(runCmd)
	runEngine = addEngineFlags(runCmd)

	tminCmd = &cobra.Command{
		Use:   "tmin <target> <input> [-- engine args]",
		Short: "Minimize a crashing input",
		Args:  cobra.MinimumNArgs(2),
	}
	tminBuild  = addBuildFlags(tminCmd)
	tminEngine = addEngineFlags(tminCmd)
	tminStalls = tminCmd.Flags().Int("max-stalls", 0, "stop after this many rounds without a reduction (default FUZZRIG_MAX_STALLS)")
	tminRounds = tminCmd.Flags().Int("max-rounds", 0, "stop after this many rounds")

	cminCmd = &cobra.Command{
		Use:   "cmin <target> [corpus dir] [-- engine args]",
		Short: "Minimize a corpus to the inputs that add coverage",
		Args:  cobra.MinimumNArgs(1),
	}
	cminBuild  = addBuildFlags(cminCmd)
	cminEngine = addEngineFlags(cminCmd)

	coverageCmd = &cobra.Command{
		Use:   "coverage <target> [corpus dirs] [-- engine args]",
		Short: "Collect coverage over a corpus and merge it into coverage.profdata",
		Args:  cobra.MinimumNArgs(1),
	}
	coverageBuild   = addBuildFlags(coverageCmd)
	coverageEngine  = addEngineFlags(coverageCmd)
	coverageStop    = coverageCmd.Flags().Bool("stop-on-crash", false, "stop the sweep at the first crashing input")
	coverageBatch   = coverageCmd.Flags().Int("batch-size", 0, "write one raw profile per batch of inputs instead of one per input")
	coverageRebuild = coverageCmd.Flags().Bool("rebuild", false, "merge every raw profile ever collected from scratch")

	fmtCmd = &cobra.Command{
		Use:   "fmt <target> <input>",
		Short: "Print the std::fmt::Debug output of an input",
		Args:  cobra.ExactArgs(2),
	}
	fmtBuild = addBuildFlags(fmtCmd)
)

func init() {
	buildCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return withWorkflow(cmd, func(ctx context.Context, wf *workflow.Workflow) error {
			opts, err := buildOpts.options(cmd, wf.Project().Defaults())
			if err != nil {
				return err
			}
			_, err = wf.Build(ctx, optionalArg(args), opts)
			return err
		})
	}

	checkCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return withWorkflow(cmd, func(ctx context.Context, wf *workflow.Workflow) error {
			opts, err := checkOpts.options(cmd, wf.Project().Defaults())
			if err != nil {
				return err
			}
			return wf.Check(ctx, optionalArg(args), opts)
		})
	}

	listCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return withWorkflow(cmd, func(ctx context.Context, wf *workflow.Workflow) error {
			wf.List()
			return nil
		})
	}

	runCmd.RunE = func(cmd *cobra.Command, args []string) error {
		engine, positional := runEngine.options(cmd, args)
		if len(positional) < 1 {
			return fmt.Errorf("missing fuzz target")
		}
		return withWorkflow(cmd, func(ctx context.Context, wf *workflow.Workflow) error {
			opts, err := runBuild.options(cmd, wf.Project().Defaults())
			if err != nil {
				return err
			}
			_, err = wf.Run(ctx, workflow.RunRequest{
				Target: positional[0],
				Build:  opts,
				Engine: engine,
				Inputs: positional[1:],
			})
			return err
		})
	}

	tminCmd.RunE = func(cmd *cobra.Command, args []string) error {
		engine, positional := tminEngine.options(cmd, args)
		if len(positional) != 2 {
			return fmt.Errorf("expected <target> <input>, got %d arguments", len(positional))
		}
		return withWorkflow(cmd, func(ctx context.Context, wf *workflow.Workflow) error {
			opts, err := tminBuild.options(cmd, wf.Project().Defaults())
			if err != nil {
				return err
			}
			_, err = wf.Tmin(ctx, workflow.TminRequest{
				Target:    positional[0],
				Build:     opts,
				Engine:    engine,
				Input:     positional[1],
				MaxStalls: *tminStalls,
				MaxRounds: *tminRounds,
			})
			return err
		})
	}

	cminCmd.RunE = func(cmd *cobra.Command, args []string) error {
		engine, positional := cminEngine.options(cmd, args)
		if len(positional) < 1 || len(positional) > 2 {
			return fmt.Errorf("expected <target> [corpus dir], got %d arguments", len(positional))
		}
		return withWorkflow(cmd, func(ctx context.Context, wf *workflow.Workflow) error {
			opts, err := cminBuild.options(cmd, wf.Project().Defaults())
			if err != nil {
				return err
			}
			_, err = wf.Cmin(ctx, workflow.CminRequest{
				Target: positional[0],
				Build:  opts,
				Engine: engine,
				Corpus: optionalArg(positional[1:]),
			})
			return err
		})
	}

	coverageCmd.RunE = func(cmd *cobra.Command, args []string) error {
		engine, positional := coverageEngine.options(cmd, args)
		if len(positional) < 1 {
			return fmt.Errorf("missing fuzz target")
		}
		policy := fuzz.ContinueOnCrash
		if *coverageStop {
			policy = fuzz.StopOnFirstCrash
		}
		return withWorkflow(cmd, func(ctx context.Context, wf *workflow.Workflow) error {
			opts, err := coverageBuild.options(cmd, wf.Project().Defaults())
			if err != nil {
				return err
			}
			_, err = wf.Coverage(ctx, workflow.CoverageRequest{
				Target:    positional[0],
				Build:     opts,
				Engine:    engine,
				Dirs:      positional[1:],
				Policy:    policy,
				BatchSize: *coverageBatch,
				Rebuild:   *coverageRebuild,
			})
			return err
		})
	}

	fmtCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return withWorkflow(cmd, func(ctx context.Context, wf *workflow.Workflow) error {
			opts, err := fmtBuild.options(cmd, wf.Project().Defaults())
			if err != nil {
				return err
			}
			return wf.Fmt(ctx, workflow.FmtRequest{Target: args[0], Build: opts, Input: args[1]})
		})
	}
}

func optionalArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
