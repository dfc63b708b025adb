package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aimikata/storyboard/internal/api"
	"github.com/aimikata/storyboard/internal/blueprint"
	"github.com/aimikata/storyboard/internal/jobs"
	"github.com/aimikata/storyboard/internal/server/endpoints"
)

var (
	scriptReq       endpoints.GenerateScriptRequest
	scriptBriefFile string
	scriptPlanFile  string
	scriptOut       string
)

var scriptCmd = &cobra.Command{
	Use:   "script",
	Short: "Write page scripts from a brief without a server",
	Long: `Script allocates a blueprint, asks the script models for the page
prompts in chunks and writes the result as a CSV script ready for
"storyboard generate".

Truncated responses are repaired; pages that still cannot be recovered are
written as placeholders and listed as skipped.

Examples:
  storyboard script --brief story.txt -n 24 --cover --out script.csv
  storyboard script --brief topic.txt -n 40 --policy explainer --plan plan.txt`,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		if scriptBriefFile == "" {
			return fmt.Errorf("--brief is required")
		}
		brief, err := os.ReadFile(scriptBriefFile)
		if err != nil {
			return fmt.Errorf("failed to read brief: %w", err)
		}
		if err := endpoints.ReadPlan(&scriptReq.Blueprint, scriptPlanFile); err != nil {
			return err
		}

		ctx := cmd.Context()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := s.close(); cerr != nil && err == nil {
				err = cerr
			}
		}()

		bpOpts, err := scriptReq.Blueprint.Options(s.cfg.Generation.RolePolicy)
		if err != nil {
			return err
		}
		slots, err := blueprint.Allocate(bpOpts)
		if err != nil {
			return err
		}

		chain := scriptReq.Chain
		if len(chain) == 0 {
			chain = s.cfg.Generation.ScriptChain
		}
		opts := s.cfg.Generation.BatchOptions(chain)
		opts.Force = scriptReq.Force
		opts.Ledger = s.ledger
		opts.OnStatus = s.logEvent

		batchSize := scriptReq.BatchSize
		if batchSize <= 0 {
			batchSize = s.cfg.Generation.ScriptBatchSize
		}

		result, runErr := s.scheduler.RunScriptBatch(ctx, jobs.ScriptRequest{
			Slots:        slots,
			Brief:        string(brief),
			Instructions: scriptReq.Instructions,
			BatchSize:    batchSize,
		}, opts)
		if result == nil {
			return budgetHint(runErr)
		}
		if result.Err != nil {
			s.logger.Warn("script batch incomplete", "skipped", result.Skipped, "error", result.Err)
		}

		if scriptOut == "" {
			if err := api.Output(result); err != nil {
				return err
			}
			return runErr
		}
		if err := endpoints.WriteScript(scriptOut, result.Pages()); err != nil {
			return err
		}
		s.logger.Info("script written", "path", scriptOut, "pages", len(result.Items),
			"repaired", result.Repaired, "skipped", len(result.Skipped))
		return runErr
	},
}

func init() {
	endpoints.BindBlueprintFlags(scriptCmd, &scriptReq.Blueprint, &scriptPlanFile)
	scriptCmd.Flags().StringVar(&scriptBriefFile, "brief", "", "File with the story or topic (required)")
	scriptCmd.Flags().StringVar(&scriptReq.Instructions, "instructions", "", "Extra style rules for every request")
	scriptCmd.Flags().StringSliceVar(&scriptReq.Chain, "chain", nil, "Models to try in order (default from config)")
	scriptCmd.Flags().IntVar(&scriptReq.BatchSize, "batch-size", 0, "Pages per request (default from config)")
	scriptCmd.Flags().BoolVar(&scriptReq.Force, "force", false, "Proceed past the daily budget warning")
	scriptCmd.Flags().StringVar(&scriptOut, "out", "", "Write the pages as a CSV script instead of printing")

	rootCmd.AddCommand(scriptCmd)
}
