package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aimikata/storyboard/internal/api"
	"github.com/aimikata/storyboard/internal/home"
	"github.com/aimikata/storyboard/internal/refs"
	"github.com/aimikata/storyboard/internal/script"
	"github.com/aimikata/storyboard/internal/server/endpoints"
	"github.com/aimikata/storyboard/internal/types"
)

var (
	genChain        []string
	genConcurrency  int
	genConservative bool
	genForce        bool
)

var generateCmd = &cobra.Command{
	Use:   "generate <script-file>",
	Short: "Generate every page of a script without a server",
	Long: `Generate runs a batch in-process and writes one file per page to
~/.storyboard/outputs/<batch-id>/.

Rate-limited requests are retried with exponential backoff, then the next
model in the chain is tried. The run is refused when it would cross the
daily ceiling of the first model unless --force is given.

Examples:
  storyboard generate script.csv
  storyboard generate script.tsv --conservative
  storyboard generate script.csv --chain gemini-2.5-flash-image,gpt-image-1`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
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

		pages, err := readScript(args[0], s.cfg.Generation.LegacyEncoding)
		if err != nil {
			return err
		}
		if dups := script.Duplicates(pages); len(dups) > 0 {
			s.logger.Warn("script repeats page numbers", "pages", dups)
		}
		for _, link := range refs.AnalyzeLinks(pages, s.pool) {
			if link.Status == refs.LinkMissing {
				s.logger.Warn("no reference image", "reference", link.Reference, "pages", link.Pages)
			}
		}

		chain := genChain
		if len(chain) == 0 {
			chain = s.cfg.Generation.ImageChain
		}
		opts := s.cfg.Generation.BatchOptions(chain)
		if genConcurrency > 0 {
			opts.Concurrency = genConcurrency
		}
		opts.Conservative = opts.Conservative || genConservative
		opts.Force = genForce
		opts.Pool = s.pool
		opts.Ledger = s.ledger
		opts.OnStatus = s.logEvent

		ptrs := make([]*types.PageSpec, len(pages))
		for i := range pages {
			ptrs[i] = &pages[i]
		}
		result, runErr := s.scheduler.RunBatch(ctx, ptrs, opts)
		if result == nil {
			return budgetHint(runErr)
		}
		if result.Warning != nil {
			s.logger.Warn("ran past the daily budget", "warning", result.Warning.String())
		}

		if err := writeArtifacts(s.home, result.BatchID, pages); err != nil {
			return err
		}
		s.logger.Info("batch finished", "batch", result.BatchID, "dir", s.home.BatchDir(result.BatchID),
			"succeeded", result.Succeeded, "failed", result.Failed, "idle", result.Idle)
		if err := api.Output(result); err != nil {
			return err
		}
		if runErr != nil {
			return runErr
		}
		if result.Failed > 0 {
			return fmt.Errorf("%d of %d pages failed", result.Failed, len(pages))
		}
		return nil
	},
}

func init() {
	generateCmd.Flags().StringSliceVar(&genChain, "chain", nil, "Models to try in order (default from config)")
	generateCmd.Flags().IntVar(&genConcurrency, "concurrency", 0, "Parallel requests (default from config)")
	generateCmd.Flags().BoolVar(&genConservative, "conservative", false, "One request at a time, paced at the model's RPM")
	generateCmd.Flags().BoolVar(&genForce, "force", false, "Proceed past the daily budget warning")

	rootCmd.AddCommand(generateCmd)
}

// readScript parses a script file, decoding legacy encodings.
func readScript(path, legacyEncoding string) ([]types.PageSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}
	pages, err := script.ParseBytes(data, script.DecodeOptions{LegacyEncoding: legacyEncoding})
	if err != nil {
		return nil, fmt.Errorf("invalid script %s: %w", path, err)
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("no pages in %s", path)
	}
	for i := range pages {
		pages[i].Status = types.StatusIdle
	}
	return pages, nil
}

// writeArtifacts saves every generated page under the batch directory.
func writeArtifacts(h *home.Dir, batchID string, pages []types.PageSpec) error {
	if err := h.EnsureBatchDir(batchID); err != nil {
		return fmt.Errorf("failed to create batch directory: %w", err)
	}
	for _, p := range pages {
		if p.Result == nil {
			continue
		}
		data := p.Result.Data
		if !p.Result.IsBinary() {
			data = []byte(p.Result.Text)
		}
		path := h.ArtifactPath(batchID, p.PageNumber, p.Template, endpoints.ArtifactExtension(data))
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("failed to write page %d: %w", p.PageNumber, err)
		}
	}
	return nil
}
