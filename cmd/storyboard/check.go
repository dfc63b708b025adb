package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aimikata/storyboard/internal/api"
	"github.com/aimikata/storyboard/internal/blueprint"
	"github.com/aimikata/storyboard/internal/refs"
	"github.com/aimikata/storyboard/internal/script"
	"github.com/aimikata/storyboard/internal/server/endpoints"
	"github.com/aimikata/storyboard/internal/types"
)

// CheckReport is what check prints for a script.
type CheckReport struct {
	Pages      int               `json:"pages" yaml:"pages"`
	Duplicates []int             `json:"duplicates,omitempty" yaml:"duplicates,omitempty"`
	Links      []refs.LinkReport `json:"links" yaml:"links"`
}

var checkCmd = &cobra.Command{
	Use:   "check <script-file>",
	Short: "Validate a script and its reference images",
	Long: `Check parses a script the way generate would and reports repeated page
numbers and bracket references that have no image in
~/.storyboard/assets, along with images no page mentions.

Nothing is sent to a model.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, cm, err := loadEnv()
		if err != nil {
			return err
		}
		pages, err := readScript(args[0], cm.Get().Generation.LegacyEncoding)
		if err != nil {
			return err
		}

		pool := refs.NewPool()
		if _, statErr := os.Stat(h.AssetsPath()); statErr == nil {
			if pool, err = refs.LoadDir(h.AssetsPath()); err != nil {
				return fmt.Errorf("failed to load reference assets: %w", err)
			}
		}
		return api.Output(checkScript(pages, pool))
	},
}

func checkScript(pages []types.PageSpec, pool *refs.Pool) CheckReport {
	links := refs.AnalyzeLinks(pages, pool)
	if links == nil {
		links = []refs.LinkReport{}
	}
	return CheckReport{
		Pages:      len(pages),
		Duplicates: script.Duplicates(pages),
		Links:      links,
	}
}

var (
	planReq  endpoints.BlueprintRequest
	planFile string
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Allocate page roles, volumes and chapters",
	Long: `Plan prints the blueprint a script would be written against: one slot
per page with its role, volume and chapter.

Examples:
  storyboard plan -n 12 --cover
  storyboard plan -n 40 --plan plan.txt --policy explainer -O json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := endpoints.ReadPlan(&planReq, planFile); err != nil {
			return err
		}
		_, cm, err := loadEnv()
		if err != nil {
			return err
		}
		opts, err := planReq.Options(cm.Get().Generation.RolePolicy)
		if err != nil {
			return err
		}
		slots, err := blueprint.Allocate(opts)
		if err != nil {
			return err
		}
		return api.Output(slots)
	},
}

func init() {
	endpoints.BindBlueprintFlags(planCmd, &planReq, &planFile)

	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(planCmd)
}
