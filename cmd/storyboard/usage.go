package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/aimikata/storyboard/internal/api"
	"github.com/aimikata/storyboard/internal/usage"
)

// UsageReport is today's request count against each configured ceiling.
type UsageReport struct {
	Date      string         `json:"date" yaml:"date"`
	Count     int            `json:"count" yaml:"count"`
	Remaining map[string]int `json:"remaining" yaml:"remaining"`
}

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Inspect the daily request counter",
	Long: `The usage counter holds the number of successful requests made today.
It resets at local midnight and is shared by the server and local runs
that use the same store.

While a server is running prefer "storyboard api usage", since the server
writes its own counter after every batch.`,
}

var usageShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show today's count and remaining budget",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLedger(cmd.Context(), false)
	},
}

var usageResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset today's count to zero",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLedger(cmd.Context(), true)
	},
}

func withLedger(ctx context.Context, reset bool) error {
	h, cm, err := loadEnv()
	if err != nil {
		return err
	}
	cfg := cm.Get()
	store, err := openStore(h, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	now := time.Now()
	ledger, err := usage.Load(ctx, store, now)
	if err != nil {
		return err
	}
	if reset {
		ledger.Reset(now)
		if err := ledger.Save(ctx, store); err != nil {
			return err
		}
	}

	count := ledger.Count(now)
	ceilings := cfg.Ceilings()
	report := UsageReport{Date: usage.Day(now), Count: count, Remaining: make(map[string]int, len(ceilings))}
	for model := range ceilings {
		report.Remaining[model] = ceilings.Remaining(count, model)
	}
	return api.Output(report)
}

func init() {
	usageCmd.AddCommand(usageShowCmd)
	usageCmd.AddCommand(usageResetCmd)
	rootCmd.AddCommand(usageCmd)
}
