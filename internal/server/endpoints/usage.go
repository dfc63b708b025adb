package endpoints

import (
	"net/http"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/aimikata/storyboard/internal/api"
	"github.com/aimikata/storyboard/internal/svcctx"
	"github.com/aimikata/storyboard/internal/usage"
)

// ModelUsage is the daily budget of one model. Remaining is -1 for
// models without a ceiling.
type ModelUsage struct {
	Model     string `json:"model"`
	Ceiling   int    `json:"ceiling"`
	Remaining int    `json:"remaining"`
}

// UsageResponse reports today's request count against each ceiling.
type UsageResponse struct {
	Date   string       `json:"date"`
	Count  int          `json:"count"`
	Models []ModelUsage `json:"models"`
}

// GetUsageEndpoint handles GET /api/usage.
type GetUsageEndpoint struct{}

var _ api.Endpoint = (*GetUsageEndpoint)(nil)

func (e *GetUsageEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/usage", e.handler
}

func (e *GetUsageEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Daily usage
//	@Description	Today's successful request count and the remaining budget per model
//	@Tags			usage
//	@Produce		json
//	@Success		200	{object}	UsageResponse
//	@Router			/api/usage [get]
func (e *GetUsageEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	m := svcctx.ManagerFrom(r.Context())
	if m == nil {
		writeError(w, http.StatusServiceUnavailable, "batch manager not initialized")
		return
	}
	writeJSON(w, http.StatusOK, usageSnapshot(m.Ledger(), m.Scheduler().Ceilings(), m.Scheduler().Now))
}

func usageSnapshot(ledger *usage.Ledger, ceilings usage.Ceilings, now func() time.Time) UsageResponse {
	t := now()
	count := ledger.Count(t)
	resp := UsageResponse{Date: usage.Day(t), Count: count, Models: make([]ModelUsage, 0, len(ceilings))}
	for model := range ceilings {
		resp.Models = append(resp.Models, ModelUsage{
			Model:     model,
			Ceiling:   ceilings.Limit(model),
			Remaining: ceilings.Remaining(count, model),
		})
	}
	sort.Slice(resp.Models, func(i, j int) bool { return resp.Models[i].Model < resp.Models[j].Model })
	return resp
}

func (e *GetUsageEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show today's request count and remaining budget",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp UsageResponse
			if err := client.Get(cmd.Context(), "/api/usage", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// ResetUsageEndpoint handles POST /api/usage/reset.
type ResetUsageEndpoint struct{}

var _ api.Endpoint = (*ResetUsageEndpoint)(nil)

func (e *ResetUsageEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/usage/reset", e.handler
}

func (e *ResetUsageEndpoint) RequiresInit() bool { return true }

func (e *ResetUsageEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	m := svcctx.ManagerFrom(r.Context())
	if m == nil {
		writeError(w, http.StatusServiceUnavailable, "batch manager not initialized")
		return
	}
	s := m.Scheduler()
	m.ResetUsage(s.Now())
	if logger := svcctx.LoggerFrom(r.Context()); logger != nil {
		logger.Info("usage counter reset")
	}
	writeJSON(w, http.StatusOK, usageSnapshot(m.Ledger(), s.Ceilings(), s.Now))
}

func (e *ResetUsageEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Reset today's request count to zero",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp UsageResponse
			if err := client.Post(cmd.Context(), "/api/usage/reset", nil, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
