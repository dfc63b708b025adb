package endpoints

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/aimikata/storyboard/internal/api"
	"github.com/aimikata/storyboard/internal/blueprint"
	"github.com/aimikata/storyboard/internal/jobs"
	"github.com/aimikata/storyboard/internal/script"
	"github.com/aimikata/storyboard/internal/svcctx"
	"github.com/aimikata/storyboard/internal/types"
)

// BlueprintRequest mirrors blueprint.Options with the policy given by name.
type BlueprintRequest struct {
	PageCount         int    `json:"page_count"`
	IncludeCover      bool   `json:"include_cover,omitempty"`
	VolumeStart       int    `json:"volume_start,omitempty"`
	ChapterStart      int    `json:"chapter_start,omitempty"`
	AutoIncrement     bool   `json:"auto_increment,omitempty"`
	ChaptersPerVolume int    `json:"chapters_per_volume,omitempty"`
	PlanText          string `json:"plan_text,omitempty"`
	Policy            string `json:"policy,omitempty"`
}

// Options converts the request. An empty policy uses defaultPolicy.
func (req BlueprintRequest) Options(defaultPolicy string) (blueprint.Options, error) {
	name := req.Policy
	if name == "" {
		name = defaultPolicy
	}
	policy, err := blueprint.PolicyByName(name)
	if err != nil {
		return blueprint.Options{}, err
	}
	return blueprint.Options{
		PageCount:         req.PageCount,
		IncludeCover:      req.IncludeCover,
		VolumeStart:       req.VolumeStart,
		ChapterStart:      req.ChapterStart,
		AutoIncrement:     req.AutoIncrement,
		ChaptersPerVolume: req.ChaptersPerVolume,
		PlanText:          req.PlanText,
		Policy:            policy,
	}, nil
}

// BlueprintResponse lists the allocated slots.
type BlueprintResponse struct {
	Slots []blueprint.Slot `json:"slots"`
}

// BlueprintEndpoint handles POST /api/blueprint.
type BlueprintEndpoint struct{}

var _ api.Endpoint = (*BlueprintEndpoint)(nil)

func (e *BlueprintEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/blueprint", e.handler
}

func (e *BlueprintEndpoint) RequiresInit() bool { return false }

func (e *BlueprintEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req BlueprintRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	opts, err := req.Options(currentConfig(r.Context()).Generation.RolePolicy)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	slots, err := blueprint.Allocate(opts)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, BlueprintResponse{Slots: slots})
}

// BindBlueprintFlags registers the allocation flags shared by the plan and
// script commands.
func BindBlueprintFlags(cmd *cobra.Command, req *BlueprintRequest, planFile *string) {
	cmd.Flags().IntVarP(&req.PageCount, "pages", "n", 0, "Number of pages")
	cmd.Flags().BoolVar(&req.IncludeCover, "cover", false, "Prepend a cover page (page 0)")
	cmd.Flags().IntVar(&req.VolumeStart, "volume", 1, "First volume number")
	cmd.Flags().IntVar(&req.ChapterStart, "chapter", 1, "First chapter number")
	cmd.Flags().BoolVar(&req.AutoIncrement, "auto-increment", false, "Advance chapters across the run")
	cmd.Flags().IntVar(&req.ChaptersPerVolume, "chapters-per-volume", 0, "Chapters before the volume advances")
	cmd.Flags().StringVar(&req.Policy, "policy", "", "Role policy: story or explainer (default from config)")
	cmd.Flags().StringVar(planFile, "plan", "", "Planning text file with volume headers")
}

func ReadPlan(req *BlueprintRequest, planFile string) error {
	if planFile == "" {
		return nil
	}
	data, err := os.ReadFile(planFile)
	if err != nil {
		return fmt.Errorf("failed to read plan: %w", err)
	}
	req.PlanText = string(data)
	return nil
}

func (e *BlueprintEndpoint) Command(getServerURL func() string) *cobra.Command {
	var (
		req      BlueprintRequest
		planFile string
	)
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Allocate page roles, volumes and chapters",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ReadPlan(&req, planFile); err != nil {
				return err
			}
			client := api.NewClient(getServerURL())
			var resp BlueprintResponse
			if err := client.Post(cmd.Context(), "/api/blueprint", req, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	BindBlueprintFlags(cmd, &req, &planFile)
	return cmd
}

// ParseScriptRequest carries script text, or raw bytes in a legacy
// encoding.
type ParseScriptRequest struct {
	Text string `json:"text,omitempty"`
	Data []byte `json:"data,omitempty"`
}

// ParseScriptResponse lists the parsed pages and any repeated numbers.
type ParseScriptResponse struct {
	Pages      []types.PageSpec `json:"pages"`
	Duplicates []int            `json:"duplicates,omitempty"`
}

// ParseScriptEndpoint handles POST /api/scripts/parse.
type ParseScriptEndpoint struct{}

var _ api.Endpoint = (*ParseScriptEndpoint)(nil)

func (e *ParseScriptEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/scripts/parse", e.handler
}

func (e *ParseScriptEndpoint) RequiresInit() bool { return false }

func (e *ParseScriptEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req ParseScriptRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	pages, err := requestPages(CreateBatchRequest{Script: req.Text, ScriptData: req.Data}, currentConfig(r.Context()))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if pages == nil {
		pages = []types.PageSpec{}
	}
	writeJSON(w, http.StatusOK, ParseScriptResponse{Pages: pages, Duplicates: script.Duplicates(pages)})
}

func (e *ParseScriptEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "parse <script-file>",
		Short: "Parse a script file into pages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read script: %w", err)
			}
			client := api.NewClient(getServerURL())
			var resp ParseScriptResponse
			if err := client.Post(cmd.Context(), "/api/scripts/parse", ParseScriptRequest{Data: data}, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// GenerateScriptRequest asks for page scripts. Slots are allocated from
// Blueprint when not given directly.
type GenerateScriptRequest struct {
	Brief        string           `json:"brief"`
	Instructions string           `json:"instructions,omitempty"`
	Slots        []blueprint.Slot `json:"slots,omitempty"`
	Blueprint    BlueprintRequest `json:"blueprint"`
	Chain        []string         `json:"chain,omitempty"`
	BatchSize    int              `json:"batch_size,omitempty"`
	Force        bool             `json:"force,omitempty"`
}

// GenerateScriptEndpoint handles POST /api/scripts/generate. The request
// is held until every chunk has been written or replaced by placeholders.
type GenerateScriptEndpoint struct{}

var _ api.Endpoint = (*GenerateScriptEndpoint)(nil)

func (e *GenerateScriptEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/scripts/generate", e.handler
}

func (e *GenerateScriptEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Generate page scripts
//	@Description	Write page scripts for a blueprint in chunks, repairing truncated responses
//	@Tags			scripts
//	@Accept			json
//	@Produce		json
//	@Param			request	body		GenerateScriptRequest	true	"Script request"
//	@Success		200		{object}	jobs.ScriptResult
//	@Failure		400		{object}	ErrorResponse
//	@Failure		409		{object}	BudgetErrorResponse
//	@Router			/api/scripts/generate [post]
func (e *GenerateScriptEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req GenerateScriptRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Brief == "" {
		writeError(w, http.StatusBadRequest, "brief is required")
		return
	}

	ctx := r.Context()
	m := svcctx.ManagerFrom(ctx)
	if m == nil {
		writeError(w, http.StatusServiceUnavailable, "batch manager not initialized")
		return
	}
	cfg := currentConfig(ctx)

	slots := req.Slots
	if len(slots) == 0 {
		opts, err := req.Blueprint.Options(cfg.Generation.RolePolicy)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if slots, err = blueprint.Allocate(opts); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	chain := req.Chain
	if len(chain) == 0 {
		chain = cfg.Generation.ScriptChain
	}
	opts := cfg.Generation.BatchOptions(chain)
	opts.Force = req.Force

	batchSize := req.BatchSize
	if batchSize <= 0 {
		batchSize = cfg.Generation.ScriptBatchSize
	}

	result, err := m.GenerateScript(ctx, jobs.ScriptRequest{
		Slots:        slots,
		Brief:        req.Brief,
		Instructions: req.Instructions,
		BatchSize:    batchSize,
	}, opts)
	if err != nil && result == nil {
		writeBatchError(w, err)
		return
	}
	if err != nil {
		if logger := svcctx.LoggerFrom(ctx); logger != nil {
			logger.Warn("script batch incomplete", "batch", result.BatchID, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, result)
}

func (e *GenerateScriptEndpoint) Command(getServerURL func() string) *cobra.Command {
	var (
		req       GenerateScriptRequest
		briefFile string
		planFile  string
		out       string
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Write page scripts for a blueprint",
		RunE: func(cmd *cobra.Command, args []string) error {
			if briefFile == "" {
				return fmt.Errorf("--brief is required")
			}
			data, err := os.ReadFile(briefFile)
			if err != nil {
				return fmt.Errorf("failed to read brief: %w", err)
			}
			req.Brief = string(data)
			if err := ReadPlan(&req.Blueprint, planFile); err != nil {
				return err
			}

			client := api.NewClient(getServerURL())
			var resp jobs.ScriptResult
			if err := client.Post(cmd.Context(), "/api/scripts/generate", req, &resp); err != nil {
				return budgetHint(err)
			}
			if out == "" {
				return api.Output(resp)
			}
			return WriteScript(out, resp.Pages())
		},
	}
	BindBlueprintFlags(cmd, &req.Blueprint, &planFile)
	cmd.Flags().StringVar(&briefFile, "brief", "", "File with the story or topic (required)")
	cmd.Flags().StringVar(&req.Instructions, "instructions", "", "Extra style rules for every request")
	cmd.Flags().StringSliceVar(&req.Chain, "chain", nil, "Models to try in order (default from config)")
	cmd.Flags().IntVar(&req.BatchSize, "batch-size", 0, "Pages per request (default from config)")
	cmd.Flags().BoolVar(&req.Force, "force", false, "Proceed past the daily budget warning")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Write the pages as a CSV script instead of printing")
	return cmd
}

// WriteScript saves pages as a comma-separated script file.
func WriteScript(path string, pages []types.PageSpec) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create script: %w", err)
	}
	if err := script.Serialize(f, pages, ','); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
