package endpoints

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/h2non/filetype"
	"github.com/spf13/cobra"

	"github.com/aimikata/storyboard/internal/api"
	"github.com/aimikata/storyboard/internal/config"
	"github.com/aimikata/storyboard/internal/jobs"
	"github.com/aimikata/storyboard/internal/script"
	"github.com/aimikata/storyboard/internal/svcctx"
	"github.com/aimikata/storyboard/internal/types"
	"github.com/aimikata/storyboard/internal/usage"
)

// CreateBatchRequest starts an image batch. Pages are taken from Pages,
// from Script (UTF-8 text), or from ScriptData (raw file bytes, decoded
// with the legacy encoding fallback), in that order of precedence.
type CreateBatchRequest struct {
	Pages        []types.PageSpec `json:"pages,omitempty"`
	Script       string           `json:"script,omitempty"`
	ScriptData   []byte           `json:"script_data,omitempty"`
	Chain        []string         `json:"chain,omitempty"`
	Concurrency  int              `json:"concurrency,omitempty"`
	Conservative bool             `json:"conservative,omitempty"`
	Force        bool             `json:"force,omitempty"`
}

// CreateBatchResponse is the response for starting a batch.
type CreateBatchResponse struct {
	ID    string `json:"id"`
	Pages int    `json:"pages"`
}

// BudgetErrorResponse is returned with 409 when a run would cross the
// daily ceiling. Resubmit with force to proceed.
type BudgetErrorResponse struct {
	Error   string               `json:"error"`
	Warning *usage.BudgetWarning `json:"warning"`
}

// CreateBatchEndpoint handles POST /api/batches.
type CreateBatchEndpoint struct{}

var _ api.Endpoint = (*CreateBatchEndpoint)(nil)

func (e *CreateBatchEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/batches", e.handler
}

func (e *CreateBatchEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Start an image batch
//	@Description	Parse or accept pages and generate them in the background
//	@Tags			batches
//	@Accept			json
//	@Produce		json
//	@Param			request	body		CreateBatchRequest	true	"Batch request"
//	@Success		202		{object}	CreateBatchResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		409		{object}	BudgetErrorResponse
//	@Router			/api/batches [post]
func (e *CreateBatchEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req CreateBatchRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx := r.Context()
	m := svcctx.ManagerFrom(ctx)
	if m == nil {
		writeError(w, http.StatusServiceUnavailable, "batch manager not initialized")
		return
	}
	cfg := currentConfig(ctx)

	pages, err := requestPages(req, cfg)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(pages) == 0 {
		writeError(w, http.StatusBadRequest, "no pages to generate")
		return
	}

	chain := req.Chain
	if len(chain) == 0 {
		chain = cfg.Generation.ImageChain
	}
	opts := cfg.Generation.BatchOptions(chain)
	if req.Concurrency > 0 {
		opts.Concurrency = req.Concurrency
	}
	opts.Conservative = opts.Conservative || req.Conservative
	opts.Force = req.Force
	opts.Pool = svcctx.PoolFrom(ctx)

	ptrs := make([]*types.PageSpec, len(pages))
	for i := range pages {
		ptrs[i] = &pages[i]
	}

	id, err := m.Start(ctx, ptrs, opts)
	if err != nil {
		writeBatchError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, CreateBatchResponse{ID: id, Pages: len(pages)})
}

func requestPages(req CreateBatchRequest, cfg *config.Config) ([]types.PageSpec, error) {
	var (
		pages []types.PageSpec
		err   error
	)
	switch {
	case len(req.Pages) > 0:
		pages = req.Pages
	case req.Script != "":
		pages, err = script.Parse(req.Script)
	case len(req.ScriptData) > 0:
		pages, err = script.ParseBytes(req.ScriptData, script.DecodeOptions{LegacyEncoding: cfg.Generation.LegacyEncoding})
	}
	if err != nil {
		return nil, fmt.Errorf("invalid script: %w", err)
	}
	for i := range pages {
		pages[i].Status = types.StatusIdle
		pages[i].Result = nil
		pages[i].LastError = ""
	}
	return pages, nil
}

func (e *CreateBatchEndpoint) Command(getServerURL func() string) *cobra.Command {
	var (
		chain        []string
		concurrency  int
		conservative bool
		force        bool
		wait         bool
	)
	cmd := &cobra.Command{
		Use:   "create <script-file>",
		Short: "Start an image batch from a script file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read script: %w", err)
			}
			ctx := cmd.Context()
			client := api.NewClient(getServerURL())
			var resp CreateBatchResponse
			err = client.Post(ctx, "/api/batches", CreateBatchRequest{
				ScriptData:   data,
				Chain:        chain,
				Concurrency:  concurrency,
				Conservative: conservative,
				Force:        force,
			}, &resp)
			if err != nil {
				return budgetHint(err)
			}
			if !wait {
				return api.Output(resp)
			}
			var view jobs.BatchView
			if err := client.Get(ctx, "/api/batches/"+resp.ID+"?wait=true", &view); err != nil {
				return err
			}
			return api.Output(view)
		},
	}
	cmd.Flags().StringSliceVar(&chain, "chain", nil, "Models to try in order (default from config)")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "Parallel requests (default from config)")
	cmd.Flags().BoolVar(&conservative, "conservative", false, "One request at a time, paced at the model's RPM")
	cmd.Flags().BoolVar(&force, "force", false, "Proceed past the daily budget warning")
	cmd.Flags().BoolVar(&wait, "wait", false, "Block until the batch finishes")
	return cmd
}

// budgetHint rewrites a 409 budget refusal into an actionable message.
func budgetHint(err error) error {
	var se *api.StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusConflict {
		return err
	}
	if strings.Contains(se.Message, "budget") {
		return fmt.Errorf("%s (rerun with --force to proceed)", se.Message)
	}
	return err
}

// ListBatchesResponse is the response for listing batches.
type ListBatchesResponse struct {
	Batches []*jobs.BatchView `json:"batches"`
}

// ListBatchesEndpoint handles GET /api/batches.
type ListBatchesEndpoint struct{}

var _ api.Endpoint = (*ListBatchesEndpoint)(nil)

func (e *ListBatchesEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/batches", e.handler
}

func (e *ListBatchesEndpoint) RequiresInit() bool { return true }

func (e *ListBatchesEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	m := svcctx.ManagerFrom(r.Context())
	if m == nil {
		writeError(w, http.StatusServiceUnavailable, "batch manager not initialized")
		return
	}

	state := jobs.BatchState(r.URL.Query().Get("state"))
	batches := make([]*jobs.BatchView, 0)
	for _, b := range m.List() {
		if state == "" || b.State == state {
			batches = append(batches, b)
		}
	}
	writeJSON(w, http.StatusOK, ListBatchesResponse{Batches: batches})
}

func (e *ListBatchesEndpoint) Command(getServerURL func() string) *cobra.Command {
	var state string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List batches",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/batches"
			if state != "" {
				path += "?state=" + state
			}
			client := api.NewClient(getServerURL())
			var resp ListBatchesResponse
			if err := client.Get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&state, "state", "", "Filter by state (running, completed, cancelled, failed)")
	return cmd
}

// GetBatchEndpoint handles GET /api/batches/{id}. With ?wait=true the
// response is held until the batch finishes or the client goes away.
type GetBatchEndpoint struct{}

var _ api.Endpoint = (*GetBatchEndpoint)(nil)

func (e *GetBatchEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/batches/{id}", e.handler
}

func (e *GetBatchEndpoint) RequiresInit() bool { return true }

func (e *GetBatchEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	m := svcctx.ManagerFrom(r.Context())
	if m == nil {
		writeError(w, http.StatusServiceUnavailable, "batch manager not initialized")
		return
	}

	var (
		view *jobs.BatchView
		err  error
	)
	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		view, err = m.Wait(r.Context(), id)
	} else {
		view, err = m.Get(id)
	}
	if err != nil {
		writeBatchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (e *GetBatchEndpoint) Command(getServerURL func() string) *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get a batch with its page states",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/batches/" + args[0]
			if wait {
				path += "?wait=true"
			}
			client := api.NewClient(getServerURL())
			var resp jobs.BatchView
			if err := client.Get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "Block until the batch finishes")
	return cmd
}

// CancelBatchEndpoint handles POST /api/batches/{id}/cancel.
type CancelBatchEndpoint struct{}

var _ api.Endpoint = (*CancelBatchEndpoint)(nil)

func (e *CancelBatchEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/batches/{id}/cancel", e.handler
}

func (e *CancelBatchEndpoint) RequiresInit() bool { return true }

func (e *CancelBatchEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	m := svcctx.ManagerFrom(r.Context())
	if m == nil {
		writeError(w, http.StatusServiceUnavailable, "batch manager not initialized")
		return
	}
	if err := m.Cancel(id); err != nil {
		writeBatchError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "cancelling"})
}

func (e *CancelBatchEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a running batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp map[string]string
			if err := client.Post(cmd.Context(), "/api/batches/"+args[0]+"/cancel", nil, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// RegenerateRequest is the request body for regenerating one page.
type RegenerateRequest struct {
	Force bool `json:"force,omitempty"`
}

// RegeneratePageEndpoint handles POST /api/batches/{id}/pages/{page}/regenerate.
type RegeneratePageEndpoint struct{}

var _ api.Endpoint = (*RegeneratePageEndpoint)(nil)

func (e *RegeneratePageEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/batches/{id}/pages/{page}/regenerate", e.handler
}

func (e *RegeneratePageEndpoint) RequiresInit() bool { return true }

func (e *RegeneratePageEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	page, err := pageParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req RegenerateRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	m := svcctx.ManagerFrom(r.Context())
	if m == nil {
		writeError(w, http.StatusServiceUnavailable, "batch manager not initialized")
		return
	}

	outcome, err := m.Regenerate(r.Context(), r.PathValue("id"), page, req.Force)
	if err != nil && outcome == nil {
		writeBatchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (e *RegeneratePageEndpoint) Command(getServerURL func() string) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "regenerate <id> <page>",
		Short: "Regenerate one page of a finished batch",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp jobs.PageOutcome
			path := fmt.Sprintf("/api/batches/%s/pages/%s/regenerate", args[0], args[1])
			if err := client.Post(cmd.Context(), path, RegenerateRequest{Force: force}, &resp); err != nil {
				return budgetHint(err)
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Proceed past the daily budget warning")
	return cmd
}

// PageArtifactEndpoint handles GET /api/batches/{id}/pages/{page}/artifact.
type PageArtifactEndpoint struct{}

var _ api.Endpoint = (*PageArtifactEndpoint)(nil)

func (e *PageArtifactEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/batches/{id}/pages/{page}/artifact", e.handler
}

func (e *PageArtifactEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Get page artifact
//	@Description	The generated image or text of a page of a finished batch
//	@Tags			batches
//	@Produce		image/png
//	@Param			id		path		string	true	"Batch ID"
//	@Param			page	path		int		true	"Page number (0 is the cover)"
//	@Success		200		{file}		binary
//	@Failure		404		{object}	ErrorResponse
//	@Failure		409		{object}	ErrorResponse
//	@Router			/api/batches/{id}/pages/{page}/artifact [get]
func (e *PageArtifactEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	page, err := pageParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	m := svcctx.ManagerFrom(r.Context())
	if m == nil {
		writeError(w, http.StatusServiceUnavailable, "batch manager not initialized")
		return
	}

	pages, err := m.Pages(r.PathValue("id"))
	if err != nil {
		writeBatchError(w, err)
		return
	}
	for _, p := range pages {
		if p.PageNumber != page || p.Result == nil {
			continue
		}
		if p.Result.IsBinary() {
			w.Header().Set("Content-Type", p.Result.MIMEType)
			w.Write(p.Result.Data)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte(p.Result.Text))
		return
	}
	writeError(w, http.StatusNotFound, fmt.Sprintf("page %d has no artifact", page))
}

func (e *PageArtifactEndpoint) Command(getServerURL func() string) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "artifact <id> <page>",
		Short: "Download the artifact of a page",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			page, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid page %q", args[1])
			}
			client := api.NewClient(getServerURL())
			data, _, err := client.GetRaw(cmd.Context(), fmt.Sprintf("/api/batches/%s/pages/%d/artifact", args[0], page))
			if err != nil {
				return err
			}
			if out == "" {
				out = fmt.Sprintf("page_%04d.%s", page, ArtifactExtension(data))
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return fmt.Errorf("failed to write artifact: %w", err)
			}
			fmt.Fprintf(os.Stderr, "wrote %s (%d bytes)\n", out, len(data))
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file (default page_NNNN.<ext>)")
	return cmd
}

// ArtifactExtension guesses a file extension from content; unrecognized
// content is treated as text.
func ArtifactExtension(data []byte) string {
	kind, err := filetype.Match(data)
	if err != nil || kind == filetype.Unknown {
		return "txt"
	}
	return kind.Extension
}

// writeBatchError maps manager and scheduler errors to HTTP statuses.
func writeBatchError(w http.ResponseWriter, err error) {
	var budget *jobs.BudgetError
	switch {
	case errors.As(err, &budget):
		writeJSON(w, http.StatusConflict, BudgetErrorResponse{Error: err.Error(), Warning: budget.Warning})
	case errors.Is(err, jobs.ErrBatchNotFound), errors.Is(err, jobs.ErrPageNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, jobs.ErrBatchRunning):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, jobs.ErrNoModels), errors.Is(err, jobs.ErrNoPages):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusRequestTimeout, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// currentConfig returns the live configuration, or the defaults when the
// server runs without a config manager.
func currentConfig(ctx context.Context) *config.Config {
	if cm := svcctx.ConfigFrom(ctx); cm != nil {
		return cm.Get()
	}
	return config.DefaultConfig()
}
