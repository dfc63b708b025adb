package endpoints

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/aimikata/storyboard/internal/api"
	"github.com/aimikata/storyboard/internal/refs"
	"github.com/aimikata/storyboard/internal/svcctx"
	"github.com/aimikata/storyboard/internal/types"
)

// LinksRequest carries the pages to check, as page specs or script text.
type LinksRequest struct {
	Pages []types.PageSpec `json:"pages,omitempty"`
	Text  string           `json:"text,omitempty"`
	Data  []byte           `json:"data,omitempty"`
}

// LinksResponse is the reference/asset report.
type LinksResponse struct {
	Links []refs.LinkReport `json:"links"`
}

// LinksEndpoint handles POST /api/links. References are resolved against
// the server's loaded reference assets.
type LinksEndpoint struct{}

var _ api.Endpoint = (*LinksEndpoint)(nil)

func (e *LinksEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/links", e.handler
}

func (e *LinksEndpoint) RequiresInit() bool { return true }

func (e *LinksEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req LinksRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	pages, err := requestPages(CreateBatchRequest{Pages: req.Pages, Script: req.Text, ScriptData: req.Data}, currentConfig(r.Context()))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	pool := svcctx.PoolFrom(r.Context())
	if pool == nil {
		pool = refs.NewPool()
	}
	links := refs.AnalyzeLinks(pages, pool)
	if links == nil {
		links = []refs.LinkReport{}
	}
	writeJSON(w, http.StatusOK, LinksResponse{Links: links})
}

func (e *LinksEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "check <script-file>",
		Short: "Report missing, linked and unused reference images",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read script: %w", err)
			}
			client := api.NewClient(getServerURL())
			var resp LinksResponse
			if err := client.Post(cmd.Context(), "/api/links", LinksRequest{Data: data}, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
