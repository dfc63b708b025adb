package jobs

import (
	"fmt"
	"strings"

	"github.com/h2non/filetype"

	"github.com/aimikata/storyboard/internal/providers"
	"github.com/aimikata/storyboard/internal/refs"
	"github.com/aimikata/storyboard/internal/types"
)

// WorkUnit is one request to the generation service: a single page, or a
// chunk of pages when generating script content.
type WorkUnit struct {
	ID       string
	BatchID  string
	Priority int

	// Pages covered by the unit.
	Pages []int

	// Request content
	Parts     []providers.Part
	Schema    map[string]any
	MaxTokens int
}

// PageUnit builds the work unit for one page. The hidden header and the
// body are sent as separate text parts, followed by every resolved reference
// image.
func PageUnit(batchID string, page *types.PageSpec, pool *refs.Pool) *WorkUnit {
	parts := make([]providers.Part, 0, 4)
	if page.Prompt.Header != "" {
		parts = append(parts, providers.TextPart(page.Prompt.Header))
	}
	var body strings.Builder
	if page.Template != "" {
		fmt.Fprintf(&body, "Layout: %s\n", page.Template)
	}
	body.WriteString(page.Prompt.Body)
	parts = append(parts, providers.TextPart(body.String()))

	for _, asset := range refs.ResolvePage(*page, pool) {
		parts = append(parts,
			providers.TextPart("Reference image: "+asset.Name),
			providers.BlobPart(asset.MIMEType, asset.Data),
		)
	}

	return &WorkUnit{
		ID:       pageUnitID(batchID, page.PageNumber),
		BatchID:  batchID,
		Priority: PriorityNormal,
		Pages:    []int{page.PageNumber},
		Parts:    parts,
	}
}

// artifactFrom converts a generation result into a page artifact. Binary
// output without a MIME type is sniffed.
func artifactFrom(result *providers.GenerateResult) *types.Artifact {
	if len(result.Data) == 0 {
		return &types.Artifact{MIMEType: "text/plain", Text: result.Text}
	}
	mime := result.MIMEType
	if mime == "" {
		if kind, err := filetype.Match(result.Data); err == nil && kind != filetype.Unknown {
			mime = kind.MIME.Value
		} else {
			mime = "application/octet-stream"
		}
	}
	return &types.Artifact{MIMEType: mime, Data: result.Data, Text: result.Text}
}

func pageUnitID(batchID string, pageNumber int) string {
	return fmt.Sprintf("%s/page-%d", batchID, pageNumber)
}

// pageUnitIDs returns the unit ID of every page in input order. Repeated
// page numbers get the input index appended so each page has its own unit.
func pageUnitIDs(batchID string, pages []*types.PageSpec) []string {
	ids := make([]string, len(pages))
	seen := make(map[string]bool, len(pages))
	for i, page := range pages {
		id := pageUnitID(batchID, page.PageNumber)
		if seen[id] {
			id = fmt.Sprintf("%s#%d", id, i)
		}
		seen[id] = true
		ids[i] = id
	}
	return ids
}
