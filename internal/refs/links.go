package refs

import (
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/h2non/filetype"
	"github.com/maruel/natural"

	"github.com/aimikata/storyboard/internal/types"
)

// LinkStatus classifies an entry of the link report.
type LinkStatus string

const (
	LinkMissing LinkStatus = "missing_image"
	LinkLinked  LinkStatus = "linked"
	LinkUnused  LinkStatus = "unused_image"
)

func (s LinkStatus) rank() int {
	switch s {
	case LinkMissing:
		return 0
	case LinkLinked:
		return 1
	default:
		return 2
	}
}

// LinkReport is one line of the reference/asset report.
type LinkReport struct {
	Status    LinkStatus `json:"status" yaml:"status"`
	Reference string     `json:"reference,omitempty" yaml:"reference,omitempty"`
	Asset     string     `json:"asset,omitempty" yaml:"asset,omitempty"`
	Pages     []int      `json:"pages,omitempty" yaml:"pages,omitempty"`
}

func (r LinkReport) label() string {
	if r.Reference != "" {
		return r.Reference
	}
	return r.Asset
}

// refPrefixPattern matches a reference prefix followed by a separator or a
// digit: "REF_villain", "img: hero", "IMG001".
var refPrefixPattern = regexp.MustCompile(`(?i)^(ref|img|char|file)([\s_\-:]|\d)`)

// AnalyzeLinks classifies every distinct bracket reference across pages.
// Resolved references are Linked. Unresolved references that look like file
// names or carry a reference prefix are MissingImage; other unresolved
// references are ignored. Assets no Linked reference points at are
// UnusedImage. Entries sort MissingImage, Linked, UnusedImage.
func AnalyzeLinks(pages []types.PageSpec, pool *Pool) []LinkReport {
	var (
		order   []string
		pagesOf = make(map[string][]int)
	)
	for _, p := range pages {
		for _, ref := range Extract(p.Prompt.Body) {
			seen, ok := pagesOf[ref]
			if !ok {
				order = append(order, ref)
			}
			if len(seen) == 0 || seen[len(seen)-1] != p.PageNumber {
				pagesOf[ref] = append(seen, p.PageNumber)
			}
		}
	}

	var (
		reports []LinkReport
		used    = make(map[string]bool)
	)
	for _, ref := range order {
		if asset, ok := Resolve(ref, pool); ok {
			used[asset.Name] = true
			reports = append(reports, LinkReport{
				Status:    LinkLinked,
				Reference: ref,
				Asset:     asset.Name,
				Pages:     pagesOf[ref],
			})
			continue
		}
		if looksLikeFile(ref) || refPrefixPattern.MatchString(normalize(ref)) {
			reports = append(reports, LinkReport{
				Status:    LinkMissing,
				Reference: ref,
				Pages:     pagesOf[ref],
			})
		}
	}
	for _, name := range pool.Names() {
		if !used[name] {
			reports = append(reports, LinkReport{Status: LinkUnused, Asset: name})
		}
	}

	sort.SliceStable(reports, func(i, j int) bool {
		ri, rj := reports[i].Status.rank(), reports[j].Status.rank()
		if ri != rj {
			return ri < rj
		}
		return natural.Less(strings.ToLower(reports[i].label()), strings.ToLower(reports[j].label()))
	})
	return reports
}

func looksLikeFile(ref string) bool {
	ext := strings.TrimPrefix(path.Ext(strings.TrimSpace(ref)), ".")
	if ext == "" {
		return false
	}
	return filetype.IsSupported(strings.ToLower(ext))
}
