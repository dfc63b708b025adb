package script

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/aimikata/storyboard/internal/types"
)

// Header is the header row written by Serialize.
var Header = []string{"Page", "Template", "Prompt"}

// Serialize writes pages as a script using delim. Fields containing the
// delimiter, quotes or line breaks are quoted with embedded quotes doubled,
// so Parse reads back the same values.
func Serialize(w io.Writer, pages []types.PageSpec, delim rune) error {
	cw := csv.NewWriter(w)
	cw.Comma = delim

	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, p := range pages {
		token := strconv.Itoa(p.PageNumber)
		if p.IsCover() {
			token = coverMarkers[0]
		}
		if err := cw.Write([]string{token, p.Template, p.Prompt.Join()}); err != nil {
			return fmt.Errorf("failed to write page %d: %w", p.PageNumber, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
