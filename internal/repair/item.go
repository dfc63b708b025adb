package repair

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/aimikata/storyboard/internal/script"
)

// NoPage marks an item whose page token could not be normalized.
const NoPage = -1

// PlaceholderNote is attached to items filled in for missing pages.
const PlaceholderNote = "generation skipped"

// Item is one page result of a structured batch response.
type Item struct {
	PageNumber int    `json:"pageNumber" yaml:"page_number"`
	Token      string `json:"-" yaml:"-"`
	Template   string `json:"template" yaml:"template"`
	Content    string `json:"content" yaml:"content"`
	Skipped    bool   `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	Note       string `json:"note,omitempty" yaml:"note,omitempty"`

	raw json.RawMessage
	// decodeErr is set when the element could not be decoded as an item.
	decodeErr error
}

// UnmarshalJSON accepts pageNumber as a number or a string token and the
// page text under either "prompt" or "content".
func (it *Item) UnmarshalJSON(data []byte) error {
	var wire struct {
		PageNumber json.RawMessage `json:"pageNumber"`
		Template   string          `json:"template"`
		Prompt     string          `json:"prompt"`
		Content    string          `json:"content"`
		Skipped    bool            `json:"skipped"`
		Note       string          `json:"note"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	token, err := pageToken(wire.PageNumber)
	if err != nil {
		return err
	}

	*it = Item{
		PageNumber: NoPage,
		Token:      token,
		Template:   wire.Template,
		Content:    wire.Content,
		Skipped:    wire.Skipped,
		Note:       wire.Note,
		raw:        append(json.RawMessage(nil), data...),
	}
	if it.Content == "" {
		it.Content = wire.Prompt
	}
	if n, ok := script.PageNumber(token); ok {
		it.PageNumber = n
	}
	return nil
}

func pageToken(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("invalid pageNumber: %w", err)
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("invalid pageNumber: %w", err)
	}
	return n.String(), nil
}

// decodeItems decodes each element of an array on its own. An element that
// does not decode becomes an item carrying the error, so one bad element
// does not cost its siblings; Validator.Filter drops it.
func decodeItems(elems []json.RawMessage) []Item {
	items := make([]Item, len(elems))
	for i, raw := range elems {
		if err := json.Unmarshal(raw, &items[i]); err != nil {
			items[i] = Item{
				PageNumber: NoPage,
				raw:        append(json.RawMessage(nil), raw...),
				decodeErr:  err,
			}
		}
	}
	return items
}

// Placeholder returns the stand-in result for a page that was not generated.
func Placeholder(page int) Item {
	return Item{
		PageNumber: page,
		Token:      strconv.Itoa(page),
		Skipped:    true,
		Note:       PlaceholderNote,
	}
}

// Placeholders returns one placeholder per distinct expected page.
func Placeholders(expected []int) []Item {
	return Reconcile(nil, expected)
}

// Reconcile returns exactly one item per distinct expected page, in expected
// order, matching recovered items by normalized page number. The first
// recovered item for a page wins; pages with none get a placeholder.
func Reconcile(items []Item, expected []int) []Item {
	byPage := make(map[int]Item, len(items))
	for _, it := range items {
		if it.PageNumber == NoPage {
			continue
		}
		if _, ok := byPage[it.PageNumber]; !ok {
			byPage[it.PageNumber] = it
		}
	}

	out := make([]Item, 0, len(expected))
	emitted := make(map[int]bool, len(expected))
	for _, page := range expected {
		if emitted[page] {
			continue
		}
		emitted[page] = true
		if it, ok := byPage[page]; ok {
			out = append(out, it)
			continue
		}
		out = append(out, Placeholder(page))
	}
	return out
}

// SkippedPages returns the page numbers of placeholder items.
func SkippedPages(items []Item) []int {
	var out []int
	for _, it := range items {
		if it.Skipped {
			out = append(out, it.PageNumber)
		}
	}
	return out
}

// String is used in logs.
func (it Item) String() string {
	if it.Skipped {
		return fmt.Sprintf("page %d (%s)", it.PageNumber, it.Note)
	}
	return fmt.Sprintf("page %d: %s", it.PageNumber, strings.TrimSpace(it.Template))
}
