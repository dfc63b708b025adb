// Package script parses tabular page scripts into PageSpecs.
//
// A script is comma or tab separated text with a header row and at least
// three columns per data row: page number, template and prompt. Parsing is
// lenient: malformed rows are dropped, and only a script with no usable rows
// is an error.
package script

import (
	"errors"
	"slices"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/aimikata/storyboard/internal/types"
)

// ErrNoPages is returned when a script yields no valid data rows.
var ErrNoPages = errors.New("script contains no valid pages")

// MinColumns is the number of columns a data row needs to be kept.
const MinColumns = 3

// coverMarkers map a page token to the cover slot.
var coverMarkers = []string{"cover", "title", "表紙"}

// Parse turns raw script text into PageSpecs sorted by page number.
// Pages sharing a number are all kept, in source order.
func Parse(raw string) ([]types.PageSpec, error) {
	delim := DetectDelimiter(headerLine(raw))
	records := readRecords(raw, delim)
	if len(records) == 0 {
		return nil, ErrNoPages
	}

	pages := make([]types.PageSpec, 0, len(records)-1)
	for _, rec := range records[1:] {
		page, ok := pageFromRecord(rec)
		if !ok {
			continue
		}
		pages = append(pages, page)
	}
	if len(pages) == 0 {
		return nil, ErrNoPages
	}

	sort.SliceStable(pages, func(i, j int) bool {
		return pages[i].PageNumber < pages[j].PageNumber
	})
	return pages, nil
}

func pageFromRecord(rec []string) (types.PageSpec, bool) {
	if len(rec) < MinColumns {
		return types.PageSpec{}, false
	}
	num, ok := PageNumber(rec[0])
	if !ok {
		return types.PageSpec{}, false
	}
	return types.PageSpec{
		PageNumber: num,
		Template:   rec[1],
		Prompt:     types.SplitPrompt(rec[2]),
		Status:     types.StatusIdle,
	}, true
}

// PageNumber normalizes a page token. A token with a run of digits is the
// page with that number ("Page 7", "P.7" and "7" are all page 7). A token
// without digits is the cover page when one of its words is a cover marker
// ("Cover", "title card"). Full-width digits are accepted.
func PageNumber(token string) (int, bool) {
	t := strings.ToLower(strings.TrimSpace(norm.NFKC.String(token)))
	if t == "" {
		return 0, false
	}

	start := strings.IndexFunc(t, isDigit)
	if start < 0 {
		if isCoverToken(t) {
			return types.CoverPage, true
		}
		return 0, false
	}
	end := start
	for end < len(t) && isDigit(rune(t[end])) {
		end++
	}
	n, err := strconv.Atoi(t[start:end])
	if err != nil {
		return 0, false
	}
	return n, true
}

func isCoverToken(t string) bool {
	words := strings.FieldsFunc(t, func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	for _, w := range words {
		if slices.Contains(coverMarkers, w) {
			return true
		}
	}
	return false
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

// DetectDelimiter picks tab when the header has more tabs than commas.
func DetectDelimiter(header string) rune {
	if strings.Count(header, "\t") > strings.Count(header, ",") {
		return '\t'
	}
	return ','
}

func headerLine(raw string) string {
	if i := strings.IndexAny(raw, "\r\n"); i >= 0 {
		return raw[:i]
	}
	return raw
}

// readRecords splits text into records with a two-state machine. Inside
// quotes, delimiters and line breaks are literal and "" is an escaped quote.
// Outside quotes, \r\n, \r and \n all end a record.
func readRecords(text string, delim rune) [][]string {
	var (
		records  [][]string
		record   []string
		field    strings.Builder
		inQuotes bool
	)
	runes := []rune(text)

	endField := func() {
		record = append(record, field.String())
		field.Reset()
	}
	endRecord := func() {
		endField()
		records = append(records, record)
		record = nil
	}

	for i := 0; i < len(runes); i++ {
		c := runes[i]
		if inQuotes {
			if c == '"' {
				if i+1 < len(runes) && runes[i+1] == '"' {
					field.WriteRune('"')
					i++
				} else {
					inQuotes = false
				}
				continue
			}
			field.WriteRune(c)
			continue
		}

		switch c {
		case '"':
			inQuotes = true
		case delim:
			endField()
		case '\r':
			if i+1 < len(runes) && runes[i+1] == '\n' {
				i++
			}
			endRecord()
		case '\n':
			endRecord()
		default:
			field.WriteRune(c)
		}
	}
	if field.Len() > 0 || len(record) > 0 {
		endRecord()
	}
	return records
}

// Duplicates returns page numbers that appear more than once, ascending.
func Duplicates(pages []types.PageSpec) []int {
	seen := make(map[int]int, len(pages))
	for _, p := range pages {
		seen[p.PageNumber]++
	}
	var dups []int
	for num, n := range seen {
		if n > 1 {
			dups = append(dups, num)
		}
	}
	sort.Ints(dups)
	return dups
}
