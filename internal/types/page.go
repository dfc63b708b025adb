// Package types holds the value types shared by the parser, resolver and
// scheduler.
package types

import "strings"

// PageStatus is the presentation-facing state of a page.
type PageStatus string

const (
	StatusIdle       PageStatus = "idle"
	StatusGenerating PageStatus = "generating"
	StatusCompleted  PageStatus = "completed"
	StatusError      PageStatus = "error"
)

// CoverPage is the page number reserved for a cover or title page.
const CoverPage = 0

// PageSpec is one row of a script: one unit of generation work.
type PageSpec struct {
	PageNumber int        `json:"page_number" yaml:"page_number"`
	Template   string     `json:"template" yaml:"template"`
	Prompt     Prompt     `json:"prompt" yaml:"prompt"`
	Status     PageStatus `json:"status" yaml:"status"`
	Result     *Artifact  `json:"result,omitempty" yaml:"result,omitempty"`
	LastError  string     `json:"last_error,omitempty" yaml:"last_error,omitempty"`
}

// IsCover reports whether the page is the cover slot.
func (p PageSpec) IsCover() bool {
	return p.PageNumber == CoverPage
}

// Artifact is the generated output of a page.
type Artifact struct {
	MIMEType string `json:"mime_type,omitempty" yaml:"mime_type,omitempty"`
	Data     []byte `json:"data,omitempty" yaml:"-"`
	Text     string `json:"text,omitempty" yaml:"text,omitempty"`
}

// IsBinary reports whether the artifact carries binary data.
func (a *Artifact) IsBinary() bool {
	return a != nil && len(a.Data) > 0
}

// CharacterAsset is a reference image that bracket mentions resolve to.
// Name is the identity and the matching key.
type CharacterAsset struct {
	Name     string `json:"name" yaml:"name"`
	Data     []byte `json:"data,omitempty" yaml:"-"`
	MIMEType string `json:"mime_type" yaml:"mime_type"`
}

const (
	headerOpen  = "<header>"
	headerClose = "</header>"
)

// Prompt separates the hidden instruction header from the editable body.
// Build one with SplitPrompt and turn it back into text with Join; the split
// is never re-derived from edited text.
type Prompt struct {
	Header string `json:"header,omitempty" yaml:"header,omitempty"`
	Body   string `json:"body" yaml:"body"`
}

// SplitPrompt separates a leading <header>...</header> block from the rest of
// the prompt. Text without a complete leading block is all body.
func SplitPrompt(raw string) Prompt {
	trimmed := strings.TrimLeft(raw, " \t\r\n")
	if !strings.HasPrefix(trimmed, headerOpen) {
		return Prompt{Body: raw}
	}
	rest := trimmed[len(headerOpen):]
	end := strings.Index(rest, headerClose)
	if end < 0 {
		return Prompt{Body: raw}
	}
	return Prompt{
		Header: strings.TrimSpace(rest[:end]),
		Body:   strings.TrimLeft(rest[end+len(headerClose):], "\r\n"),
	}
}

// Join renders the prompt back into a single string.
func (p Prompt) Join() string {
	if p.Header == "" {
		return p.Body
	}
	return headerOpen + "\n" + p.Header + "\n" + headerClose + "\n" + p.Body
}

// String returns the joined prompt.
func (p Prompt) String() string {
	return p.Join()
}
