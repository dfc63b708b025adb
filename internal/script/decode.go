package script

import (
	"bytes"
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/transform"

	"github.com/aimikata/storyboard/internal/types"
)

// DefaultLegacyEncoding is used when script bytes are not valid UTF-8.
const DefaultLegacyEncoding = "Shift_JIS"

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// DecodeOptions controls how raw script bytes are turned into text.
type DecodeOptions struct {
	// LegacyEncoding is an IANA charset name tried when the input is not
	// UTF-8 (default: Shift_JIS).
	LegacyEncoding string
}

// Decode strips a UTF-8 byte order mark and returns the text, falling back to
// the legacy encoding for input that is not valid UTF-8.
func Decode(raw []byte, opts DecodeOptions) (string, error) {
	raw = bytes.TrimPrefix(raw, utf8BOM)
	if utf8.Valid(raw) {
		return string(raw), nil
	}

	name := opts.LegacyEncoding
	if name == "" {
		name = DefaultLegacyEncoding
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil {
		return "", fmt.Errorf("unknown legacy encoding %q: %w", name, err)
	}
	if enc == nil {
		return "", fmt.Errorf("legacy encoding %q is not supported", name)
	}

	out, _, err := transform.Bytes(enc.NewDecoder(), raw)
	if err != nil {
		return "", fmt.Errorf("failed to decode script as %s: %w", name, err)
	}
	return string(out), nil
}

// ParseBytes decodes raw script bytes and parses them.
func ParseBytes(raw []byte, opts DecodeOptions) ([]types.PageSpec, error) {
	text, err := Decode(raw, opts)
	if err != nil {
		return nil, err
	}
	return Parse(text)
}
