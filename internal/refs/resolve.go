// Package refs binds bracketed character mentions in prompts to reference
// assets.
package refs

import (
	"path"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/aimikata/storyboard/internal/types"
)

var bracketPattern = regexp.MustCompile(`\[([^\[\]]*)\]|［([^［］]*)］`)

// quote characters removed before clean-exact comparison
var quoteReplacer = strings.NewReplacer(
	`"`, "", `'`, "", "“", "", "”", "", "‘", "", "’", "",
	"「", "", "」", "", "『", "", "』", "",
)

// Extract returns the trimmed contents of every [...] or ［...］ pair in text,
// in order of appearance. Empty brackets are skipped.
func Extract(text string) []string {
	matches := bracketPattern.FindAllStringSubmatch(text, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		inner := m[1]
		if inner == "" {
			inner = m[2]
		}
		inner = strings.TrimSpace(inner)
		if inner != "" {
			out = append(out, inner)
		}
	}
	return out
}

// Resolve matches one bracket reference against the pool.
//
// An asset whose normalized name is contained in the reference wins first,
// longest name first. Failing that, the reference is stripped of any speaker
// label and quotes and compared exactly against names with and without their
// extension.
func Resolve(raw string, pool *Pool) (types.CharacterAsset, bool) {
	if pool.Len() == 0 {
		return types.CharacterAsset{}, false
	}
	content := normalize(raw)
	if content == "" {
		return types.CharacterAsset{}, false
	}

	best := -1
	for i, key := range pool.keys {
		if key == "" || !strings.Contains(content, key) {
			continue
		}
		if best < 0 || len([]rune(key)) > len([]rune(pool.keys[best])) {
			best = i
		}
	}
	if best >= 0 {
		return pool.assets[best], true
	}

	clean := cleanReference(content)
	if clean == "" {
		return types.CharacterAsset{}, false
	}
	cleanBase := stripExt(clean)
	for i, key := range pool.keys {
		keyBase := stripExt(key)
		if clean == key || clean == keyBase || cleanBase == keyBase {
			return pool.assets[i], true
		}
	}
	return types.CharacterAsset{}, false
}

// ResolvePage returns the distinct assets referenced by a page's prompt body,
// in first-seen order.
func ResolvePage(page types.PageSpec, pool *Pool) []types.CharacterAsset {
	var (
		out  []types.CharacterAsset
		seen = make(map[string]bool)
	)
	for _, ref := range Extract(page.Prompt.Body) {
		asset, ok := Resolve(ref, pool)
		if !ok || seen[asset.Name] {
			continue
		}
		seen[asset.Name] = true
		out = append(out, asset)
	}
	return out
}

func normalize(s string) string {
	return strings.TrimSpace(strings.ToLower(norm.NFKC.String(s)))
}

// cleanReference drops a "speaker:" prefix and quote characters from an
// already normalized reference. NFKC folds the full-width colon.
func cleanReference(s string) string {
	if i := strings.Index(s, ":"); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(quoteReplacer.Replace(s))
}

func stripExt(name string) string {
	return strings.TrimSuffix(name, path.Ext(name))
}
