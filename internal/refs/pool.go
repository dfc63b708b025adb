package refs

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/h2non/filetype"
	"github.com/maruel/natural"

	"github.com/aimikata/storyboard/internal/types"
)

// Pool is an ordered set of character assets keyed by name.
// The first asset added under a name wins; later duplicates are discarded.
type Pool struct {
	assets []types.CharacterAsset
	keys   []string // normalized names, parallel to assets
	index  map[string]int
}

// NewPool creates a pool from assets, discarding duplicate names.
func NewPool(assets ...types.CharacterAsset) *Pool {
	p := &Pool{index: make(map[string]int)}
	p.Merge(assets...)
	return p
}

// Merge adds assets whose names are not already present.
// It returns the number of assets added.
func (p *Pool) Merge(assets ...types.CharacterAsset) int {
	if p.index == nil {
		p.index = make(map[string]int)
	}
	added := 0
	for _, a := range assets {
		if _, ok := p.index[a.Name]; ok {
			continue
		}
		p.index[a.Name] = len(p.assets)
		p.assets = append(p.assets, a)
		p.keys = append(p.keys, normalize(a.Name))
		added++
	}
	return added
}

// Get returns the asset with the given name.
func (p *Pool) Get(name string) (types.CharacterAsset, bool) {
	if p == nil {
		return types.CharacterAsset{}, false
	}
	i, ok := p.index[name]
	if !ok {
		return types.CharacterAsset{}, false
	}
	return p.assets[i], true
}

// Names returns asset names in pool order.
func (p *Pool) Names() []string {
	if p == nil {
		return nil
	}
	names := make([]string, len(p.assets))
	for i, a := range p.assets {
		names[i] = a.Name
	}
	return names
}

// Assets returns the assets in pool order.
func (p *Pool) Assets() []types.CharacterAsset {
	if p == nil {
		return nil
	}
	out := make([]types.CharacterAsset, len(p.assets))
	copy(out, p.assets)
	return out
}

// Len returns the number of assets.
func (p *Pool) Len() int {
	if p == nil {
		return 0
	}
	return len(p.assets)
}

// SniffAsset builds an asset from raw bytes, detecting the MIME type from
// content. Non-image content is rejected.
func SniffAsset(name string, data []byte) (types.CharacterAsset, error) {
	if !filetype.IsImage(data) {
		return types.CharacterAsset{}, fmt.Errorf("asset %q is not a recognized image", name)
	}
	kind, err := filetype.Match(data)
	if err != nil {
		return types.CharacterAsset{}, fmt.Errorf("failed to detect type of %q: %w", name, err)
	}
	return types.CharacterAsset{Name: name, Data: data, MIMEType: kind.MIME.Value}, nil
}

// LoadDir builds a pool from the image files in dir, in natural name order.
// Files that are not images are skipped.
func LoadDir(dir string) (*Pool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read asset directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	sort.Sort(natural.StringSlice(names))

	pool := NewPool()
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read asset %s: %w", name, err)
		}
		asset, err := SniffAsset(name, data)
		if err != nil {
			continue
		}
		pool.Merge(asset)
	}
	return pool, nil
}
