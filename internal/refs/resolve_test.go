package refs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/aimikata/storyboard/internal/script"
	"github.com/aimikata/storyboard/internal/types"
)

// minimal PNG signature plus IHDR chunk header
var pngBytes = []byte{
	0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A,
	0x00, 0x00, 0x00, 0x0D, 0x49, 0x48, 0x44, 0x52,
}

func asset(name string) types.CharacterAsset {
	return types.CharacterAsset{Name: name, Data: pngBytes, MIMEType: "image/png"}
}

func TestExtract(t *testing.T) {
	got := Extract("Hi [ Alex ] and ［ミナ］, [] and [Bob: \"hey\"]")
	want := []string{"Alex", "ミナ", `Bob: "hey"`}
	if len(got) != len(want) {
		t.Fatalf("Extract() = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Extract()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestResolve(t *testing.T) {
	pool := NewPool(asset("A.png"), asset("A_v2.png"), asset("Alex.png"), asset("Al.png"), asset("ミナ.jpg"))

	tests := []struct {
		ref  string
		want string
	}{
		{"A_v2.png", "A_v2.png"},
		{"A.png", "A.png"},
		{"Alex", "Alex.png"},
		{"Al", "Al.png"},
		{"ALEX.PNG", "Alex.png"},
		{"Narrator: Alex", "Alex.png"},
		{"Alex：「hello」", ""},
		{"ミナ", "ミナ.jpg"},
		{"ﾐﾅ", "ミナ.jpg"},
		{"'Alex'", "Alex.png"},
		{"Nobody", ""},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			got, ok := Resolve(tt.ref, pool)
			if tt.want == "" {
				if ok {
					t.Errorf("Resolve(%q) = %q, want no match", tt.ref, got.Name)
				}
				return
			}
			if !ok || got.Name != tt.want {
				t.Errorf("Resolve(%q) = %q, %v; want %q", tt.ref, got.Name, ok, tt.want)
			}
		})
	}
}

func TestResolveIdempotent(t *testing.T) {
	pool := NewPool(asset("Alex.png"), asset("Alexandra.png"))
	first, ok1 := Resolve("Alexandra waves", pool)
	for i := 0; i < 5; i++ {
		got, ok := Resolve("Alexandra waves", pool)
		if ok != ok1 || got.Name != first.Name {
			t.Fatalf("Resolve() changed between calls: %q vs %q", got.Name, first.Name)
		}
	}
}

func TestResolvePage(t *testing.T) {
	pages, err := script.Parse("Page,Template,Prompt\n1,T1,Hello [Alex]\n2,T1,Bye")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	pool := NewPool(asset("Alex.png"))

	got := ResolvePage(pages[0], pool)
	if len(got) != 1 || got[0].Name != "Alex.png" {
		t.Errorf("ResolvePage(page 1) = %v, want [Alex.png]", got)
	}
	if got := ResolvePage(pages[1], pool); len(got) != 0 {
		t.Errorf("ResolvePage(page 2) = %v, want none", got)
	}
}

func TestResolvePageDedupes(t *testing.T) {
	pool := NewPool(asset("Alex.png"), asset("Mina.png"))
	page := types.PageSpec{Prompt: types.Prompt{Body: "[Alex] [Mina] [alex.png] [Speaker: Alex]"}}
	got := ResolvePage(page, pool)
	if len(got) != 2 || got[0].Name != "Alex.png" || got[1].Name != "Mina.png" {
		t.Errorf("ResolvePage() = %v", got)
	}
}

func TestResolvePageIgnoresHeader(t *testing.T) {
	pool := NewPool(asset("Alex.png"))
	page := types.PageSpec{Prompt: types.Prompt{Header: "[Alex]", Body: "no refs"}}
	if got := ResolvePage(page, pool); len(got) != 0 {
		t.Errorf("ResolvePage() = %v, want none", got)
	}
}

func TestPoolMerge(t *testing.T) {
	first := asset("Alex.png")
	second := types.CharacterAsset{Name: "Alex.png", MIMEType: "image/jpeg"}
	pool := NewPool(first)
	if n := pool.Merge(second, asset("Mina.png")); n != 1 {
		t.Errorf("Merge() added %d, want 1", n)
	}
	got, _ := pool.Get("Alex.png")
	if got.MIMEType != "image/png" {
		t.Errorf("later duplicate replaced earlier asset")
	}
	if names := pool.Names(); len(names) != 2 || names[1] != "Mina.png" {
		t.Errorf("Names() = %v", names)
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	for name, data := range map[string][]byte{
		"char10.png": pngBytes,
		"char2.png":  pngBytes,
		"notes.txt":  []byte("not an image"),
	} {
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	pool, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir() error = %v", err)
	}
	names := pool.Names()
	if len(names) != 2 || names[0] != "char2.png" || names[1] != "char10.png" {
		t.Errorf("Names() = %v, want [char2.png char10.png]", names)
	}
	a, _ := pool.Get("char2.png")
	if a.MIMEType != "image/png" {
		t.Errorf("MIMEType = %q, want image/png", a.MIMEType)
	}
}
