package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/aimikata/storyboard/internal/home"
	"github.com/aimikata/storyboard/internal/refs"
	"github.com/aimikata/storyboard/internal/types"
)

var pngData = []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 0}

func TestReadScript(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "script.tsv")
	content := "page\ttemplate\tprompt\n1\tOpening\tAlex walks in [Alex.png]\n2\tChase\tRain\n2\tChase\tMore rain\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	pages, err := readScript(path, "Shift_JIS")
	if err != nil {
		t.Fatalf("readScript: %v", err)
	}
	if len(pages) != 3 {
		t.Fatalf("got %d pages, want 3", len(pages))
	}
	for _, p := range pages {
		if p.Status != types.StatusIdle {
			t.Errorf("page %d status = %q, want idle", p.PageNumber, p.Status)
		}
	}

	report := checkScript(pages, refs.NewPool())
	if report.Pages != 3 {
		t.Errorf("report pages = %d, want 3", report.Pages)
	}
	if len(report.Duplicates) != 1 || report.Duplicates[0] != 2 {
		t.Errorf("duplicates = %v, want [2]", report.Duplicates)
	}
	if len(report.Links) != 1 || report.Links[0].Status != refs.LinkMissing {
		t.Errorf("links = %+v, want one missing reference", report.Links)
	}
}

func TestReadScript_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.csv")
	if err := os.WriteFile(path, []byte("page,template,prompt\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := readScript(path, ""); err == nil {
		t.Error("expected error for a script without pages")
	}
	if _, err := readScript(filepath.Join(t.TempDir(), "missing.csv"), ""); err == nil {
		t.Error("expected error for a missing file")
	}
}

func TestWriteArtifacts(t *testing.T) {
	h, err := home.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	pages := []types.PageSpec{
		{PageNumber: 1, Template: "Opening", Result: &types.Artifact{MIMEType: "image/png", Data: pngData}},
		{PageNumber: 2, Template: "Chase", Result: &types.Artifact{Text: "no image today"}},
		{PageNumber: 3, Template: "Idle"},
	}
	if err := writeArtifacts(h, "batch-1", pages); err != nil {
		t.Fatalf("writeArtifacts: %v", err)
	}

	img, err := os.ReadFile(h.ArtifactPath("batch-1", 1, "Opening", "png"))
	if err != nil {
		t.Fatalf("image artifact: %v", err)
	}
	if len(img) != len(pngData) {
		t.Errorf("image size = %d, want %d", len(img), len(pngData))
	}
	text, err := os.ReadFile(h.ArtifactPath("batch-1", 2, "Chase", "txt"))
	if err != nil {
		t.Fatalf("text artifact: %v", err)
	}
	if string(text) != "no image today" {
		t.Errorf("text = %q", text)
	}

	entries, err := os.ReadDir(h.BatchDir("batch-1"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Errorf("got %d files, want 2", len(entries))
	}
}
