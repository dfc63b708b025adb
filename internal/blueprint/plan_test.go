package blueprint

import "testing"

func TestParsePlan(t *testing.T) {
	tests := []struct {
		name string
		text string
		want Plan
	}{
		{"empty", "", nil},
		{"no headers", "Chapter 1\nChapter 2", nil},
		{
			"english",
			"Vol. 1\nCh. 1 start\nCh. 2 middle\nVol 2\nnotes only\nVolume 3\nEpisode 1\n",
			Plan{{Volume: 1, Chapters: 2}, {Volume: 2, Chapters: 0}, {Volume: 3, Chapters: 1}},
		},
		{
			"japanese",
			"第１巻\n第1話 出会い\n第2話 別れ\n第2巻\n第1章\n",
			Plan{{Volume: 1, Chapters: 2}, {Volume: 2, Chapters: 1}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParsePlan(tt.text)
			if len(got) != len(tt.want) {
				t.Fatalf("ParsePlan() = %+v, want %+v", got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("ParsePlan()[%d] = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestPlanLocateFallsBackToChaptersPerVolume(t *testing.T) {
	plan := Plan{{Volume: 1, Chapters: 2}, {Volume: 2, Chapters: 0}}
	tests := []struct{ abs, vol, ch int }{
		{1, 1, 1}, {2, 1, 2}, {3, 2, 1}, {5, 2, 3}, {6, 3, 1}, {9, 3, 4},
	}
	for _, tt := range tests {
		vol, ch := plan.locate(tt.abs, 3)
		if vol != tt.vol || ch != tt.ch {
			t.Errorf("locate(%d) = %d/%d, want %d/%d", tt.abs, vol, ch, tt.vol, tt.ch)
		}
	}
}
