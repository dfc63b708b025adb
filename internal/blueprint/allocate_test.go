package blueprint

import "testing"

func TestAllocateFlatDivisionWithCover(t *testing.T) {
	slots, err := Allocate(Options{
		PageCount:         9,
		IncludeCover:      true,
		AutoIncrement:     true,
		ChaptersPerVolume: 4,
	})
	if err != nil {
		t.Fatalf("Allocate() error = %v", err)
	}
	if len(slots) != 10 {
		t.Fatalf("len(slots) = %d, want 10", len(slots))
	}

	cover := slots[0]
	if cover.PageNumber != 0 || cover.Role != RoleCover || cover.Chapter != 0 {
		t.Errorf("cover = %+v", cover)
	}

	wantChapters := []int{1, 2, 3, 4, 1, 2, 3, 4, 1}
	wantVolumes := []int{1, 1, 1, 1, 2, 2, 2, 2, 3}
	for i, s := range slots[1:] {
		if s.PageNumber != i+1 {
			t.Errorf("slot %d PageNumber = %d", i, s.PageNumber)
		}
		if s.Chapter != wantChapters[i] || s.Volume != wantVolumes[i] {
			t.Errorf("slot %d = vol %d ch %d, want vol %d ch %d", i, s.Volume, s.Chapter, wantVolumes[i], wantChapters[i])
		}
	}
}

func TestAllocateFixedVolume(t *testing.T) {
	slots, err := Allocate(Options{PageCount: 3, VolumeStart: 2, ChapterStart: 5})
	if err != nil {
		t.Fatalf("Allocate() error = %v", err)
	}
	for i, s := range slots {
		if s.Volume != 2 || s.Chapter != 5+i {
			t.Errorf("slot %d = vol %d ch %d, want vol 2 ch %d", i, s.Volume, s.Chapter, 5+i)
		}
	}
}

func TestAllocateWithPlan(t *testing.T) {
	plan := `Volume 1: The Arrival
Chapter 1 - the ship
Chapter 2 - the port
Volume 2
Chapter 1
Chapter 2
Chapter 3
`
	slots, err := Allocate(Options{
		PageCount:         7,
		AutoIncrement:     true,
		ChaptersPerVolume: 10,
		PlanText:          plan,
	})
	if err != nil {
		t.Fatalf("Allocate() error = %v", err)
	}

	want := [][2]int{{1, 1}, {1, 2}, {2, 1}, {2, 2}, {2, 3}, {3, 1}, {3, 2}}
	for i, s := range slots {
		if s.Volume != want[i][0] || s.Chapter != want[i][1] {
			t.Errorf("slot %d = vol %d ch %d, want vol %d ch %d", i, s.Volume, s.Chapter, want[i][0], want[i][1])
		}
	}
}

func TestAllocateErrors(t *testing.T) {
	if _, err := Allocate(Options{PageCount: -1}); err == nil {
		t.Error("expected error for negative page count")
	}
	if _, err := Allocate(Options{PageCount: 2, AutoIncrement: true}); err == nil {
		t.Error("expected error for zero chapters per volume")
	}
	bad := RolePolicy{Name: "bad", Edges: []float64{0.5, 0.4}, Roles: []Role{RoleHook, RoleClimax, RoleResolution}}
	if _, err := Allocate(Options{PageCount: 2, Policy: bad}); err == nil {
		t.Error("expected error for non-monotonic policy")
	}
}

func TestRolesMonotonic(t *testing.T) {
	for _, policy := range []RolePolicy{StoryPolicy, ExplainerPolicy} {
		t.Run(policy.Name, func(t *testing.T) {
			slots, err := Allocate(Options{PageCount: 20, IncludeCover: true, Policy: policy})
			if err != nil {
				t.Fatalf("Allocate() error = %v", err)
			}
			if slots[0].Role != RoleCover || slots[1].Role != RoleHook {
				t.Fatalf("first roles = %s, %s", slots[0].Role, slots[1].Role)
			}

			rank := make(map[Role]int)
			for i, r := range policy.Roles {
				rank[r] = i
			}
			last := -1
			seen := make(map[Role]bool)
			for _, s := range slots[2:] {
				r, ok := rank[s.Role]
				if !ok {
					t.Fatalf("role %s not in policy", s.Role)
				}
				if r < last {
					t.Fatalf("roles not monotonic at page %d", s.PageNumber)
				}
				last = r
				seen[s.Role] = true
			}
			for _, r := range policy.Roles {
				if !seen[r] {
					t.Errorf("role %s never assigned", r)
				}
			}
		})
	}
}

func TestAllocateSinglePage(t *testing.T) {
	slots, err := Allocate(Options{PageCount: 1})
	if err != nil {
		t.Fatalf("Allocate() error = %v", err)
	}
	if len(slots) != 1 || slots[0].Role != RoleHook {
		t.Errorf("slots = %+v", slots)
	}
}
