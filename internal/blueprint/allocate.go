// Package blueprint assigns narrative roles and volume/chapter coordinates to
// page slots.
package blueprint

import (
	"errors"
	"fmt"

	"github.com/aimikata/storyboard/internal/types"
)

// Slot is the blueprint entry for one page.
type Slot struct {
	PageNumber int  `json:"page_number" yaml:"page_number"`
	Role       Role `json:"role" yaml:"role"`
	Volume     int  `json:"volume" yaml:"volume"`
	Chapter    int  `json:"chapter" yaml:"chapter"`
}

// String renders the slot for prompts and logs.
func (s Slot) String() string {
	if s.Role == RoleCover {
		return fmt.Sprintf("Page %d (cover, vol. %d)", s.PageNumber, s.Volume)
	}
	return fmt.Sprintf("Page %d (vol. %d, ch. %d, %s)", s.PageNumber, s.Volume, s.Chapter, s.Role)
}

// Options configures Allocate.
type Options struct {
	PageCount         int
	IncludeCover      bool
	VolumeStart       int // default 1
	ChapterStart      int // default 1
	AutoIncrement     bool
	ChaptersPerVolume int
	// PlanText is free-form planning text. When it contains volume
	// headers, its structure takes precedence over ChaptersPerVolume.
	PlanText string
	// Policy defaults to StoryPolicy.
	Policy RolePolicy
}

// Allocate builds the blueprint for a run of pages. A requested cover is
// prepended as page 0 and takes no chapter number.
func Allocate(opts Options) ([]Slot, error) {
	if opts.PageCount < 0 {
		return nil, errors.New("page count must not be negative")
	}
	if opts.VolumeStart < 1 {
		opts.VolumeStart = 1
	}
	if opts.ChapterStart < 1 {
		opts.ChapterStart = 1
	}
	if opts.Policy.Roles == nil {
		opts.Policy = StoryPolicy
	}
	if err := opts.Policy.Validate(); err != nil {
		return nil, err
	}
	if opts.AutoIncrement && opts.ChaptersPerVolume < 1 {
		return nil, errors.New("chapters per volume must be positive")
	}

	plan := ParsePlan(opts.PlanText)

	slots := make([]Slot, 0, opts.PageCount+1)
	for i := 0; i < opts.PageCount; i++ {
		volume, chapter := opts.coordinates(opts.ChapterStart+i, plan)
		slots = append(slots, Slot{
			PageNumber: i + 1,
			Role:       opts.Policy.roleAt(i, opts.PageCount),
			Volume:     volume,
			Chapter:    chapter,
		})
	}

	if opts.IncludeCover {
		cover := Slot{PageNumber: types.CoverPage, Role: RoleCover, Volume: opts.VolumeStart}
		if len(slots) > 0 {
			cover.Volume = slots[0].Volume
		}
		slots = append([]Slot{cover}, slots...)
	}
	return slots, nil
}

func (o Options) coordinates(absolute int, plan Plan) (volume, chapter int) {
	switch {
	case !o.AutoIncrement:
		return o.VolumeStart, absolute
	case len(plan) > 0:
		return plan.locate(absolute, o.ChaptersPerVolume)
	default:
		offset := (absolute - 1) / o.ChaptersPerVolume
		return o.VolumeStart + offset, (absolute-1)%o.ChaptersPerVolume + 1
	}
}

// PageNumbers returns the page numbers of slots in order.
func PageNumbers(slots []Slot) []int {
	out := make([]int, len(slots))
	for i, s := range slots {
		out[i] = s.PageNumber
	}
	return out
}
