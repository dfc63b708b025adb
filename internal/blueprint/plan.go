package blueprint

import (
	"regexp"
	"strconv"

	"golang.org/x/text/unicode/norm"
)

var (
	volumePattern  = regexp.MustCompile(`(?i)\bvol(?:ume)?\.?\s*(\d+)|第\s*(\d+)\s*巻`)
	chapterPattern = regexp.MustCompile(`(?i)\b(?:chapter|ch\.?|episode|ep\.)\s*(\d+)|第\s*(\d+)\s*[話章]`)
)

// VolumePlan is one volume of an existing plan. Chapters is zero when the
// volume's span held no chapter markers.
type VolumePlan struct {
	Volume   int `json:"volume" yaml:"volume"`
	Chapters int `json:"chapters" yaml:"chapters"`
}

// Plan is the volume structure recovered from planning text.
type Plan []VolumePlan

// ParsePlan finds volume headers in text and counts the chapter markers
// between each header and the next. Text without volume headers yields an
// empty plan.
func ParsePlan(text string) Plan {
	text = norm.NFKC.String(text)
	headers := volumePattern.FindAllStringSubmatchIndex(text, -1)
	if len(headers) == 0 {
		return nil
	}

	plan := make(Plan, 0, len(headers))
	for i, h := range headers {
		end := len(text)
		if i+1 < len(headers) {
			end = headers[i+1][0]
		}
		num, ok := submatchInt(text, h)
		if !ok {
			continue
		}
		span := text[h[1]:end]
		plan = append(plan, VolumePlan{
			Volume:   num,
			Chapters: len(chapterPattern.FindAllStringIndex(span, -1)),
		})
	}
	return plan
}

// submatchInt returns the first non-empty numeric group of a match.
func submatchInt(text string, loc []int) (int, bool) {
	for g := 2; g+1 < len(loc); g += 2 {
		if loc[g] < 0 {
			continue
		}
		n, err := strconv.Atoi(text[loc[g]:loc[g+1]])
		return n, err == nil
	}
	return 0, false
}

// locate walks the plan for an absolute chapter number. Volumes without a
// chapter count use chaptersPerVolume. Chapters past the end of the plan
// continue in one extra volume.
func (p Plan) locate(absolute, chaptersPerVolume int) (volume, chapter int) {
	remaining := absolute
	for _, v := range p {
		size := v.Chapters
		if size == 0 {
			size = chaptersPerVolume
		}
		if remaining <= size {
			return v.Volume, remaining
		}
		remaining -= size
	}
	return p[len(p)-1].Volume + 1, remaining
}
