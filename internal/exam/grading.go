package exam

import (
	"math"
	"slices"
	"strings"

	"github.com/stationops/skillcheck/internal/model"
)

// PassScore is the AI score from which a subjective answer counts as correct.
const PassScore = 60.0

// CheckObjective reports whether submitted matches the stored answer. Both
// sides are trimmed and upper-cased; a blank submission is never correct.
// Multi-select answers are compared as plain strings unless normalizeMultiple
// is set, in which case "B, A" equals "A,B".
func CheckObjective(qt model.QuestionType, submitted, correct string, normalizeMultiple bool) bool {
	got := strings.ToUpper(strings.TrimSpace(submitted))
	if got == "" {
		return false
	}
	want := strings.ToUpper(strings.TrimSpace(correct))
	if qt == model.QuestionMultiple && normalizeMultiple {
		return slices.Equal(answerSet(got), answerSet(want))
	}
	return got == want
}

func answerSet(s string) []string {
	var items []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			items = append(items, p)
		}
	}
	slices.Sort(items)
	return slices.Compact(items)
}

// NextMastery returns the updated mastery for a tag after an exam with the
// given accuracy (0..1). A tag seen for the first time starts at the exam
// result. The result is clamped to [0,100].
func NextMastery(prev float64, exists bool, accuracy, weightOld, weightNew float64) float64 {
	next := accuracy * 100
	if exists {
		next = prev*weightOld + accuracy*100*weightNew
	}
	return math.Max(0, math.Min(100, next))
}

// TagPerformance is the per-tag outcome of one paper.
type TagPerformance struct {
	TagID        int64   `json:"tag_id"`
	TagName      string  `json:"tag_name"`
	CorrectCount int     `json:"correct_count"`
	TotalCount   int     `json:"total_count"`
	Accuracy     float64 `json:"accuracy"`
}

// tagTally accumulates correct/total counts per scored tag.
type tagTally struct {
	byID map[int64]*TagPerformance
}

func newTagTally() *tagTally {
	return &tagTally{byID: make(map[int64]*TagPerformance)}
}

func (t *tagTally) add(q model.Question, correct bool) {
	for _, tag := range q.Tags {
		if !tag.Category.Scored() {
			continue
		}
		p, ok := t.byID[tag.ID]
		if !ok {
			p = &TagPerformance{TagID: tag.ID, TagName: tag.Name}
			t.byID[tag.ID] = p
		}
		p.TotalCount++
		if correct {
			p.CorrectCount++
		}
	}
}

// results returns the tallies sorted by tag name with accuracy in percent
// rounded to two decimals.
func (t *tagTally) results() []TagPerformance {
	out := make([]TagPerformance, 0, len(t.byID))
	for _, p := range t.byID {
		r := *p
		r.Accuracy = round2(float64(r.CorrectCount) / float64(r.TotalCount) * 100)
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b TagPerformance) int { return strings.Compare(a.TagName, b.TagName) })
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
