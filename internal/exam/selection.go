package exam

import (
	"log/slog"
	"math"
	"math/rand/v2"

	"github.com/stationops/skillcheck/internal/model"
)

// Plan parameterizes question selection for one paper.
type Plan struct {
	Count     int
	WeakTags  map[int64]bool
	RoleTagID int64 // 0 when the user has no role tag
	WeakRatio float64
}

func (p Plan) hasWeakTag(q model.Question) bool {
	for _, t := range q.Tags {
		if p.WeakTags[t.ID] {
			return true
		}
	}
	return false
}

// step draws up to n questions matching match from the unchosen candidates.
type step struct {
	name  string
	n     func(chosen int) int
	match func(q model.Question) bool
}

// CandidatePool filters the active question set down to what a user may be
// examined on: recently answered questions are dropped and, unless admin is
// set, questions are narrowed to the user's role tag. Without a role tag only
// questions carrying a scored (non-role) tag are kept.
func CandidatePool(active []model.Question, recent map[int64]bool, admin bool, roleTagID int64) []model.Question {
	var pool []model.Question
	for _, q := range active {
		if recent[q.ID] {
			continue
		}
		switch {
		case admin:
		case roleTagID != 0:
			if !q.HasTag(roleTagID) {
				continue
			}
		default:
			if !q.HasCategory(model.CategoryPosition, model.CategoryEmergency, model.CategoryComprehensive) {
				continue
			}
		}
		pool = append(pool, q)
	}
	return pool
}

// Select picks up to p.Count questions from pool and returns them in random
// order. The pipeline reserves one subjective role question, fills the weak
// quota, draws the rest from questions without a weak tag and finally
// backfills from whatever is left.
func Select(pool []model.Question, p Plan, rng *rand.Rand) []model.Question {
	if p.Count <= 0 || len(pool) == 0 {
		return nil
	}

	steps := []step{
		{
			name: "role-subjective",
			n: func(int) int {
				if p.RoleTagID == 0 {
					return 0
				}
				return 1
			},
			match: func(q model.Question) bool {
				return q.Type == model.QuestionSubjective && q.HasTag(p.RoleTagID)
			},
		},
		{
			name: "weak",
			n: func(chosen int) int {
				if len(p.WeakTags) == 0 {
					return 0
				}
				// Quota is taken over the slots left after the reservation.
				return int(math.Floor(float64(p.Count-chosen) * p.WeakRatio))
			},
			match: p.hasWeakTag,
		},
		{
			name:  "random",
			n:     func(chosen int) int { return p.Count - chosen },
			match: func(q model.Question) bool { return !p.hasWeakTag(q) },
		},
		{
			name:  "backfill",
			n:     func(chosen int) int { return p.Count - chosen },
			match: func(model.Question) bool { return true },
		},
	}

	chosen := make(map[int64]bool, p.Count)
	var picked []model.Question
	for _, st := range steps {
		n := st.n(len(picked))
		if n <= 0 {
			continue
		}
		var matches []model.Question
		for _, q := range pool {
			if !chosen[q.ID] && st.match(q) {
				matches = append(matches, q)
			}
		}
		rng.Shuffle(len(matches), func(i, j int) { matches[i], matches[j] = matches[j], matches[i] })
		if len(matches) > n {
			matches = matches[:n]
		}
		for _, q := range matches {
			chosen[q.ID] = true
			picked = append(picked, q)
		}
		slog.Debug("selection step", "step", st.name, "want", n, "picked", len(matches))
	}

	rng.Shuffle(len(picked), func(i, j int) { picked[i], picked[j] = picked[j], picked[i] })
	return picked
}
