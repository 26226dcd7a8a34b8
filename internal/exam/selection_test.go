package exam

import (
	"math/rand/v2"
	"testing"

	"github.com/stationops/skillcheck/internal/model"
)

var (
	tagTickets = model.Tag{ID: 1, Name: "Tickets", Category: model.CategoryPosition}
	tagFire    = model.Tag{ID: 2, Name: "Fire", Category: model.CategoryEmergency}
	tagRole    = model.Tag{ID: 3, Name: "Station Attendant", Category: model.CategoryRole}
	tagOther   = model.Tag{ID: 4, Name: "Cashier", Category: model.CategoryRole}
)

func testRand() *rand.Rand {
	return rand.New(rand.NewPCG(1, 2))
}

// makePool returns n questions of type qt tagged with tags, ids from start.
func makePool(start int64, n int, qt model.QuestionType, tags ...model.Tag) []model.Question {
	qs := make([]model.Question, n)
	for i := range qs {
		qs[i] = model.Question{ID: start + int64(i), Type: qt, Tags: tags, Active: true}
	}
	return qs
}

func countTagged(qs []model.Question, tagID int64) int {
	n := 0
	for _, q := range qs {
		if q.HasTag(tagID) {
			n++
		}
	}
	return n
}

func assertUnique(t *testing.T, qs []model.Question) {
	t.Helper()
	seen := make(map[int64]bool)
	for _, q := range qs {
		if seen[q.ID] {
			t.Fatalf("question %d selected twice", q.ID)
		}
		seen[q.ID] = true
	}
}

func TestSelectWeakSplit(t *testing.T) {
	pool := append(makePool(1, 20, model.QuestionSingle, tagFire), makePool(100, 20, model.QuestionSingle, tagTickets)...)
	plan := Plan{Count: 15, WeakTags: map[int64]bool{tagFire.ID: true}, WeakRatio: 0.6}

	for seed := uint64(0); seed < 20; seed++ {
		got := Select(pool, plan, rand.New(rand.NewPCG(seed, seed+1)))
		if len(got) != 15 {
			t.Fatalf("seed %d: expected 15 questions, got %d", seed, len(got))
		}
		assertUnique(t, got)
		if weak := countTagged(got, tagFire.ID); weak != 9 {
			t.Errorf("seed %d: expected 9 weak-tagged, got %d", seed, weak)
		}
		if other := countTagged(got, tagTickets.ID); other != 6 {
			t.Errorf("seed %d: expected 6 other, got %d", seed, other)
		}
	}
}

func TestSelectReservesRoleSubjective(t *testing.T) {
	pool := append(makePool(1, 20, model.QuestionSingle, tagFire, tagRole), makePool(100, 20, model.QuestionSingle, tagTickets, tagRole)...)
	pool = append(pool, makePool(200, 3, model.QuestionSubjective, tagRole)...)
	plan := Plan{Count: 15, WeakTags: map[int64]bool{tagFire.ID: true}, RoleTagID: tagRole.ID, WeakRatio: 0.6}

	got := Select(pool, plan, testRand())
	if len(got) != 15 {
		t.Fatalf("expected 15 questions, got %d", len(got))
	}
	assertUnique(t, got)
	subjective := 0
	for _, q := range got {
		if q.Type == model.QuestionSubjective {
			subjective++
		}
	}
	if subjective < 1 {
		t.Error("expected at least one subjective role question")
	}
	if weak := countTagged(got, tagFire.ID); weak != 8 {
		t.Errorf("expected 8 weak-tagged after reservation, got %d", weak)
	}
}

func TestSelectBackfill(t *testing.T) {
	tests := []struct {
		name string
		pool []model.Question
		plan Plan
		want int
	}{
		{
			name: "only weak questions",
			pool: makePool(1, 20, model.QuestionSingle, tagFire),
			plan: Plan{Count: 15, WeakTags: map[int64]bool{tagFire.ID: true}, WeakRatio: 0.6},
			want: 15,
		},
		{
			name: "small pool",
			pool: makePool(1, 5, model.QuestionSingle, tagTickets),
			plan: Plan{Count: 15, WeakRatio: 0.6},
			want: 5,
		},
		{
			name: "no weak tags",
			pool: makePool(1, 30, model.QuestionSingle, tagTickets),
			plan: Plan{Count: 15, WeakRatio: 0.6},
			want: 15,
		},
		{
			name: "empty pool",
			pool: nil,
			plan: Plan{Count: 15, WeakRatio: 0.6},
			want: 0,
		},
		{
			name: "zero count",
			pool: makePool(1, 5, model.QuestionSingle, tagTickets),
			plan: Plan{Count: 0, WeakRatio: 0.6},
			want: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Select(tt.pool, tt.plan, testRand())
			if len(got) != tt.want {
				t.Errorf("expected %d questions, got %d", tt.want, len(got))
			}
			assertUnique(t, got)
		})
	}
}

func TestCandidatePool(t *testing.T) {
	active := []model.Question{
		{ID: 1, Tags: []model.Tag{tagTickets, tagRole}},
		{ID: 2, Tags: []model.Tag{tagFire}},
		{ID: 3, Tags: []model.Tag{tagOther}},
		{ID: 4},
		{ID: 5, Tags: []model.Tag{tagRole}},
	}

	tests := []struct {
		name   string
		recent map[int64]bool
		admin  bool
		role   int64
		want   []int64
	}{
		{"role tag narrows", nil, false, tagRole.ID, []int64{1, 5}},
		{"no role tag keeps scored categories", nil, false, 0, []int64{1, 2}},
		{"admin sees everything", nil, true, tagRole.ID, []int64{1, 2, 3, 4, 5}},
		{"recent excluded", map[int64]bool{1: true}, false, tagRole.ID, []int64{5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CandidatePool(active, tt.recent, tt.admin, tt.role)
			if len(got) != len(tt.want) {
				t.Fatalf("expected %v, got %d questions", tt.want, len(got))
			}
			for i, q := range got {
				if q.ID != tt.want[i] {
					t.Errorf("position %d: expected id %d, got %d", i, tt.want[i], q.ID)
				}
			}
		})
	}
}
