// Package analysis derives capability reports from profiles and completed
// papers.
package analysis

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/stationops/skillcheck/internal/model"
	"github.com/stationops/skillcheck/internal/store"
)

// Report thresholds.
const (
	WeakThreshold   = 60.0
	StrongThreshold = 80.0
	HighPriority    = 40.0
	RecentDays      = 30
)

// RadarPoint is one axis of the capability radar chart.
type RadarPoint struct {
	Tag   string  `json:"tag"`
	Score float64 `json:"score"`
}

// Summary condenses a user's capability state.
type Summary struct {
	UserID         int64    `json:"user_id"`
	Username       string   `json:"username"`
	JobNumber      string   `json:"job_number"`
	OverallScore   float64  `json:"overall_score"`
	WeakTags       []string `json:"weak_tags"`
	StrongTags     []string `json:"strong_tags"`
	TotalExams     int      `json:"total_exams"`
	RecentAccuracy float64  `json:"recent_accuracy"`
}

// TrendPoint is the accuracy of one tag on one day.
type TrendPoint struct {
	Date    string  `json:"date"`
	TagName string  `json:"tag_name"`
	Score   float64 `json:"score"`
}

// Recommendation suggests training for a weak tag.
type Recommendation struct {
	TagID              int64             `json:"tag_id"`
	TagName            string            `json:"tag_name"`
	TagCategory        model.TagCategory `json:"tag_category"`
	CurrentLevel       float64           `json:"current_level"`
	AvailableMaterials int               `json:"available_materials"`
	Priority           string            `json:"priority"`
}

// Service computes reports.
type Service struct {
	store *store.Store
	now   func() time.Time
}

// NewService creates an analysis service.
func NewService(st *store.Store) *Service {
	return &Service{store: st, now: time.Now}
}

func scoredProfiles(ps []model.CapabilityProfile) []model.CapabilityProfile {
	return slices.DeleteFunc(ps, func(p model.CapabilityProfile) bool {
		return !p.Tag.Category.Scored()
	})
}

// Profiles returns every profile of the user.
func (s *Service) Profiles(ctx context.Context, userID int64) ([]model.CapabilityProfile, error) {
	return s.store.ListProfiles(ctx, userID)
}

// Radar returns the user's non-role mastery levels. A user without history
// gets every non-role tag at the default level.
func (s *Service) Radar(ctx context.Context, userID int64) ([]RadarPoint, error) {
	profiles, err := s.store.ListProfiles(ctx, userID)
	if err != nil {
		return nil, err
	}
	profiles = scoredProfiles(profiles)

	points := []RadarPoint{}
	if len(profiles) > 0 {
		for _, p := range profiles {
			points = append(points, RadarPoint{Tag: p.Tag.Name, Score: p.MasteryLevel})
		}
		return points, nil
	}

	tags, err := s.store.ListTags(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	for _, t := range tags {
		if t.Category.Scored() {
			points = append(points, RadarPoint{Tag: t.Name, Score: model.DefaultMastery})
		}
	}
	return points, nil
}

// Summary reports overall mastery, weak and strong tags, and recent accuracy.
func (s *Service) Summary(ctx context.Context, user *model.User) (*Summary, error) {
	profiles, err := s.store.ListProfiles(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	profiles = scoredProfiles(profiles)

	sum := &Summary{
		UserID:       user.ID,
		Username:     user.Username,
		JobNumber:    user.JobNumber,
		OverallScore: model.DefaultMastery,
		WeakTags:     []string{},
		StrongTags:   []string{},
	}
	if len(profiles) > 0 {
		var total float64
		for _, p := range profiles {
			total += p.MasteryLevel
			switch {
			case p.MasteryLevel < WeakThreshold:
				sum.WeakTags = append(sum.WeakTags, p.Tag.Name)
			case p.MasteryLevel >= StrongThreshold:
				sum.StrongTags = append(sum.StrongTags, p.Tag.Name)
			}
		}
		sum.OverallScore = round2(total / float64(len(profiles)))
	}

	if sum.TotalExams, err = s.store.CountPapers(ctx, user.ID); err != nil {
		return nil, err
	}

	recent, err := s.store.CompletedPapersSince(ctx, user.ID, s.now().AddDate(0, 0, -RecentDays))
	if err != nil {
		return nil, err
	}
	var obtained, possible float64
	for _, p := range recent {
		if p.ScoreObtained != nil {
			obtained += *p.ScoreObtained
		}
		possible += p.TotalScore
	}
	if possible > 0 {
		sum.RecentAccuracy = round2(obtained / possible * 100)
	}
	return sum, nil
}

// Trend returns per-day, per-tag accuracy over the last days days. When a
// tag appears on several papers of the same day the latest paper wins.
func (s *Service) Trend(ctx context.Context, userID int64, days int) ([]TrendPoint, error) {
	papers, err := s.store.CompletedPapersSince(ctx, userID, s.now().AddDate(0, 0, -days))
	if err != nil {
		return nil, err
	}

	type key struct{ date, tag string }
	latest := make(map[key]float64)
	for _, p := range papers {
		if p.CompletedAt == nil {
			continue
		}
		view, err := s.store.GetPaperView(ctx, p.ID)
		if err != nil {
			return nil, fmt.Errorf("paper %d: %w", p.ID, err)
		}
		type tally struct{ correct, total int }
		byTag := make(map[string]*tally)
		for _, r := range view.Records {
			for _, t := range r.Question.Tags {
				if !t.Category.Scored() {
					continue
				}
				tl, ok := byTag[t.Name]
				if !ok {
					tl = &tally{}
					byTag[t.Name] = tl
				}
				tl.total++
				if r.Record.IsCorrect != nil && *r.Record.IsCorrect {
					tl.correct++
				}
			}
		}
		date := p.CompletedAt.Local().Format(time.DateOnly)
		for name, tl := range byTag {
			latest[key{date, name}] = float64(tl.correct) / float64(tl.total) * 100
		}
	}

	points := make([]TrendPoint, 0, len(latest))
	for k, v := range latest {
		points = append(points, TrendPoint{Date: k.date, TagName: k.tag, Score: round2(v)})
	}
	slices.SortFunc(points, func(a, b TrendPoint) int {
		if c := strings.Compare(a.Date, b.Date); c != 0 {
			return c
		}
		return strings.Compare(a.TagName, b.TagName)
	})
	return points, nil
}

// Recommendations lists the user's weak tags, weakest first, with the
// number of active training materials for each.
func (s *Service) Recommendations(ctx context.Context, userID int64) ([]Recommendation, error) {
	weak, err := s.store.WeakProfiles(ctx, userID, WeakThreshold)
	if err != nil {
		return nil, err
	}
	counts, err := s.store.CountMaterialsByTag(ctx)
	if err != nil {
		return nil, fmt.Errorf("count materials: %w", err)
	}

	recs := []Recommendation{}
	for _, p := range weak {
		priority := "medium"
		if p.MasteryLevel < HighPriority {
			priority = "high"
		}
		recs = append(recs, Recommendation{
			TagID:              p.Tag.ID,
			TagName:            p.Tag.Name,
			TagCategory:        p.Tag.Category,
			CurrentLevel:       p.MasteryLevel,
			AvailableMaterials: counts[p.Tag.ID],
			Priority:           priority,
		})
	}
	return recs, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
