package store

import (
	"context"
	"fmt"
	"time"

	"github.com/stationops/skillcheck/internal/model"
)

// ExportCapabilities builds export-ready capability data for every user.
func (s *Store) ExportCapabilities(ctx context.Context) (*model.CapabilityExport, error) {
	users, err := s.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	out := &model.CapabilityExport{GeneratedAt: time.Now().UTC()}
	for _, u := range users {
		profiles, err := s.ListProfiles(ctx, u.ID)
		if err != nil {
			return nil, fmt.Errorf("profiles of user %d: %w", u.ID, err)
		}
		papers, err := s.ListPapers(ctx, u.ID)
		if err != nil {
			return nil, fmt.Errorf("papers of user %d: %w", u.ID, err)
		}

		res := model.UserResult{
			JobNumber:   u.JobNumber,
			DisplayName: u.DisplayName,
			Position:    u.Position,
			Department:  u.Department,
			Profiles:    []model.TagMastery{},
			Papers:      []model.PaperOutcome{},
		}
		for _, p := range profiles {
			res.Profiles = append(res.Profiles, model.TagMastery{
				Tag:      p.Tag.Name,
				Category: p.Tag.Category,
				Mastery:  p.MasteryLevel,
			})
		}
		// ListPapers is newest first; export in completion order.
		for i := len(papers) - 1; i >= 0; i-- {
			p := papers[i]
			if p.Status != model.PaperCompleted {
				continue
			}
			var obtained float64
			if p.ScoreObtained != nil {
				obtained = *p.ScoreObtained
			}
			res.Papers = append(res.Papers, model.PaperOutcome{
				PaperID:          p.ID,
				GenerationReason: p.GenerationReason,
				CompletedAt:      p.CompletedAt,
				ScoreObtained:    obtained,
				TotalScore:       p.TotalScore,
				QuestionCount:    p.QuestionCount,
			})
		}
		out.Users = append(out.Users, res)
	}
	return out, nil
}
