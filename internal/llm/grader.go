package llm

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/stationops/skillcheck/internal/llm/prompts"
	"github.com/stationops/skillcheck/internal/model"
)

type completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Grader scores subjective answers through a chat model. It never fails:
// any error, timeout or unparseable reply yields the fallback score.
type Grader struct {
	client   completer
	variant  prompts.PromptVariant
	timeout  time.Duration
	fallback float64
}

// NewGrader builds a grader from cfg. A nil client (ProviderNone) makes
// every call return the fallback score.
func NewGrader(client *Client, cfg Config) *Grader {
	g := &Grader{
		variant:  prompts.PromptVariant(cfg.PromptVariant),
		timeout:  cfg.Timeout,
		fallback: cfg.FallbackScore,
	}
	if g.variant == "" {
		g.variant = prompts.PromptStandard
	}
	if client != nil {
		g.client = client
	}
	return g
}

// Score returns the AI score of answer in [0,100].
func (g *Grader) Score(ctx context.Context, q model.Question, answer string) float64 {
	if g.client == nil {
		return g.fallback
	}
	system, user, err := prompts.BuildGradePrompt(g.variant, q, answer)
	if err != nil {
		slog.Warn("build grading prompt failed, using fallback score", "question_id", q.ID, "error", err)
		return g.fallback
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	start := time.Now()
	reply, err := g.client.Complete(ctx, system, user)
	if err != nil {
		slog.Warn("AI grading failed, using fallback score",
			"question_id", q.ID, "elapsed", time.Since(start), "error", err)
		return g.fallback
	}
	score, err := ParseScore(reply)
	if err != nil {
		slog.Warn("unparseable AI grading reply, using fallback score",
			"question_id", q.ID, "reply", reply, "error", err)
		return g.fallback
	}
	slog.Debug("AI graded answer", "question_id", q.ID, "score", score, "elapsed", time.Since(start))
	return score
}

// ParseScore reads a model reply that must be a bare number in [0,100].
// A single trailing "%" or "分" is tolerated.
func ParseScore(reply string) (float64, error) {
	text := strings.TrimSpace(reply)
	if t, ok := strings.CutSuffix(text, "%"); ok {
		text = strings.TrimSpace(t)
	} else if t, ok := strings.CutSuffix(text, "分"); ok {
		text = strings.TrimSpace(t)
	}
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, fmt.Errorf("reply %q is not a number", reply)
	}
	if math.IsNaN(v) || v < 0 || v > 100 {
		return 0, fmt.Errorf("score %v out of range 0-100", v)
	}
	return v, nil
}
