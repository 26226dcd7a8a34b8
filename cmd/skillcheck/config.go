package main

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/spf13/viper"

	"github.com/stationops/skillcheck/internal/llm"
	"github.com/stationops/skillcheck/internal/llm/prompts"
	"github.com/stationops/skillcheck/internal/model"
)

// assessmentConfig reads and validates the exam.*, capability.* and
// grading.* settings.
func assessmentConfig(v *viper.Viper) (model.AssessmentConfig, error) {
	cfg := model.AssessmentConfig{
		QuestionCount:      v.GetInt("exam.question-count"),
		WeakThreshold:      v.GetFloat64("exam.weak-threshold"),
		WeakRatio:          v.GetFloat64("exam.weak-ratio"),
		ExcludeRecentHours: v.GetInt("exam.exclude-recent-hours"),
		TimeLimit:          v.GetInt("exam.time-limit"),
		WeightOld:          v.GetFloat64("capability.weight-old"),
		WeightNew:          v.GetFloat64("capability.weight-new"),
		NormalizeMultiple:  v.GetBool("grading.normalize-multiple"),
	}

	var errs []error
	if cfg.QuestionCount < 1 {
		errs = append(errs, fmt.Errorf("exam.question-count must be positive, got %d", cfg.QuestionCount))
	}
	if cfg.WeakThreshold < 0 || cfg.WeakThreshold > 100 {
		errs = append(errs, fmt.Errorf("exam.weak-threshold %v out of range 0-100", cfg.WeakThreshold))
	}
	if cfg.WeakRatio < 0 || cfg.WeakRatio > 1 {
		errs = append(errs, fmt.Errorf("exam.weak-ratio %v out of range 0-1", cfg.WeakRatio))
	}
	if cfg.ExcludeRecentHours < 0 {
		errs = append(errs, errors.New("exam.exclude-recent-hours must not be negative"))
	}
	if cfg.TimeLimit <= 0 {
		errs = append(errs, fmt.Errorf("exam.time-limit must be positive, got %d", cfg.TimeLimit))
	}
	if cfg.WeightOld < 0 || cfg.WeightNew < 0 {
		errs = append(errs, errors.New("capability weights must not be negative"))
	}
	if math.Abs(cfg.WeightOld+cfg.WeightNew-1) > 1e-9 {
		errs = append(errs, fmt.Errorf("capability.weight-old + capability.weight-new must equal 1, got %v",
			cfg.WeightOld+cfg.WeightNew))
	}
	if len(errs) > 0 {
		return cfg, fmt.Errorf("invalid assessment config: %w", errors.Join(errs...))
	}
	return cfg, nil
}

// llmConfig reads and validates the ai.* settings.
func llmConfig(v *viper.Viper) (llm.Config, error) {
	cfg := llm.Config{
		Provider:      llm.Provider(strings.ToLower(strings.TrimSpace(v.GetString("ai.provider")))),
		BaseURL:       v.GetString("ai.base-url"),
		APIKey:        v.GetString("ai.api-key"),
		Model:         v.GetString("ai.model"),
		Timeout:       v.GetDuration("ai.timeout"),
		FallbackScore: v.GetFloat64("ai.fallback-score"),
		PromptVariant: strings.ToLower(strings.TrimSpace(v.GetString("ai.prompt-variant"))),
	}
	if cfg.Provider == "" {
		cfg.Provider = llm.ProviderNone
	}
	if cfg.PromptVariant == "" {
		cfg.PromptVariant = string(prompts.PromptStandard)
	}
	if !prompts.IsValidVariant(cfg.PromptVariant) {
		return cfg, fmt.Errorf("invalid ai.prompt-variant %q (want strict, standard or lenient)", cfg.PromptVariant)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid AI config: %w", err)
	}
	return cfg, nil
}
