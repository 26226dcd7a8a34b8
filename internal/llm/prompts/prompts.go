package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"

	"github.com/stationops/skillcheck/internal/model"
)

//go:embed templates/*.tmpl
var embedded embed.FS

var (
	employeeAnswerRegex     = regexp.MustCompile(`(?i)</?\s*employee-answer\b[^>]*>`)
	systemInstructionsRegex = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)
)

// PromptVariant represents a grading prompt variant.
type PromptVariant string

const (
	// PromptStrict grades safety procedures strictly.
	PromptStrict PromptVariant = "strict"
	// PromptStandard is the default grading variant.
	PromptStandard PromptVariant = "standard"
	// PromptLenient is meant for practice quizzes.
	PromptLenient PromptVariant = "lenient"
)

var validVariants = map[PromptVariant]bool{
	PromptStrict:   true,
	PromptStandard: true,
	PromptLenient:  true,
}

// ErrAlreadyLoaded is returned by Load when templates from another source
// were requested after the first load.
var ErrAlreadyLoaded = errors.New("prompt templates already loaded")

var (
	loadOnce        sync.Once
	loadErr         error
	systemTemplates map[PromptVariant]*template.Template
	userTemplate    *template.Template
)

// IsValidVariant checks if a prompt variant name is valid.
func IsValidVariant(v string) bool {
	return validVariants[PromptVariant(v)]
}

// GradeData holds template data for grading prompts.
type GradeData struct {
	QuestionText    string
	ReferenceAnswer string
	Explanation     string
	Answer          string
}

// Load parses the grading templates from fsys. A nil fsys uses the
// templates compiled into the binary. Templates are loaded once per process:
// a later call with a nil fsys returns the first result, and a later call
// with a non-nil fsys fails with ErrAlreadyLoaded.
func Load(fsys fs.FS) error {
	loaded := false
	loadOnce.Do(func() {
		loaded = true
		if fsys == nil {
			fsys = embedded
		}
		systemTemplates = make(map[PromptVariant]*template.Template)
		for _, v := range []PromptVariant{PromptStrict, PromptStandard, PromptLenient} {
			name := "templates/grade_" + string(v) + ".tmpl"
			tmpl, err := parseFile(fsys, name)
			if err != nil {
				loadErr = err
				return
			}
			systemTemplates[v] = tmpl
		}
		userTemplate, loadErr = parseFile(fsys, "templates/grade_user.tmpl")
	})
	if !loaded && fsys != nil {
		return ErrAlreadyLoaded
	}
	return loadErr
}

func parseFile(fsys fs.FS, name string) (*template.Template, error) {
	content, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, errors.New("failed to read prompt file " + name + ": " + err.Error())
	}
	tmpl, err := template.New(name).Parse(string(content))
	if err != nil {
		return nil, errors.New("failed to parse prompt template " + name + ": " + err.Error())
	}
	return tmpl, nil
}

// BuildGradePrompt renders the system and user messages for grading answer
// to question q with the given variant.
func BuildGradePrompt(variant PromptVariant, q model.Question, answer string) (string, string, error) {
	if err := Load(nil); err != nil {
		return "", "", fmt.Errorf("templates load failed: %w", err)
	}
	tmpl, ok := systemTemplates[variant]
	if !ok {
		return "", "", errors.New("invalid prompt variant: " + string(variant))
	}

	data := GradeData{
		QuestionText:    q.Content,
		ReferenceAnswer: q.CorrectAnswer,
		Explanation:     q.Explanation,
		Answer:          sanitizeAnswer(answer),
	}

	var sys, user bytes.Buffer
	if err := tmpl.Execute(&sys, data); err != nil {
		return "", "", err
	}
	if err := userTemplate.Execute(&user, data); err != nil {
		return "", "", err
	}
	return sys.String(), user.String(), nil
}

func sanitizeAnswer(answer string) string {
	answer = employeeAnswerRegex.ReplaceAllString(answer, "")
	answer = systemInstructionsRegex.ReplaceAllString(answer, "")
	answer = strings.TrimSpace(answer)

	if answer == "" {
		return "[No answer provided]"
	}

	if utf8.RuneCountInString(answer) > 10000 {
		runes := []rune(answer)
		runes = runes[:10000]
		answer = string(runes) + "\n\n[Answer truncated due to length]"
	}

	return answer
}
