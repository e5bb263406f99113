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
)

// FS holds the built-in prompt templates.
//
//go:embed templates/*.txt
var FS embed.FS

var (
	studentAnswerRegex      = regexp.MustCompile(`(?i)</?\s*student-answer\b[^>]*>`)
	systemInstructionsRegex = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)
)

const maxAnswerRunes = 10000

// PromptVariant represents a grading prompt variant.
type PromptVariant string

const (
	// PromptStrict grades with little partial credit.
	PromptStrict PromptVariant = "strict"
	// PromptStandard is the default grading variant.
	PromptStandard PromptVariant = "standard"
	// PromptLenient is generous with partial credit.
	PromptLenient PromptVariant = "lenient"
)

var validVariants = map[PromptVariant]bool{
	PromptStrict:   true,
	PromptStandard: true,
	PromptLenient:  true,
}

var (
	loadOnce        sync.Once
	loadErr         error
	gradeTemplates  map[PromptVariant]*template.Template
	compareTemplate *template.Template
	compareSystem   string
	transcribe      string
)

// IsValidVariant checks if a prompt variant name is valid.
func IsValidVariant(v string) bool {
	return validVariants[PromptVariant(v)]
}

// GradeData holds template data for grading one descriptive answer.
type GradeData struct {
	Kind            string
	QuestionNumber  int
	Question        string
	ReferenceAnswer string
	MaxMarks        int
	Answer          string
}

// CompareData holds template data for a script comparison.
type CompareData struct {
	TeacherScript string
	StudentScript string
}

// Load loads prompt templates from fsys.
// It uses sync.Once to ensure templates are loaded only once.
func Load(fsys fs.FS) error {
	loadOnce.Do(func() {
		gradeTemplates = make(map[PromptVariant]*template.Template)

		for _, v := range []PromptVariant{PromptStrict, PromptStandard, PromptLenient} {
			tmpl, err := parseFile(fsys, "templates/grade_"+string(v)+".txt")
			if err != nil {
				loadErr = err
				return
			}
			gradeTemplates[v] = tmpl
		}

		var err error
		if compareTemplate, err = parseFile(fsys, "templates/compare_user.txt"); err != nil {
			loadErr = err
			return
		}
		if compareSystem, err = readFile(fsys, "templates/compare_system.txt"); err != nil {
			loadErr = err
			return
		}
		if transcribe, err = readFile(fsys, "templates/transcribe.txt"); err != nil {
			loadErr = err
			return
		}
	})
	return loadErr
}

// LoadDefault loads the built-in templates.
func LoadDefault() error {
	return Load(FS)
}

func readFile(fsys fs.FS, name string) (string, error) {
	content, err := fs.ReadFile(fsys, name)
	if err != nil {
		return "", fmt.Errorf("read prompt file %s: %w", name, err)
	}
	return strings.TrimSpace(string(content)), nil
}

func parseFile(fsys fs.FS, name string) (*template.Template, error) {
	content, err := readFile(fsys, name)
	if err != nil {
		return nil, err
	}
	tmpl, err := template.New(name).Parse(content)
	if err != nil {
		return nil, fmt.Errorf("parse prompt template %s: %w", name, err)
	}
	return tmpl, nil
}

func checkLoaded() error {
	if loadErr != nil {
		return fmt.Errorf("templates load failed: %w", loadErr)
	}
	if gradeTemplates == nil {
		return errors.New("templates not initialized: call Load first")
	}
	return nil
}

// BuildGradePrompt builds the grading prompt for one answer using the
// specified variant.
func BuildGradePrompt(variant PromptVariant, data GradeData) (string, error) {
	if err := checkLoaded(); err != nil {
		return "", err
	}
	tmpl, ok := gradeTemplates[variant]
	if !ok {
		return "", errors.New("invalid prompt variant: " + string(variant))
	}

	data.Answer = sanitizeAnswer(data.Answer)

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// CompareSystemPrompt returns the system prompt for script comparison and
// the follow-up chat.
func CompareSystemPrompt() (string, error) {
	if err := checkLoaded(); err != nil {
		return "", err
	}
	return compareSystem, nil
}

// BuildComparePrompt builds the user prompt comparing two scripts.
func BuildComparePrompt(teacherScript, studentScript string) (string, error) {
	if err := checkLoaded(); err != nil {
		return "", err
	}
	data := CompareData{
		TeacherScript: strings.TrimSpace(teacherScript),
		StudentScript: sanitizeAnswer(studentScript),
	}
	var buf bytes.Buffer
	if err := compareTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// TranscribePrompt returns the instruction sent along with a scanned page.
func TranscribePrompt() (string, error) {
	if err := checkLoaded(); err != nil {
		return "", err
	}
	return transcribe, nil
}

func sanitizeAnswer(answer string) string {
	answer = studentAnswerRegex.ReplaceAllString(answer, "")
	answer = systemInstructionsRegex.ReplaceAllString(answer, "")
	answer = strings.TrimSpace(answer)

	if answer == "" {
		return "[No answer provided]"
	}

	if utf8.RuneCountInString(answer) > maxAnswerRunes {
		runes := []rune(answer)
		runes = runes[:maxAnswerRunes]
		answer = string(runes) + "\n\n[Answer truncated due to length]"
	}

	return answer
}
