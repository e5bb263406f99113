// Package submission normalizes raw answer scripts into typed answer sets.
package submission

import (
	"bufio"
	"regexp"
	"strings"

	"github.com/pavelanni/examforge/internal/model"
)

var (
	objectiveMarkers = []string{"MCQ", "Multiple Choice"}
	shortMarker      = "Short Answer"
	longMarker       = "Long Answer"
)

// choiceRegex matches a standalone option label. Letters inside words such
// as "MCQ" are not choices.
var choiceRegex = regexp.MustCompile(`\b[A-D]\b`)

// leadRegex strips an ordinal with its separator, or a bare separator, after
// a marker, as in "Short Answer 2: ..." or "Long Answer - ...". A number
// without a separator is part of the answer.
var leadRegex = regexp.MustCompile(`^\s*(?:\d+\s*[:)\-]\s*|[:\-]\s*)?`)

// Parse classifies each non-blank line of raw by its marker. Lines without a
// marker are ignored. When no line carries a marker, Parse returns an empty
// answer set together with a *model.ParseError; the error is informational
// and callers are expected to continue with the empty set.
func Parse(raw string) (model.NormalizedAnswers, error) {
	answers := model.NormalizedAnswers{
		Objective:    []string{},
		ShortAnswers: []string{},
		LongAnswers:  []string{},
	}

	lines, matched := 0, 0
	sc := bufio.NewScanner(strings.NewReader(raw))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines++

		switch {
		case containsAny(line, objectiveMarkers):
			answers.Objective = append(answers.Objective, choiceRegex.FindAllString(line, -1)...)
		case strings.Contains(line, shortMarker):
			answers.ShortAnswers = append(answers.ShortAnswers, after(line, shortMarker))
		case strings.Contains(line, longMarker):
			answers.LongAnswers = append(answers.LongAnswers, after(line, longMarker))
		default:
			continue
		}
		matched++
	}

	if matched == 0 {
		return answers, &model.ParseError{Lines: lines}
	}
	return answers, nil
}

// DetectType derives the evaluation type from the populated buckets. An
// empty answer set is graded as mixed, which reports every item unanswered.
func DetectType(a model.NormalizedAnswers) model.EvaluationType {
	hasObjective := len(a.Objective) > 0
	hasDescriptive := len(a.ShortAnswers) > 0 || len(a.LongAnswers) > 0
	switch {
	case hasObjective && !hasDescriptive:
		return model.EvaluationObjective
	case hasDescriptive && !hasObjective:
		return model.EvaluationDescriptive
	default:
		return model.EvaluationMixed
	}
}

// Build parses raw into one student's submission. An empty evalType is
// detected from the answers. A *model.ParseError is returned together with
// a usable submission.
func Build(studentID, studentName string, evalType model.EvaluationType, raw string) (model.StudentSubmission, error) {
	answers, err := Parse(raw)
	if evalType == "" {
		evalType = DetectType(answers)
	}
	return model.StudentSubmission{
		StudentID:   studentID,
		StudentName: studentName,
		Type:        evalType,
		Answers:     answers,
	}, err
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func after(line, marker string) string {
	_, rest, _ := strings.Cut(line, marker)
	return strings.TrimSpace(leadRegex.ReplaceAllString(rest, ""))
}
