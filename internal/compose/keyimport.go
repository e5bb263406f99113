package compose

import (
	"fmt"
	"math"
	"time"

	"github.com/pavelanni/examforge/internal/model"
)

// DefaultImportHours is the duration of an imported paper whose marking
// scheme does not give one.
const DefaultImportHours = 3

// MarkingScheme gives the marks of each descriptive item of an uploaded
// answer key. Objective items carry 1 mark each.
type MarkingScheme struct {
	Title         string          `json:"title"`
	Kind          model.PaperKind `json:"kind"`
	TotalMarks    int             `json:"total_marks"`
	DurationHours float64         `json:"duration_hours"`
	ShortMarks    []int           `json:"short_marks"`
	LongMarks     []int           `json:"long_marks"`
}

// FromKey builds a paper around an answer key written by a teacher instead
// of a composed one. key holds the parsed key text; its descriptive answers
// become reference answers. A zero TotalMarks in scheme means the sum of the
// item marks.
func FromKey(key model.NormalizedAnswers, scheme MarkingScheme, now time.Time) (*model.Paper, error) {
	if key.IsEmpty() {
		return nil, &model.InvalidConfigError{Field: "teacher_key", Reason: "no answers recognized"}
	}
	if scheme.Kind != "" && !scheme.Kind.IsValid() {
		return nil, &model.InvalidConfigError{Field: "kind", Reason: fmt.Sprintf("unknown paper kind %q", scheme.Kind)}
	}
	if err := checkMarks("short_marks", scheme.ShortMarks, len(key.ShortAnswers)); err != nil {
		return nil, err
	}
	if err := checkMarks("long_marks", scheme.LongMarks, len(key.LongAnswers)); err != nil {
		return nil, err
	}
	if scheme.TotalMarks < 0 {
		return nil, &model.InvalidConfigError{Field: "total_marks", Reason: "must not be negative"}
	}
	hours := scheme.DurationHours
	if hours == 0 {
		hours = DefaultImportHours
	}
	if !(hours > 0) || math.IsInf(hours, 1) {
		return nil, &model.InvalidConfigError{Field: "duration_hours", Reason: "must be a finite number greater than zero"}
	}

	title := scheme.Title
	if title == "" {
		title = scheme.Kind.Title()
	}
	paper := &model.Paper{
		Title:         title,
		Kind:          scheme.Kind,
		DurationHours: hours,
		AnswerKey: model.AnswerKey{
			Objective:   append([]string{}, key.Objective...),
			ShortGuides: []model.Guide{},
			LongGuides:  []model.Guide{},
		},
		CreatedAt: now,
	}

	items := map[model.QuestionType][]string{
		model.QuestionObjective: key.Objective,
		model.QuestionShort:     key.ShortAnswers,
		model.QuestionLong:      key.LongAnswers,
	}
	marks := map[model.QuestionType][]int{
		model.QuestionShort: scheme.ShortMarks,
		model.QuestionLong:  scheme.LongMarks,
	}
	for _, qt := range model.QuestionTypes {
		answers := items[qt]
		if len(answers) == 0 {
			continue
		}
		spec := sectionSpecs[qt]
		section := model.Section{
			Name:         spec.name,
			Instructions: spec.instructions,
			Type:         qt,
			Questions:    make([]model.Question, 0, len(answers)),
		}
		for i, answer := range answers {
			q := model.Question{
				Ordinal: i + 1,
				Type:    qt,
				Prompt:  fmt.Sprintf("Question %d", i+1),
				Marks:   1,
			}
			if qt == model.QuestionObjective {
				q.CorrectOption = answer
			} else {
				q.Marks = marks[qt][i]
				q.ReferenceAnswer = answer
			}
			section.Questions = append(section.Questions, q)

			switch qt {
			case model.QuestionShort:
				paper.AnswerKey.ShortGuides = append(paper.AnswerKey.ShortGuides, guideFor(q))
			case model.QuestionLong:
				paper.AnswerKey.LongGuides = append(paper.AnswerKey.LongGuides, guideFor(q))
			}
		}
		paper.Sections = append(paper.Sections, section)
	}

	paper.TotalMarks = scheme.TotalMarks
	if paper.TotalMarks == 0 {
		paper.TotalMarks = paper.MarksSum()
	}
	return paper, nil
}

func checkMarks(field string, marks []int, answers int) error {
	if len(marks) != answers {
		return &model.InvalidConfigError{Field: field, Reason: fmt.Sprintf("%d marks given for %d answers", len(marks), answers)}
	}
	for i, m := range marks {
		if m <= 0 {
			return &model.InvalidConfigError{Field: field, Reason: fmt.Sprintf("item %d: marks must be greater than zero", i+1)}
		}
	}
	return nil
}
