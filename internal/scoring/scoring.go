// Package scoring grades normalized answer sets against a paper's answer key.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/pavelanni/examforge/internal/i18n"
	"github.com/pavelanni/examforge/internal/model"
)

// DefaultWorkers bounds ScoreBatch concurrency when no limit is configured.
const DefaultWorkers = 4

// ErrNoGrader is returned when a descriptive answer needs grading and the
// engine has no grader.
var ErrNoGrader = errors.New("no grader configured")

// GradeRequest asks the grader to judge one descriptive answer.
type GradeRequest struct {
	StudentID      string
	QuestionNumber int
	Type           model.QuestionType
	Guide          model.Guide
	Answer         string
}

// GradeResult is the grader's verdict on one answer.
type GradeResult struct {
	Score    float64 `json:"score"`
	Feedback string  `json:"feedback"`
}

// Grader judges free-text answers. It is the only authority on
// descriptive correctness.
type Grader interface {
	GradeAnswer(ctx context.Context, req GradeRequest) (GradeResult, error)
}

// Option configures an Engine.
type Option func(*Engine)

// WithWorkers sets the ScoreBatch concurrency limit.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// Engine scores submissions. It holds no per-request state and is safe for
// concurrent use if its Grader is.
type Engine struct {
	grader  Grader
	workers int
}

// NewEngine creates an Engine that delegates descriptive answers to g.
func NewEngine(g Grader, opts ...Option) *Engine {
	e := &Engine{grader: g, workers: DefaultWorkers}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Grade maps a percentage to a letter grade.
func Grade(percentage float64) string {
	switch {
	case percentage >= 90:
		return "A+"
	case percentage >= 80:
		return "A"
	case percentage >= 70:
		return "B+"
	case percentage >= 60:
		return "B"
	case percentage >= 50:
		return "C"
	default:
		return "F"
	}
}

var summaryIDs = map[string]string{
	"A+": "SummaryAPlus",
	"A":  "SummaryA",
	"B+": "SummaryBPlus",
	"B":  "SummaryB",
	"C":  "SummaryC",
	"F":  "SummaryF",
}

// Score grades one submission against key. Question numbers in both reports
// run across the whole paper: objective items first, then short, then long.
// Any grader failure aborts scoring with an *model.ExternalServiceError.
func (e *Engine) Score(ctx context.Context, sub model.StudentSubmission, key model.AnswerKey, maxMarks int) (*model.ScoreReport, *model.FeedbackReport, error) {
	if maxMarks <= 0 {
		return nil, nil, &model.InvalidConfigError{Field: "max_marks", Reason: "must be greater than zero"}
	}

	var objective, descriptive bool
	switch sub.Type {
	case model.EvaluationObjective:
		objective = true
	case model.EvaluationDescriptive:
		descriptive = true
	case model.EvaluationMixed:
		objective, descriptive = true, true
	default:
		return nil, nil, &model.InvalidConfigError{
			Field:  "evaluation_type",
			Reason: fmt.Sprintf("unknown evaluation type %q", sub.Type),
		}
	}

	scores := &model.ScoreReport{
		StudentID:   sub.StudentID,
		MaxPossible: maxMarks,
		Detailed:    make([]model.DetailedScore, 0, key.QuestionCount()),
	}
	feedback := &model.FeedbackReport{
		StudentID: sub.StudentID,
		Detailed:  make([]model.DetailedFeedback, 0, key.QuestionCount()),
	}

	number := 0
	unanswered := 0
	add := func(marks, awarded int, text string, missing bool) {
		scores.Detailed = append(scores.Detailed, model.DetailedScore{
			QuestionNumber: number,
			MaxMarks:       marks,
			MarksAwarded:   awarded,
		})
		feedback.Detailed = append(feedback.Detailed, model.DetailedFeedback{
			QuestionNumber: number,
			Feedback:       text,
			Unanswered:     missing,
		})
		if missing {
			unanswered++
		}
	}

	for i, want := range key.Objective {
		number++
		given := ""
		if objective && i < len(sub.Answers.Objective) {
			given = sub.Answers.Objective[i]
		}
		switch {
		case given == "":
			add(1, 0, i18n.T(ctx, "FeedbackUnanswered"), true)
		case given == want:
			add(1, 1, i18n.Td(ctx, "FeedbackCorrect", map[string]any{"Expected": want}), false)
		default:
			add(1, 0, i18n.Td(ctx, "FeedbackIncorrect", map[string]any{"Given": given, "Expected": want}), false)
		}
	}

	groups := []struct {
		qt      model.QuestionType
		guides  []model.Guide
		answers []string
	}{
		{model.QuestionShort, key.ShortGuides, sub.Answers.ShortAnswers},
		{model.QuestionLong, key.LongGuides, sub.Answers.LongAnswers},
	}
	for _, g := range groups {
		for i, guide := range g.guides {
			number++
			answer := ""
			if descriptive && i < len(g.answers) {
				answer = g.answers[i]
			}
			if answer == "" {
				add(guide.Marks, 0, i18n.T(ctx, "FeedbackUnanswered"), true)
				continue
			}

			res, err := e.grade(ctx, GradeRequest{
				StudentID:      sub.StudentID,
				QuestionNumber: number,
				Type:           g.qt,
				Guide:          guide,
				Answer:         answer,
			})
			if err != nil {
				slog.Warn("grade answer failed", "student_id", sub.StudentID, "question", number, "error", err)
				return nil, nil, err
			}
			awarded := clamp(int(math.Round(res.Score)), 0, guide.Marks)
			text := res.Feedback
			if text == "" {
				text = i18n.Td(ctx, "FeedbackGraded", map[string]any{"Awarded": awarded, "Max": guide.Marks})
			}
			add(guide.Marks, awarded, text, false)
		}
	}

	total := 0
	for _, d := range scores.Detailed {
		total += d.MarksAwarded
	}
	scores.TotalAwarded = clamp(total, 0, maxMarks)
	scores.Percentage = math.Round(float64(scores.TotalAwarded)/float64(maxMarks)*100*100) / 100

	feedback.Grade = Grade(scores.Percentage)
	feedback.Summary = i18n.Td(ctx, summaryIDs[feedback.Grade], map[string]any{
		"Awarded":    scores.TotalAwarded,
		"Max":        maxMarks,
		"Percentage": fmt.Sprintf("%.2f", scores.Percentage),
	})
	if unanswered > 0 {
		feedback.Summary += " " + i18n.Tp(ctx, "UnansweredCount", unanswered)
	}

	slog.Debug("scored submission",
		"student_id", sub.StudentID,
		"awarded", scores.TotalAwarded,
		"max", maxMarks,
		"unanswered", unanswered,
	)
	return scores, feedback, nil
}

func (e *Engine) grade(ctx context.Context, req GradeRequest) (GradeResult, error) {
	if e.grader == nil {
		return GradeResult{}, &model.ExternalServiceError{Service: "grader", Op: "grade answer", Err: ErrNoGrader}
	}
	res, err := e.grader.GradeAnswer(ctx, req)
	if err != nil {
		var extErr *model.ExternalServiceError
		if errors.As(err, &extErr) {
			return GradeResult{}, err
		}
		return GradeResult{}, &model.ExternalServiceError{Service: "grader", Op: "grade answer", Err: err}
	}
	return res, nil
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

// Outcome is the result of scoring one student in a batch.
type Outcome struct {
	StudentID   string
	StudentName string
	Scores      *model.ScoreReport
	Feedback    *model.FeedbackReport
	Err         error
}

// Result returns the exportable form of a successful outcome.
func (o Outcome) Result() model.EvaluationResult {
	var r model.EvaluationResult
	if o.Scores != nil {
		r.Scores = *o.Scores
	}
	if o.Feedback != nil {
		r.Feedback = *o.Feedback
	}
	return r
}

// ScoreBatch scores subs concurrently and returns one Outcome per
// submission in input order. A failure for one student does not affect the
// others.
func (e *Engine) ScoreBatch(ctx context.Context, subs []model.StudentSubmission, key model.AnswerKey, maxMarks int) []Outcome {
	out := make([]Outcome, len(subs))

	var g errgroup.Group
	g.SetLimit(e.workers)
	for i, sub := range subs {
		g.Go(func() error {
			scores, feedback, err := e.Score(ctx, sub, key, maxMarks)
			out[i] = Outcome{
				StudentID:   sub.StudentID,
				StudentName: sub.StudentName,
				Scores:      scores,
				Feedback:    feedback,
				Err:         err,
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}
