package model

import "time"

// EvaluationResult is the exported result of scoring one student.
type EvaluationResult struct {
	Scores   ScoreReport    `json:"scores"`
	Feedback FeedbackReport `json:"feedback"`
}

// Evaluation is a stored evaluation result.
type Evaluation struct {
	ID          int64            `json:"id"`
	PaperID     int64            `json:"paper_id"`
	StudentName string           `json:"student_name"`
	Type        EvaluationType   `json:"evaluation_type"`
	Result      EvaluationResult `json:"result"`
	CreatedAt   time.Time        `json:"created_at"`
}

// EvaluationExport is the top-level JSON structure for result export.
type EvaluationExport struct {
	PaperID    int64              `json:"paper_id"`
	PaperTitle string             `json:"paper_title"`
	TotalMarks int                `json:"total_marks"`
	ExportedAt time.Time          `json:"exported_at"`
	Results    []EvaluationResult `json:"results"`
}
