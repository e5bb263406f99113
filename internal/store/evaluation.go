package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pavelanni/examforge/internal/model"
)

// InsertEvaluation stores one student's scoring result for a paper.
func (s *Store) InsertEvaluation(e model.Evaluation) (int64, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	result, err := json.Marshal(e.Result)
	if err != nil {
		return 0, fmt.Errorf("marshal evaluation: %w", err)
	}
	res, err := s.db.Exec(
		`INSERT INTO evaluations (paper_id, student_id, student_name, evaluation_type, total_awarded, percentage, result, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.PaperID, e.Result.Scores.StudentID, e.StudentName, e.Type,
		e.Result.Scores.TotalAwarded, e.Result.Scores.Percentage, string(result), e.CreatedAt.UTC(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListEvaluations returns the evaluations of a paper in insertion order.
func (s *Store) ListEvaluations(paperID int64) ([]model.Evaluation, error) {
	rows, err := s.db.Query(
		`SELECT id, paper_id, student_name, evaluation_type, result, created_at
		 FROM evaluations WHERE paper_id = ? ORDER BY id`, paperID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	evals := []model.Evaluation{}
	for rows.Next() {
		var e model.Evaluation
		var result string
		if err := rows.Scan(&e.ID, &e.PaperID, &e.StudentName, &e.Type, &result, &e.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(result), &e.Result); err != nil {
			return nil, fmt.Errorf("decode evaluation %d: %w", e.ID, err)
		}
		evals = append(evals, e)
	}
	return evals, rows.Err()
}
