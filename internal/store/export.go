package store

import (
	"fmt"
	"time"

	"github.com/pavelanni/examforge/internal/model"
)

// ExportEvaluations builds the export document for all evaluations of a
// paper. It returns nil if the paper does not exist.
func (s *Store) ExportEvaluations(paperID int64) (*model.EvaluationExport, error) {
	p, err := s.GetPaper(paperID)
	if err != nil {
		return nil, fmt.Errorf("get paper %d: %w", paperID, err)
	}
	if p == nil {
		return nil, nil
	}

	evals, err := s.ListEvaluations(paperID)
	if err != nil {
		return nil, fmt.Errorf("list evaluations of %d: %w", paperID, err)
	}

	results := make([]model.EvaluationResult, 0, len(evals))
	for _, e := range evals {
		results = append(results, e.Result)
	}

	return &model.EvaluationExport{
		PaperID:    p.ID,
		PaperTitle: p.Title,
		TotalMarks: p.TotalMarks,
		ExportedAt: time.Now().UTC(),
		Results:    results,
	}, nil
}
