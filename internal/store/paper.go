package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pavelanni/examforge/internal/model"
)

// PaperSummary is a paper listing entry without sections or key.
type PaperSummary struct {
	ID            int64           `json:"id"`
	Title         string          `json:"title"`
	Kind          model.PaperKind `json:"kind"`
	DurationHours float64         `json:"duration_hours"`
	TotalMarks    int             `json:"total_marks"`
	CreatedAt     time.Time       `json:"created_at"`
}

// InsertPaper stores a paper with its key and sets p.ID.
func (s *Store) InsertPaper(p *model.Paper) (int64, error) {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	body, err := json.Marshal(p)
	if err != nil {
		return 0, fmt.Errorf("marshal paper: %w", err)
	}
	res, err := s.db.Exec(
		`INSERT INTO papers (title, kind, duration_hours, total_marks, body, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		p.Title, p.Kind, p.DurationHours, p.TotalMarks, string(body), p.CreatedAt.UTC(),
	)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	p.ID = id
	return id, nil
}

// GetPaper returns a paper by ID, or nil if not found.
func (s *Store) GetPaper(id int64) (*model.Paper, error) {
	var body string
	err := s.db.QueryRow(`SELECT body FROM papers WHERE id = ?`, id).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var p model.Paper
	if err := json.Unmarshal([]byte(body), &p); err != nil {
		return nil, fmt.Errorf("decode paper %d: %w", id, err)
	}
	p.ID = id
	return &p, nil
}

// ListPapers returns all papers, newest first.
func (s *Store) ListPapers() ([]PaperSummary, error) {
	rows, err := s.db.Query(
		`SELECT id, title, kind, duration_hours, total_marks, created_at FROM papers ORDER BY id DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	papers := []PaperSummary{}
	for rows.Next() {
		var p PaperSummary
		if err := rows.Scan(&p.ID, &p.Title, &p.Kind, &p.DurationHours, &p.TotalMarks, &p.CreatedAt); err != nil {
			return nil, err
		}
		papers = append(papers, p)
	}
	return papers, rows.Err()
}
