package store

import (
	"database/sql"
	"fmt"

	"github.com/pavelanni/examforge/internal/model"
)

// PutDocument makes d the active document of its kind, superseding any
// previous one.
func (s *Store) PutDocument(d model.Document) error {
	if !d.Kind.IsValid() {
		return fmt.Errorf("put document: unknown source kind %q", d.Kind)
	}
	_, err := s.db.Exec(
		`INSERT INTO documents (source_kind, id, name, raw_text, uploaded_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(source_kind) DO UPDATE SET id = excluded.id, name = excluded.name,
		 raw_text = excluded.raw_text, uploaded_at = excluded.uploaded_at`,
		d.Kind, d.ID, d.Name, d.RawText, d.UploadedAt.UTC(),
	)
	return err
}

// GetDocument returns the active document of kind, or nil if there is none.
func (s *Store) GetDocument(kind model.SourceKind) (*model.Document, error) {
	var d model.Document
	err := s.db.QueryRow(
		`SELECT id, source_kind, name, raw_text, uploaded_at FROM documents WHERE source_kind = ?`, kind,
	).Scan(&d.ID, &d.Kind, &d.Name, &d.RawText, &d.UploadedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// DeleteDocument removes the active document of kind.
func (s *Store) DeleteDocument(kind model.SourceKind) error {
	_, err := s.db.Exec(`DELETE FROM documents WHERE source_kind = ?`, kind)
	return err
}

// DocumentSet loads all active documents.
func (s *Store) DocumentSet() (*model.DocumentSet, error) {
	rows, err := s.db.Query(`SELECT id, source_kind, name, raw_text, uploaded_at FROM documents`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	set := model.NewDocumentSet()
	for rows.Next() {
		var d model.Document
		if err := rows.Scan(&d.ID, &d.Kind, &d.Name, &d.RawText, &d.UploadedAt); err != nil {
			return nil, err
		}
		set.Put(d)
	}
	return set, rows.Err()
}
