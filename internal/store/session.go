package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/pavelanni/examforge/internal/model"
)

// CreateSession stores a new feedback session and any initial turns.
func (s *Store) CreateSession(ctx context.Context, sess *model.FeedbackSession) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO feedback_sessions (id, origin_feedback, teacher_script, student_script, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.OriginFeedback, sess.TeacherScript, sess.StudentScript, sess.CreatedAt.UTC(), expiryMillis(sess.ExpiresAt),
	)
	if err != nil {
		return err
	}
	if err := insertTurns(ctx, tx, sess.ID, sess.Turns); err != nil {
		return err
	}
	return tx.Commit()
}

// GetSession returns the session for id with its turns in insertion order,
// or nil if not found. Expiry is left to the caller.
func (s *Store) GetSession(ctx context.Context, id string) (*model.FeedbackSession, error) {
	var sess model.FeedbackSession
	var expires int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, origin_feedback, teacher_script, student_script, created_at, expires_at
		 FROM feedback_sessions WHERE id = ?`, id,
	).Scan(&sess.ID, &sess.OriginFeedback, &sess.TeacherScript, &sess.StudentScript, &sess.CreatedAt, &expires)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if expires > 0 {
		sess.ExpiresAt = time.UnixMilli(expires).UTC()
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT role, text, created_at FROM chat_turns WHERE session_id = ? ORDER BY id`, id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	sess.Turns = []model.ChatTurn{}
	for rows.Next() {
		var t model.ChatTurn
		if err := rows.Scan(&t.Role, &t.Text, &t.At); err != nil {
			return nil, err
		}
		sess.Turns = append(sess.Turns, t)
	}
	return &sess, rows.Err()
}

// AppendTurns appends turns to a session in one transaction.
func (s *Store) AppendTurns(ctx context.Context, id string, turns ...model.ChatTurn) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var one int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM feedback_sessions WHERE id = ?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return &model.UnknownSessionError{ID: id}
	}
	if err != nil {
		return err
	}
	if err := insertTurns(ctx, tx, id, turns); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteSession removes a session and its turns.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chat_turns WHERE session_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM feedback_sessions WHERE id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteExpiredSessions removes all sessions expired at now and returns how
// many were removed.
func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	cutoff := now.UnixMilli()
	_, err = tx.ExecContext(ctx,
		`DELETE FROM chat_turns WHERE session_id IN
		 (SELECT id FROM feedback_sessions WHERE expires_at > 0 AND expires_at < ?)`, cutoff,
	)
	if err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM feedback_sessions WHERE expires_at > 0 AND expires_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, tx.Commit()
}

func insertTurns(ctx context.Context, tx *sql.Tx, id string, turns []model.ChatTurn) error {
	for _, t := range turns {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO chat_turns (session_id, role, text, created_at) VALUES (?, ?, ?, ?)`,
			id, t.Role, t.Text, t.At.UTC(),
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func expiryMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
