package store

import (
	"context"
	"testing"
	"time"

	"github.com/pavelanni/examforge/internal/model"
	"github.com/pavelanni/examforge/internal/session/sessiontest"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func insertTestPaper(t *testing.T, s *Store) *model.Paper {
	t.Helper()
	p := &model.Paper{
		Title:         "Weekly Assessment Paper",
		Kind:          model.PaperWeekly,
		DurationHours: 1.5,
		TotalMarks:    20,
		Sections: []model.Section{{
			Name: "Section A - Multiple Choice Questions",
			Type: model.QuestionObjective,
			Questions: []model.Question{{
				Ordinal: 1, Type: model.QuestionObjective, Prompt: "Which?", Marks: 1,
				Options: []string{"a", "b", "c", "d"}, CorrectOption: "C",
			}},
		}},
		AnswerKey: model.AnswerKey{Objective: []string{"C"}},
	}
	if _, err := s.InsertPaper(p); err != nil {
		t.Fatalf("InsertPaper: %v", err)
	}
	return p
}

func TestMigrateRecordsSchemaVersion(t *testing.T) {
	s := newTestStore(t)
	v, err := s.GetMetadata("schema_version")
	if err != nil {
		t.Fatal(err)
	}
	if v != SchemaVersion {
		t.Errorf("schema_version = %q, want %q", v, SchemaVersion)
	}
	missing, err := s.GetMetadata("nope")
	if err != nil || missing != "" {
		t.Errorf("missing key = %q, %v", missing, err)
	}
}

func TestDocumentSupersede(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	got, err := s.GetDocument(model.SourceSyllabus)
	if err != nil || got != nil {
		t.Fatalf("empty store GetDocument = %v, %v", got, err)
	}

	docs := []model.Document{
		{ID: "1", Kind: model.SourceSyllabus, Name: "old.txt", RawText: "old syllabus", UploadedAt: now},
		{ID: "2", Kind: model.SourceTextbook, Name: "book.txt", RawText: "textbook", UploadedAt: now},
		{ID: "3", Kind: model.SourceSyllabus, Name: "new.txt", RawText: "new syllabus", UploadedAt: now},
	}
	for _, d := range docs {
		if err := s.PutDocument(d); err != nil {
			t.Fatalf("PutDocument: %v", err)
		}
	}

	got, err = s.GetDocument(model.SourceSyllabus)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != "3" || got.RawText != "new syllabus" {
		t.Errorf("syllabus = %+v, want the superseding document", got)
	}

	set, err := s.DocumentSet()
	if err != nil {
		t.Fatal(err)
	}
	if set.Len() != 2 {
		t.Errorf("active documents = %d, want 2", set.Len())
	}

	if err := s.DeleteDocument(model.SourceTextbook); err != nil {
		t.Fatal(err)
	}
	set, _ = s.DocumentSet()
	if set.Len() != 1 {
		t.Errorf("after delete: %d documents", set.Len())
	}

	if err := s.PutDocument(model.Document{Kind: "notes"}); err == nil {
		t.Error("unknown source kind should be rejected")
	}
}

func TestPaperRoundTrip(t *testing.T) {
	s := newTestStore(t)
	p := insertTestPaper(t, s)
	if p.ID == 0 {
		t.Fatal("InsertPaper should set the ID")
	}

	got, err := s.GetPaper(p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != p.Title || got.TotalMarks != 20 || got.DurationHours != 1.5 {
		t.Errorf("paper header = %+v", got)
	}
	if len(got.Sections) != 1 || got.Sections[0].Questions[0].CorrectOption != "C" {
		t.Errorf("sections not preserved: %+v", got.Sections)
	}
	if len(got.AnswerKey.Objective) != 1 || got.AnswerKey.Objective[0] != "C" {
		t.Errorf("answer key not preserved: %+v", got.AnswerKey)
	}

	missing, err := s.GetPaper(9999)
	if err != nil || missing != nil {
		t.Errorf("GetPaper(9999) = %v, %v", missing, err)
	}

	insertTestPaper(t, s)
	list, err := s.ListPapers()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].ID <= list[1].ID {
		t.Errorf("ListPapers should return newest first: %+v", list)
	}
}

func TestEvaluationsAndExport(t *testing.T) {
	s := newTestStore(t)
	p := insertTestPaper(t, s)

	for _, id := range []string{"s1", "s2"} {
		_, err := s.InsertEvaluation(model.Evaluation{
			PaperID:     p.ID,
			StudentName: "Student " + id,
			Type:        model.EvaluationObjective,
			Result: model.EvaluationResult{
				Scores: model.ScoreReport{
					StudentID:    id,
					TotalAwarded: 1,
					MaxPossible:  20,
					Percentage:   5,
					Detailed:     []model.DetailedScore{{QuestionNumber: 1, MaxMarks: 1, MarksAwarded: 1}},
				},
				Feedback: model.FeedbackReport{StudentID: id, Summary: "F", Grade: "F"},
			},
		})
		if err != nil {
			t.Fatalf("InsertEvaluation: %v", err)
		}
	}

	evals, err := s.ListEvaluations(p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(evals) != 2 || evals[0].Result.Scores.StudentID != "s1" {
		t.Fatalf("evaluations = %+v", evals)
	}
	if evals[1].StudentName != "Student s2" || evals[1].Type != model.EvaluationObjective {
		t.Errorf("evaluation fields = %+v", evals[1])
	}

	exp, err := s.ExportEvaluations(p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if exp.PaperTitle != p.Title || len(exp.Results) != 2 {
		t.Errorf("export = %+v", exp)
	}
	if exp.Results[0].Scores.Detailed[0].MarksAwarded != 1 {
		t.Errorf("detailed scores not preserved")
	}

	none, err := s.ExportEvaluations(4242)
	if err != nil || none != nil {
		t.Errorf("export of missing paper = %v, %v", none, err)
	}
}

func TestSessionStoreContract(t *testing.T) {
	sessiontest.RunStoreTests(t, newTestStore(t))
}

func TestDeleteExpiredSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	sessions := []*model.FeedbackSession{
		{ID: "expired", OriginFeedback: "x", CreatedAt: now, ExpiresAt: now.Add(-time.Minute)},
		{ID: "live", OriginFeedback: "y", CreatedAt: now, ExpiresAt: now.Add(time.Hour)},
		{ID: "forever", OriginFeedback: "z", CreatedAt: now},
	}
	for _, sess := range sessions {
		if err := s.CreateSession(ctx, sess); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.AppendTurns(ctx, "expired", model.ChatTurn{Role: model.RoleUser, Text: "hi", At: now}); err != nil {
		t.Fatal(err)
	}

	n, err := s.DeleteExpiredSessions(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("removed %d sessions, want 1", n)
	}
	for id, want := range map[string]bool{"expired": false, "live": true, "forever": true} {
		got, err := s.GetSession(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if (got != nil) != want {
			t.Errorf("session %s present = %v, want %v", id, got != nil, want)
		}
	}

	var turns int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM chat_turns`).Scan(&turns); err != nil {
		t.Fatal(err)
	}
	if turns != 0 {
		t.Errorf("%d orphaned turns left", turns)
	}
}
