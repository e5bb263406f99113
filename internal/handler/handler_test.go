package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/pavelanni/examforge/internal/compose"
	appI18n "github.com/pavelanni/examforge/internal/i18n"
	"github.com/pavelanni/examforge/internal/ingest"
	"github.com/pavelanni/examforge/internal/model"
	"github.com/pavelanni/examforge/internal/scoring"
	"github.com/pavelanni/examforge/internal/session"
	"github.com/pavelanni/examforge/internal/store"
)

func TestMain(m *testing.M) {
	if err := appI18n.Init("en"); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

type fakeGrader struct {
	score float64
	err   error
}

func (f fakeGrader) GradeAnswer(context.Context, scoring.GradeRequest) (scoring.GradeResult, error) {
	if f.err != nil {
		return scoring.GradeResult{}, f.err
	}
	return scoring.GradeResult{Score: f.score, Feedback: "graded"}, nil
}

type fakeChatter struct{}

func (fakeChatter) Compare(_ context.Context, _, student string) (string, error) {
	return "feedback on " + student, nil
}

func (fakeChatter) Reply(_ context.Context, _ *model.FeedbackSession, message string) (string, error) {
	return "re: " + message, nil
}

type fakeOCR struct{}

func (fakeOCR) Transcribe(context.Context, string, []byte) (ingest.Transcript, error) {
	return ingest.Transcript{StudentName: "Ravi", StudentID: "S-9", Text: "MCQ 1: A"}, nil
}

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

func newTestRouter(t *testing.T, g scoring.Grader) (http.Handler, *store.Store) {
	t.Helper()
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	h, err := New(
		s,
		compose.NewSeeded(7),
		scoring.NewEngine(g),
		session.NewManager(session.NewMemoryStore(), fakeChatter{}),
		ingest.New(fakeOCR{}),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return h.Router("en"), s
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	if _, ok := body.(string); !ok && body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func composePaper(t *testing.T, h http.Handler, cfg model.GenerationConfig) model.Paper {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/papers", cfg)
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST /papers = %d: %s", rec.Code, rec.Body.String())
	}
	return decode[model.Paper](t, rec)
}

func objectiveConfig(n int) model.GenerationConfig {
	return model.GenerationConfig{
		PaperKind:      model.PaperWeekly,
		Difficulty:     model.DifficultyMixed,
		ObjectiveCount: n,
		TotalMarks:     n,
		DurationHours:  1,
	}
}

func TestHealth(t *testing.T) {
	h, _ := newTestRouter(t, nil)
	rec := do(t, h, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	got := decode[map[string]string](t, rec)
	if got["status"] != "ok" || got["schema_version"] != store.SchemaVersion {
		t.Errorf("health = %v", got)
	}

	if rec := do(t, h, http.MethodGet, "/metrics", nil); rec.Code != http.StatusOK {
		t.Errorf("GET /metrics = %d", rec.Code)
	}
}

func TestDocuments(t *testing.T) {
	h, _ := newTestRouter(t, nil)

	rec := do(t, h, http.MethodPut, "/documents/syllabus?name=syllabus.txt", "Photosynthesis and respiration. Photosynthesis in plants.")
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT syllabus = %d: %s", rec.Code, rec.Body.String())
	}
	doc := decode[documentSummary](t, rec)
	if doc.Kind != model.SourceSyllabus || doc.Name != "syllabus.txt" || len(doc.Topics) == 0 {
		t.Errorf("summary = %+v", doc)
	}
	if doc.Topics[0] != "photosynthesis" {
		t.Errorf("top topic = %q, want photosynthesis", doc.Topics[0])
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("file", "book.txt")
	io.WriteString(fw, "Genetics chapter")
	mw.Close()
	req := httptest.NewRequest(http.MethodPut, "/documents/textbook", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("multipart PUT = %d: %s", rec.Code, rec.Body.String())
	}
	if got := decode[documentSummary](t, rec); got.Name != "book.txt" {
		t.Errorf("multipart name = %q", got.Name)
	}

	list := decode[[]documentSummary](t, do(t, h, http.MethodGet, "/documents", nil))
	if len(list) != 2 || list[0].Kind != model.SourceSyllabus || list[1].Kind != model.SourceTextbook {
		t.Errorf("documents = %+v", list)
	}

	if rec := do(t, h, http.MethodDelete, "/documents/textbook", nil); rec.Code != http.StatusNoContent {
		t.Errorf("DELETE = %d", rec.Code)
	}
	if list := decode[[]documentSummary](t, do(t, h, http.MethodGet, "/documents", nil)); len(list) != 1 {
		t.Errorf("after delete: %d documents", len(list))
	}

	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{"unknown kind", "/documents/notes", "text", http.StatusBadRequest},
		{"pdf", "/documents/textbook", "%PDF-1.4\n1 0 obj\n", http.StatusUnprocessableEntity},
		{"empty", "/documents/syllabus", "", http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := do(t, h, http.MethodPut, tt.path, tt.body); rec.Code != tt.status {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.status, rec.Body.String())
			}
		})
	}
}

func TestPapers(t *testing.T) {
	h, _ := newTestRouter(t, nil)

	cfg := model.GenerationConfig{
		PaperKind:        model.PaperMonthly,
		Difficulty:       model.DifficultyMixed,
		ObjectiveCount:   3,
		ShortAnswerCount: 2,
		LongAnswerCount:  1,
		TotalMarks:       50,
		DurationHours:    2,
	}
	p := composePaper(t, h, cfg)
	if p.ID == 0 || p.Title != "Monthly Assessment Paper" || p.AnswerKey.QuestionCount() != 6 {
		t.Errorf("paper = %+v", p)
	}

	got := decode[model.Paper](t, do(t, h, http.MethodGet, fmt.Sprintf("/papers/%d", p.ID), nil))
	if got.ID != p.ID || len(got.Sections) != 3 {
		t.Errorf("GET paper = %+v", got)
	}

	rec := do(t, h, http.MethodGet, fmt.Sprintf("/papers/%d/text", p.ID), nil)
	if !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain") {
		t.Errorf("content type = %q", rec.Header().Get("Content-Type"))
	}
	outline, err := compose.ParseOutline(rec.Body)
	if err != nil {
		t.Fatalf("ParseOutline: %v", err)
	}
	if outline.TotalMarks != 50 || outline.Count(model.QuestionShort) != 2 {
		t.Errorf("outline = %+v", outline)
	}

	rec = do(t, h, http.MethodGet, fmt.Sprintf("/papers/%d/key", p.ID), nil)
	if !strings.HasPrefix(rec.Body.String(), "Monthly Assessment Paper - Answer Key") {
		t.Errorf("key = %q", rec.Body.String())
	}

	list := decode[[]store.PaperSummary](t, do(t, h, http.MethodGet, "/papers", nil))
	if len(list) != 1 {
		t.Errorf("papers = %+v", list)
	}

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
	}{
		{"missing paper", http.MethodGet, "/papers/999", nil, http.StatusNotFound},
		{"bad id", http.MethodGet, "/papers/abc", nil, http.StatusBadRequest},
		{"invalid config", http.MethodPost, "/papers", model.GenerationConfig{PaperKind: "daily"}, http.StatusBadRequest},
		{"malformed json", http.MethodPost, "/papers", "{", http.StatusBadRequest},
		{"missing evaluations", http.MethodGet, "/papers/999/evaluations", nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := do(t, h, tt.method, tt.path, tt.body); rec.Code != tt.status {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.status, rec.Body.String())
			}
		})
	}

	rec = do(t, h, http.MethodPost, "/papers", model.GenerationConfig{PaperKind: "daily"})
	if e := decode[errorResponse](t, rec); e.Field != "paper_kind" {
		t.Errorf("error field = %q", e.Field)
	}
}

func wrongOption(correct string) string {
	for _, l := range model.OptionLabels {
		if l != correct {
			return l
		}
	}
	return ""
}

func TestEvaluate(t *testing.T) {
	h, _ := newTestRouter(t, nil)
	p := composePaper(t, h, objectiveConfig(2))
	key := p.AnswerKey.Objective

	req := evaluationRequest{Submissions: []scriptRequest{
		{StudentID: "s1", StudentName: "Jane", Script: fmt.Sprintf("MCQ 1: %s\nMCQ 2: %s", key[0], wrongOption(key[1]))},
		{StudentName: "Blank", Script: "nothing legible"},
	}}
	rec := do(t, h, http.MethodPost, fmt.Sprintf("/papers/%d/evaluations", p.ID), req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	resp := decode[evaluationResponse](t, rec)
	if len(resp.Results) != 2 || len(resp.Failed) != 0 {
		t.Fatalf("response = %+v", resp)
	}
	first := resp.Results[0].Scores
	if first.StudentID != "s1" || first.TotalAwarded != 1 || first.Percentage != 50 {
		t.Errorf("scores = %+v", first)
	}
	second := resp.Results[1]
	if second.Scores.StudentID != "student-2" || second.Scores.TotalAwarded != 0 {
		t.Errorf("blank script scores = %+v", second.Scores)
	}
	if !second.Feedback.Detailed[0].Unanswered {
		t.Error("blank script should be reported unanswered")
	}

	exp := decode[model.EvaluationExport](t, do(t, h, http.MethodGet, fmt.Sprintf("/papers/%d/evaluations", p.ID), nil))
	if exp.PaperID != p.ID || len(exp.Results) != 2 {
		t.Errorf("export = %+v", exp)
	}

	rec = do(t, h, http.MethodPost, fmt.Sprintf("/papers/%d/evaluations", p.ID), evaluationRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty batch = %d", rec.Code)
	}
}

func TestEvaluateMultipart(t *testing.T) {
	h, _ := newTestRouter(t, nil)
	p := composePaper(t, h, objectiveConfig(1))

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("evaluation_type", string(model.EvaluationObjective))
	fw, _ := mw.CreateFormFile("scripts", "s1.txt")
	io.WriteString(fw, "MCQ 1: "+p.AnswerKey.Objective[0])
	fw, _ = mw.CreateFormFile("scripts", "scan.png")
	fw.Write(pngHeader)
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/papers/%d/evaluations", p.ID), &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	resp := decode[evaluationResponse](t, rec)
	if len(resp.Results) != 2 {
		t.Fatalf("results = %+v", resp.Results)
	}
	if resp.Results[0].Scores.StudentID != "s1" || resp.Results[0].Scores.TotalAwarded != 1 {
		t.Errorf("text script = %+v", resp.Results[0].Scores)
	}
	if resp.Results[1].Scores.StudentID != "S-9" {
		t.Errorf("scanned script student = %q", resp.Results[1].Scores.StudentID)
	}
}

func TestImportPaper(t *testing.T) {
	h, _ := newTestRouter(t, fakeGrader{score: 4})

	req := importRequest{
		TeacherKey:    "MCQ 1: B\nShort Answer 1: 42",
		MarkingScheme: compose.MarkingScheme{Title: "Unit test", ShortMarks: []int{5}},
	}
	rec := do(t, h, http.MethodPost, "/papers/import", req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	p := decode[model.Paper](t, rec)
	if p.ID == 0 || p.Title != "Unit test" || p.TotalMarks != 6 {
		t.Errorf("paper = %+v", p)
	}
	if len(p.AnswerKey.ShortGuides) != 1 || p.AnswerKey.ShortGuides[0].ReferenceAnswer != "42" {
		t.Errorf("short guides = %+v", p.AnswerKey.ShortGuides)
	}

	eval := evaluationRequest{Submissions: []scriptRequest{{StudentID: "s1", Script: "MCQ 1: B\nShort Answer: forty-two"}}}
	rec = do(t, h, http.MethodPost, fmt.Sprintf("/papers/%d/evaluations", p.ID), eval)
	if rec.Code != http.StatusOK {
		t.Fatalf("evaluate status = %d: %s", rec.Code, rec.Body.String())
	}
	scores := decode[evaluationResponse](t, rec).Results[0].Scores
	if scores.TotalAwarded != 5 || scores.MaxPossible != 6 {
		t.Errorf("scores = %+v", scores)
	}
}

func TestImportPaperMultipart(t *testing.T) {
	h, _ := newTestRouter(t, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("teacher_key", "key.txt")
	io.WriteString(fw, "MCQ: A C D\nLong Answer: Energy is conserved.")
	mw.WriteField("marking_scheme", `{"kind": "monthly", "long_marks": [10], "total_marks": 20}`)
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/papers/import", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	p := decode[model.Paper](t, rec)
	if p.Kind != model.PaperMonthly || p.TotalMarks != 20 || len(p.AnswerKey.Objective) != 3 {
		t.Errorf("paper = %+v", p)
	}
}

func TestImportPaperInvalid(t *testing.T) {
	h, _ := newTestRouter(t, nil)
	tests := []struct {
		name string
		req  importRequest
	}{
		{"unrecognized key", importRequest{TeacherKey: "nothing here"}},
		{"marks do not match key", importRequest{TeacherKey: "Short Answer: a\nShort Answer: b", MarkingScheme: compose.MarkingScheme{ShortMarks: []int{5}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/papers/import", tt.req)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400: %s", rec.Code, rec.Body.String())
			}
		})
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("marking_scheme", `{}`)
	mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/papers/import", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing key file = %d", rec.Code)
	}
}

func TestEvaluateGraderFailure(t *testing.T) {
	h, s := newTestRouter(t, fakeGrader{err: errors.New("timeout")})
	p := composePaper(t, h, model.GenerationConfig{
		PaperKind:        model.PaperYearly,
		Difficulty:       model.DifficultyHard,
		ShortAnswerCount: 1,
		TotalMarks:       10,
		DurationHours:    3,
	})

	req := evaluationRequest{Submissions: []scriptRequest{{StudentID: "s1", Script: "Short Answer: osmosis"}}}
	rec := do(t, h, http.MethodPost, fmt.Sprintf("/papers/%d/evaluations", p.ID), req)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502: %s", rec.Code, rec.Body.String())
	}
	if e := decode[errorResponse](t, rec); !e.Retryable {
		t.Errorf("error = %+v, want retryable", e)
	}
	evals, err := s.ListEvaluations(p.ID)
	if err != nil || len(evals) != 0 {
		t.Errorf("failed scoring should store nothing: %v, %v", evals, err)
	}
}

func TestEvaluateGraderScores(t *testing.T) {
	h, _ := newTestRouter(t, fakeGrader{score: 2.6})
	p := composePaper(t, h, model.GenerationConfig{
		PaperKind:        model.PaperWeekly,
		Difficulty:       model.DifficultyEasy,
		ShortAnswerCount: 1,
		TotalMarks:       10,
		DurationHours:    1,
	})
	req := evaluationRequest{Submissions: []scriptRequest{{StudentID: "s1", Script: "Short Answer: osmosis"}}}
	resp := decode[evaluationResponse](t, do(t, h, http.MethodPost, fmt.Sprintf("/papers/%d/evaluations", p.ID), req))
	if len(resp.Results) != 1 || resp.Results[0].Scores.TotalAwarded != 3 {
		t.Errorf("results = %+v", resp.Results)
	}
}

func TestFeedbackFlow(t *testing.T) {
	h, _ := newTestRouter(t, nil)

	rec := do(t, h, http.MethodPost, "/feedback", startFeedbackRequest{TeacherScript: "T", StudentScript: "S"})
	if rec.Code != http.StatusOK {
		t.Fatalf("start = %d: %s", rec.Code, rec.Body.String())
	}
	start := decode[startFeedbackResponse](t, rec)
	if start.SessionID == "" || start.Feedback != "feedback on S" {
		t.Fatalf("start = %+v", start)
	}
	base := "/feedback/" + start.SessionID

	chat := decode[chatResponse](t, do(t, h, http.MethodPost, base+"/chat", chatRequest{Message: "why?"}))
	if chat.Message != "re: why?" || chat.Closed {
		t.Errorf("chat = %+v", chat)
	}

	sess := decode[model.FeedbackSession](t, do(t, h, http.MethodGet, base, nil))
	if len(sess.Turns) != 2 || sess.Turns[0].Role != model.RoleUser || sess.Turns[1].Role != model.RoleAssistant {
		t.Errorf("turns = %+v", sess.Turns)
	}

	chat = decode[chatResponse](t, do(t, h, http.MethodPost, base+"/chat", chatRequest{Message: "bye"}))
	if !chat.Closed {
		t.Errorf("exit word should close the session: %+v", chat)
	}

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
	}{
		{"closed session", http.MethodGet, base, nil, http.StatusNotFound},
		{"chat unknown", http.MethodPost, "/feedback/nope/chat", chatRequest{Message: "hi"}, http.StatusNotFound},
		{"delete unknown", http.MethodDelete, "/feedback/nope", nil, http.StatusNotFound},
		{"empty teacher script", http.MethodPost, "/feedback", startFeedbackRequest{StudentScript: "S"}, http.StatusBadRequest},
		{"empty message", http.MethodPost, base + "/chat", chatRequest{}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := do(t, h, tt.method, tt.path, tt.body); rec.Code != tt.status {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.status, rec.Body.String())
			}
		})
	}
}

func TestFeedbackDelete(t *testing.T) {
	h, _ := newTestRouter(t, nil)
	start := decode[startFeedbackResponse](t, do(t, h, http.MethodPost, "/feedback", startFeedbackRequest{TeacherScript: "T", StudentScript: "S"}))

	if rec := do(t, h, http.MethodDelete, "/feedback/"+start.SessionID, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("DELETE = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/feedback/"+start.SessionID+"/chat", chatRequest{Message: "hi"}); rec.Code != http.StatusNotFound {
		t.Errorf("chat after close = %d", rec.Code)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid config", &model.InvalidConfigError{Field: "x"}, http.StatusBadRequest},
		{"bad request", fmt.Errorf("decode: %w", errBadRequest), http.StatusBadRequest},
		{"ingestion", &model.IngestionError{Source: "a"}, http.StatusUnprocessableEntity},
		{"external", fmt.Errorf("wrap: %w", &model.ExternalServiceError{Service: "llm"}), http.StatusBadGateway},
		{"unknown session", &model.UnknownSessionError{ID: "x"}, http.StatusNotFound},
		{"not found", fmt.Errorf("paper 1: %w", errNotFound), http.StatusNotFound},
		{"too large", &http.MaxBytesError{Limit: 1}, http.StatusRequestEntityTooLarge},
		{"other", errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := statusFor(tt.err); got != tt.want {
				t.Errorf("statusFor() = %d, want %d", got, tt.want)
			}
		})
	}
}
