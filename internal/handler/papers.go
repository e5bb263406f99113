package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/pavelanni/examforge/internal/compose"
	"github.com/pavelanni/examforge/internal/metrics"
	"github.com/pavelanni/examforge/internal/model"
	"github.com/pavelanni/examforge/internal/submission"
)

func (h *Handler) handleComposePaper(w http.ResponseWriter, r *http.Request) {
	var cfg model.GenerationConfig
	if err := decodeJSON(r, w, &cfg); err != nil {
		writeError(w, err)
		return
	}

	set, err := h.store.DocumentSet()
	if err != nil {
		writeError(w, fmt.Errorf("load documents: %w", err))
		return
	}

	h.mu.Lock()
	paper, err := h.composer.Compose(set.Active(), cfg)
	h.mu.Unlock()
	if err != nil {
		writeError(w, err)
		return
	}

	if _, err := h.store.InsertPaper(paper); err != nil {
		writeError(w, fmt.Errorf("store paper: %w", err))
		return
	}
	metrics.PapersComposed.WithLabelValues(string(paper.Kind)).Inc()
	slog.Info("paper composed", "paper_id", paper.ID, "kind", paper.Kind, "questions", paper.AnswerKey.QuestionCount())
	writeJSON(w, http.StatusCreated, paper)
}

type importRequest struct {
	TeacherKey    string                `json:"teacher_key"`
	MarkingScheme compose.MarkingScheme `json:"marking_scheme"`
}

// handleImportPaper stores a paper built from a teacher's own answer key
// and marking scheme. The key uses the answer script format. Multipart
// uploads send "teacher_key" as a file, which is run through ingestion, and
// "marking_scheme" as a JSON file or form value.
func (h *Handler) handleImportPaper(w http.ResponseWriter, r *http.Request) {
	req, err := h.readImport(w, r)
	if err != nil {
		writeError(w, err)
		return
	}

	key, err := submission.Parse(req.TeacherKey)
	var perr *model.ParseError
	if errors.As(err, &perr) {
		slog.Warn("no answers recognized in teacher key", "lines", perr.Lines)
	}
	paper, err := compose.FromKey(key, req.MarkingScheme, time.Now().UTC())
	if err != nil {
		writeError(w, err)
		return
	}

	if _, err := h.store.InsertPaper(paper); err != nil {
		writeError(w, fmt.Errorf("store paper: %w", err))
		return
	}
	metrics.PapersComposed.WithLabelValues("imported").Inc()
	slog.Info("paper imported", "paper_id", paper.ID, "questions", paper.AnswerKey.QuestionCount())
	writeJSON(w, http.StatusCreated, paper)
}

func (h *Handler) readImport(w http.ResponseWriter, r *http.Request) (importRequest, error) {
	var req importRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		err := decodeJSON(r, w, &req)
		return req, err
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return req, fmt.Errorf("parse multipart form: %v: %w", err, errBadRequest)
	}

	keys := r.MultipartForm.File["teacher_key"]
	if len(keys) == 0 {
		return req, fmt.Errorf("missing teacher_key file: %w", errBadRequest)
	}
	data, err := readFileHeader(keys[0])
	if err != nil {
		return req, err
	}
	tr, err := h.ingest.Extract(r.Context(), keys[0].Filename, data)
	if err != nil {
		return req, err
	}
	req.TeacherKey = tr.Text

	var scheme []byte
	if hdrs := r.MultipartForm.File["marking_scheme"]; len(hdrs) > 0 {
		if scheme, err = readFileHeader(hdrs[0]); err != nil {
			return req, err
		}
	} else {
		scheme = []byte(r.FormValue("marking_scheme"))
	}
	if len(bytes.TrimSpace(scheme)) > 0 {
		if err := json.Unmarshal(scheme, &req.MarkingScheme); err != nil {
			return req, fmt.Errorf("decode marking scheme: %v: %w", err, errBadRequest)
		}
	}
	return req, nil
}

func (h *Handler) handleListPapers(w http.ResponseWriter, r *http.Request) {
	papers, err := h.store.ListPapers()
	if err != nil {
		writeError(w, fmt.Errorf("list papers: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, papers)
}

func (h *Handler) loadPaper(r *http.Request) (*model.Paper, error) {
	id, err := paperID(r)
	if err != nil {
		return nil, err
	}
	p, err := h.store.GetPaper(id)
	if err != nil {
		return nil, fmt.Errorf("get paper %d: %w", id, err)
	}
	if p == nil {
		return nil, fmt.Errorf("paper %d: %w", id, errNotFound)
	}
	return p, nil
}

func (h *Handler) handleGetPaper(w http.ResponseWriter, r *http.Request) {
	p, err := h.loadPaper(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) handlePaperText(w http.ResponseWriter, r *http.Request) {
	h.renderPaper(w, r, compose.RenderText)
}

func (h *Handler) handlePaperKey(w http.ResponseWriter, r *http.Request) {
	h.renderPaper(w, r, compose.RenderKey)
}

func (h *Handler) renderPaper(w http.ResponseWriter, r *http.Request, render func(io.Writer, *model.Paper) error) {
	p, err := h.loadPaper(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var buf bytes.Buffer
	if err := render(&buf, p); err != nil {
		writeError(w, fmt.Errorf("render paper %d: %w", p.ID, err))
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

type scriptRequest struct {
	StudentID      string               `json:"student_id"`
	StudentName    string               `json:"student_name"`
	EvaluationType model.EvaluationType `json:"evaluation_type"`
	Script         string               `json:"script"`
}

type evaluationRequest struct {
	Submissions []scriptRequest `json:"submissions"`
}

type failedEvaluation struct {
	StudentID string `json:"student_id"`
	Error     string `json:"error"`
	Retryable bool   `json:"retryable"`
}

type evaluationResponse struct {
	PaperID int64                    `json:"paper_id"`
	Results []model.EvaluationResult `json:"results"`
	Failed  []failedEvaluation       `json:"failed,omitempty"`
}

// handleEvaluate scores a batch of answer scripts against a stored paper.
// Scripts come either as JSON text or as multipart "scripts" files, which
// are run through ingestion first.
func (h *Handler) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	p, err := h.loadPaper(r)
	if err != nil {
		writeError(w, err)
		return
	}

	scripts, err := h.readScripts(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	if len(scripts) == 0 {
		writeError(w, &model.InvalidConfigError{Field: "submissions", Reason: "must not be empty"})
		return
	}

	subs := make([]model.StudentSubmission, 0, len(scripts))
	for i, sc := range scripts {
		if sc.StudentID == "" {
			sc.StudentID = fmt.Sprintf("student-%d", i+1)
		}
		sub, err := submission.Build(sc.StudentID, sc.StudentName, sc.EvaluationType, sc.Script)
		var perr *model.ParseError
		if errors.As(err, &perr) {
			slog.Warn("no answers recognized in script", "student_id", sc.StudentID, "lines", perr.Lines)
		}
		subs = append(subs, sub)
	}

	resp := evaluationResponse{PaperID: p.ID, Results: []model.EvaluationResult{}}
	var firstErr error
	for i, o := range h.engine.ScoreBatch(r.Context(), subs, p.AnswerKey, p.TotalMarks) {
		if o.Err != nil {
			metrics.SubmissionsScored.WithLabelValues("error").Inc()
			if firstErr == nil {
				firstErr = o.Err
			}
			var extErr *model.ExternalServiceError
			resp.Failed = append(resp.Failed, failedEvaluation{
				StudentID: o.StudentID,
				Error:     o.Err.Error(),
				Retryable: errors.As(o.Err, &extErr),
			})
			continue
		}
		metrics.SubmissionsScored.WithLabelValues("ok").Inc()

		result := o.Result()
		if _, err := h.store.InsertEvaluation(model.Evaluation{
			PaperID:     p.ID,
			StudentName: o.StudentName,
			Type:        subs[i].Type,
			Result:      result,
		}); err != nil {
			writeError(w, fmt.Errorf("store evaluation for %s: %w", o.StudentID, err))
			return
		}
		resp.Results = append(resp.Results, result)
	}

	if len(resp.Results) == 0 && firstErr != nil {
		writeError(w, firstErr)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) readScripts(w http.ResponseWriter, r *http.Request) ([]scriptRequest, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		var req evaluationRequest
		if err := decodeJSON(r, w, &req); err != nil {
			return nil, err
		}
		return req.Submissions, nil
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, fmt.Errorf("parse multipart form: %v: %w", err, errBadRequest)
	}
	evalType := model.EvaluationType(r.FormValue("evaluation_type"))

	var out []scriptRequest
	for _, hdr := range r.MultipartForm.File["scripts"] {
		sc, err := h.readScriptFile(r.Context(), hdr)
		if err != nil {
			return nil, err
		}
		sc.EvaluationType = evalType
		out = append(out, sc)
	}
	return out, nil
}

func readFileHeader(hdr *multipart.FileHeader) ([]byte, error) {
	f, err := hdr.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", hdr.Filename, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", hdr.Filename, err)
	}
	return data, nil
}

func (h *Handler) readScriptFile(ctx context.Context, hdr *multipart.FileHeader) (scriptRequest, error) {
	name := hdr.Filename
	data, err := readFileHeader(hdr)
	if err != nil {
		return scriptRequest{}, err
	}

	tr, err := h.ingest.Extract(ctx, name, data)
	if err != nil {
		return scriptRequest{}, err
	}
	id := tr.StudentID
	if id == "" {
		id = strings.TrimSuffix(name, filepath.Ext(name))
	}
	return scriptRequest{StudentID: id, StudentName: tr.StudentName, Script: tr.Text}, nil
}

func (h *Handler) handleListEvaluations(w http.ResponseWriter, r *http.Request) {
	id, err := paperID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	exp, err := h.store.ExportEvaluations(id)
	if err != nil {
		writeError(w, fmt.Errorf("export evaluations: %w", err))
		return
	}
	if exp == nil {
		writeError(w, fmt.Errorf("paper %d: %w", id, errNotFound))
		return
	}
	writeJSON(w, http.StatusOK, exp)
}
