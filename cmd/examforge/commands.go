package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pavelanni/examforge/internal/compose"
	appI18n "github.com/pavelanni/examforge/internal/i18n"
	"github.com/pavelanni/examforge/internal/ingest"
	"github.com/pavelanni/examforge/internal/model"
	"github.com/pavelanni/examforge/internal/scoring"
	"github.com/pavelanni/examforge/internal/store"
	"github.com/pavelanni/examforge/internal/submission"
	"github.com/pavelanni/examforge/internal/topic"
)

func composeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compose",
		Short: "Compose a paper from source documents",
		Args:  cobra.NoArgs,
		RunE:  runCompose,
	}
	f := cmd.Flags()
	f.StringSlice("syllabus", nil, "Syllabus file")
	f.StringSlice("textbook", nil, "Textbook file")
	f.StringSlice("previous-paper", nil, "Previous paper file")
	f.String("kind", string(model.PaperWeekly), "Paper kind (weekly, monthly, yearly)")
	f.String("difficulty", string(model.DifficultyMixed), "Difficulty (easy, medium, hard, mixed)")
	f.Int("objective", 10, "Number of multiple choice questions")
	f.Int("short", 5, "Number of short answer questions")
	f.Int("long", 2, "Number of long answer questions")
	f.Bool("prioritize", false, "Draw topics from the syllabus only")
	f.Int("total-marks", 100, "Total marks of the paper")
	f.Float64("duration", 3, "Duration in hours")
	f.Uint64("seed", 0, "Random seed (0 = time based)")
	f.Int("max-topics", topic.DefaultLimit, "Topics taken from each source document")
	f.String("format", "json", "Output format (json, text, key)")
	f.Bool("verify", false, "Check that the text export parses back to the requested counts")
	f.String("db", "", "Also store the paper in this SQLite database")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	addLogFlags(cmd)
	return cmd
}

func runCompose(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	docs, err := readDocuments(ctx, ingest.New(nil), documentPaths(v))
	if err != nil {
		return err
	}

	cfg := model.GenerationConfig{
		PaperKind:           model.PaperKind(v.GetString("kind")),
		Difficulty:          model.Difficulty(v.GetString("difficulty")),
		ObjectiveCount:      v.GetInt("objective"),
		ShortAnswerCount:    v.GetInt("short"),
		LongAnswerCount:     v.GetInt("long"),
		PrioritizeKeyTopics: v.GetBool("prioritize"),
		TotalMarks:          v.GetInt("total-marks"),
		DurationHours:       v.GetFloat64("duration"),
	}
	paper, err := newComposer(v).Compose(docs, cfg)
	if err != nil {
		return err
	}

	if v.GetBool("verify") {
		if err := verifyPaper(paper, cfg); err != nil {
			return err
		}
		slog.Info("paper verified", "questions", paper.AnswerKey.QuestionCount())
	}

	if path := v.GetString("db"); path != "" {
		db, err := store.New(path)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()
		if _, err := db.InsertPaper(paper); err != nil {
			return fmt.Errorf("store paper: %w", err)
		}
		slog.Info("stored paper", "paper_id", paper.ID)
	}

	w, closeOut, err := openOutput(v.GetString("output"))
	if err != nil {
		return err
	}
	defer closeOut()
	return writePaper(w, paper, v.GetString("format"))
}

func writePaper(w io.Writer, p *model.Paper, format string) error {
	switch strings.ToLower(format) {
	case "text":
		return compose.RenderText(w, p)
	case "key":
		return compose.RenderKey(w, p)
	case "json", "":
		return writeJSON(w, p)
	default:
		return &model.InvalidConfigError{Field: "format", Reason: fmt.Sprintf("unknown format %q", format)}
	}
}

// verifyPaper renders p as text, parses it back and checks the result
// against cfg.
func verifyPaper(p *model.Paper, cfg model.GenerationConfig) error {
	var buf bytes.Buffer
	if err := compose.RenderText(&buf, p); err != nil {
		return fmt.Errorf("render paper: %w", err)
	}
	outline, err := compose.ParseOutline(&buf)
	if err != nil {
		return fmt.Errorf("parse rendered paper: %w", err)
	}
	if outline.TotalMarks != cfg.TotalMarks {
		return fmt.Errorf("verify paper: total marks %d, want %d", outline.TotalMarks, cfg.TotalMarks)
	}
	for _, qt := range model.QuestionTypes {
		if got, want := outline.Count(qt), cfg.Count(qt); got != want {
			return fmt.Errorf("verify paper: %s questions %d, want %d", qt, got, want)
		}
		want := 0
		if s, ok := p.Section(qt); ok {
			for _, q := range s.Questions {
				want += q.Marks
			}
		}
		if got := outline.Marks(qt); got != want {
			return fmt.Errorf("verify paper: %s marks %d, want %d", qt, got, want)
		}
	}
	return nil
}

func scoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "score [flags] SCRIPT...",
		Short: "Score answer scripts against a paper",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runScore,
	}
	f := cmd.Flags()
	f.String("paper", "", "Paper JSON file (as written by compose)")
	f.Int64("paper-id", 0, "Stored paper ID (with --db)")
	f.String("key", "", "Teacher answer key in script format, instead of a paper")
	f.String("scheme", "", "Marking scheme JSON for --key")
	f.String("db", "examforge.db", "SQLite database path")
	f.Bool("save", false, "Store the results in the database (with --paper-id, or --key to store the key as a paper)")
	f.String("evaluation-type", "", "Evaluation type (objective, descriptive, mixed; empty = detect)")
	f.Int("workers", scoring.DefaultWorkers, "Concurrent scoring workers")
	f.StringP("lang", "l", "en", "Feedback language (en, ru)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	addLLMFlags(cmd)
	addLogFlags(cmd)
	return cmd
}

func runScore(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if err := appI18n.Init(v.GetString("lang")); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	var db *store.Store
	paperID := v.GetInt64("paper-id")
	if paperID != 0 || v.GetBool("save") {
		var err error
		if db, err = store.New(v.GetString("db")); err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()
	}

	collab, err := newCollaborator(ctx, v)
	if err != nil {
		return fmt.Errorf("create LLM client: %w", err)
	}
	defer collab.Close()
	x := ingest.New(collab)

	var paper *model.Paper
	if keyPath := v.GetString("key"); keyPath != "" {
		paper, err = importPaper(ctx, x, keyPath, v.GetString("scheme"))
		if err == nil && v.GetBool("save") {
			_, err = db.InsertPaper(paper)
		}
	} else {
		paper, err = loadPaper(db, v.GetString("paper"), paperID)
	}
	if err != nil {
		return err
	}

	subs, err := readScripts(ctx, x, model.EvaluationType(v.GetString("evaluation-type")), args)
	if err != nil {
		return err
	}

	engine := scoring.NewEngine(collab, scoring.WithWorkers(v.GetInt("workers")))
	outcomes := engine.ScoreBatch(ctx, subs, paper.AnswerKey, paper.TotalMarks)

	results := make([]model.EvaluationResult, 0, len(outcomes))
	failed := 0
	for i, o := range outcomes {
		if o.Err != nil {
			failed++
			slog.Error("scoring failed", "student_id", o.StudentID, "error", o.Err)
			continue
		}
		results = append(results, o.Result())
		if v.GetBool("save") {
			if _, err := db.InsertEvaluation(model.Evaluation{
				PaperID:     paper.ID,
				StudentName: o.StudentName,
				Type:        subs[i].Type,
				Result:      o.Result(),
			}); err != nil {
				return fmt.Errorf("store evaluation for %s: %w", o.StudentID, err)
			}
		}
	}

	w, closeOut, err := openOutput(v.GetString("output"))
	if err != nil {
		return err
	}
	defer closeOut()
	if err := writeJSON(w, results); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d submissions failed", failed, len(outcomes))
	}
	return nil
}

// loadPaper reads a paper from a JSON file or, when path is empty, from db.
func loadPaper(db *store.Store, path string, id int64) (*model.Paper, error) {
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read paper: %w", err)
		}
		var p model.Paper
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("parse paper %s: %w", path, err)
		}
		if id != 0 {
			p.ID = id
		}
		return &p, nil
	}
	if db == nil || id == 0 {
		return nil, &model.InvalidConfigError{Field: "paper", Reason: "either --paper or --paper-id is required"}
	}
	p, err := db.GetPaper(id)
	if err != nil {
		return nil, fmt.Errorf("get paper %d: %w", id, err)
	}
	if p == nil {
		return nil, fmt.Errorf("paper %d not found", id)
	}
	return p, nil
}

// importPaper builds a paper from a teacher's answer key file and an
// optional marking scheme JSON file.
func importPaper(ctx context.Context, x *ingest.Extractor, keyPath, schemePath string) (*model.Paper, error) {
	data, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read key: %w", err)
	}
	tr, err := x.Extract(ctx, filepath.Base(keyPath), data)
	if err != nil {
		return nil, err
	}
	var scheme compose.MarkingScheme
	if schemePath != "" {
		raw, err := os.ReadFile(schemePath)
		if err != nil {
			return nil, fmt.Errorf("read marking scheme: %w", err)
		}
		if err := json.Unmarshal(raw, &scheme); err != nil {
			return nil, fmt.Errorf("parse marking scheme %s: %w", schemePath, err)
		}
	}
	key, err := submission.Parse(tr.Text)
	var perr *model.ParseError
	if errors.As(err, &perr) {
		slog.Warn("no answers recognized in key", "path", keyPath, "lines", perr.Lines)
	}
	return compose.FromKey(key, scheme, time.Now().UTC())
}

// readScripts ingests and parses answer scripts. The student ID defaults
// to the file name without extension.
func readScripts(ctx context.Context, x *ingest.Extractor, evalType model.EvaluationType, paths []string) ([]model.StudentSubmission, error) {
	subs := make([]model.StudentSubmission, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		name := filepath.Base(path)
		tr, err := x.Extract(ctx, name, data)
		if err != nil {
			return nil, err
		}
		id := tr.StudentID
		if id == "" {
			id = strings.TrimSuffix(name, filepath.Ext(name))
		}
		sub, err := submission.Build(id, tr.StudentName, evalType, tr.Text)
		var perr *model.ParseError
		if errors.As(err, &perr) {
			slog.Warn("no answers recognized in script", "path", path, "lines", perr.Lines)
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export stored evaluation results as JSON",
		Args:  cobra.NoArgs,
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("db", "examforge.db", "SQLite database path")
	f.Int64("paper-id", 0, "Paper whose evaluations are exported (required)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	addLogFlags(cmd)

	_ = cmd.MarkFlagRequired("paper-id")

	return cmd
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	id := v.GetInt64("paper-id")
	export, err := db.ExportEvaluations(id)
	if err != nil {
		return fmt.Errorf("export evaluations: %w", err)
	}
	if export == nil {
		return fmt.Errorf("paper %d not found", id)
	}

	w, closeOut, err := openOutput(v.GetString("output"))
	if err != nil {
		return err
	}
	defer closeOut()
	return writeJSON(w, export)
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)
	return nil
}
