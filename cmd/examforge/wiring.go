package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"

	"github.com/pavelanni/examforge/internal/ingest"
	"github.com/pavelanni/examforge/internal/llm"
	"github.com/pavelanni/examforge/internal/llm/gemini"
	"github.com/pavelanni/examforge/internal/llm/prompts"
	"github.com/pavelanni/examforge/internal/model"
	"github.com/pavelanni/examforge/internal/scoring"
	"github.com/pavelanni/examforge/internal/session"
	"github.com/pavelanni/examforge/internal/session/redisstore"
	"github.com/pavelanni/examforge/internal/store"
)

// collaborator is everything the engine asks of an LLM provider.
type collaborator interface {
	scoring.Grader
	session.Chatter
	ingest.Transcriber
	Close() error
}

type openAICollaborator struct {
	*llm.Client
}

func (openAICollaborator) Close() error { return nil }

func newCollaborator(ctx context.Context, v *viper.Viper) (collaborator, error) {
	variant := strings.ToLower(strings.TrimSpace(v.GetString("prompt-variant")))
	if !prompts.IsValidVariant(variant) {
		slog.Warn("invalid prompt-variant, using standard", "variant", variant)
		variant = string(prompts.PromptStandard)
	}
	opts := []llm.Option{
		llm.WithVariant(prompts.PromptVariant(variant)),
		llm.WithTimeout(v.GetDuration("llm-timeout")),
		llm.WithRateLimit(v.GetFloat64("llm-rps")),
	}

	switch provider := strings.ToLower(v.GetString("llm-provider")); provider {
	case llm.Provider, "":
		c, err := llm.New(v.GetString("llm-url"), v.GetString("llm-key"), v.GetString("llm-model"), opts...)
		if err != nil {
			return nil, err
		}
		return openAICollaborator{c}, nil
	case gemini.Provider:
		// The llm-model default names a local model; let gemini pick its own.
		modelName := ""
		if v.IsSet("llm-model") {
			modelName = v.GetString("llm-model")
		}
		c, err := gemini.New(ctx, v.GetString("llm-key"), modelName, opts...)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, &model.InvalidConfigError{Field: "llm_provider", Reason: fmt.Sprintf("unknown provider %q", provider)}
	}
}

// newSessionStore opens the configured feedback session store. The
// returned func releases it.
func newSessionStore(ctx context.Context, v *viper.Viper, db *store.Store) (session.Store, func(), error) {
	switch kind := strings.ToLower(v.GetString("session-store")); kind {
	case "sqlite", "":
		return db, func() {}, nil
	case "memory":
		return session.NewMemoryStore(), func() {}, nil
	case "redis":
		rs, err := redisstore.Open(ctx, v.GetString("redis-addr"), v.GetString("redis-password"), v.GetInt("redis-db"))
		if err != nil {
			return nil, nil, err
		}
		return rs, func() {
			if err := rs.Close(); err != nil {
				slog.Warn("close redis", "error", err)
			}
		}, nil
	default:
		return nil, nil, &model.InvalidConfigError{Field: "session_store", Reason: fmt.Sprintf("unknown session store %q", kind)}
	}
}

func documentPaths(v *viper.Viper) map[model.SourceKind][]string {
	return map[model.SourceKind][]string{
		model.SourceSyllabus:      v.GetStringSlice("syllabus"),
		model.SourceTextbook:      v.GetStringSlice("textbook"),
		model.SourcePreviousPaper: v.GetStringSlice("previous-paper"),
	}
}

// activePath returns the file that becomes the active document of kind: the
// last one given, since each supersedes the one before.
func activePath(kind model.SourceKind, paths map[model.SourceKind][]string) (string, bool) {
	p := paths[kind]
	if len(p) == 0 {
		return "", false
	}
	if len(p) > 1 {
		slog.Warn("several documents of one kind given, using the last", "kind", kind, "path", p[len(p)-1])
	}
	return p[len(p)-1], true
}

// readDocuments ingests the active file of each kind without storing it.
func readDocuments(ctx context.Context, x *ingest.Extractor, paths map[model.SourceKind][]string) ([]model.Document, error) {
	set := model.NewDocumentSet()
	for _, kind := range model.SourceKinds {
		path, ok := activePath(kind, paths)
		if !ok {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		doc, err := newDocument(ctx, x, kind, path, data)
		if err != nil {
			return nil, err
		}
		set.Put(doc)
	}
	return set.Active(), nil
}

func newDocument(ctx context.Context, x *ingest.Extractor, kind model.SourceKind, path string, data []byte) (model.Document, error) {
	tr, err := x.Extract(ctx, filepath.Base(path), data)
	if err != nil {
		return model.Document{}, err
	}
	return model.Document{
		ID:         uuid.NewString(),
		Kind:       kind,
		Name:       filepath.Base(path),
		RawText:    tr.Text,
		UploadedAt: time.Now().UTC(),
	}, nil
}

// loadDocuments makes the given files the active documents. The import of
// each kind is recorded as "<document id>:<content hash>"; a file is skipped
// only when that document is still active and the content is unchanged.
func loadDocuments(ctx context.Context, db *store.Store, x *ingest.Extractor, paths map[model.SourceKind][]string) error {
	for _, kind := range model.SourceKinds {
		path, ok := activePath(kind, paths)
		if !ok {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		key := "import:" + string(kind)
		hash := sha256sum(data)
		last, err := db.GetMetadata(key)
		if err != nil {
			return fmt.Errorf("check import status for %s: %w", path, err)
		}
		active, err := db.GetDocument(kind)
		if err != nil {
			return fmt.Errorf("get active %s: %w", kind, err)
		}
		if active != nil && last == active.ID+":"+hash {
			slog.Info("document unchanged, skipping", "path", path, "kind", kind)
			continue
		}

		doc, err := newDocument(ctx, x, kind, path, data)
		if err != nil {
			return err
		}
		if err := db.PutDocument(doc); err != nil {
			return fmt.Errorf("store %s: %w", path, err)
		}
		if err := db.SetMetadata(key, doc.ID+":"+hash); err != nil {
			return fmt.Errorf("record import for %s: %w", path, err)
		}
		slog.Info("imported document", "path", path, "kind", kind, "chars", len(doc.RawText))
	}
	return nil
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
