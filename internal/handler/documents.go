package handler

import (
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pavelanni/examforge/internal/model"
	"github.com/pavelanni/examforge/internal/topic"
)

type documentSummary struct {
	ID         string           `json:"id"`
	Kind       model.SourceKind `json:"source_kind"`
	Name       string           `json:"name"`
	Chars      int              `json:"chars"`
	Topics     []string         `json:"topics"`
	UploadedAt time.Time        `json:"uploaded_at"`
}

func summarize(d model.Document) documentSummary {
	return documentSummary{
		ID:         d.ID,
		Kind:       d.Kind,
		Name:       d.Name,
		Chars:      len([]rune(d.RawText)),
		Topics:     topic.Extract(d.RawText, topic.DefaultLimit),
		UploadedAt: d.UploadedAt,
	}
}

func sourceKind(r *http.Request) (model.SourceKind, error) {
	kind := model.SourceKind(chi.URLParam(r, "kind"))
	if !kind.IsValid() {
		return "", &model.InvalidConfigError{Field: "source_kind", Reason: fmt.Sprintf("unknown source kind %q", kind)}
	}
	return kind, nil
}

func (h *Handler) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	set, err := h.store.DocumentSet()
	if err != nil {
		writeError(w, fmt.Errorf("load documents: %w", err))
		return
	}
	out := []documentSummary{}
	for _, d := range set.Active() {
		out = append(out, summarize(d))
	}
	writeJSON(w, http.StatusOK, out)
}

// handlePutDocument uploads a document, superseding the active one of the
// same kind. The body is either the raw file or a multipart form with a
// "file" field.
func (h *Handler) handlePutDocument(w http.ResponseWriter, r *http.Request) {
	kind, err := sourceKind(r)
	if err != nil {
		writeError(w, err)
		return
	}

	name, data, err := readUpload(w, r, "file")
	if err != nil {
		writeError(w, err)
		return
	}
	if name == "" {
		name = string(kind)
	}

	tr, err := h.ingest.Extract(r.Context(), name, data)
	if err != nil {
		writeError(w, err)
		return
	}

	doc := model.Document{
		ID:         uuid.NewString(),
		Kind:       kind,
		Name:       name,
		RawText:    tr.Text,
		UploadedAt: time.Now().UTC(),
	}
	if err := h.store.PutDocument(doc); err != nil {
		writeError(w, fmt.Errorf("store document: %w", err))
		return
	}
	slog.Info("document uploaded", "kind", kind, "name", name, "chars", len(doc.RawText))
	writeJSON(w, http.StatusOK, summarize(doc))
}

func (h *Handler) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	kind, err := sourceKind(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.store.DeleteDocument(kind); err != nil {
		writeError(w, fmt.Errorf("delete document: %w", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// readUpload returns the uploaded file name and content. Multipart bodies
// are read from field; any other body is taken as the file itself, named by
// the "name" query parameter.
func readUpload(w http.ResponseWriter, r *http.Request, field string) (string, []byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		file, hdr, err := r.FormFile(field)
		if err != nil {
			return "", nil, fmt.Errorf("read form file %q: %v: %w", field, err, errBadRequest)
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			return "", nil, fmt.Errorf("read upload: %w", err)
		}
		return hdr.Filename, data, nil
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		return "", nil, fmt.Errorf("read upload: %w", err)
	}
	return r.URL.Query().Get("name"), data, nil
}
