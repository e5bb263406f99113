// Package ingest turns uploaded documents and answer scripts into plain text.
package ingest

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"

	"github.com/pavelanni/examforge/internal/model"
)

// DefaultMaxBytes bounds the size of one uploaded file.
const DefaultMaxBytes = 10 << 20

var imageTypes = []string{"image/png", "image/jpeg"}

// Transcript is the text recovered from one document.
type Transcript struct {
	StudentName string `json:"student_name"`
	StudentID   string `json:"student_id"`
	Text        string `json:"text"`
}

// Transcriber reads a scanned page.
type Transcriber interface {
	Transcribe(ctx context.Context, mimeType string, data []byte) (Transcript, error)
}

// Extractor detects the content type of a file and extracts its text.
type Extractor struct {
	ocr      Transcriber
	maxBytes int
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithMaxBytes overrides DefaultMaxBytes.
func WithMaxBytes(n int) Option {
	return func(e *Extractor) {
		if n > 0 {
			e.maxBytes = n
		}
	}
}

// New returns an Extractor. ocr may be nil, in which case images are
// rejected.
func New(ocr Transcriber, opts ...Option) *Extractor {
	e := &Extractor{ocr: ocr, maxBytes: DefaultMaxBytes}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Extract returns the text of data. Plain UTF-8 text is used as is and
// PNG/JPEG images are sent to the Transcriber. Anything else fails with an
// *model.IngestionError.
func (e *Extractor) Extract(ctx context.Context, name string, data []byte) (Transcript, error) {
	if len(data) == 0 {
		return Transcript{}, &model.IngestionError{Source: name, Reason: "empty file"}
	}
	if len(data) > e.maxBytes {
		return Transcript{}, &model.IngestionError{Source: name, Reason: "file too large"}
	}

	mtype := mimetype.Detect(data)
	slog.Debug("ingesting document", "name", name, "mime", mtype.String(), "bytes", len(data))

	switch {
	case isText(mtype):
		if !utf8.Valid(data) {
			return Transcript{}, &model.IngestionError{Source: name, Reason: "text is not valid UTF-8"}
		}
		text := strings.TrimSpace(strings.TrimPrefix(string(data), "\ufeff"))
		if text == "" {
			return Transcript{}, &model.IngestionError{Source: name, Reason: "no text found"}
		}
		return Transcript{Text: text}, nil

	case mimetype.EqualsAny(mtype.String(), imageTypes...):
		return e.transcribe(ctx, name, mtype.String(), data)
	}

	return Transcript{}, &model.IngestionError{Source: name, Reason: "unsupported content type " + mtype.String()}
}

func (e *Extractor) transcribe(ctx context.Context, name, mimeType string, data []byte) (Transcript, error) {
	if e.ocr == nil {
		return Transcript{}, &model.IngestionError{Source: name, Reason: "image transcription is not configured"}
	}
	tr, err := e.ocr.Transcribe(ctx, mimeType, data)
	if err != nil {
		var extErr *model.ExternalServiceError
		if errors.As(err, &extErr) {
			return Transcript{}, err
		}
		return Transcript{}, &model.ExternalServiceError{Service: "ocr", Op: "transcribe " + name, Err: err}
	}
	tr.Text = strings.TrimSpace(tr.Text)
	if tr.Text == "" {
		return Transcript{}, &model.IngestionError{Source: name, Reason: "no text recognized"}
	}
	return tr, nil
}

// isText reports whether m is text/plain or one of its descendants
// (CSV, JSON and the like).
func isText(m *mimetype.MIME) bool {
	for ; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}
