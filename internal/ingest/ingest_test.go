package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/pavelanni/examforge/internal/model"
)

var (
	pngHeader  = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")
	jpegHeader = []byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00\x01\x01\x00\x00\x01\x00\x01\x00\x00")
)

type fakeTranscriber struct {
	calls    int
	lastMIME string
	out      Transcript
	err      error
}

func (f *fakeTranscriber) Transcribe(_ context.Context, mimeType string, _ []byte) (Transcript, error) {
	f.calls++
	f.lastMIME = mimeType
	return f.out, f.err
}

func TestExtractText(t *testing.T) {
	ocr := &fakeTranscriber{}
	e := New(ocr)

	tests := []struct {
		name string
		data string
		want string
	}{
		{"ascii", "Unit 1: Cell Biology\nUnit 2: Genetics\n", "Unit 1: Cell Biology\nUnit 2: Genetics"},
		{"utf8", "  Фотосинтез и дыхание  ", "Фотосинтез и дыхание"},
		{"bom", "\ufeffMCQ 1: A", "MCQ 1: A"},
		{"csv", "topic,weight\nosmosis,3\n", "topic,weight\nosmosis,3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Extract(context.Background(), tt.name+".txt", []byte(tt.data))
			if err != nil {
				t.Fatal(err)
			}
			if got.Text != tt.want {
				t.Errorf("Text = %q, want %q", got.Text, tt.want)
			}
		})
	}
	if ocr.calls != 0 {
		t.Errorf("text documents should not be transcribed, got %d calls", ocr.calls)
	}
}

func TestExtractImage(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		mime string
	}{
		{"png", pngHeader, "image/png"},
		{"jpeg", jpegHeader, "image/jpeg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ocr := &fakeTranscriber{out: Transcript{StudentName: "Asha", StudentID: "S-7", Text: " MCQ 1: B \n"}}
			got, err := New(ocr).Extract(context.Background(), "scan", tt.data)
			if err != nil {
				t.Fatal(err)
			}
			if ocr.lastMIME != tt.mime {
				t.Errorf("mime = %q, want %q", ocr.lastMIME, tt.mime)
			}
			if got.Text != "MCQ 1: B" || got.StudentID != "S-7" || got.StudentName != "Asha" {
				t.Errorf("transcript = %+v", got)
			}
		})
	}
}

func TestExtractErrors(t *testing.T) {
	boom := errors.New("connection reset")

	tests := []struct {
		name       string
		ocr        Transcriber
		data       []byte
		opts       []Option
		wantIngest bool
	}{
		{name: "empty", data: nil, wantIngest: true},
		{name: "whitespace only", data: []byte(" \n\t "), wantIngest: true},
		{name: "pdf", data: []byte("%PDF-1.4\n%âãÏÓ\n1 0 obj\n"), wantIngest: true},
		{name: "invalid utf8", data: []byte("abc\xffdef"), wantIngest: true},
		{name: "too large", data: []byte("abcdef"), opts: []Option{WithMaxBytes(3)}, wantIngest: true},
		{name: "image without ocr", data: pngHeader, wantIngest: true},
		{name: "nothing recognized", ocr: &fakeTranscriber{out: Transcript{Text: "  "}}, data: pngHeader, wantIngest: true},
		{name: "ocr failure", ocr: &fakeTranscriber{err: boom}, data: jpegHeader},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.ocr, tt.opts...).Extract(context.Background(), tt.name, tt.data)
			if err == nil {
				t.Fatal("expected an error")
			}
			var ingErr *model.IngestionError
			var extErr *model.ExternalServiceError
			if tt.wantIngest {
				if !errors.As(err, &ingErr) {
					t.Errorf("err = %v, want *IngestionError", err)
				}
				return
			}
			if !errors.As(err, &extErr) || !errors.Is(err, boom) {
				t.Errorf("err = %v, want *ExternalServiceError wrapping the cause", err)
			}
		})
	}
}
