package model

import (
	"errors"
	"math"
	"testing"
	"time"
)

func validConfig() GenerationConfig {
	return GenerationConfig{
		PaperKind:        PaperMonthly,
		Difficulty:       DifficultyMixed,
		ObjectiveCount:   5,
		ShortAnswerCount: 2,
		LongAnswerCount:  1,
		TotalMarks:       50,
		DurationHours:    2,
	}
}

func TestGenerationConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *GenerationConfig)
		wantField string
	}{
		{"valid", func(c *GenerationConfig) {}, ""},
		{"objective only", func(c *GenerationConfig) { c.ShortAnswerCount, c.LongAnswerCount = 0, 0 }, ""},
		{"all zero", func(c *GenerationConfig) { c.ObjectiveCount, c.ShortAnswerCount, c.LongAnswerCount = 0, 0, 0 }, "counts"},
		{"negative short", func(c *GenerationConfig) { c.ShortAnswerCount = -1 }, "short_count"},
		{"zero marks", func(c *GenerationConfig) { c.TotalMarks = 0 }, "total_marks"},
		{"negative marks", func(c *GenerationConfig) { c.TotalMarks = -10 }, "total_marks"},
		{"zero duration", func(c *GenerationConfig) { c.DurationHours = 0 }, "duration_hours"},
		{"NaN duration", func(c *GenerationConfig) { c.DurationHours = math.NaN() }, "duration_hours"},
		{"infinite duration", func(c *GenerationConfig) { c.DurationHours = math.Inf(1) }, "duration_hours"},
		{"bad kind", func(c *GenerationConfig) { c.PaperKind = "daily" }, "paper_kind"},
		{"bad difficulty", func(c *GenerationConfig) { c.Difficulty = "brutal" }, "difficulty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			var cfgErr *InvalidConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("Validate() = %v, want *InvalidConfigError", err)
			}
			if cfgErr.Field != tt.wantField {
				t.Errorf("field = %q, want %q", cfgErr.Field, tt.wantField)
			}
		})
	}
}

func TestDocumentSetSupersedes(t *testing.T) {
	s := NewDocumentSet(
		Document{ID: "1", Kind: SourceSyllabus, RawText: "old"},
		Document{ID: "2", Kind: SourceTextbook, RawText: "book"},
	)

	prev, replaced := s.Put(Document{ID: "3", Kind: SourceSyllabus, RawText: "new"})
	if !replaced || prev.ID != "1" {
		t.Fatalf("Put should replace document 1, got %v %v", prev.ID, replaced)
	}
	if s.Len() != 2 {
		t.Fatalf("expected 2 active documents, got %d", s.Len())
	}
	d, _ := s.Get(SourceSyllabus)
	if d.RawText != "new" {
		t.Errorf("expected superseding text 'new', got %q", d.RawText)
	}

	active := s.Active()
	if active[0].Kind != SourceSyllabus || active[1].Kind != SourceTextbook {
		t.Errorf("active documents out of order: %v", active)
	}

	s.Remove(SourceTextbook)
	if _, ok := s.Get(SourceTextbook); ok {
		t.Error("textbook should be removed")
	}
}

func TestPaperKindTitle(t *testing.T) {
	if got := PaperYearly.Title(); got != "Yearly Assessment Paper" {
		t.Errorf("Title() = %q", got)
	}
}

func TestFeedbackSessionExpired(t *testing.T) {
	now := time.Now()
	s := FeedbackSession{ExpiresAt: now.Add(time.Minute)}
	if s.Expired(now) {
		t.Error("session should not be expired yet")
	}
	if !s.Expired(now.Add(2 * time.Minute)) {
		t.Error("session should be expired")
	}
	var forever FeedbackSession
	if forever.Expired(now) {
		t.Error("zero expiry means no expiry")
	}
}

func TestExternalServiceErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := error(&ExternalServiceError{Service: "llm", Op: "grade", Err: cause})
	if !errors.Is(err, cause) {
		t.Error("ExternalServiceError should unwrap to its cause")
	}
	if IsUnknownSession(err) {
		t.Error("not an unknown session error")
	}
	if !IsUnknownSession(&UnknownSessionError{ID: "x"}) {
		t.Error("IsUnknownSession should match")
	}
}
