package model

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// SourceKind identifies what a source document is.
type SourceKind string

const (
	SourceSyllabus      SourceKind = "syllabus"
	SourcePreviousPaper SourceKind = "previous_paper"
	SourceTextbook      SourceKind = "textbook"
)

// SourceKinds lists the accepted document kinds in display order.
var SourceKinds = []SourceKind{SourceSyllabus, SourcePreviousPaper, SourceTextbook}

// IsValid reports whether k is a known source kind.
func (k SourceKind) IsValid() bool {
	switch k {
	case SourceSyllabus, SourcePreviousPaper, SourceTextbook:
		return true
	}
	return false
}

// Document is an uploaded source document. It is never edited; a new
// upload of the same kind supersedes it.
type Document struct {
	ID         string     `json:"id"`
	Kind       SourceKind `json:"source_kind"`
	Name       string     `json:"name"`
	RawText    string     `json:"raw_text"`
	UploadedAt time.Time  `json:"uploaded_at"`
}

// DocumentSet holds the active documents, at most one per kind.
type DocumentSet struct {
	docs map[SourceKind]Document
}

// NewDocumentSet builds a set from docs. Later documents supersede earlier
// ones of the same kind.
func NewDocumentSet(docs ...Document) *DocumentSet {
	s := &DocumentSet{docs: make(map[SourceKind]Document)}
	for _, d := range docs {
		s.Put(d)
	}
	return s
}

// Put makes d the active document of its kind and returns the one it
// replaced, if any.
func (s *DocumentSet) Put(d Document) (Document, bool) {
	prev, ok := s.docs[d.Kind]
	s.docs[d.Kind] = d
	return prev, ok
}

// Get returns the active document of the given kind.
func (s *DocumentSet) Get(kind SourceKind) (Document, bool) {
	d, ok := s.docs[kind]
	return d, ok
}

// Remove drops the active document of the given kind.
func (s *DocumentSet) Remove(kind SourceKind) {
	delete(s.docs, kind)
}

// Active returns the active documents in SourceKinds order.
func (s *DocumentSet) Active() []Document {
	var out []Document
	for _, k := range SourceKinds {
		if d, ok := s.docs[k]; ok {
			out = append(out, d)
		}
	}
	return out
}

// Len returns the number of active documents.
func (s *DocumentSet) Len() int { return len(s.docs) }

// PaperKind is the assessment cadence a paper is written for.
type PaperKind string

const (
	PaperWeekly  PaperKind = "weekly"
	PaperMonthly PaperKind = "monthly"
	PaperYearly  PaperKind = "yearly"
)

// IsValid reports whether k is a known paper kind.
func (k PaperKind) IsValid() bool {
	switch k {
	case PaperWeekly, PaperMonthly, PaperYearly:
		return true
	}
	return false
}

// Title returns the paper title for this kind, e.g. "Weekly Assessment Paper".
func (k PaperKind) Title() string {
	s := string(k)
	if s == "" {
		return "Assessment Paper"
	}
	return strings.ToUpper(s[:1]) + s[1:] + " Assessment Paper"
}

// Difficulty represents question difficulty level.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
	DifficultyMixed  Difficulty = "mixed"
)

// IsValid reports whether d is a known difficulty, mixed included.
func (d Difficulty) IsValid() bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard, DifficultyMixed:
		return true
	}
	return false
}

// QuestionType is the answer format of a question.
type QuestionType string

const (
	QuestionObjective QuestionType = "objective"
	QuestionShort     QuestionType = "short"
	QuestionLong      QuestionType = "long"
)

// QuestionTypes lists the types in section emission order.
var QuestionTypes = []QuestionType{QuestionObjective, QuestionShort, QuestionLong}

// OptionLabels are the labels of an objective question's choices.
var OptionLabels = []string{"A", "B", "C", "D"}

// GenerationConfig controls paper composition.
type GenerationConfig struct {
	PaperKind           PaperKind  `json:"paper_kind"`
	Difficulty          Difficulty `json:"difficulty"`
	ObjectiveCount      int        `json:"objective_count"`
	ShortAnswerCount    int        `json:"short_answer_count"`
	LongAnswerCount     int        `json:"long_answer_count"`
	PrioritizeKeyTopics bool       `json:"prioritize_key_topics"`
	TotalMarks          int        `json:"total_marks"`
	DurationHours       float64    `json:"duration_hours"`
}

// Count returns the requested number of questions of type t.
func (c GenerationConfig) Count(t QuestionType) int {
	switch t {
	case QuestionObjective:
		return c.ObjectiveCount
	case QuestionShort:
		return c.ShortAnswerCount
	case QuestionLong:
		return c.LongAnswerCount
	}
	return 0
}

// Validate checks the config and returns an *InvalidConfigError on the
// first problem found.
func (c GenerationConfig) Validate() error {
	if !c.PaperKind.IsValid() {
		return &InvalidConfigError{Field: "paper_kind", Reason: fmt.Sprintf("unknown paper kind %q", c.PaperKind)}
	}
	if !c.Difficulty.IsValid() {
		return &InvalidConfigError{Field: "difficulty", Reason: fmt.Sprintf("unknown difficulty %q", c.Difficulty)}
	}
	for _, t := range QuestionTypes {
		if c.Count(t) < 0 {
			return &InvalidConfigError{Field: string(t) + "_count", Reason: "must not be negative"}
		}
	}
	if c.ObjectiveCount == 0 && c.ShortAnswerCount == 0 && c.LongAnswerCount == 0 {
		return &InvalidConfigError{Field: "counts", Reason: "at least one question count must be greater than zero"}
	}
	if c.TotalMarks <= 0 {
		return &InvalidConfigError{Field: "total_marks", Reason: "must be greater than zero"}
	}
	if !(c.DurationHours > 0) || math.IsInf(c.DurationHours, 1) {
		return &InvalidConfigError{Field: "duration_hours", Reason: "must be a finite number greater than zero"}
	}
	return nil
}

// Question is a single composed exam question.
type Question struct {
	Ordinal         int          `json:"ordinal"`
	Type            QuestionType `json:"type"`
	Prompt          string       `json:"prompt"`
	Marks           int          `json:"marks"`
	Difficulty      Difficulty   `json:"difficulty"`
	Topic           string       `json:"topic"`
	Options         []string     `json:"options,omitempty"`
	CorrectOption   string       `json:"correct_option,omitempty"`
	ReferenceAnswer string       `json:"reference_answer,omitempty"`
}

// Section groups the questions of one type.
type Section struct {
	Name         string       `json:"name"`
	Instructions string       `json:"instructions"`
	Type         QuestionType `json:"type"`
	Questions    []Question   `json:"questions"`
}

// Guide is the reference answer for one descriptive question.
type Guide struct {
	Ordinal         int    `json:"ordinal"`
	Prompt          string `json:"prompt"`
	ReferenceAnswer string `json:"reference_answer"`
	Marks           int    `json:"marks"`
}

// AnswerKey is the authoritative answer set for a paper.
type AnswerKey struct {
	Objective   []string `json:"objective"`
	ShortGuides []Guide  `json:"short_guides"`
	LongGuides  []Guide  `json:"long_guides"`
}

// QuestionCount returns the number of questions the key covers.
func (k AnswerKey) QuestionCount() int {
	return len(k.Objective) + len(k.ShortGuides) + len(k.LongGuides)
}

// Paper is a composed exam paper together with its key.
type Paper struct {
	ID            int64     `json:"id,omitempty"`
	Title         string    `json:"title"`
	Kind          PaperKind `json:"kind"`
	DurationHours float64   `json:"duration_hours"`
	TotalMarks    int       `json:"total_marks"`
	Sections      []Section `json:"sections"`
	AnswerKey     AnswerKey `json:"answer_key"`
	CreatedAt     time.Time `json:"created_at"`
}

// Section returns the section holding questions of type t.
func (p *Paper) Section(t QuestionType) (*Section, bool) {
	for i := range p.Sections {
		if p.Sections[i].Type == t {
			return &p.Sections[i], true
		}
	}
	return nil, false
}

// MarksSum returns the sum of all question marks.
func (p *Paper) MarksSum() int {
	sum := 0
	for _, s := range p.Sections {
		for _, q := range s.Questions {
			sum += q.Marks
		}
	}
	return sum
}

// EvaluationType says which answer buckets a submission is graded on.
type EvaluationType string

const (
	EvaluationObjective   EvaluationType = "objective"
	EvaluationDescriptive EvaluationType = "descriptive"
	EvaluationMixed       EvaluationType = "mixed"
)

// NormalizedAnswers is a submission classified by question type.
type NormalizedAnswers struct {
	Objective    []string `json:"objective"`
	ShortAnswers []string `json:"short_answers"`
	LongAnswers  []string `json:"long_answers"`
}

// IsEmpty reports whether no answer of any type is present.
func (a NormalizedAnswers) IsEmpty() bool {
	return len(a.Objective) == 0 && len(a.ShortAnswers) == 0 && len(a.LongAnswers) == 0
}

// StudentSubmission is one student's normalized answer script.
type StudentSubmission struct {
	StudentID   string            `json:"student_id"`
	StudentName string            `json:"student_name"`
	Type        EvaluationType    `json:"evaluation_type"`
	Answers     NormalizedAnswers `json:"answers"`
}

// DetailedScore is the score of one question.
type DetailedScore struct {
	QuestionNumber int `json:"question_number"`
	MaxMarks       int `json:"max_marks"`
	MarksAwarded   int `json:"marks_awarded"`
}

// ScoreReport is a student's aggregate and per-question score.
type ScoreReport struct {
	StudentID    string          `json:"student_id"`
	TotalAwarded int             `json:"total_score_awarded"`
	MaxPossible  int             `json:"max_possible"`
	Percentage   float64         `json:"percentage"`
	Detailed     []DetailedScore `json:"detailed_scores"`
}

// DetailedFeedback is the feedback text for one question.
type DetailedFeedback struct {
	QuestionNumber int    `json:"question_number"`
	Feedback       string `json:"feedback"`
	Unanswered     bool   `json:"unanswered,omitempty"`
}

// FeedbackReport is a student's summary and per-question feedback.
type FeedbackReport struct {
	StudentID string             `json:"student_id"`
	Summary   string             `json:"summary_feedback"`
	Grade     string             `json:"grade"`
	Detailed  []DetailedFeedback `json:"detailed_feedback"`
}

// ChatRole is the author of a chat turn.
type ChatRole string

const (
	RoleUser      ChatRole = "user"
	RoleAssistant ChatRole = "assistant"
)

// ChatTurn is one message in a feedback session.
type ChatTurn struct {
	Role ChatRole  `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"timestamp"`
}

// FeedbackSession wraps one comparison result in a conversation.
type FeedbackSession struct {
	ID             string     `json:"session_id"`
	OriginFeedback string     `json:"origin_feedback"`
	TeacherScript  string     `json:"teacher_script"`
	StudentScript  string     `json:"student_script"`
	Turns          []ChatTurn `json:"turns"`
	CreatedAt      time.Time  `json:"created_at"`
	ExpiresAt      time.Time  `json:"expires_at"`
}

// Expired reports whether the session is past its expiry at now.
func (s *FeedbackSession) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}
