// Package compose builds exam papers and their answer keys from source
// documents and a generation config.
package compose

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/pavelanni/examforge/internal/model"
	"github.com/pavelanni/examforge/internal/topic"
)

// Share of the total marks given to each descriptive section.
// Expressed in tenths so marks can be computed without floating point.
const (
	shortWeightTenths = 3
	longWeightTenths  = 4
)

var (
	objectivePool = []model.Difficulty{model.DifficultyEasy, model.DifficultyMedium, model.DifficultyHard}
	longPool      = []model.Difficulty{model.DifficultyMedium, model.DifficultyHard}
)

var optionTemplates = [4]string{
	"%s is primarily used for theoretical understanding",
	"%s has practical applications in real-world scenarios",
	"%s is fundamental to advanced concepts",
	"%s requires memorization of key principles",
}

type sectionSpec struct {
	name         string
	instructions string
}

var sectionSpecs = map[model.QuestionType]sectionSpec{
	model.QuestionObjective: {
		name:         "Section A - Multiple Choice Questions",
		instructions: "Choose the correct answer from the given options. Each question carries 1 mark.",
	},
	model.QuestionShort: {
		name:         "Section B - Short Answer Questions",
		instructions: "Answer the following questions in 50-100 words each.",
	},
	model.QuestionLong: {
		name:         "Section C - Long Answer Questions",
		instructions: "Answer the following questions in 200-300 words each. Support your answers with relevant examples.",
	},
}

// SectionName returns the fixed section heading for questions of type t.
func SectionName(t model.QuestionType) string {
	return sectionSpecs[t].name
}

// Option configures a Composer.
type Option func(*Composer)

// WithTopicLimit sets how many topics are taken from each document.
func WithTopicLimit(n int) Option { return func(c *Composer) { c.topicLimit = n } }

// WithClock overrides the time source used for Paper.CreatedAt.
func WithClock(now func() time.Time) Option { return func(c *Composer) { c.now = now } }

// Composer turns documents and a config into a Paper. It is not safe for
// concurrent use because it owns its random source.
type Composer struct {
	rng        *rand.Rand
	topicLimit int
	now        func() time.Time
}

// New creates a Composer drawing all random choices from rng.
func New(rng *rand.Rand, opts ...Option) *Composer {
	c := &Composer{
		rng:        rng,
		topicLimit: topic.DefaultLimit,
		now:        time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// NewSeeded creates a Composer with a PCG source seeded from seed.
func NewSeeded(seed uint64, opts ...Option) *Composer {
	return New(rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)), opts...)
}

type topicPool struct {
	kind   model.SourceKind
	topics []string
}

// Compose builds a paper. Only one document per source kind is drawn from;
// a later document in docs supersedes an earlier one of the same kind. It
// returns an *model.InvalidConfigError and no paper when cfg is invalid.
func (c *Composer) Compose(docs []model.Document, cfg model.GenerationConfig) (*model.Paper, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	docs = model.NewDocumentSet(docs...).Active()

	pools := c.topicPools(docs, cfg.PrioritizeKeyTopics)

	paper := &model.Paper{
		Title:         cfg.PaperKind.Title(),
		Kind:          cfg.PaperKind,
		DurationHours: cfg.DurationHours,
		TotalMarks:    cfg.TotalMarks,
		AnswerKey: model.AnswerKey{
			Objective:   []string{},
			ShortGuides: []model.Guide{},
			LongGuides:  []model.Guide{},
		},
		CreatedAt: c.now(),
	}

	for _, qt := range model.QuestionTypes {
		count := cfg.Count(qt)
		if count == 0 {
			continue
		}
		spec := sectionSpecs[qt]
		section := model.Section{
			Name:         spec.name,
			Instructions: spec.instructions,
			Type:         qt,
			Questions:    make([]model.Question, 0, count),
		}
		marks := questionMarks(qt, cfg.TotalMarks, count)
		for i := 1; i <= count; i++ {
			q := c.question(qt, i, marks, pools, cfg)
			section.Questions = append(section.Questions, q)

			switch qt {
			case model.QuestionObjective:
				paper.AnswerKey.Objective = append(paper.AnswerKey.Objective, q.CorrectOption)
			case model.QuestionShort:
				paper.AnswerKey.ShortGuides = append(paper.AnswerKey.ShortGuides, guideFor(q))
			case model.QuestionLong:
				paper.AnswerKey.LongGuides = append(paper.AnswerKey.LongGuides, guideFor(q))
			}
		}
		paper.Sections = append(paper.Sections, section)
	}

	slog.Debug("composed paper",
		"kind", cfg.PaperKind,
		"documents", len(docs),
		"objective", cfg.ObjectiveCount,
		"short", cfg.ShortAnswerCount,
		"long", cfg.LongAnswerCount,
		"marks_sum", paper.MarksSum(),
	)
	return paper, nil
}

func (c *Composer) topicPools(docs []model.Document, prioritize bool) []topicPool {
	pools := make([]topicPool, 0, len(docs))
	for _, d := range docs {
		pools = append(pools, topicPool{kind: d.Kind, topics: topic.Extract(d.RawText, c.topicLimit)})
	}
	if prioritize {
		for _, p := range pools {
			if p.kind == model.SourceSyllabus && len(p.topics) > 0 {
				return []topicPool{p}
			}
		}
	}
	return pools
}

// drawTopic picks a document uniformly, then one of its topics uniformly.
func (c *Composer) drawTopic(pools []topicPool, qt model.QuestionType) string {
	if len(pools) == 0 {
		return topic.Fallback(qt)
	}
	p := pools[c.rng.IntN(len(pools))]
	if len(p.topics) == 0 {
		return topic.Fallback(qt)
	}
	return p.topics[c.rng.IntN(len(p.topics))]
}

func (c *Composer) difficulty(qt model.QuestionType, d model.Difficulty) model.Difficulty {
	if d != model.DifficultyMixed {
		return d
	}
	pool := objectivePool
	if qt == model.QuestionLong {
		pool = longPool
	}
	return pool[c.rng.IntN(len(pool))]
}

func (c *Composer) question(qt model.QuestionType, ordinal, marks int, pools []topicPool, cfg model.GenerationConfig) model.Question {
	t := c.drawTopic(pools, qt)
	q := model.Question{
		Ordinal: ordinal,
		Type:    qt,
		Marks:   marks,
		Topic:   t,
	}

	switch qt {
	case model.QuestionObjective:
		q.Prompt = fmt.Sprintf("Which of the following best describes %s in the context of %s assessment?", t, cfg.PaperKind)
		q.Options = make([]string, len(optionTemplates))
		for i, tmpl := range optionTemplates {
			q.Options[i] = fmt.Sprintf(tmpl, t)
		}
		// The label is drawn once and recorded as is; the options above do
		// not depend on it.
		q.CorrectOption = model.OptionLabels[c.rng.IntN(len(model.OptionLabels))]
	case model.QuestionShort:
		q.Prompt = fmt.Sprintf("Explain the significance of %s and its applications in the given context. Provide relevant examples.", t)
		q.ReferenceAnswer = fmt.Sprintf("%s plays a crucial role in understanding the fundamental concepts. "+
			"It involves key principles that are essential for practical applications and theoretical understanding.", t)
	case model.QuestionLong:
		q.Prompt = fmt.Sprintf("Discuss in detail the comprehensive understanding of %s. "+
			"Analyze its theoretical foundations, practical implementations, and future implications in the field.", t)
		q.ReferenceAnswer = fmt.Sprintf("%s represents a comprehensive area of study that encompasses multiple dimensions. "+
			"The theoretical foundations include fundamental principles and established methodologies. "+
			"Practical implementations demonstrate real-world applications and case studies. "+
			"Future implications suggest emerging trends and potential developments in the field.", t)
	}

	q.Difficulty = c.difficulty(qt, cfg.Difficulty)
	return q
}

// questionMarks returns the marks of each question of type qt.
// Descriptive questions get ceil(total * weight / count).
func questionMarks(qt model.QuestionType, total, count int) int {
	switch qt {
	case model.QuestionShort:
		return ceilDiv(total*shortWeightTenths, 10*count)
	case model.QuestionLong:
		return ceilDiv(total*longWeightTenths, 10*count)
	default:
		return 1
	}
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

func guideFor(q model.Question) model.Guide {
	return model.Guide{
		Ordinal:         q.Ordinal,
		Prompt:          q.Prompt,
		ReferenceAnswer: q.ReferenceAnswer,
		Marks:           q.Marks,
	}
}
