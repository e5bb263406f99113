package compose

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/pavelanni/examforge/internal/model"
)

const indent = "   "

// RenderText writes the plain-text export of a paper.
func RenderText(w io.Writer, p *model.Paper) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%s\n", p.Title)
	fmt.Fprintf(bw, "Duration: %sh\n", formatHours(p.DurationHours))
	fmt.Fprintf(bw, "Total Marks: %d\n\n", p.TotalMarks)

	for _, s := range p.Sections {
		fmt.Fprintf(bw, "%s\n%s\n\n", s.Name, s.Instructions)
		for _, q := range s.Questions {
			fmt.Fprintf(bw, "%d. %s\n", q.Ordinal, q.Prompt)
			for i, opt := range q.Options {
				fmt.Fprintf(bw, "%s%s) %s\n", indent, model.OptionLabels[i], opt)
			}
			fmt.Fprintf(bw, "%s[%d marks]\n\n", indent, q.Marks)
		}
	}
	return bw.Flush()
}

// RenderKey writes the teacher's answer key as plain text.
func RenderKey(w io.Writer, p *model.Paper) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%s - Answer Key\n\n", p.Title)

	if len(p.AnswerKey.Objective) > 0 {
		fmt.Fprintf(bw, "%s\n", SectionName(model.QuestionObjective))
		for i, label := range p.AnswerKey.Objective {
			fmt.Fprintf(bw, "%d. %s\n", i+1, label)
		}
		fmt.Fprintln(bw)
	}
	writeGuides := func(t model.QuestionType, guides []model.Guide) {
		if len(guides) == 0 {
			return
		}
		fmt.Fprintf(bw, "%s\n", SectionName(t))
		for _, g := range guides {
			fmt.Fprintf(bw, "%d. %s\n%s[%d marks]\n", g.Ordinal, g.ReferenceAnswer, indent, g.Marks)
		}
		fmt.Fprintln(bw)
	}
	writeGuides(model.QuestionShort, p.AnswerKey.ShortGuides)
	writeGuides(model.QuestionLong, p.AnswerKey.LongGuides)
	return bw.Flush()
}

func formatHours(h float64) string {
	return strconv.FormatFloat(h, 'f', -1, 64)
}

// SectionOutline summarizes one section of a rendered paper.
type SectionOutline struct {
	Type      model.QuestionType
	Name      string
	Questions int
	Marks     int
}

// Outline is what can be recovered from a rendered paper.
type Outline struct {
	Title         string
	DurationHours float64
	TotalMarks    int
	Sections      []SectionOutline
}

// Count returns the number of questions of type t.
func (o Outline) Count(t model.QuestionType) int {
	for _, s := range o.Sections {
		if s.Type == t {
			return s.Questions
		}
	}
	return 0
}

// Marks returns the mark total of questions of type t.
func (o Outline) Marks(t model.QuestionType) int {
	for _, s := range o.Sections {
		if s.Type == t {
			return s.Marks
		}
	}
	return 0
}

var (
	questionLineRegex = regexp.MustCompile(`^\d+\. `)
	marksLineRegex    = regexp.MustCompile(`^\s+\[(\d+) marks\]\s*$`)
	sectionLineRegex  = regexp.MustCompile(`^Section ([A-C]) - `)
)

var sectionLetters = map[string]model.QuestionType{
	"A": model.QuestionObjective,
	"B": model.QuestionShort,
	"C": model.QuestionLong,
}

// ParseOutline reads a paper rendered by RenderText back into its section
// counts and mark totals.
func ParseOutline(r io.Reader) (Outline, error) {
	var out Outline
	var current *SectionOutline
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		line := sc.Text()
		lineNo++
		switch {
		case strings.TrimSpace(line) == "":
			continue
		case out.Title == "":
			out.Title = strings.TrimSpace(line)
		case strings.HasPrefix(line, "Duration: "):
			v := strings.TrimSuffix(strings.TrimPrefix(line, "Duration: "), "h")
			d, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return out, fmt.Errorf("line %d: parse duration: %w", lineNo, err)
			}
			out.DurationHours = d
		case strings.HasPrefix(line, "Total Marks: "):
			n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "Total Marks: ")))
			if err != nil {
				return out, fmt.Errorf("line %d: parse total marks: %w", lineNo, err)
			}
			out.TotalMarks = n
		case sectionLineRegex.MatchString(line):
			letter := sectionLineRegex.FindStringSubmatch(line)[1]
			out.Sections = append(out.Sections, SectionOutline{Type: sectionLetters[letter], Name: line})
			current = &out.Sections[len(out.Sections)-1]
		case questionLineRegex.MatchString(line):
			if current == nil {
				return out, fmt.Errorf("line %d: question outside of a section", lineNo)
			}
			current.Questions++
		case marksLineRegex.MatchString(line):
			if current == nil {
				return out, fmt.Errorf("line %d: marks outside of a section", lineNo)
			}
			n, _ := strconv.Atoi(marksLineRegex.FindStringSubmatch(line)[1])
			current.Marks += n
		}
	}
	if err := sc.Err(); err != nil {
		return out, fmt.Errorf("read paper: %w", err)
	}
	return out, nil
}
