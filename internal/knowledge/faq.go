// Package knowledge holds the sales agent's reference material: the support FAQ
// and the sales-script catalogue. Both are loaded from files at startup and are
// read-only afterwards.
package knowledge

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultMinConfidence is the similarity a question must beat to count as a match.
const DefaultMinConfidence = 0.3

// FAQ is one support question with the informal answer and the one agents should prefer.
type FAQ struct {
	Question    string `yaml:"question" json:"question"`
	Answer      string `yaml:"answer" json:"answer"`
	Recommended string `yaml:"recommended" json:"recommended_answer"`
}

// Match is the best FAQ for a question and its similarity score in [0,1].
type Match struct {
	FAQ
	Score float64
}

// Confidence is the score as a percentage rounded to one decimal.
func (m Match) Confidence() float64 {
	return float64(int(m.Score*1000+0.5)) / 10
}

// Catalog is an immutable list of FAQs.
type Catalog struct {
	entries []FAQ
}

func NewCatalog(entries []FAQ) *Catalog {
	return &Catalog{entries: entries}
}

// LoadFAQ reads a catalogue from a .csv or .yaml file. A missing file yields an
// empty catalogue so the bot can run before support material exists.
func LoadFAQ(path string, logger *slog.Logger) (*Catalog, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Warn("faq file does not exist, catalogue is empty", "path", path)
		return NewCatalog(nil), nil
	}
	if err != nil {
		return nil, fmt.Errorf("open faq: %w", err)
	}
	defer f.Close()

	var entries []FAQ
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		entries, err = parseFAQCSV(f)
	case ".yaml", ".yml":
		var doc struct {
			FAQs []FAQ `yaml:"faqs"`
		}
		err = yaml.NewDecoder(f).Decode(&doc)
		if errors.Is(err, io.EOF) {
			err = nil
		}
		entries = doc.FAQs
	default:
		return nil, fmt.Errorf("unsupported faq format %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("parse faq %s: %w", path, err)
	}

	logger.Info("loaded faq catalogue", "path", path, "entries", len(entries))
	return NewCatalog(entries), nil
}

// parseFAQCSV reads a spreadsheet export with a header row. Portuguese and
// English column names are accepted.
func parseFAQCSV(r io.Reader) ([]FAQ, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	col := map[string]int{}
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		switch h {
		case "pergunta", "question":
			col["q"] = i
		case "resposta", "answer":
			col["a"] = i
		case "resposta recomendada", "recommended answer", "recommended":
			col["r"] = i
		}
	}
	if _, ok := col["q"]; !ok {
		return nil, fmt.Errorf("missing question column in header %v", header)
	}

	field := func(rec []string, key string) string {
		i, ok := col[key]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var out []FAQ
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		faq := FAQ{Question: field(rec, "q"), Answer: field(rec, "a"), Recommended: field(rec, "r")}
		if faq.Question == "" {
			continue
		}
		out = append(out, faq)
	}
	return out, nil
}

func (c *Catalog) Len() int { return len(c.entries) }

// Best returns the FAQ whose question is most similar to question, if its score
// is strictly above minScore. Earlier entries win ties.
func (c *Catalog) Best(question string, minScore float64) (Match, bool) {
	var best Match
	for _, e := range c.entries {
		if s := Similarity(question, e.Question); s > best.Score {
			best = Match{FAQ: e, Score: s}
		}
	}
	if best.Score > minScore {
		return best, true
	}
	return Match{}, false
}

func (c *Catalog) Questions() []string {
	out := make([]string, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e.Question)
	}
	return out
}

// Keyword returns FAQs mentioning keyword in the question or either answer.
func (c *Catalog) Keyword(keyword string) []FAQ {
	kw := strings.ToLower(strings.TrimSpace(keyword))
	if kw == "" {
		return nil
	}
	var out []FAQ
	for _, e := range c.entries {
		if strings.Contains(strings.ToLower(e.Question), kw) ||
			strings.Contains(strings.ToLower(e.Answer), kw) ||
			strings.Contains(strings.ToLower(e.Recommended), kw) {
			out = append(out, e)
		}
	}
	return out
}
