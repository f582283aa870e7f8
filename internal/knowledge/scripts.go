package knowledge

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const defaultScriptLimit = 20

// ScriptLine is one utterance of a sample sales conversation.
type ScriptLine struct {
	ProfileID int    `json:"profile_id"`
	Profile   string `json:"profile"`
	Type      string `json:"script_type"` // normal | promocao
	Stage     string `json:"stage"`
	Speaker   string `json:"speaker"`
	Content   string `json:"content"`
}

// Profile summarises one customer persona in the catalogue.
type Profile struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Type string `json:"script_type"`
}

// ScriptQuery filters script lines. Empty fields match everything; Profile, Stage
// and Keyword are case-insensitive substring matches, Type is exact.
type ScriptQuery struct {
	Profile string
	Stage   string
	Type    string
	Keyword string
	Limit   int
}

// Scripts is the sales-script catalogue.
type Scripts struct {
	lines []ScriptLine
}

type scriptFile struct {
	Profiles []struct {
		ID     int    `yaml:"id"`
		Name   string `yaml:"name"`
		Type   string `yaml:"type"`
		Stages []struct {
			Stage string `yaml:"stage"`
			Lines []struct {
				Speaker string `yaml:"speaker"`
				Content string `yaml:"content"`
			} `yaml:"lines"`
		} `yaml:"stages"`
	} `yaml:"profiles"`
}

func NewScripts(lines []ScriptLine) *Scripts {
	return &Scripts{lines: lines}
}

// LoadScripts reads the YAML catalogue. A missing file yields an empty catalogue.
func LoadScripts(path string, logger *slog.Logger) (*Scripts, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Warn("scripts file does not exist, catalogue is empty", "path", path)
		return NewScripts(nil), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read scripts: %w", err)
	}

	var doc scriptFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse scripts %s: %w", path, err)
	}

	var lines []ScriptLine
	for i, p := range doc.Profiles {
		id := p.ID
		if id == 0 {
			id = i + 1
		}
		typ := p.Type
		if typ == "" {
			typ = "normal"
		}
		for _, st := range p.Stages {
			for _, l := range st.Lines {
				lines = append(lines, ScriptLine{
					ProfileID: id,
					Profile:   p.Name,
					Type:      typ,
					Stage:     st.Stage,
					Speaker:   l.Speaker,
					Content:   strings.TrimSpace(l.Content),
				})
			}
		}
	}

	logger.Info("loaded sales scripts", "path", path, "profiles", len(doc.Profiles), "lines", len(lines))
	return NewScripts(lines), nil
}

func (s *Scripts) Len() int { return len(s.lines) }

// Search returns matching lines in catalogue order, capped at q.Limit (default 20).
func (s *Scripts) Search(q ScriptQuery) []ScriptLine {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultScriptLimit
	}
	profile := strings.ToLower(q.Profile)
	stage := strings.ToLower(q.Stage)
	keyword := strings.ToLower(q.Keyword)

	var out []ScriptLine
	for _, l := range s.lines {
		if profile != "" && !strings.Contains(strings.ToLower(l.Profile), profile) {
			continue
		}
		if stage != "" && !strings.Contains(strings.ToLower(l.Stage), stage) {
			continue
		}
		if q.Type != "" && l.Type != q.Type {
			continue
		}
		if keyword != "" && !strings.Contains(strings.ToLower(l.Content), keyword) {
			continue
		}
		out = append(out, l)
		if len(out) == limit {
			break
		}
	}
	return out
}

// Profiles lists the distinct personas ordered by type, then id.
func (s *Scripts) Profiles() []Profile {
	seen := map[int]bool{}
	var out []Profile
	for _, l := range s.lines {
		if seen[l.ProfileID] {
			continue
		}
		seen[l.ProfileID] = true
		out = append(out, Profile{ID: l.ProfileID, Name: l.Profile, Type: l.Type})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].ID < out[j].ID
	})
	return out
}
