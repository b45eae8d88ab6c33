package chat

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed templates.yaml
var defaultTemplatesYAML []byte

// Templates holds the static response texts, keyed by intent variant.
type Templates struct {
	Greeting string                `yaml:"greeting"`
	Fallback string                `yaml:"fallback"`
	Database DatabaseTemplates     `yaml:"database"`
	Symptoms map[SymptomTag]string `yaml:"symptoms"`
	Herbs    map[HerbKey]string    `yaml:"herbs"`
}

// DatabaseTemplates are the line formats for a database answer. Each format
// takes a single %s.
type DatabaseTemplates struct {
	Header          string `yaml:"header"`
	Plant           string `yaml:"plant"`
	Symptoms        string `yaml:"symptoms"`
	Herbs           string `yaml:"herbs"`
	Recommendations string `yaml:"recommendations"`
	Precautions     string `yaml:"precautions"`
}

// ParseTemplates decodes and validates a template document.
func ParseTemplates(data []byte) (*Templates, error) {
	var t Templates
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	if err := t.validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

func (t *Templates) validate() error {
	if t.Greeting == "" || t.Fallback == "" {
		return fmt.Errorf("templates: greeting and fallback are required")
	}
	d := t.Database
	for name, f := range map[string]string{
		"header": d.Header, "plant": d.Plant, "symptoms": d.Symptoms,
		"herbs": d.Herbs, "recommendations": d.Recommendations, "precautions": d.Precautions,
	} {
		if f == "" {
			return fmt.Errorf("templates: database.%s is required", name)
		}
		if name != "header" && strings.Count(f, "%s") != 1 {
			return fmt.Errorf("templates: database.%s must contain exactly one %%s", name)
		}
	}
	for _, tag := range SymptomTags {
		if t.Symptoms[tag] == "" {
			return fmt.Errorf("templates: missing symptom %q", tag)
		}
	}
	for _, h := range HerbKeys {
		if t.Herbs[h] == "" {
			return fmt.Errorf("templates: missing herb %q", h)
		}
	}
	return nil
}

// Formatter renders intents. It is immutable after construction and safe for
// concurrent use.
type Formatter struct {
	t *Templates
}

// NewFormatter creates a formatter. Nil templates select the built-in set.
func NewFormatter(t *Templates) (*Formatter, error) {
	if t == nil {
		var err error
		t, err = ParseTemplates(defaultTemplatesYAML)
		if err != nil {
			return nil, err
		}
	} else if err := t.validate(); err != nil {
		return nil, err
	}
	return &Formatter{t: t}, nil
}

// Format renders intent. The result is never empty; unknown variants fall
// back to the fallback text.
func (f *Formatter) Format(intent Intent) string {
	switch intent.Kind {
	case KindGreeting:
		return f.t.Greeting
	case KindDatabaseMatch:
		if len(intent.Records) == 0 {
			return f.t.Fallback
		}
		return f.formatRecords(intent)
	case KindSymptom:
		if s, ok := f.t.Symptoms[intent.Symptom]; ok {
			return s
		}
	case KindHerb:
		if s, ok := f.t.Herbs[intent.Herb]; ok {
			return s
		}
	}
	return f.t.Fallback
}

// Fallback returns the fallback text.
func (f *Formatter) Fallback() string {
	return f.t.Fallback
}

func (f *Formatter) formatRecords(intent Intent) string {
	d := f.t.Database
	var b strings.Builder
	b.WriteString(d.Header)
	b.WriteString("\n\n")

	records := intent.Records
	if len(records) > MaxDatabaseMatches {
		records = records[:MaxDatabaseMatches]
	}
	for i := range records {
		r := &records[i]
		line(&b, d.Plant, r.PlantName)
		if r.Symptoms != "" {
			line(&b, d.Symptoms, r.Symptoms)
		}
		if r.Herbs != "" {
			line(&b, d.Herbs, r.Herbs)
		}
		if r.Recommendations != "" {
			line(&b, d.Recommendations, r.Recommendations)
		}
		if r.HasPrecautions() {
			line(&b, d.Precautions, r.PrecautionText())
		}
		b.WriteByte('\n')
	}
	return strings.TrimSpace(b.String())
}

func line(b *strings.Builder, format, value string) {
	b.WriteString(strings.Replace(format, "%s", value, 1))
	b.WriteByte('\n')
}
