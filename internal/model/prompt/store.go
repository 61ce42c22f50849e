package prompt

import (
	"context"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Source exposes the read-only template catalog.
type Source interface {
	// ActiveTemplates returns active templates for exactly language, ordered by priority ascending.
	ActiveTemplates(ctx context.Context, language string) ([]Template, error)
}

// Select returns the templates that apply to language, falling back to the
// "all" templates when none are configured for it.
func Select(ctx context.Context, src Source, language string) ([]Template, error) {
	if src == nil {
		return nil, nil
	}

	if language != "" && language != LanguageAll {
		templates, err := src.ActiveTemplates(ctx, language)
		if err != nil {
			return nil, err
		}
		if len(templates) > 0 {
			return templates, nil
		}
	}

	return src.ActiveTemplates(ctx, LanguageAll)
}

// MemorySource implements Source with an in-memory slice.
type MemorySource struct {
	items []Template
}

// NewMemorySource returns a MemorySource preloaded with the supplied templates.
func NewMemorySource(items []Template) *MemorySource {
	return &MemorySource{items: append([]Template(nil), items...)}
}

// List returns every template, active or not.
func (s *MemorySource) List() []Template {
	return append([]Template(nil), s.items...)
}

// ActiveTemplates implements Source.
func (s *MemorySource) ActiveTemplates(_ context.Context, language string) ([]Template, error) {
	var matched []Template
	for _, item := range s.items {
		if item.Active && item.Language == language {
			matched = append(matched, item)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Priority < matched[j].Priority
	})
	return matched, nil
}

type templateFile struct {
	Templates []Template `yaml:"templates"`
}

// LoadFile reads a YAML template catalog:
//
//	templates:
//	  - id: support-vi
//	    language: vi
//	    system_prompt: "..."
//	    active: true
//	    priority: 10
func LoadFile(path string) ([]Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading template file: %w", err)
	}

	var file templateFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing template file: %w", err)
	}

	for i, tpl := range file.Templates {
		if tpl.ID == "" {
			return nil, fmt.Errorf("template %d: id is required", i)
		}
		if tpl.Language == "" {
			return nil, fmt.Errorf("template %s: language is required", tpl.ID)
		}
		if len(tpl.UserExamples) != len(tpl.AssistantExamples) {
			return nil, fmt.Errorf("template %s: user and assistant examples must pair up", tpl.ID)
		}
	}

	return file.Templates, nil
}
