// Package template renders worker manifests as Go templates so that
// deployment-specific values can come from the process environment.
//
//	env:
//	  REGION: "{{ .env.REGION }}"
package template

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/reglet-dev/reglet-workers/domain/ports"
)

type templateConfig struct {
	strict bool
}

// TemplateOption configures a GoTemplateEngine.
type TemplateOption func(*templateConfig)

// WithStrict makes rendering fail on a reference to an unset variable.
// It is on by default.
func WithStrict(enabled bool) TemplateOption {
	return func(c *templateConfig) {
		c.strict = enabled
	}
}

// GoTemplateEngine implements ports.TemplateEngine with text/template.
type GoTemplateEngine struct {
	config templateConfig
}

// NewGoTemplateEngine creates a GoTemplateEngine.
func NewGoTemplateEngine(opts ...TemplateOption) ports.TemplateEngine {
	cfg := templateConfig{strict: true}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &GoTemplateEngine{config: cfg}
}

// Render executes raw with env exposed as .env.
func (e *GoTemplateEngine) Render(raw []byte, env map[string]string) ([]byte, error) {
	tmpl := template.New("manifest")
	if e.config.strict {
		tmpl = tmpl.Option("missingkey=error")
	}

	tmpl, err := tmpl.Parse(string(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse manifest template: %w", err)
	}

	if env == nil {
		env = map[string]string{}
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, map[string]any{"env": env}); err != nil {
		return nil, fmt.Errorf("failed to execute manifest template: %w", err)
	}
	return buf.Bytes(), nil
}
