package host

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"

	apptemplate "github.com/reglet-dev/reglet-workers/application/template"
	"github.com/reglet-dev/reglet-workers/domain/entities"
	werrors "github.com/reglet-dev/reglet-workers/domain/errors"
	"github.com/reglet-dev/reglet-workers/domain/ports"
	"github.com/reglet-dev/reglet-workers/infrastructure/parser"
)

type loaderConfig struct {
	parser         ports.ManifestParser
	templateEngine ports.TemplateEngine
	env            map[string]string
}

// Loader reads a worker manifest and the module it names.
type Loader struct {
	validate *validator.Validate
	config   loaderConfig
}

// LoaderOption configures the Loader.
type LoaderOption func(*loaderConfig)

// WithParser sets a custom manifest parser.
func WithParser(p ports.ManifestParser) LoaderOption {
	return func(c *loaderConfig) {
		c.parser = p
	}
}

// WithTemplateEngine sets the engine manifests are rendered with.
func WithTemplateEngine(t ports.TemplateEngine) LoaderOption {
	return func(c *loaderConfig) {
		c.templateEngine = t
	}
}

// WithTemplateEnv sets the variables visible to manifest templates. The
// process environment is used by default.
func WithTemplateEnv(env map[string]string) LoaderOption {
	return func(c *loaderConfig) {
		c.env = env
	}
}

// NewLoader creates a Loader.
func NewLoader(opts ...LoaderOption) *Loader {
	cfg := loaderConfig{parser: parser.NewYamlManifestParser()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.templateEngine == nil {
		cfg.templateEngine = apptemplate.NewGoTemplateEngine()
	}
	if cfg.env == nil {
		cfg.env = processEnv()
	}
	return &Loader{config: cfg, validate: validator.New(validator.WithRequiredStructEnabled())}
}

// Worker is a loaded manifest and the module bytes it names.
type Worker struct {
	Manifest *entities.Manifest
	Wasm     []byte
}

// LoadManifest renders, parses, and validates raw manifest bytes.
func (l *Loader) LoadManifest(raw []byte) (*entities.Manifest, error) {
	data, err := l.config.templateEngine.Render(raw, l.config.env)
	if err != nil {
		return nil, &werrors.ConfigError{Field: "manifest", Err: err}
	}

	manifest, err := l.config.parser.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	if err := l.validate.Struct(manifest); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return nil, &werrors.ConfigError{Field: verrs[0].Namespace(), Err: err}
		}
		return nil, &werrors.ConfigError{Field: "manifest", Err: err}
	}
	if err := checkClasses(manifest); err != nil {
		return nil, err
	}
	return manifest, nil
}

// Load reads the manifest at path and the module it references. A relative
// module path is resolved against the manifest's directory.
func (l *Loader) Load(path string) (*Worker, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	manifest, err := l.LoadManifest(raw)
	if err != nil {
		return nil, err
	}

	modPath := manifest.Module
	if !filepath.IsAbs(modPath) {
		modPath = filepath.Join(filepath.Dir(path), modPath)
	}
	wasm, err := os.ReadFile(modPath)
	if err != nil {
		return nil, &werrors.ConfigError{Field: "module", Err: err}
	}
	return &Worker{Manifest: manifest, Wasm: wasm}, nil
}

func checkClasses(m *entities.Manifest) error {
	seen := make(map[string]bool, len(m.Classes))
	for _, c := range m.Classes {
		if seen[c.Name] {
			return &werrors.ConfigError{Field: "classes", Err: fmt.Errorf("class %q declared twice", c.Name)}
		}
		seen[c.Name] = true
	}
	return nil
}

func processEnv() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}
