package ports

// TemplateEngine renders a manifest template before it is parsed.
type TemplateEngine interface {
	// Render resolves placeholders in raw against env.
	Render(raw []byte, env map[string]string) ([]byte, error)
}
