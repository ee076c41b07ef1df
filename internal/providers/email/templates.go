package email

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// Render executes the named template (file name without extension).
func Render(templateName string, data any) (string, error) {
	tmpl := templates.Lookup(templateName + ".html")
	if tmpl == nil {
		return "", fmt.Errorf("email template %q not found", templateName)
	}

	var body bytes.Buffer
	if err := tmpl.Execute(&body, data); err != nil {
		return "", fmt.Errorf("failed to execute template %q: %w", templateName, err)
	}
	return body.String(), nil
}
