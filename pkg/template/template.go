// Package template renders text/template expressions over step data, used by
// transform steps for dynamic field mapping.
package template

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"text/template"
	"time"
)

// Render evaluates the template string against data. A result that parses as
// JSON is returned structured, so expressions can produce numbers, maps or
// lists and not only strings.
func Render(templateStr string, data any) (any, error) {
	tmpl, err := template.
		New("transform").
		Funcs(template.FuncMap{
			"now": func() string {
				return time.Now().UTC().Format(time.RFC3339)
			},
			"lower": strings.ToLower,
			"upper": strings.ToUpper,
			"trim":  strings.TrimSpace,
			"json": func(v any) (string, error) {
				encoded, err := json.Marshal(v)
				if err != nil {
					return "", err
				}

				return string(encoded), nil
			},
		}).Parse(templateStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template %q: %w", templateStr, err)
	}

	var buf strings.Builder

	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to render template %q: %w", templateStr, err)
	}

	return parseResult(buf.String()), nil
}

// parseResult converts a rendered string back to a structured value where it
// is unambiguous, leaving everything else as text.
func parseResult(rendered string) any {
	trimmed := strings.TrimSpace(rendered)

	if trimmed == "true" {
		return true
	}

	if trimmed == "false" {
		return false
	}

	if number, err := strconv.ParseFloat(trimmed, 64); err == nil && trimmed != "" {
		return number
	}

	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		var structured any
		if err := json.Unmarshal([]byte(trimmed), &structured); err == nil {
			return structured
		}
	}

	return rendered
}
