// SPDX-License-Identifier: Apache-2.0
package handlers

import (
	"bytes"
	"context"
	"strings"
	"text/template"

	"github.com/tekhne-dev/tekhne/pkg/errors"
)

var templateFuncs = template.FuncMap{
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
	"trim":  strings.TrimSpace,
}

// renderTemplate renders the template argument with text/template
// against the data argument and returns the result as a string.
func renderTemplate(ctx context.Context, args map[string]any) (any, error) {
	raw, ok := args["template"].(string)
	if !ok || raw == "" {
		return nil, errors.New(errors.CodeInvalidInput, "template argument is required", nil)
	}

	tmpl, err := template.New("handler").Funcs(templateFuncs).Parse(raw)
	if err != nil {
		return nil, errors.New(errors.CodeInvalidInput, "template does not parse", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, args["data"]); err != nil {
		return nil, errors.New(errors.CodeInvalidInput, "template execution failed", err)
	}
	return buf.String(), nil
}
