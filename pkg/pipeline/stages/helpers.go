package stages

import (
	"bytes"
	"fmt"
	"path"
	"strings"
	"text/template"
)

// renderTemplate executes a parsed template against the per-input data map.
func renderTemplate(tpl *template.Template, input any) (string, error) {
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, templateData(input)); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// parseTemplate compiles an attribute template, naming it after the attribute.
func parseTemplate(name, src string) (*template.Template, error) {
	tpl, err := template.New(name).Option("missingkey=zero").Parse(src)
	if err != nil {
		return nil, fmt.Errorf("%s template: %w", name, err)
	}
	return tpl, nil
}

// templateData exposes the input and, for locator-like strings, its parts.
func templateData(input any) map[string]any {
	s := asString(input)
	base := path.Base(s)
	ext := path.Ext(base)
	return map[string]any{
		"Input": input,
		"Text":  s,
		"Base":  base,
		"Ext":   ext,
		"Stem":  strings.TrimSuffix(base, ext),
		"Dir":   path.Dir(s),
	}
}

// asString converts a stage input to text.
func asString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprint(v)
}

func boolAttr(attrs map[string]string, key string, def bool) (bool, error) {
	v, ok := attrs[key]
	if !ok || v == "" {
		return def, nil
	}
	switch strings.ToLower(v) {
	case "true", "yes", "1":
		return true, nil
	case "false", "no", "0":
		return false, nil
	}
	return false, fmt.Errorf("attribute %q must be a boolean, got %q", key, v)
}
