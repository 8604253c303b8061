package report

import (
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	FormatText     = "text"
	FormatMarkdown = "markdown"
	FormatHTML     = "html"
	FormatJSON     = "json"
)

// Render writes r to w in the given format.
func Render(w io.Writer, format string, r Report) error {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatText:
		return renderText(w, r)
	case FormatMarkdown, "md":
		return renderMarkdown(w, r)
	case FormatHTML:
		return renderHTML(w, r)
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	default:
		return fmt.Errorf("unsupported report format: %s", format)
	}
}

// Save renders r into path, creating parent directories.
func Save(path, format string, r Report) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Render(f, format, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func renderText(w io.Writer, r Report) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Application Name: %s\n", r.AppName)
	if r.Failed() {
		sb.WriteString("\nError\n  Internal Error\n")
		fmt.Fprintf(&sb, "  %s\n", r.ErrorText)
		_, err := io.WriteString(w, sb.String())
		return err
	}

	sb.WriteString("\nError\n")
	for _, line := range r.ErrorLines {
		fmt.Fprintf(&sb, "  - %s\n", line)
	}
	if !r.NoErrors {
		sb.WriteString("\nSource Files\n")
		for _, src := range r.Sources {
			fmt.Fprintf(&sb, "  - %s\n", src)
		}
		sb.WriteString("\nRCA\n")
		sb.WriteString(r.RCA)
		sb.WriteString("\n")
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

func renderMarkdown(w io.Writer, r Report) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## Application Name: %s\n\n", r.AppName)
	if r.RequestID != "" {
		fmt.Fprintf(&sb, "_Request %s", r.RequestID)
		if r.Namespace != "" {
			fmt.Fprintf(&sb, " · namespace `%s`", r.Namespace)
		}
		sb.WriteString("_\n\n")
	}

	sb.WriteString("### Error\n\n")
	if r.Failed() {
		sb.WriteString("❌ Internal Error\n\n```\n")
		sb.WriteString(r.ErrorText)
		sb.WriteString("\n```\n")
		_, err := io.WriteString(w, sb.String())
		return err
	}
	for _, line := range r.ErrorLines {
		fmt.Fprintf(&sb, "- `%s`\n", strings.ReplaceAll(line, "`", "'"))
	}

	if !r.NoErrors {
		sb.WriteString("\n### Source Files\n\n")
		for _, src := range r.Sources {
			fmt.Fprintf(&sb, "- %s\n", src)
		}
		sb.WriteString("\n### RCA\n\n")
		sb.WriteString(r.RCA)
		sb.WriteString("\n")
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

var htmlReport = template.Must(template.New("report").Parse(`<h2>Application Name: {{ .AppName }}</h2>
{{- if .ErrorText }}
<h3>Error</h3>
<p>❌ Internal Error</p>
<pre>{{ .ErrorText }}</pre>
{{- else }}
<h3>Error</h3>
<ul>{{ range .ErrorLines }}<li>{{ . }}</li>{{ end }}</ul>
{{- if not .NoErrors }}
<h3>Source Files</h3>
<ul>{{ range .Sources }}<li>{{ . }}</li>{{ end }}</ul>
<h3>RCA</h3>
<pre>{{ .RCA }}</pre>
{{- end }}
{{- end }}
`))

func renderHTML(w io.Writer, r Report) error {
	return htmlReport.Execute(w, r)
}
