package notify

import (
	"bytes"
	"embed"
	"fmt"
	htmltemplate "html/template"
	"text/template"
)

//go:embed templates/*.tmpl
var embeddedTemplates embed.FS

// ReportData is the data available to report templates
type ReportData struct {
	Headline   string
	Account    string
	Reason     string
	DetectedAt string
	FinishedAt string
	Elapsed    string
	Attempts   int
	Error      string
	Avatar     bool
}

// Report is a rendered message body in both formats
type Report struct {
	Text string
	HTML string
}

// Engine renders the embedded report templates
type Engine struct {
	text map[string]*template.Template
	html map[string]*htmltemplate.Template
}

func NewEngine() (*Engine, error) {
	e := &Engine{
		text: make(map[string]*template.Template),
		html: make(map[string]*htmltemplate.Template),
	}

	for _, name := range []string{"recovered", "exhausted"} {
		content, err := embeddedTemplates.ReadFile("templates/" + name + ".txt.tmpl")
		if err != nil {
			return nil, fmt.Errorf("failed to read embedded template %s: %w", name, err)
		}
		tmpl, err := template.New(name).Parse(string(content))
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}
		e.text[name] = tmpl

		content, err = embeddedTemplates.ReadFile("templates/" + name + ".html.tmpl")
		if err != nil {
			return nil, fmt.Errorf("failed to read embedded template %s: %w", name, err)
		}
		htmlTmpl, err := htmltemplate.New(name).Parse(string(content))
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}
		e.html[name] = htmlTmpl
	}

	return e, nil
}

// Render executes both formats of a template
func (e *Engine) Render(name string, data ReportData) (*Report, error) {
	textTmpl, ok := e.text[name]
	if !ok {
		return nil, fmt.Errorf("unknown template: %s", name)
	}

	var text, html bytes.Buffer
	if err := textTmpl.Execute(&text, data); err != nil {
		return nil, fmt.Errorf("failed to render template: %w", err)
	}
	if err := e.html[name].Execute(&html, data); err != nil {
		return nil, fmt.Errorf("failed to render template: %w", err)
	}
	return &Report{Text: text.String(), HTML: html.String()}, nil
}
