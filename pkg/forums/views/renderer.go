// Package views serves the server-rendered group pages.
package views

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

const (
	PageGroups   = "groups"
	PageGroup    = "group"
	PageAddGroup = "add_group"
	PageMessage  = "message"
)

var funcs = template.FuncMap{
	"date": func(t time.Time) string { return t.Format("Jan 2, 2006") },
}

// PageRenderer renders pages through a set of templates. Every page is
// parsed together with the shared layout.
type PageRenderer struct {
	templates map[string]*template.Template
}

// NewPageRenderer parses the embedded pages
func NewPageRenderer() (*PageRenderer, error) {
	pages := map[string][]string{
		PageGroups:   {"templates/layout.html", "templates/groups.html"},
		PageGroup:    {"templates/layout.html", "templates/group.html"},
		PageAddGroup: {"templates/layout.html", "templates/add_group.html"},
		PageMessage:  {"templates/layout.html", "templates/message.html"},
	}
	templates := make(map[string]*template.Template, len(pages))
	for name, files := range pages {
		t, err := template.New("layout").Funcs(funcs).ParseFS(templateFS, files...)
		if err != nil {
			return nil, fmt.Errorf("parsing %s page: %w", name, err)
		}
		templates[name] = t
	}
	return &PageRenderer{templates: templates}, nil
}

// Render writes the named page. It returns an error if the page is not present.
func (pr *PageRenderer) Render(wr io.Writer, name string, data any) error {
	if t, ok := pr.templates[name]; ok {
		return t.ExecuteTemplate(wr, "layout", data)
	}
	return fmt.Errorf("template is missing {%s}", name)
}
