package notifications

import (
	"bytes"
	"embed"
	"fmt"
	"html"
	"html/template"
	"strings"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

const (
	TemplateInvitation    = "invitation"
	TemplateNewDiscussion = "new_discussion"
)

// InvitationData fills the invitation email
type InvitationData struct {
	GroupName   string
	InviterName string
	InviteeName string
	AcceptURL   string
	ExpiresAt   time.Time
}

// NewDiscussionData fills the new discussion email
type NewDiscussionData struct {
	GroupName       string
	CategoryName    string
	DiscussionTitle string
	DiscussionURL   string
	AuthorName      string
	RecipientName   string
}

// Renderer holds the parsed email templates. Each template defines a
// "subject" and a "body" block.
type Renderer struct {
	templates map[string]*template.Template
}

// NewRenderer parses the embedded templates
func NewRenderer() (*Renderer, error) {
	r := &Renderer{templates: make(map[string]*template.Template)}
	for _, name := range []string{TemplateInvitation, TemplateNewDiscussion} {
		t, err := template.ParseFS(templateFS, "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("parsing %s template: %w", name, err)
		}
		r.templates[name] = t
	}
	return r, nil
}

// Render produces the subject and HTML body for the named template
func (r *Renderer) Render(name string, data any) (string, string, error) {
	t, ok := r.templates[name]
	if !ok {
		return "", "", fmt.Errorf("the following template is missing {%s}", name)
	}
	var subject, body bytes.Buffer
	if err := t.ExecuteTemplate(&subject, "subject", data); err != nil {
		return "", "", err
	}
	if err := t.ExecuteTemplate(&body, "body", data); err != nil {
		return "", "", err
	}
	// Subjects are plain text; undo the HTML escaping applied to names
	return html.UnescapeString(strings.TrimSpace(subject.String())), body.String(), nil
}
