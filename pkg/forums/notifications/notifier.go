package notifications

import (
	"context"
	"fmt"
	"strings"
)

// Notifier renders the group emails and hands them to a Mailer
type Notifier struct {
	renderer *Renderer
	mailer   Mailer
	baseURL  string
}

func NewNotifier(renderer *Renderer, mailer Mailer, baseURL string) *Notifier {
	return &Notifier{renderer: renderer, mailer: mailer, baseURL: strings.TrimRight(baseURL, "/")}
}

// URL joins path onto the configured base url
func (n *Notifier) URL(path string) string {
	return n.baseURL + path
}

// AcceptURL is the link in the invitation email
func (n *Notifier) AcceptURL(token string) string {
	return n.URL("/group/accept/" + token)
}

// DiscussionURL links to a discussion inside a group
func (n *Notifier) DiscussionURL(groupID, discussionID uint) string {
	return n.URL(fmt.Sprintf("/group/%d#discussion-%d", groupID, discussionID))
}

// SendInvitation mails an invitation to a single address
func (n *Notifier) SendInvitation(ctx context.Context, to string, data InvitationData) error {
	return n.send(ctx, to, TemplateInvitation, data)
}

// SendNewDiscussion mails a new discussion notice to a single address
func (n *Notifier) SendNewDiscussion(ctx context.Context, to string, data NewDiscussionData) error {
	return n.send(ctx, to, TemplateNewDiscussion, data)
}

func (n *Notifier) send(ctx context.Context, to, name string, data any) error {
	subject, body, err := n.renderer.Render(name, data)
	if err != nil {
		return fmt.Errorf("rendering %s email: %w", name, err)
	}
	return n.mailer.Send(ctx, Message{To: []string{to}, Subject: subject, HTMLBody: body})
}
