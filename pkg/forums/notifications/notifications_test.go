package notifications

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/topcoder-platform/forums-groups/pkg/forums/config"
)

func TestRenderInvitation(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	subject, body, err := r.Render(TemplateInvitation, InvitationData{
		GroupName:   "Gophers <3",
		InviterName: "o'brien",
		InviteeName: "alice",
		AcceptURL:   "https://forums.example.com/group/accept/abc123",
		ExpiresAt:   time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	assert.Equal(t, "o'brien invited you to join Gophers <3", subject)
	assert.Contains(t, body, "Gophers &lt;3")
	assert.Contains(t, body, `href="https://forums.example.com/group/accept/abc123"`)
	assert.Contains(t, body, "Mar 1, 2024 12:00 UTC")
}

func TestRenderNewDiscussion(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	subject, body, err := r.Render(TemplateNewDiscussion, NewDiscussionData{
		GroupName:       "Gophers",
		CategoryName:    "General",
		DiscussionTitle: "Generics tips",
		DiscussionURL:   "https://forums.example.com/group/1#discussion-2",
		AuthorName:      "bob",
		RecipientName:   "alice",
	})
	require.NoError(t, err)

	assert.Equal(t, "[Gophers] Generics tips", subject)
	assert.Contains(t, body, "bob started a new discussion")
}

func TestRenderUnknownTemplate(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)
	_, _, err = r.Render("digest", nil)
	assert.Error(t, err)
}

func TestNotifierUsesMailer(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)
	rec := &Recorder{}
	n := NewNotifier(r, rec, "https://forums.example.com/")

	assert.Equal(t, "https://forums.example.com/group/accept/tok", n.AcceptURL("tok"))
	assert.Equal(t, "https://forums.example.com/group/4#discussion-9", n.DiscussionURL(4, 9))

	require.NoError(t, n.SendInvitation(context.Background(), "alice@example.com", InvitationData{GroupName: "Gophers"}))
	msgs := rec.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, []string{"alice@example.com"}, msgs[0].To)

	rec.Err = errors.New("relay down")
	assert.Error(t, n.SendInvitation(context.Background(), "alice@example.com", InvitationData{}))
	assert.Len(t, rec.Messages(), 1)
}

func TestSMTPMailer(t *testing.T) {
	m := NewSMTPMailer(config.MailConfig{Enabled: true, Host: "smtp.example.com", Port: 587, Username: "user", Password: "pw", From: "forums@example.com"})

	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte
	m.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		return nil
	}

	err := m.Send(context.Background(), Message{To: []string{"a@example.com"}, Subject: "Hello", HTMLBody: "<p>hi</p>"})
	require.NoError(t, err)
	assert.Equal(t, "smtp.example.com:587", gotAddr)
	assert.Equal(t, "forums@example.com", gotFrom)
	assert.Equal(t, []string{"a@example.com"}, gotTo)
	assert.True(t, strings.Contains(string(gotMsg), "Content-Type: text/html"))
	assert.True(t, strings.HasSuffix(string(gotMsg), "<p>hi</p>\r\n"))

	m.sendMail = func(string, smtp.Auth, string, []string, []byte) error { return errors.New("refused") }
	assert.Error(t, m.Send(context.Background(), Message{To: []string{"a@example.com"}}))
}

func TestSMTPMailerRequiresHost(t *testing.T) {
	m := NewSMTPMailer(config.MailConfig{Enabled: true})
	assert.Error(t, m.Send(context.Background(), Message{To: []string{"a@example.com"}}))
}

func TestNewMailerDisabled(t *testing.T) {
	m := NewMailer(config.MailConfig{Enabled: false}, nil)
	_, ok := m.(*LogMailer)
	assert.True(t, ok)
	assert.NoError(t, m.Send(context.Background(), Message{To: []string{"x@example.com"}, Subject: "s"}))

	_, ok = NewMailer(config.MailConfig{Enabled: true, Host: "h", Port: 25}, nil).(*SMTPMailer)
	assert.True(t, ok)
}
