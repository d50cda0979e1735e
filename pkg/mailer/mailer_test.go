package mailer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	mail "gopkg.in/mail.v2"
)

type fakeDialer struct {
	failures int
	calls    int
	sent     []*mail.Message
}

func (f *fakeDialer) DialAndSend(m ...*mail.Message) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("connection refused")
	}
	f.sent = append(f.sent, m...)
	return nil
}

func newTestMailer(d dialer, retries int) *SMTPMailer {
	m := newSMTPMailer("repo@example.com", d, retries, nil)
	m.newBackOff = func() backoff.BackOff { return backoff.NewConstantBackOff(time.Millisecond) }
	return m
}

func TestSMTPMailerRetriesTransientFailures(t *testing.T) {
	d := &fakeDialer{failures: 2}
	m := newTestMailer(d, 3)

	err := m.Send(context.Background(), Message{
		To:       "reader@example.com",
		Subject:  "Paper",
		HTMLBody: "<p>hi</p>",
		Attachments: []Attachment{
			{Filename: "paper.pdf", ContentType: "application/pdf", Data: []byte("%PDF")},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, d.calls)
	require.Len(t, d.sent, 1)
	assert.Equal(t, []string{"reader@example.com"}, d.sent[0].GetHeader("To"))
	assert.Equal(t, []string{"repo@example.com"}, d.sent[0].GetHeader("From"))
}

func TestSMTPMailerGivesUp(t *testing.T) {
	d := &fakeDialer{failures: 10}
	m := newTestMailer(d, 2)

	err := m.Send(context.Background(), Message{To: "reader@example.com", Subject: "x", TextBody: "x"})
	require.Error(t, err)
	assert.Equal(t, 3, d.calls)
}

func TestSMTPMailerRequiresRecipient(t *testing.T) {
	m := newTestMailer(&fakeDialer{}, 1)
	require.Error(t, m.Send(context.Background(), Message{Subject: "x"}))
}

func TestTemplatesRender(t *testing.T) {
	tmpl, err := NewTemplates()
	require.NoError(t, err)

	body, err := tmpl.Render(TemplateDecision, map[string]interface{}{
		"PaperTitle": "Graph Compression",
		"Decision":   "approved",
		"Message":    "enjoy",
	})
	require.NoError(t, err)
	assert.Contains(t, body, "Graph Compression")
	assert.Contains(t, body, "approved")
	assert.Contains(t, body, "enjoy")

	body, err = tmpl.Render(TemplateAttachment, map[string]interface{}{
		"ID":      "p1",
		"Title":   "Graph Compression",
		"Authors": []string{"Ada", "Grace"},
		"Journal": "",
		"Year":    2021,
		"Message": "",
	})
	require.NoError(t, err)
	assert.Contains(t, body, "Ada, Grace")
	assert.NotContains(t, body, "Journal")

	_, err = tmpl.Render("missing", nil)
	require.Error(t, err)
}
