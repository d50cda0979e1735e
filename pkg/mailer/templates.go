package mailer

import (
	"bytes"
	"fmt"
	"html/template"
)

// Template names.
const (
	TemplateOTP           = "otp"
	TemplateDecision      = "decision"
	TemplateAttachment    = "attachment"
	TemplateAccountStatus = "account_status"
)

const layout = `{{define "header"}}<html><body style="font-family:Arial,sans-serif;color:#222">{{end}}
{{define "footer"}}<p style="color:#888;font-size:12px">Paper Repository</p></body></html>{{end}}

{{define "otp"}}{{template "header"}}
<p>Hello {{.Name}},</p>
<p>Your verification code is <strong style="font-size:20px">{{.Code}}</strong>.</p>
<p>It expires in {{.ExpiresIn}}.</p>
{{template "footer"}}{{end}}

{{define "decision"}}{{template "header"}}
<p>Your request for <strong>{{.PaperTitle}}</strong> has been <strong>{{.Decision}}</strong>.</p>
{{if .Message}}<p>Message from the reviewer: {{.Message}}</p>{{end}}
{{if eq .Decision "approved"}}<p>The paper will arrive in a separate e-mail.</p>{{end}}
{{template "footer"}}{{end}}

{{define "attachment"}}{{template "header"}}
<p>The paper you requested is attached.</p>
<table>
<tr><td>Title</td><td>{{.Title}}</td></tr>
{{if .Authors}}<tr><td>Authors</td><td>{{join .Authors ", "}}</td></tr>{{end}}
{{if .Journal}}<tr><td>Journal</td><td>{{.Journal}}</td></tr>{{end}}
{{if .Year}}<tr><td>Year</td><td>{{.Year}}</td></tr>{{end}}
<tr><td>Identifier</td><td>{{.ID}}</td></tr>
</table>
{{if .Message}}<p>Message from the reviewer: {{.Message}}</p>{{end}}
{{template "footer"}}{{end}}

{{define "account_status"}}{{template "header"}}
<p>Hello {{.Name}},</p>
<p>Your account has been <strong>{{.Status}}</strong>.</p>
{{if eq .Status "approved"}}<p>You can now sign in and upload papers.</p>{{end}}
{{template "footer"}}{{end}}`

// Templates renders the HTML bodies of outbound mail.
type Templates struct {
	tmpl *template.Template
}

// NewTemplates parses the built-in templates.
func NewTemplates() (*Templates, error) {
	tmpl, err := template.New("mail").Funcs(template.FuncMap{"join": joinStrings}).Parse(layout)
	if err != nil {
		return nil, fmt.Errorf("parse mail templates: %w", err)
	}
	return &Templates{tmpl: tmpl}, nil
}

// Render executes the named template with data.
func (t *Templates) Render(name string, data interface{}) (string, error) {
	var buf bytes.Buffer
	if err := t.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s template: %w", name, err)
	}
	return buf.String(), nil
}

func joinStrings(items []string, sep string) string {
	var buf bytes.Buffer
	for i, item := range items {
		if i > 0 {
			buf.WriteString(sep)
		}
		buf.WriteString(item)
	}
	return buf.String()
}
