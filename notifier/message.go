// Package notifier delivers account notifications over email and AWS SNS.
package notifier

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/goliatone/go-accounts"
)

// Message is a rendered notification.
type Message struct {
	Subject string
	Body    string
}

var bodies = map[string]*template.Template{
	accounts.TemplateAccountActivation: template.Must(template.New("activation").Parse(
		`Hi {{.Username}},

Confirm your account by opening the link below:

{{.Links.activate}}
{{if .Links.reject}}
If you did not sign up, you can cancel the registration here:

{{.Links.reject}}
{{end}}`)),
	accounts.TemplatePasswordReset: template.Must(template.New("reset").Parse(
		`Hi {{.Username}},

Someone asked to reset the password of your account. To choose a new one open:

{{.Links.reset}}

If it was not you, ignore this message.
`)),
}

var subjects = map[string]string{
	accounts.TemplateAccountActivation: "Confirm your account",
	accounts.TemplatePasswordReset:     "Reset your password",
}

// Render builds the subject and body for n.
func Render(links accounts.LinkBuilder, n accounts.Notification) (Message, error) {
	tpl, ok := bodies[n.Template]
	if !ok {
		return Message{}, fmt.Errorf("unknown notification template %q", n.Template)
	}

	var buf bytes.Buffer
	err := tpl.Execute(&buf, struct {
		Username string
		Links    map[string]string
	}{
		Username: n.Username,
		Links:    links.Links(n),
	})
	if err != nil {
		return Message{}, fmt.Errorf("render %s: %w", n.Template, err)
	}

	return Message{Subject: subjects[n.Template], Body: buf.String()}, nil
}
