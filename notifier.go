package accounts

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// Notification templates
const (
	TemplateAccountActivation = "account-activation"
	TemplatePasswordReset     = "password-reset"
)

// Notification is a message carrying one or two token links to an address.
type Notification struct {
	To       string
	Username string
	Template string
	TokenID  string
	// RejectTokenID is set for activation notifications so the recipient
	// can disown the signup.
	RejectTokenID string
}

// Notifier delivers notifications. Delivery is best effort: callers never
// roll back state because Send failed.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, n Notification) error

func (f NotifierFunc) Send(ctx context.Context, n Notification) error {
	if f == nil {
		return nil
	}
	return f(ctx, n)
}

// LinkBuilder turns token values into absolute links.
type LinkBuilder struct {
	BaseURL string
}

// ActivationLink returns the link that redeems an activate-account token.
func (b LinkBuilder) ActivationLink(tokenID string) string {
	return b.join("activate", tokenID)
}

// PasswordResetLink returns the link that opens the reset form.
func (b LinkBuilder) PasswordResetLink(tokenID string) string {
	return b.join("password-reset", tokenID)
}

// Links returns the links of n keyed by name.
func (b LinkBuilder) Links(n Notification) map[string]string {
	links := map[string]string{}
	switch n.Template {
	case TemplateAccountActivation:
		links["activate"] = b.ActivationLink(n.TokenID)
		if n.RejectTokenID != "" {
			links["reject"] = b.ActivationLink(n.RejectTokenID)
		}
	case TemplatePasswordReset:
		links["reset"] = b.PasswordResetLink(n.TokenID)
	}
	return links
}

func (b LinkBuilder) join(path, tokenID string) string {
	return strings.TrimRight(b.BaseURL, "/") + "/" + path + "/" + url.PathEscape(tokenID)
}

// LogNotifier writes notifications to the logger. It is the default sink and
// is useful in development.
type LogNotifier struct {
	Links  LinkBuilder
	Logger Logger
}

func NewLogNotifier(baseURL string, logger Logger) *LogNotifier {
	if logger == nil {
		logger = defLogger()
	}
	return &LogNotifier{Links: LinkBuilder{BaseURL: baseURL}, Logger: logger}
}

func (n *LogNotifier) Send(_ context.Context, msg Notification) error {
	if msg.To == "" {
		return goerrors.New("notification has no recipient", goerrors.CategoryBadInput).
			WithTextCode(TextCodeNotificationError)
	}
	args := []any{"to", msg.To, "template", msg.Template}
	for name, link := range n.Links.Links(msg) {
		args = append(args, name, link)
	}
	n.Logger.Info("sending notification", args...)
	return nil
}

// notificationWarning wraps a failed delivery so it can be surfaced on a
// result without failing the operation.
func notificationWarning(err error, template string) error {
	return goerrors.Wrap(err, goerrors.CategoryOperation, fmt.Sprintf("failed to deliver %s notification", template)).
		WithTextCode(TextCodeNotificationError)
}

// IsNotificationFailure reports whether err is a delivery warning.
func IsNotificationFailure(err error) bool {
	return hasTextCode(err, TextCodeNotificationError)
}
