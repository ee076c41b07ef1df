package email

import (
	"context"
	"net/url"
	"strings"

	signupdomain "github.com/smallbiznis/entrance/internal/signup/domain"
)

const (
	VerifyAccountSubject  = "Please confirm your account"
	VerifyAccountTemplate = "email-verify-account"

	confirmPath = "/email/confirm"
)

// Mailer sends confirm-account email through a Provider.
type Mailer struct {
	provider Provider
	baseURL  string
}

func NewMailer(provider Provider, publicBaseURL string) *Mailer {
	return &Mailer{
		provider: provider,
		baseURL:  strings.TrimRight(publicBaseURL, "/"),
	}
}

func (m *Mailer) SendVerification(ctx context.Context, msg signupdomain.VerificationMessage) error {
	data := map[string]any{
		"emailAddress": msg.EmailAddress,
		"token":        msg.Token,
		"url":          m.confirmURL(msg.Token),
	}
	return m.provider.SendTemplate(ctx, []string{msg.To}, VerifyAccountSubject, VerifyAccountTemplate, data)
}

func (m *Mailer) confirmURL(token string) string {
	return m.baseURL + confirmPath + "?token=" + url.QueryEscape(token)
}
