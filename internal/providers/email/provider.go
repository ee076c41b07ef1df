package email

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// Provider delivers rendered HTML email.
type Provider interface {
	Send(ctx context.Context, to []string, subject string, htmlBody string) error
	SendTemplate(ctx context.Context, to []string, subject string, templateName string, data any) error
}

// LogProvider renders templates but only logs the message. It is the
// default outside production.
type LogProvider struct {
	log *zap.Logger
}

func NewLogProvider(log *zap.Logger) *LogProvider {
	return &LogProvider{log: log.Named("email.log")}
}

func (p *LogProvider) Send(ctx context.Context, to []string, subject string, htmlBody string) error {
	p.log.Info("email not delivered (log mode)",
		zap.String("to", strings.Join(to, ",")),
		zap.String("subject", subject),
		zap.Int("body_bytes", len(htmlBody)),
	)
	return nil
}

func (p *LogProvider) SendTemplate(ctx context.Context, to []string, subject string, templateName string, data any) error {
	body, err := Render(templateName, data)
	if err != nil {
		return err
	}
	return p.Send(ctx, to, subject, body)
}
