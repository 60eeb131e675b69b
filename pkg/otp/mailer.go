package otp

import (
	"context"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// Mailer delivers a verification code to an address.
type Mailer interface {
	Send(ctx context.Context, to, code string) error
}

// SendGridMailer delivers verification codes via the SendGrid API.
type SendGridMailer struct {
	client   *sendgrid.Client
	from     string
	fromName string
}

func NewSendGridMailer(apiKey, from, fromName string) *SendGridMailer {
	return &SendGridMailer{
		client:   sendgrid.NewSendClient(apiKey),
		from:     from,
		fromName: fromName,
	}
}

// Send implements Mailer.
func (m *SendGridMailer) Send(ctx context.Context, to, code string) error {
	fromEmail := mail.NewEmail(m.fromName, m.from)
	toEmail := mail.NewEmail("", to)
	subject := "Your verification code"
	plain := fmt.Sprintf("Your verification code is %s. It expires in %d minutes.",
		code, int(CodeTTL.Minutes()))
	html := fmt.Sprintf(
		"<p>Your verification code is <strong>%s</strong>.</p>"+
			"<p>This code will expire in <strong>%d minutes</strong>.</p>",
		code, int(CodeTTL.Minutes()))

	message := mail.NewSingleEmail(fromEmail, subject, toEmail, plain, html)
	resp, err := m.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("sendgrid send failed: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("sendgrid send rejected: status %d", resp.StatusCode)
	}
	return nil
}
