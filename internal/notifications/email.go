package notifications

import (
	"context"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// EmailSender delivers a rendered message to one address.
type EmailSender interface {
	Send(ctx context.Context, to, subject, plainBody, htmlBody string) error
}

// SendGridChannel sends email through the SendGrid API.
type SendGridChannel struct {
	client   *sendgrid.Client
	fromName string
	fromAddr string
}

// NewSendGridChannel creates a SendGrid-backed email channel.
func NewSendGridChannel(apiKey, fromName, fromAddr string) *SendGridChannel {
	return &SendGridChannel{
		client:   sendgrid.NewSendClient(apiKey),
		fromName: fromName,
		fromAddr: fromAddr,
	}
}

func (c *SendGridChannel) Send(ctx context.Context, to, subject, plainBody, htmlBody string) error {
	from := mail.NewEmail(c.fromName, c.fromAddr)
	message := mail.NewSingleEmail(from, subject, mail.NewEmail("", to), plainBody, htmlBody)
	resp, err := c.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("sendgrid send: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("sendgrid send: status %d: %s", resp.StatusCode, resp.Body)
	}
	return nil
}
