// Package mailer abstracts outbound email so handlers depend on an
// interface rather than on the Resend client.
package mailer

import (
	"context"
	"fmt"

	"github.com/resend/resend-go/v2"
)

type Mailer interface {
	SendOtp(ctx context.Context, toEmail, otp string) error
}

type resendMailer struct {
	client    *resend.Client
	fromEmail string
}

func NewResendMailer(apiKey, fromEmail string) Mailer {
	return &resendMailer{
		client:    resend.NewClient(apiKey),
		fromEmail: fromEmail,
	}
}

func (m *resendMailer) SendOtp(ctx context.Context, toEmail, otp string) error {
	html := fmt.Sprintf(`<h2>Verify your email</h2>
<p>Your verification code is:</p>
<h1>%s</h1>
<p>This code is valid for 15 minutes. If you didn't request it, you can safely ignore this email.</p>`, otp)

	params := &resend.SendEmailRequest{
		From:    fmt.Sprintf("Connectify <%s>", m.fromEmail),
		To:      []string{toEmail},
		Subject: "Your Connectify verification code",
		Html:    html,
	}

	_, err := m.client.Emails.SendWithContext(ctx, params)
	if err != nil {
		return fmt.Errorf("sending otp email: %w", err)
	}
	return nil
}
