package provider

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/resend/resend-go/v2"
)

// ResendAPI is the subset of the Resend emails service the provider uses.
type ResendAPI interface {
	SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

// ResendProvider sends alert emails through the Resend API.
type ResendProvider struct {
	emails ResendAPI
}

// NewResendProvider creates a Resend provider. An empty key yields an
// unconfigured provider.
func NewResendProvider(apiKey string) *ResendProvider {
	if apiKey == "" {
		slog.Warn("Resend API key not set, Resend provider will be unavailable")
		return &ResendProvider{}
	}
	return NewResendProviderWithClient(resend.NewClient(apiKey).Emails)
}

// NewResendProviderWithClient creates a Resend provider around an existing
// emails service.
func NewResendProviderWithClient(emails ResendAPI) *ResendProvider {
	return &ResendProvider{emails: emails}
}

func (p *ResendProvider) Name() string {
	return "resend"
}

// IsConfigured reports whether an API client is attached.
func (p *ResendProvider) IsConfigured() bool {
	return p.emails != nil
}

// Send delivers req. Empty HTML or text parts are left out of the request.
func (p *ResendProvider) Send(ctx context.Context, req *EmailRequest) error {
	if p.emails == nil {
		return fmt.Errorf("resend client not initialized")
	}
	if len(req.To) == 0 {
		return fmt.Errorf("no recipients specified")
	}

	params := &resend.SendEmailRequest{
		From:    req.From,
		To:      req.To,
		Subject: req.Subject,
		Html:    req.HTML,
		Text:    req.Body,
	}
	resp, err := p.emails.SendWithContext(ctx, params)
	if err != nil {
		return fmt.Errorf("failed to send via resend to %d recipients: %w", len(req.To), err)
	}

	slog.Debug("Alert email accepted by Resend",
		"email_id", resp.Id,
		"recipients", len(req.To),
		"subject", req.Subject,
	)
	return nil
}
