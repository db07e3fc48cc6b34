package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/oldtowntours/ticketdesk/internal/config"
)

type emailProvider struct {
	rc          *resty.Client
	fromAddress string
	fromName    string
	logger      *zap.Logger
}

// NewEmailProvider builds a client for a SendGrid-style transactional
// email API.
func NewEmailProvider(cfg *config.EmailConfig, logger *zap.Logger) EmailProvider {
	rc := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(time.Duration(cfg.Timeout)*time.Second).
		SetAuthToken(cfg.APIKey).
		SetHeader("Content-Type", "application/json")

	return &emailProvider{
		rc:          rc,
		fromAddress: cfg.FromAddress,
		fromName:    cfg.FromName,
		logger:      logger,
	}
}

func (p *emailProvider) Send(ctx context.Context, to, subject, htmlBody string, attachments []Attachment) (string, error) {
	payload := map[string]interface{}{
		"personalizations": []map[string]interface{}{
			{"to": []map[string]string{{"email": to}}},
		},
		"from":    map[string]string{"email": p.fromAddress, "name": p.fromName},
		"subject": subject,
		"content": []map[string]string{
			{"type": "text/html", "value": htmlBody},
		},
	}

	if len(attachments) > 0 {
		var atts []map[string]string
		for _, a := range attachments {
			atts = append(atts, map[string]string{
				"filename": a.Filename,
				"type":     a.ContentType,
				"content":  a.Content,
			})
		}
		payload["attachments"] = atts
	}

	resp, err := p.rc.R().
		SetContext(ctx).
		SetBody(payload).
		Post("/v3/mail/send")
	if err != nil {
		return "", fmt.Errorf("email send failed: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("email send returned status %d: %s", resp.StatusCode(), resp.String())
	}

	// The API acknowledges with a message id header; fall back to a local
	// id so the audit trail always has one.
	messageID := resp.Header().Get("X-Message-Id")
	if messageID == "" {
		messageID = "email-" + uuid.New().String()
	}

	return messageID, nil
}
