package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/oldtowntours/ticketdesk/internal/config"
)

type whatsAppProvider struct {
	rc      *resty.Client
	phoneID string
	logger  *zap.Logger
}

// NewWhatsAppProvider builds a client for a Cloud-API style WhatsApp
// gateway.
func NewWhatsAppProvider(cfg *config.WhatsAppConfig, logger *zap.Logger) WhatsAppProvider {
	rc := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(time.Duration(cfg.Timeout)*time.Second).
		SetAuthToken(cfg.Token).
		SetHeader("Content-Type", "application/json")

	return &whatsAppProvider{
		rc:      rc,
		phoneID: cfg.PhoneNumberID,
		logger:  logger,
	}
}

type waMessageResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *waError `json:"error"`
}

type waError struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

type waContactsResponse struct {
	Contacts []struct {
		WaID   string `json:"wa_id"`
		Status string `json:"status"`
	} `json:"contacts"`
}

func (p *whatsAppProvider) SendText(ctx context.Context, to, body string) (string, error) {
	payload := map[string]interface{}{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "text",
		"text":              map[string]string{"body": body},
	}

	return p.post(ctx, payload)
}

func (p *whatsAppProvider) SendDocument(ctx context.Context, to, caption, documentURL, filename string) (string, error) {
	payload := map[string]interface{}{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "document",
		"document": map[string]string{
			"link":     documentURL,
			"caption":  caption,
			"filename": filename,
		},
	}

	return p.post(ctx, payload)
}

func (p *whatsAppProvider) post(ctx context.Context, payload interface{}) (string, error) {
	var out waMessageResponse
	resp, err := p.rc.R().
		SetContext(ctx).
		SetBody(payload).
		SetResult(&out).
		SetError(&out).
		Post(fmt.Sprintf("/%s/messages", p.phoneID))
	if err != nil {
		return "", fmt.Errorf("whatsapp send failed: %w", err)
	}
	if resp.IsError() {
		if out.Error != nil {
			return "", fmt.Errorf("whatsapp send rejected: %s (code %d)", out.Error.Message, out.Error.Code)
		}
		return "", fmt.Errorf("whatsapp send returned status %d", resp.StatusCode())
	}
	if len(out.Messages) == 0 {
		return "", fmt.Errorf("whatsapp send returned no message id")
	}

	return out.Messages[0].ID, nil
}

// CheckCapability asks the gateway whether the number is reachable on
// WhatsApp. Errors are returned to the caller, which falls open to a
// digit-count heuristic rather than blocking the send.
func (p *whatsAppProvider) CheckCapability(ctx context.Context, phone string) (bool, error) {
	var out waContactsResponse
	resp, err := p.rc.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{
			"blocking": "wait",
			"contacts": []string{phone},
		}).
		SetResult(&out).
		Post(fmt.Sprintf("/%s/contacts", p.phoneID))
	if err != nil {
		return false, fmt.Errorf("whatsapp capability check failed: %w", err)
	}
	if resp.IsError() {
		return false, fmt.Errorf("whatsapp capability check returned status %d", resp.StatusCode())
	}

	for _, contact := range out.Contacts {
		if contact.Status == "valid" {
			return true, nil
		}
	}

	return false, nil
}
