package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/oldtowntours/ticketdesk/internal/config"
)

type smsProvider struct {
	rc         *resty.Client
	accountSID string
	from       string
	logger     *zap.Logger
}

// NewSMSProvider builds a client for a Twilio-style SMS gateway.
func NewSMSProvider(cfg *config.SMSConfig, logger *zap.Logger) SMSProvider {
	rc := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(time.Duration(cfg.Timeout) * time.Second).
		SetBasicAuth(cfg.AccountSID, cfg.AuthToken)

	return &smsProvider{
		rc:         rc,
		accountSID: cfg.AccountSID,
		from:       cfg.From,
		logger:     logger,
	}
}

type smsResponse struct {
	SID          string `json:"sid"`
	Status       string `json:"status"`
	ErrorMessage string `json:"message"`
}

func (p *smsProvider) Send(ctx context.Context, to, body string) (string, error) {
	var out smsResponse
	resp, err := p.rc.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"To":   to,
			"From": p.from,
			"Body": body,
		}).
		SetResult(&out).
		SetError(&out).
		Post(fmt.Sprintf("/2010-04-01/Accounts/%s/Messages.json", p.accountSID))
	if err != nil {
		return "", fmt.Errorf("sms send failed: %w", err)
	}
	if resp.IsError() {
		if out.ErrorMessage != "" {
			return "", fmt.Errorf("sms send rejected: %s", out.ErrorMessage)
		}
		return "", fmt.Errorf("sms send returned status %d", resp.StatusCode())
	}
	if out.SID == "" {
		return "", fmt.Errorf("sms send returned no message sid")
	}

	return out.SID, nil
}
