// Package provider wraps the hosted messaging APIs each delivery channel
// goes through. Every provider returns the external message id assigned by
// the service so delivery-status callbacks can be matched back.
package provider

import "context"

// Attachment is one document attached to an email send.
type Attachment struct {
	Filename    string
	ContentType string
	// Content is the base64-encoded document body.
	Content string
}

// WhatsAppProvider sends rich messages and answers capability lookups.
type WhatsAppProvider interface {
	SendText(ctx context.Context, to, body string) (string, error)
	// SendDocument delivers a document by URL. The URL must end in a
	// media-type suffix the provider can sniff.
	SendDocument(ctx context.Context, to, caption, documentURL, filename string) (string, error)
	// CheckCapability reports whether the number can receive WhatsApp
	// messages. Callers fail open on error.
	CheckCapability(ctx context.Context, phone string) (bool, error)
}

// SMSProvider sends plain text notifications.
type SMSProvider interface {
	Send(ctx context.Context, to, body string) (string, error)
}

// EmailProvider sends rendered email with optional attachments.
type EmailProvider interface {
	Send(ctx context.Context, to, subject, htmlBody string, attachments []Attachment) (string, error)
}
