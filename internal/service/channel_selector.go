package service

import (
	"context"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/oldtowntours/ticketdesk/internal/models"
	"github.com/oldtowntours/ticketdesk/internal/provider"
)

const (
	capabilityCachePrefix = "wa:capability:"
	capabilityCacheTTL    = 24 * time.Hour
	minPlausibleDigits    = 10
)

type channelSelector struct {
	whatsapp provider.WhatsAppProvider
	redis    *redis.Client
	logger   *zap.Logger
}

// NewChannelSelector decides contact channels per booking. The redis client
// may be nil; capability checks then hit the provider every time.
func NewChannelSelector(whatsapp provider.WhatsAppProvider, rdb *redis.Client, logger *zap.Logger) ChannelSelector {
	return &channelSelector{
		whatsapp: whatsapp,
		redis:    rdb,
		logger:   logger,
	}
}

// Plan picks channels in priority order. A WhatsApp-capable phone gets the
// ticket there and nowhere else. Otherwise email carries the ticket, with
// an SMS pointer when a phone exists. A phone with no email gets the ticket
// link by SMS.
func (s *channelSelector) Plan(ctx context.Context, b *models.Booking) ([]ChannelPlan, error) {
	phone := NormalizePhone(b.CustomerPhone.String)
	email := strings.TrimSpace(b.CustomerEmail.String)
	hasPhone := b.CustomerPhone.Valid && PlausiblePhone(phone)
	hasEmail := b.CustomerEmail.Valid && strings.Contains(email, "@")

	if hasPhone && s.whatsappCapable(ctx, phone) {
		return []ChannelPlan{{Channel: models.ChannelWhatsApp}}, nil
	}

	switch {
	case hasEmail && hasPhone:
		return []ChannelPlan{
			{Channel: models.ChannelEmail},
			{Channel: models.ChannelSMS, NotificationOnly: true},
		}, nil
	case hasEmail:
		return []ChannelPlan{{Channel: models.ChannelEmail}}, nil
	case hasPhone:
		return []ChannelPlan{{Channel: models.ChannelSMS}}, nil
	default:
		return nil, ErrNoDeliveryChannel
	}
}

// whatsappCapable consults the cached capability first. A provider error
// fails open on any plausibly-complete number: a wasted WhatsApp attempt
// falls back to other channels, while a false negative loses the
// customer's preferred channel entirely.
func (s *channelSelector) whatsappCapable(ctx context.Context, phone string) bool {
	key := capabilityCachePrefix + phone

	if s.redis != nil {
		if cached, err := s.redis.Get(ctx, key).Result(); err == nil {
			return cached == "1"
		}
	}

	capable, err := s.whatsapp.CheckCapability(ctx, phone)
	if err != nil {
		s.logger.Warn("WhatsApp capability check failed, assuming capable",
			zap.String("phone", maskPhone(phone)),
			zap.Error(err),
		)
		return true
	}

	if s.redis != nil {
		val := "0"
		if capable {
			val = "1"
		}
		if err := s.redis.Set(ctx, key, val, capabilityCacheTTL).Err(); err != nil {
			s.logger.Warn("Failed to cache capability result", zap.Error(err))
		}
	}

	return capable
}

// NormalizePhone reduces a phone number to digits, keeping one leading '+'.
func NormalizePhone(raw string) string {
	raw = strings.TrimSpace(raw)
	var sb strings.Builder
	for i, r := range raw {
		if r >= '0' && r <= '9' {
			sb.WriteRune(r)
		} else if r == '+' && i == 0 {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// PlausiblePhone reports whether a normalized number has enough digits to
// be dialable internationally.
func PlausiblePhone(normalized string) bool {
	digits := strings.TrimPrefix(normalized, "+")
	return len(digits) >= minPlausibleDigits
}

func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}
