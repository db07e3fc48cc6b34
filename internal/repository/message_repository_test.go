package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oldtowntours/ticketdesk/internal/models"
	"github.com/oldtowntours/ticketdesk/internal/repository"
)

func TestMessageRepository(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	db, cleanup := setupTestDB(t)
	defer cleanup()

	repo := repository.NewMessageRepository(db)
	ctx := context.Background()

	newMessage := func(channel models.Channel, recipient string) *models.Message {
		return &models.Message{
			Channel:   channel,
			Direction: models.DirectionOutbound,
			Recipient: recipient,
			Content:   "Your tickets are ready",
		}
	}

	t.Run("mark sent and failed", func(t *testing.T) {
		defer cleanupTestData(db)

		id, err := repo.Create(ctx, newMessage(models.ChannelWhatsApp, "+48601234567"))
		require.NoError(t, err)

		m, err := repo.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.MessageStatusPending, m.Status)

		require.NoError(t, repo.MarkSent(ctx, id, "wamid.1"))
		m, err = repo.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.MessageStatusSent, m.Status)
		assert.Equal(t, "wamid.1", m.ProviderID.String)
		assert.True(t, m.SentAt.Valid)

		require.NoError(t, repo.MarkFailed(ctx, id, "provider rejected"))
		m, err = repo.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.MessageStatusFailed, m.Status)
		assert.Equal(t, 1, m.RetryCount)
		assert.Equal(t, "provider rejected", m.Error.String)
	})

	t.Run("status callbacks only move forward", func(t *testing.T) {
		defer cleanupTestData(db)

		id, err := repo.Create(ctx, newMessage(models.ChannelWhatsApp, "+48601234567"))
		require.NoError(t, err)
		require.NoError(t, repo.MarkSent(ctx, id, "wamid.2"))

		at := time.Now().UTC()
		require.NoError(t, repo.UpdateStatusByProviderID(ctx, "wamid.2", models.MessageStatusDelivered, at))

		m, err := repo.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.MessageStatusDelivered, m.Status)
		assert.True(t, m.DeliveredAt.Valid)

		// A late "sent" receipt must not demote the delivered message.
		require.NoError(t, repo.UpdateStatusByProviderID(ctx, "wamid.2", models.MessageStatusSent, at))
		m, err = repo.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.MessageStatusDelivered, m.Status)

		require.NoError(t, repo.UpdateStatusByProviderID(ctx, "wamid.2", models.MessageStatusRead, at))
		m, err = repo.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.MessageStatusRead, m.Status)
		assert.True(t, m.ReadAt.Valid)
	})

	t.Run("provider failure callback enters the retry path", func(t *testing.T) {
		defer cleanupTestData(db)

		id, err := repo.Create(ctx, newMessage(models.ChannelSMS, "+48601234567"))
		require.NoError(t, err)
		require.NoError(t, repo.MarkSent(ctx, id, "sm-1"))

		require.NoError(t, repo.UpdateStatusByProviderID(ctx, "sm-1", models.MessageStatusFailed, time.Now().UTC()))

		m, err := repo.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.MessageStatusFailed, m.Status)
		assert.True(t, m.Error.Valid)
	})

	t.Run("unknown provider id is a no-op", func(t *testing.T) {
		defer cleanupTestData(db)

		err := repo.UpdateStatusByProviderID(ctx, "no-such-id", models.MessageStatusDelivered, time.Now().UTC())
		require.NoError(t, err)
	})

	t.Run("retryable selection", func(t *testing.T) {
		defer cleanupTestData(db)

		smsID, err := repo.Create(ctx, newMessage(models.ChannelSMS, "+48601234567"))
		require.NoError(t, err)
		require.NoError(t, repo.MarkFailed(ctx, smsID, "boom"))

		emailID, err := repo.Create(ctx, newMessage(models.ChannelEmail, "anna@example.com"))
		require.NoError(t, err)
		require.NoError(t, repo.MarkFailed(ctx, emailID, "bounce"))

		exhaustedID, err := repo.Create(ctx, newMessage(models.ChannelSMS, "+48999999999"))
		require.NoError(t, err)
		for i := 0; i < 3; i++ {
			require.NoError(t, repo.MarkFailed(ctx, exhaustedID, "boom"))
		}

		inbound := newMessage(models.ChannelSMS, "+48601234567")
		inbound.Direction = models.DirectionInbound
		inboundID, err := repo.Create(ctx, inbound)
		require.NoError(t, err)
		require.NoError(t, repo.MarkFailed(ctx, inboundID, "never retried"))

		all, err := repo.GetRetryable(ctx, nil, 3, 50)
		require.NoError(t, err)
		assert.Len(t, all, 2, "exhausted and inbound messages are excluded")

		sms := models.ChannelSMS
		smsOnly, err := repo.GetRetryable(ctx, &sms, 3, 50)
		require.NoError(t, err)
		require.Len(t, smsOnly, 1)
		assert.Equal(t, smsID, smsOnly[0].ID)
	})

	t.Run("list and booking history", func(t *testing.T) {
		defer cleanupTestData(db)

		bookingRepo := repository.NewBookingRepository(db)
		_, err := bookingRepo.Upsert(ctx, &repository.BookingUpsert{
			BokunBookingID: "BOOK-1-A", ProductID: 100, CustomerName: "Anna", Pax: 1,
		})
		require.NoError(t, err)
		b, err := bookingRepo.GetByBokunID(ctx, "BOOK-1-A")
		require.NoError(t, err)

		bound := newMessage(models.ChannelEmail, "anna@example.com")
		bound.BookingID.Int64 = b.ID
		bound.BookingID.Valid = true
		boundID, err := repo.Create(ctx, bound)
		require.NoError(t, err)

		_, err = repo.Create(ctx, newMessage(models.ChannelSMS, "+48601234567"))
		require.NoError(t, err)

		history, err := repo.ListByBooking(ctx, b.ID)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, boundID, history[0].ID)

		email := models.ChannelEmail
		byChannel, err := repo.List(ctx, repository.MessageFilter{Channel: &email})
		require.NoError(t, err)
		require.Len(t, byChannel, 1)
		assert.Equal(t, boundID, byChannel[0].ID)
	})
}
