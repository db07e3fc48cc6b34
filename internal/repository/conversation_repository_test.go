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

func TestConversationRepository(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	db, cleanup := setupTestDB(t)
	defer cleanup()

	repo := repository.NewConversationRepository(db)
	ctx := context.Background()

	t.Run("create is unique per phone and channel", func(t *testing.T) {
		defer cleanupTestData(db)

		first, err := repo.Create(ctx, &models.Conversation{
			PhoneNumber: "+48601234567",
			Channel:     models.ChannelWhatsApp,
		})
		require.NoError(t, err)

		// A duplicate create resolves to the same row.
		second, err := repo.Create(ctx, &models.Conversation{
			PhoneNumber: "+48601234567",
			Channel:     models.ChannelWhatsApp,
		})
		require.NoError(t, err)
		assert.Equal(t, first, second)

		// The same phone on another channel is its own thread.
		other, err := repo.Create(ctx, &models.Conversation{
			PhoneNumber: "+48601234567",
			Channel:     models.ChannelSMS,
		})
		require.NoError(t, err)
		assert.NotEqual(t, first, other)

		c, err := repo.GetByPhoneAndChannel(ctx, "+48601234567", models.ChannelWhatsApp)
		require.NoError(t, err)
		assert.Equal(t, first, c.ID)
		assert.Equal(t, models.ConversationStatusActive, c.Status)
	})

	t.Run("inbound activity reopens and counts unread", func(t *testing.T) {
		defer cleanupTestData(db)

		id, err := repo.Create(ctx, &models.Conversation{
			PhoneNumber: "+48601234567",
			Channel:     models.ChannelWhatsApp,
		})
		require.NoError(t, err)
		require.NoError(t, repo.SetStatus(ctx, id, models.ConversationStatusArchived))

		at := time.Now().UTC().Truncate(time.Second)
		require.NoError(t, repo.RecordInbound(ctx, id, at))
		require.NoError(t, repo.RecordInbound(ctx, id, at.Add(time.Minute)))

		c, err := repo.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 2, c.UnreadCount)
		assert.Equal(t, models.ConversationStatusActive, c.Status, "a reply reopens an archived thread")
		assert.True(t, c.LastInboundAt.Valid)
		assert.True(t, c.WindowOpen(at.Add(2*time.Minute)))

		require.NoError(t, repo.MarkRead(ctx, id))
		c, err = repo.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 0, c.UnreadCount)
	})

	t.Run("outbound activity does not touch the reply window", func(t *testing.T) {
		defer cleanupTestData(db)

		id, err := repo.Create(ctx, &models.Conversation{
			PhoneNumber: "+48601234567",
			Channel:     models.ChannelWhatsApp,
		})
		require.NoError(t, err)

		require.NoError(t, repo.RecordOutbound(ctx, id, time.Now().UTC()))

		c, err := repo.GetByID(ctx, id)
		require.NoError(t, err)
		assert.True(t, c.LastMessageAt.Valid)
		assert.False(t, c.LastInboundAt.Valid)
		assert.Equal(t, 0, c.UnreadCount)
	})

	t.Run("booking links once", func(t *testing.T) {
		defer cleanupTestData(db)

		bookingRepo := repository.NewBookingRepository(db)
		_, err := bookingRepo.Upsert(ctx, &repository.BookingUpsert{
			BokunBookingID: "BOOK-1-A", ProductID: 100, CustomerName: "Anna", Pax: 1,
		})
		require.NoError(t, err)
		_, err = bookingRepo.Upsert(ctx, &repository.BookingUpsert{
			BokunBookingID: "BOOK-1-B", ProductID: 100, CustomerName: "Jan", Pax: 1,
		})
		require.NoError(t, err)

		first, err := bookingRepo.GetByBokunID(ctx, "BOOK-1-A")
		require.NoError(t, err)
		second, err := bookingRepo.GetByBokunID(ctx, "BOOK-1-B")
		require.NoError(t, err)

		id, err := repo.Create(ctx, &models.Conversation{
			PhoneNumber: "+48601234567",
			Channel:     models.ChannelWhatsApp,
		})
		require.NoError(t, err)

		require.NoError(t, repo.LinkBooking(ctx, id, first.ID))
		// A second link attempt leaves the original in place.
		require.NoError(t, repo.LinkBooking(ctx, id, second.ID))

		c, err := repo.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, first.ID, c.BookingID.Int64)
	})

	t.Run("list filters by status", func(t *testing.T) {
		defer cleanupTestData(db)

		activeID, err := repo.Create(ctx, &models.Conversation{
			PhoneNumber: "+48601234567",
			Channel:     models.ChannelWhatsApp,
		})
		require.NoError(t, err)

		archivedID, err := repo.Create(ctx, &models.Conversation{
			PhoneNumber: "+48999999999",
			Channel:     models.ChannelWhatsApp,
		})
		require.NoError(t, err)
		require.NoError(t, repo.SetStatus(ctx, archivedID, models.ConversationStatusArchived))

		active := models.ConversationStatusActive
		got, err := repo.List(ctx, &active, 50, 0)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, activeID, got[0].ID)

		all, err := repo.List(ctx, nil, 50, 0)
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})
}
