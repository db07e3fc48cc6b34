package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"

	"github.com/oldtowntours/ticketdesk/internal/models"
	"github.com/oldtowntours/ticketdesk/internal/repository/mocks"
)

func newShortLinkFixture(t *testing.T) (*mocks.MockShortLinkRepository, ShortLinkService) {
	t.Helper()
	ctrl := gomock.NewController(t)

	linkRepo := mocks.NewMockShortLinkRepository(ctrl)
	repo := &stubRepo{shortLink: linkRepo}
	cfg := testConfig()
	return linkRepo, NewShortLinkService(repo, &cfg.ShortLink, zap.NewNop())
}

func TestShortLinkService_Create(t *testing.T) {
	linkRepo, svc := newShortLinkFixture(t)
	ctx := context.Background()

	linkRepo.EXPECT().Create(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, l *models.ShortLink) (int64, error) {
			assert.Len(t, l.Token, 8)
			for _, r := range l.Token {
				assert.Contains(t, tokenAlphabet, string(r))
			}
			assert.Equal(t, "tickets/BOOK-456-A.pdf", l.FilePath)
			assert.WithinDuration(t, time.Now().UTC().Add(168*time.Hour), l.ExpiresAt, time.Minute)
			return 1, nil
		})

	link, url, err := svc.Create(ctx, "tickets/BOOK-456-A.pdf")
	require.NoError(t, err)

	assert.Equal(t, int64(1), link.ID)
	assert.Equal(t, "https://tix.example.com/t/"+link.Token+".pdf", url)
}

func TestShortLinkService_Create_RequiresPath(t *testing.T) {
	_, svc := newShortLinkFixture(t)

	_, _, err := svc.Create(context.Background(), "")
	assert.Error(t, err)
}

func TestShortLinkService_Create_TokensAreUnique(t *testing.T) {
	linkRepo, svc := newShortLinkFixture(t)
	ctx := context.Background()

	seen := map[string]bool{}
	linkRepo.EXPECT().Create(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, l *models.ShortLink) (int64, error) {
			assert.False(t, seen[l.Token], "token %q issued twice", l.Token)
			seen[l.Token] = true
			return int64(len(seen)), nil
		}).Times(20)

	for i := 0; i < 20; i++ {
		_, _, err := svc.Create(ctx, "tickets/x.pdf")
		require.NoError(t, err)
	}
}

func TestShortLinkService_Resolve(t *testing.T) {
	linkRepo, svc := newShortLinkFixture(t)
	ctx := context.Background()

	live := &models.ShortLink{
		ID:        5,
		Token:     "aB3dE6gH",
		FilePath:  "tickets/BOOK-456-A.pdf",
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	}
	// The ".pdf" suffix belongs to the URL, not the token.
	linkRepo.EXPECT().GetByToken(ctx, "aB3dE6gH").Return(live, nil)
	linkRepo.EXPECT().IncrementDownloads(ctx, int64(5)).Return(nil)

	got, err := svc.Resolve(ctx, "aB3dE6gH.pdf")
	require.NoError(t, err)
	assert.Equal(t, "tickets/BOOK-456-A.pdf", got.FilePath)
}

func TestShortLinkService_Resolve_Expired(t *testing.T) {
	linkRepo, svc := newShortLinkFixture(t)
	ctx := context.Background()

	linkRepo.EXPECT().GetByToken(ctx, "oldToken1").Return(&models.ShortLink{
		ID:        6,
		Token:     "oldToken1",
		ExpiresAt: time.Now().UTC().Add(-time.Minute),
	}, nil)

	_, err := svc.Resolve(ctx, "oldToken1")
	assert.ErrorIs(t, err, ErrLinkExpired)
}

func TestShortLinkService_Resolve_CountFailureIsSoft(t *testing.T) {
	linkRepo, svc := newShortLinkFixture(t)
	ctx := context.Background()

	linkRepo.EXPECT().GetByToken(ctx, "aB3dE6gH").Return(&models.ShortLink{
		ID:        7,
		Token:     "aB3dE6gH",
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	}, nil)
	linkRepo.EXPECT().IncrementDownloads(ctx, int64(7)).Return(assert.AnError)

	_, err := svc.Resolve(ctx, "aB3dE6gH")
	require.NoError(t, err)
}

func TestShortLinkService_DeleteExpired(t *testing.T) {
	linkRepo, svc := newShortLinkFixture(t)
	ctx := context.Background()

	linkRepo.EXPECT().DeleteExpired(ctx, gomock.Any()).Return(int64(3), nil)

	deleted, err := svc.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)
}

func TestShortLink_Expired(t *testing.T) {
	now := time.Now().UTC()
	l := &models.ShortLink{ExpiresAt: now.Add(time.Second)}
	assert.False(t, l.Expired(now))
	assert.True(t, l.Expired(now.Add(2*time.Second)))
}
