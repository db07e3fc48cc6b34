package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/oldtowntours/ticketdesk/internal/config"
	"github.com/oldtowntours/ticketdesk/internal/models"
	"github.com/oldtowntours/ticketdesk/internal/repository"
)

const (
	tokenAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	tokenLength   = 8
)

type shortLinkService struct {
	repo   repository.Repository
	cfg    *config.ShortLinkConfig
	logger *zap.Logger
}

// NewShortLinkService creates the download-link issuer.
func NewShortLinkService(repo repository.Repository, cfg *config.ShortLinkConfig, logger *zap.Logger) ShortLinkService {
	return &shortLinkService{
		repo:   repo,
		cfg:    cfg,
		logger: logger,
	}
}

func (s *shortLinkService) Create(ctx context.Context, filePath string) (*models.ShortLink, string, error) {
	if filePath == "" {
		return nil, "", fmt.Errorf("file path is required")
	}

	token, err := generateToken()
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate token: %w", err)
	}

	link := &models.ShortLink{
		Token:     token,
		FilePath:  filePath,
		ExpiresAt: time.Now().UTC().Add(time.Duration(s.cfg.TTLHours) * time.Hour),
	}

	id, err := s.repo.ShortLink().Create(ctx, link)
	if err != nil {
		return nil, "", fmt.Errorf("failed to store short link: %w", err)
	}
	link.ID = id

	return link, s.URL(token), nil
}

// Resolve returns the link for a live token and counts the download.
func (s *shortLinkService) Resolve(ctx context.Context, token string) (*models.ShortLink, error) {
	token = strings.TrimSuffix(token, ".pdf")

	link, err := s.repo.ShortLink().GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if link.Expired(time.Now().UTC()) {
		return nil, ErrLinkExpired
	}

	if err := s.repo.ShortLink().IncrementDownloads(ctx, link.ID); err != nil {
		s.logger.Warn("Failed to count download", zap.String("token", token), zap.Error(err))
	}

	return link, nil
}

func (s *shortLinkService) List(ctx context.Context, limit, offset int) ([]*models.ShortLink, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.repo.ShortLink().List(ctx, limit, offset)
}

func (s *shortLinkService) Delete(ctx context.Context, id int64) error {
	return s.repo.ShortLink().Delete(ctx, id)
}

func (s *shortLinkService) DeleteExpired(ctx context.Context) (int64, error) {
	deleted, err := s.repo.ShortLink().DeleteExpired(ctx, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		s.logger.Info("Expired short links removed", zap.Int64("deleted", deleted))
	}
	return deleted, nil
}

// URL builds the public form of a token. The ".pdf" suffix stays on the
// URL, not the token, so providers that sniff media type from the path are
// satisfied.
func (s *shortLinkService) URL(token string) string {
	return strings.TrimSuffix(s.cfg.BaseURL, "/") + "/t/" + token + ".pdf"
}

func generateToken() (string, error) {
	var sb strings.Builder
	max := big.NewInt(int64(len(tokenAlphabet)))
	for i := 0; i < tokenLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		sb.WriteByte(tokenAlphabet[n.Int64()])
	}
	return sb.String(), nil
}
