package bokun

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/oldtowntours/ticketdesk/internal/config"
)

// Client is the read side of the Bokun REST API used by reconciliation.
type Client interface {
	// SearchUpcomingBookings fetches every currently-bookable upstream
	// record, paging internally.
	SearchUpcomingBookings(ctx context.Context) ([]SearchResult, error)
	// GetBooking fetches the full detail view for one confirmation code.
	GetBooking(ctx context.Context, confirmationCode string) (*BookingDetails, error)
}

const dateHeaderFormat = "2006-01-02 15:04:05"

type httpClient struct {
	rc        *resty.Client
	accessKey string
	secretKey string
	pageSize  int
	// limiter paces every upstream call to respect the vendor's
	// requests-per-minute ceiling, per page and per record.
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewClient builds the REST client. The inter-call delay from the config
// becomes the limiter interval so pacing applies to every request,
// including pages inside one logical search.
func NewClient(cfg *config.BokunConfig, logger *zap.Logger) Client {
	delay := cfg.CallDelay()
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}

	rc := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(time.Duration(cfg.Timeout) * time.Second).
		SetHeader("Content-Type", "application/json")

	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	return &httpClient{
		rc:        rc,
		accessKey: cfg.AccessKey,
		secretKey: cfg.SecretKey,
		pageSize:  pageSize,
		limiter:   rate.NewLimiter(rate.Every(delay), 1),
		logger:    logger,
	}
}

func (c *httpClient) SearchUpcomingBookings(ctx context.Context) ([]SearchResult, error) {
	var all []SearchResult

	for page := 1; ; page++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter interrupted: %w", err)
		}

		path := "/booking.json/booking-search"
		body := map[string]interface{}{
			"bookingStatuses": []string{"CONFIRMED"},
			"startDateRange":  map[string]string{"from": time.Now().UTC().Format("2006-01-02")},
			"pageSize":        c.pageSize,
			"page":            page,
		}

		var out searchResponse
		resp, err := c.signed("POST", path).
			SetContext(ctx).
			SetBody(body).
			SetResult(&out).
			Post(path)
		if err != nil {
			return nil, fmt.Errorf("booking search failed: %w", err)
		}
		if resp.IsError() {
			return nil, fmt.Errorf("booking search returned status %d", resp.StatusCode())
		}

		all = append(all, out.Results...)

		c.logger.Debug("Fetched booking search page",
			zap.Int("page", page),
			zap.Int("results", len(out.Results)),
			zap.Int("total_hits", out.TotalHits))

		if len(out.Results) < c.pageSize {
			break
		}
	}

	return all, nil
}

func (c *httpClient) GetBooking(ctx context.Context, confirmationCode string) (*BookingDetails, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter interrupted: %w", err)
	}

	path := fmt.Sprintf("/booking.json/booking/%s", confirmationCode)

	var out BookingDetails
	resp, err := c.signed("GET", path).
		SetContext(ctx).
		SetResult(&out).
		Get(path)
	if err != nil {
		return nil, fmt.Errorf("booking detail fetch failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("booking detail returned status %d", resp.StatusCode())
	}

	return &out, nil
}

// signed prepares a request carrying the Bokun access-key headers. The
// signature is HMAC-SHA1 over date + access key + method + path, base64
// encoded, per the vendor's API authentication scheme.
func (c *httpClient) signed(method, path string) *resty.Request {
	date := time.Now().UTC().Format(dateHeaderFormat)

	mac := hmac.New(sha1.New, []byte(c.secretKey))
	mac.Write([]byte(date + c.accessKey + method + path))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return c.rc.R().
		SetHeader("X-Bokun-Date", date).
		SetHeader("X-Bokun-AccessKey", c.accessKey).
		SetHeader("X-Bokun-Signature", signature)
}
