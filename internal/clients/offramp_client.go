package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"

	"locker-backend/internal/config"
)

// OffRampClient off-ramp account provider client
type OffRampClient struct {
	baseURL    string
	apiKey     string
	maxTries   uint
	httpClient *http.Client
	logger     *logrus.Logger
	newBackOff func() backoff.BackOff
}

// settlementAddressResponse provider answer for one account and chain
type settlementAddressResponse struct {
	Address string `json:"address"`
}

// NewOffRampClient creates a new off-ramp provider client
func NewOffRampClient(cfg config.OffRampConfig, logger *logrus.Logger) *OffRampClient {
	timeout := 15 * time.Second
	if cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout) * time.Second
	}
	maxTries := uint(3)
	if cfg.MaxRetries > 0 {
		maxTries = uint(cfg.MaxRetries)
	}
	return &OffRampClient{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:   cfg.APIKey,
		maxTries: maxTries,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
		newBackOff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff()
		},
	}
}

// ResolveSettlementAddress returns the address the off-ramp account settles from on the chain.
// An unknown account or unsupported chain yields "" with no error.
func (c *OffRampClient) ResolveSettlementAddress(ctx context.Context, accountID string, chainID int64) (string, error) {
	if accountID == "" {
		return "", nil
	}

	endpoint := fmt.Sprintf("%s/accounts/%s/settlement-address?chainId=%s",
		c.baseURL, url.PathEscape(accountID), strconv.FormatInt(chainID, 10))

	operation := func() (string, error) {
		return c.fetchSettlementAddress(ctx, endpoint)
	}

	address, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(c.newBackOff()),
		backoff.WithMaxTries(c.maxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.WithFields(logrus.Fields{
				"account_id": accountID,
				"chain_id":   chainID,
				"retry_in":   next.String(),
			}).Warnf("⚠️ [OffRamp] Settlement address lookup failed, retrying: %v", err)
		}),
	)
	if err != nil {
		return "", fmt.Errorf("failed to resolve settlement address for account %s: %w", accountID, err)
	}
	return strings.ToLower(address), nil
}

func (c *OffRampClient) fetchSettlementAddress(ctx context.Context, endpoint string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return "", fmt.Errorf("off-ramp provider returned status %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return "", backoff.Permanent(fmt.Errorf("off-ramp provider returned status %d: %s", resp.StatusCode, string(body)))
	}

	var result settlementAddressResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", backoff.Permanent(fmt.Errorf("failed to parse response: %w", err))
	}
	return result.Address, nil
}
