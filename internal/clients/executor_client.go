package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"locker-backend/internal/config"
)

// ExecutionPolicy identifies whose credential the executor should act with
type ExecutionPolicy struct {
	LockerID            string `json:"lockerId"`
	ChainID             int64  `json:"chainId"`
	EncryptedCredential string `json:"encryptedCredential"`
}

// CallPayload on-chain call the executor signs and submits
type CallPayload struct {
	To    string `json:"to"`
	Value string `json:"value"` // wei, base-10
	Data  string `json:"data"`  // 0x-prefixed call data
}

// ExecuteRequest executor submission request
type ExecuteRequest struct {
	Policy      ExecutionPolicy `json:"policy"`
	CallPayload CallPayload     `json:"callPayload"`
}

// ExecuteResponse executor submission response
type ExecuteResponse struct {
	TxHash string `json:"txHash,omitempty"`
	Error  string `json:"error,omitempty"`
}

// ExecutorError non-2xx answer from the executor
type ExecutorError struct {
	StatusCode int
	Message    string
}

func (e *ExecutorError) Error() string {
	return fmt.Sprintf("executor returned status %d: %s", e.StatusCode, e.Message)
}

// ExecutorClient session-key executor service client
type ExecutorClient struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
}

// NewExecutorClient Create executor client. A zero timeout leaves the call unbounded
// so a slow chain only blocks the locker lane waiting on it.
func NewExecutorClient(cfg config.ExecutorConfig) *ExecutorClient {
	httpClient := &http.Client{}
	if cfg.Timeout > 0 {
		httpClient.Timeout = time.Duration(cfg.Timeout) * time.Second
	}
	return &ExecutorClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		authToken:  cfg.AuthToken,
		httpClient: httpClient,
	}
}

// Execute submits one call and returns the transaction hash. Never retried: a
// resend after an ambiguous failure could move funds twice.
func (c *ExecutorClient) Execute(ctx context.Context, req ExecuteRequest) (string, error) {
	response, err := c.makeRequest(ctx, http.MethodPost, "/execute", req)
	if err != nil {
		return "", fmt.Errorf("executor request failed: %w", err)
	}

	var execResp ExecuteResponse
	if err := json.Unmarshal(response, &execResp); err != nil {
		return "", fmt.Errorf("failed to parse executor response: %w", err)
	}
	if execResp.Error != "" {
		return "", fmt.Errorf("executor rejected call: %s", execResp.Error)
	}
	if execResp.TxHash == "" {
		return "", fmt.Errorf("executor returned no transaction hash")
	}
	return execResp.TxHash, nil
}

// HealthCheck executor service check
func (c *ExecutorClient) HealthCheck(ctx context.Context) error {
	if _, err := c.makeRequest(ctx, http.MethodGet, "/health", nil); err != nil {
		return fmt.Errorf("executor health check failed: %w", err)
	}
	return nil
}

// makeRequest HTTP request
func (c *ExecutorClient) makeRequest(ctx context.Context, method, path string, data interface{}) ([]byte, error) {
	var body io.Reader
	if data != nil {
		jsonData, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "locker-backend/1.0")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
		req.Header.Set("X-Service-Name", "locker-backend")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ExecutorError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(responseBody))}
	}
	return responseBody, nil
}
