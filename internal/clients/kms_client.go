package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go-relayer/internal/config"
)

// KMSClient remote signing service client. The operator key never leaves the KMS;
// the relayer sends the transaction signing hash and receives a 65-byte signature.
type KMSClient struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
}

// KMSSignRequest dual-layer decryption signature request
type KMSSignRequest struct {
	KeyAlias string `json:"key_alias"`
	ChainID  int64  `json:"chain_id"`
	Data     string `json:"data"` // hash to sign (hex)
	K1       string `json:"k1"`   // transport key K1 (Base64)
}

// KMSSignResponse dual-layer decryption signature response
type KMSSignResponse struct {
	Success   bool   `json:"success"`
	Signature string `json:"signature,omitempty"`
	Error     string `json:"error,omitempty"`
}

// KMSGetKeysResponse stored key listing
type KMSGetKeysResponse struct {
	Success bool         `json:"success"`
	Count   int          `json:"count"`
	Keys    []KMSKeyInfo `json:"keys"`
	Error   string       `json:"error,omitempty"`
}

// KMSKeyInfo stored key metadata
type KMSKeyInfo struct {
	KeyAlias      string    `json:"key_alias"`
	ChainID       int64     `json:"chain_id"`
	PublicAddress string    `json:"public_address"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
}

// NewKMSClient creates a KMS client
func NewKMSClient(cfg config.KMSConfig) *KMSClient {
	timeout := 30 * time.Second
	if cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout) * time.Second
	}

	return &KMSClient{
		baseURL:   cfg.ServiceURL,
		authToken: cfg.AuthToken,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// SignWithKMS asks the KMS to sign dataToSign with the key behind keyAlias
func (c *KMSClient) SignWithKMS(ctx context.Context, keyAlias string, k1 string, dataToSign string, chainID int64) (*KMSSignResponse, error) {
	req := KMSSignRequest{
		KeyAlias: keyAlias,
		ChainID:  chainID,
		Data:     dataToSign,
		K1:       k1,
	}

	response, err := c.makeRequest(ctx, http.MethodPost, "/api/v1/dual-layer/sign", req)
	if err != nil {
		return nil, fmt.Errorf("KMS sign request failed: %w", err)
	}

	var signResp KMSSignResponse
	if err := json.Unmarshal(response, &signResp); err != nil {
		return nil, fmt.Errorf("failed to parse KMS sign response: %w", err)
	}

	if !signResp.Success {
		return nil, fmt.Errorf("KMS sign failed: %s", signResp.Error)
	}

	return &signResp, nil
}

// GetKeyByAlias looks up a stored key, used at startup to confirm the operator address
func (c *KMSClient) GetKeyByAlias(ctx context.Context, keyAlias string, chainID int64) (*KMSKeyInfo, error) {
	response, err := c.makeRequest(ctx, http.MethodGet, "/api/v1/keys", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list KMS keys: %w", err)
	}

	var keysResp KMSGetKeysResponse
	if err := json.Unmarshal(response, &keysResp); err != nil {
		return nil, fmt.Errorf("failed to parse KMS key listing: %w", err)
	}
	if !keysResp.Success {
		return nil, fmt.Errorf("failed to list KMS keys: %s", keysResp.Error)
	}

	for _, key := range keysResp.Keys {
		if key.KeyAlias == keyAlias && (chainID == 0 || key.ChainID == chainID) {
			return &key, nil
		}
	}

	return nil, fmt.Errorf("KMS key not found: alias=%s, chainID=%d", keyAlias, chainID)
}

// HealthCheck checks the KMS service reports healthy
func (c *KMSClient) HealthCheck(ctx context.Context) error {
	response, err := c.makeRequest(ctx, http.MethodGet, "/api/v1/health", nil)
	if err != nil {
		return fmt.Errorf("KMS health check failed: %w", err)
	}

	var healthResp struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(response, &healthResp); err != nil {
		return fmt.Errorf("failed to parse KMS health response: %w", err)
	}

	if healthResp.Status != "healthy" {
		return fmt.Errorf("KMS service status: %s", healthResp.Status)
	}

	return nil
}

func (c *KMSClient) makeRequest(ctx context.Context, method, path string, data interface{}) ([]byte, error) {
	var body io.Reader
	if data != nil {
		jsonData, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "go-relayer/1.0")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
		req.Header.Set("X-Service-Name", "go-relayer")
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
		return nil, fmt.Errorf("HTTP request failed: status=%d, body=%s", resp.StatusCode, string(responseBody))
	}

	return responseBody, nil
}
