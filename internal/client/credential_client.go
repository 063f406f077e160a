package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"reset-service/internal/config"
	"reset-service/internal/util"
)

// CredentialClient calls the storefront platform's admin API to set a new
// password for an account. The service-role key authorizes the call; the
// endpoint is idempotent on the platform side.
type CredentialClient struct {
	httpClient *http.Client
	baseURL    string
	serviceKey string
}

func NewCredentialClient(cfg *config.Config) (*CredentialClient, error) {
	credConfig := cfg.Credential
	if credConfig.ServiceRoleKey == "" {
		return nil, fmt.Errorf("platform service role key is not configured")
	}

	util.Info("Credential client initialized",
		zap.String("base_url", credConfig.BaseURL),
		zap.Duration("timeout", credConfig.Timeout))

	return &CredentialClient{
		httpClient: &http.Client{Timeout: credConfig.Timeout},
		baseURL:    strings.TrimSuffix(credConfig.BaseURL, "/"),
		serviceKey: credConfig.ServiceRoleKey,
	}, nil
}

// UpdatePassword sets the account's password. Any failure leaves the OTP
// record untouched so the caller can retry without a new code.
func (c *CredentialClient) UpdatePassword(ctx context.Context, accountID, newPassword string) error {
	payload, err := json.Marshal(map[string]string{"password": newPassword})
	if err != nil {
		return fmt.Errorf("failed to encode password update: %w", err)
	}

	endpoint := fmt.Sprintf("%s/admin/users/%s/password", c.baseURL, accountID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build credential request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.serviceKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("credential store request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		util.Error("Credential store rejected password update",
			zap.Int("status", resp.StatusCode),
			zap.String("account_id", accountID),
			zap.ByteString("response", body))
		return fmt.Errorf("credential store returned status %d", resp.StatusCode)
	}

	util.Info("Account password updated",
		zap.String("account_id", accountID))
	return nil
}

// HealthCheck verifies the platform admin API is reachable.
func (c *CredentialClient) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("credential store health check failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("credential store health check returned status %d", resp.StatusCode)
	}
	return nil
}
