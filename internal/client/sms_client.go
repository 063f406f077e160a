package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"reset-service/internal/config"
	"reset-service/internal/util"
)

// SMSClient delivers reset codes through the Twilio Messages API. Calls are
// bounded by the configured timeout and never retried here; retry policy
// belongs to the operator.
type SMSClient struct {
	httpClient *http.Client
	accountSID string
	authToken  string
	from       string
	baseURL    string
	template   string
}

func NewSMSClient(cfg *config.Config) (*SMSClient, error) {
	smsConfig := cfg.SMS
	if smsConfig.AccountSID == "" || smsConfig.AuthToken == "" || smsConfig.FromNumber == "" {
		return nil, fmt.Errorf("twilio credentials are not configured")
	}

	util.Info("SMS client initialized",
		zap.String("from", util.MaskPhone(smsConfig.FromNumber)),
		zap.Duration("timeout", smsConfig.Timeout))

	return &SMSClient{
		httpClient: &http.Client{Timeout: smsConfig.Timeout},
		accountSID: smsConfig.AccountSID,
		authToken:  smsConfig.AuthToken,
		from:       smsConfig.FromNumber,
		baseURL:    strings.TrimSuffix(smsConfig.APIBaseURL, "/"),
		template:   smsConfig.BodyTemplate,
	}, nil
}

// SendCode delivers the plaintext code to the phone. A non-2xx response or a
// transport error fails the whole issuance; the caller must not report
// success to the user.
func (c *SMSClient) SendCode(ctx context.Context, phone, code string) error {
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", c.baseURL, c.accountSID)

	form := url.Values{}
	form.Set("To", phone)
	form.Set("From", c.from)
	form.Set("Body", fmt.Sprintf(c.template, code))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build twilio request: %w", err)
	}
	req.SetBasicAuth(c.accountSID, c.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("twilio request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		util.Error("Twilio rejected message",
			zap.Int("status", resp.StatusCode),
			zap.String("to", util.MaskPhone(phone)),
			zap.ByteString("response", body))
		return fmt.Errorf("twilio returned status %d", resp.StatusCode)
	}

	util.Debug("Reset code dispatched",
		zap.String("to", util.MaskPhone(phone)))
	return nil
}

// HealthCheck verifies the Twilio account resource is reachable.
func (c *SMSClient) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s.json", c.baseURL, c.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.accountSID, c.authToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("twilio health check failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("twilio health check returned status %d", resp.StatusCode)
	}
	return nil
}
