package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/tranzio/tranzio-api/internal/core/port"
	"github.com/tranzio/tranzio-api/internal/infra/config"
	"github.com/tranzio/tranzio-api/internal/infra/logger"
)

const defaultTimeout = 10 * time.Second

// Client sends OTP messages through an HTTP SMS gateway using its otp route.
type Client struct {
	apiKey     string
	baseURL    string
	sender     string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient builds a gateway client from settings.
func NewClient(cfg config.SMSSettings, log *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("sms base url is required")
	}
	if cfg.APIKey == "" {
		return nil, errors.New("sms api key is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Client{
		apiKey:     cfg.APIKey,
		baseURL:    cfg.BaseURL,
		sender:     cfg.SenderID,
		httpClient: &http.Client{Timeout: timeout},
		logger:     log,
	}, nil
}

type sendRequest struct {
	Route     string `json:"route"`
	Numbers   string `json:"numbers"`
	Variables string `json:"variables"`
	SenderID  string `json:"sender_id,omitempty"`
}

// SendOTP posts the code to the gateway. The code itself is never logged.
func (c *Client) SendOTP(ctx context.Context, mobile, code string, _ time.Time) error {
	raw, err := json.Marshal(sendRequest{
		Route:     "otp",
		Numbers:   mobile,
		Variables: code,
		SenderID:  c.sender,
	})
	if err != nil {
		return fmt.Errorf("sms: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("sms: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sms: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("sms: gateway returned status=%d body=%s", resp.StatusCode, string(body))
	}

	c.logger.Info("otp sms dispatched", zap.String("to", logger.MaskPhone(mobile)))
	return nil
}

var _ port.SMSSender = (*Client)(nil)
