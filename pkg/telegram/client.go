package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ClientConfig points the sender at the session gateway that owns the actual
// Telegram accounts.
type ClientConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// HTTPSender delivers messages through the gateway's REST API. Error bodies
// are surfaced verbatim so platform signatures (FLOOD_WAIT_n, USER_IS_BLOCKED)
// reach the classification helpers.
type HTTPSender struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewHTTPSender(cfg ClientConfig) *HTTPSender {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPSender{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		client:  &http.Client{Timeout: timeout},
	}
}

type sendRequest struct {
	Recipient string `json:"recipient"`
	Text      string `json:"text"`
	Image     string `json:"image,omitempty"`
}

func (s *HTTPSender) Send(ctx context.Context, recipient string, msg Message) error {
	body, err := json.Marshal(sendRequest{
		Recipient: recipient,
		Text:      msg.Text,
		Image:     msg.Image,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal send request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/send", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("send rejected with status %d: %s", resp.StatusCode, string(detail))
}
