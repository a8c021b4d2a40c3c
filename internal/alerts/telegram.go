package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// TelegramChannel sends plain-text messages through the Telegram bot API.
type TelegramChannel struct {
	id       string
	endpoint string
	chatID   string
	client   *http.Client
}

// NewTelegramChannel creates a channel for the given bot token and chat.
func NewTelegramChannel(id, botToken, chatID string) *TelegramChannel {
	return &TelegramChannel{
		id:       id,
		endpoint: fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", botToken),
		chatID:   chatID,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *TelegramChannel) ID() string   { return t.id }
func (t *TelegramChannel) Type() string { return ChannelTelegram }

// Send posts the message text to the configured chat.
func (t *TelegramChannel) Send(ctx context.Context, message string, _ MessageContext) error {
	payload := map[string]any{
		"chat_id":              t.chatID,
		"text":                 message,
		"disable_notification": false,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("telegram returned HTTP %d: %s", resp.StatusCode, detail)
	}
	return nil
}
