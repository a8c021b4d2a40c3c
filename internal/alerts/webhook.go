package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Embed colors per event kind (Discord-compatible decimal RGB).
const (
	alertEmbedColor    = 0xF04747
	recoveryEmbedColor = 0x43B581
	testEmbedColor     = 0x5865F2
)

const webhookBotName = "GPU Hot"

// WebhookChannel posts Discord-style webhook payloads: a short content line
// plus one rich embed rendered from the message context.
type WebhookChannel struct {
	id     string
	url    string
	client *http.Client
}

// NewWebhookChannel creates a webhook channel targeting url.
func NewWebhookChannel(id, url string) *WebhookChannel {
	return &WebhookChannel{
		id:     id,
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *WebhookChannel) ID() string   { return w.id }
func (w *WebhookChannel) Type() string { return ChannelWebhook }

// Send posts the message. A non-2xx response is a send failure.
func (w *WebhookChannel) Send(ctx context.Context, message string, mc MessageContext) error {
	embed := map[string]any{
		"title": mc.Embed.Title,
		"color": embedColor(mc),
	}
	if mc.Embed.Description != "" {
		embed["description"] = mc.Embed.Description
	}
	if len(mc.Embed.Fields) > 0 {
		fields := make([]map[string]any, 0, len(mc.Embed.Fields))
		for _, f := range mc.Embed.Fields {
			fields = append(fields, map[string]any{
				"name":   f.Name,
				"value":  f.Value,
				"inline": f.Inline,
			})
		}
		embed["fields"] = fields
	}
	if mc.Embed.FooterText != "" {
		embed["footer"] = map[string]any{"text": mc.Embed.FooterText}
	}
	if mc.Timestamp != "" {
		embed["timestamp"] = mc.Timestamp
	}

	payload := map[string]any{
		"username":         webhookBotName,
		"embeds":           []any{embed},
		"allowed_mentions": map[string]any{"parse": []string{}},
	}
	if mc.Event == "test" {
		payload["content"] = message
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func embedColor(mc MessageContext) int {
	if mc.Embed.Color != 0 {
		return mc.Embed.Color
	}
	switch mc.Event {
	case "alert":
		return alertEmbedColor
	case "recovery":
		return recoveryEmbedColor
	default:
		return testEmbedColor
	}
}
