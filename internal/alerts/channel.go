package alerts

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
)

// Channel kinds. A closed set: validation of required fields happens at
// configuration time, not at send time.
const (
	ChannelWebhook  = "webhook"
	ChannelTelegram = "telegram"
)

// MessageContext carries the structured context alongside a notification
// message so channels can render richer payloads than plain text.
type MessageContext struct {
	Event     string // "alert" | "recovery" | "test"
	NodeName  string
	DeviceID  string
	Timestamp string // RFC3339
	Embed     Embed
}

// Embed is a webhook-style rich payload block.
type Embed struct {
	Title       string
	Description string
	Color       int
	Fields      []EmbedField
	FooterText  string
}

// EmbedField is one name/value pair inside an Embed.
type EmbedField struct {
	Name   string
	Value  string
	Inline bool
}

// Channel is one outbound notification integration.
type Channel interface {
	ID() string
	Type() string
	Send(ctx context.Context, message string, mc MessageContext) error
}

// ChannelConfig is the tagged-union configuration for one channel. Type
// selects the variant; the variant's fields must be present when the
// channel is enabled.
type ChannelConfig struct {
	ID      string `json:"id,omitempty"`
	Type    string `json:"type"`
	Enabled bool   `json:"enabled"`

	// webhook variant
	WebhookURL string `json:"webhook_url,omitempty"`

	// telegram variant
	BotToken string `json:"bot_token,omitempty"`
	ChatID   string `json:"chat_id,omitempty"`
}

// validate checks the variant's required fields. Disabled channels are kept
// as-is so a UI can round-trip them without losing credentials.
func (c ChannelConfig) validate() error {
	if !c.Enabled {
		return nil
	}
	switch c.Type {
	case ChannelWebhook:
		if strings.TrimSpace(c.WebhookURL) == "" {
			return fmt.Errorf("%w: webhook channels require a webhook_url", ErrInvalidSettings)
		}
	case ChannelTelegram:
		if strings.TrimSpace(c.BotToken) == "" || strings.TrimSpace(c.ChatID) == "" {
			return fmt.Errorf("%w: telegram channels require both bot_token and chat_id", ErrInvalidSettings)
		}
	}
	return nil
}

// normalizeChannels validates every entry and assigns stable IDs to entries
// that lack one. Unknown channel types are dropped with a warning so a newer
// document does not break an older process.
func normalizeChannels(cfgs []ChannelConfig) ([]ChannelConfig, error) {
	out := make([]ChannelConfig, 0, len(cfgs))
	for _, c := range cfgs {
		switch c.Type {
		case ChannelWebhook, ChannelTelegram:
		default:
			slog.Warn("alerts: ignoring unknown channel type", "type", c.Type)
			continue
		}
		if err := c.validate(); err != nil {
			return nil, err
		}
		if c.ID == "" {
			c.ID = newChannelID()
		}
		out = append(out, c)
	}
	return out, nil
}

// buildChannels constructs the live Channel implementations for all enabled
// entries of an already-normalized config list.
func buildChannels(cfgs []ChannelConfig) []Channel {
	out := make([]Channel, 0, len(cfgs))
	for _, c := range cfgs {
		if !c.Enabled {
			continue
		}
		switch c.Type {
		case ChannelWebhook:
			out = append(out, NewWebhookChannel(c.ID, c.WebhookURL))
		case ChannelTelegram:
			out = append(out, NewTelegramChannel(c.ID, c.BotToken, c.ChatID))
		}
	}
	return out
}

func newChannelID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		// rand.Read never fails on supported platforms.
		panic(err)
	}
	return hex.EncodeToString(b[:])
}
