package alerts

import (
	"encoding/json"
	"errors"
	"strconv"
)

// Validation and persistence failures are distinct error classes: a rejected
// payload changed nothing, while a persistence failure means the in-memory
// change applied but is not durable. API handlers map them to different
// status codes.
var (
	ErrInvalidSettings = errors.New("invalid alert settings")
	ErrPersistSettings = errors.New("persist alert settings")
	ErrNoChannels      = errors.New("no notification channels are configured")
)

// OptFloat distinguishes an absent JSON field from an explicit null:
// reset_delta accepts null to mean "no hysteresis, recover immediately".
type OptFloat struct {
	Set   bool
	Value *float64
}

func (o *OptFloat) UnmarshalJSON(b []byte) error {
	o.Set = true
	if string(b) == "null" {
		o.Value = nil
		return nil
	}
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return err
	}
	o.Value = &f
	return nil
}

func (o OptFloat) MarshalJSON() ([]byte, error) {
	if o.Value == nil {
		return []byte("null"), nil
	}
	return json.Marshal(*o.Value)
}

// StoredRule is one rule's persisted numeric state.
type StoredRule struct {
	Name       string   `json:"name"`
	Threshold  float64  `json:"threshold"`
	ResetDelta *float64 `json:"reset_delta"`
}

// Document is the full serializable settings form persisted by a
// SettingsStore and used as the defaults block in API responses.
type Document struct {
	Enabled         bool            `json:"enabled"`
	CooldownSeconds float64         `json:"cooldown_seconds"`
	ResetDelta      *float64        `json:"reset_delta"`
	Rules           []StoredRule    `json:"rules"`
	Channels        []ChannelConfig `json:"channels"`
}

// RuleUpdate is one rule's entry in a partial settings payload. Unknown rule
// names are silently ignored for forward-compatibility.
type RuleUpdate struct {
	Name       string   `json:"name"`
	Threshold  *float64 `json:"threshold,omitempty"`
	ResetDelta OptFloat `json:"reset_delta"`
}

// Update is a partial settings payload: any subset of the fields may be
// present, and only present fields are applied.
type Update struct {
	Enabled         *bool            `json:"enabled,omitempty"`
	CooldownSeconds *float64         `json:"cooldown_seconds,omitempty"`
	ResetDelta      OptFloat         `json:"reset_delta"`
	Rules           []RuleUpdate     `json:"rules,omitempty"`
	Channels        *[]ChannelConfig `json:"channels,omitempty"`
}

// RuleView is one rule in the settings API response.
type RuleView struct {
	Name       string   `json:"name"`
	Label      string   `json:"label"`
	Unit       string   `json:"unit"`
	Threshold  float64  `json:"threshold"`
	ResetDelta *float64 `json:"reset_delta"`
	IsEnabled  bool     `json:"is_enabled"`
}

// Settings is the full snapshot returned by the settings API.
type Settings struct {
	Enabled               bool            `json:"enabled"`
	CooldownSeconds       float64         `json:"cooldown_seconds"`
	ResetDelta            *float64        `json:"reset_delta"`
	Rules                 []RuleView      `json:"rules"`
	Channels              []ChannelConfig `json:"channels"`
	AvailableChannelNames []string        `json:"available_channel_names"`
	Configured            bool            `json:"configured"`
	Active                bool            `json:"active"`
	Persisted             bool            `json:"persisted"`
	Defaults              Document        `json:"defaults"`
}
