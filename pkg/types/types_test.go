package types

import "testing"

func TestFloat_Coercions(t *testing.T) {
	m := DeviceMetrics{
		"f64": 91.5,
		"int": 42,
		"str": "73.2",
		"bad": "hot",
		"nil": nil,
	}

	cases := []struct {
		key  string
		want float64
		ok   bool
	}{
		{"f64", 91.5, true},
		{"int", 42, true},
		{"str", 73.2, true},
		{"bad", 0, false},
		{"nil", 0, false},
		{"missing", 0, false},
	}
	for _, c := range cases {
		got, ok := m.Float(c.key)
		if ok != c.ok || got != c.want {
			t.Errorf("Float(%q): got (%v, %v), want (%v, %v)", c.key, got, ok, c.want, c.ok)
		}
	}
}

func TestDisplayName(t *testing.T) {
	named := DeviceMetrics{"name": "NVIDIA RTX 3090"}
	if got := named.DisplayName("0"); got != "NVIDIA RTX 3090" {
		t.Errorf("DisplayName: got %q", got)
	}
	anon := DeviceMetrics{}
	if got := anon.DisplayName("2"); got != "GPU 2" {
		t.Errorf("DisplayName fallback: got %q", got)
	}
}

func TestUUID_Placeholder(t *testing.T) {
	m := DeviceMetrics{"uuid": "N/A"}
	if got := m.UUID(); got != "" {
		t.Errorf("UUID: placeholder should map to empty, got %q", got)
	}
	m["uuid"] = "GPU-123"
	if got := m.UUID(); got != "GPU-123" {
		t.Errorf("UUID: got %q", got)
	}
}
