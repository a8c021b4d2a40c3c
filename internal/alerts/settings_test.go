package alerts

import (
	"encoding/json"
	"testing"
)

func TestUpdateDistinguishesAbsentFromNull(t *testing.T) {
	var absent Update
	if err := json.Unmarshal([]byte(`{}`), &absent); err != nil {
		t.Fatal(err)
	}
	if absent.ResetDelta.Set {
		t.Error("absent reset_delta should not be marked set")
	}

	var null Update
	if err := json.Unmarshal([]byte(`{"reset_delta": null}`), &null); err != nil {
		t.Fatal(err)
	}
	if !null.ResetDelta.Set || null.ResetDelta.Value != nil {
		t.Errorf("explicit null should set with nil value, got %+v", null.ResetDelta)
	}

	var num Update
	if err := json.Unmarshal([]byte(`{"reset_delta": 7.5}`), &num); err != nil {
		t.Fatal(err)
	}
	if !num.ResetDelta.Set || num.ResetDelta.Value == nil || *num.ResetDelta.Value != 7.5 {
		t.Errorf("numeric reset_delta lost, got %+v", num.ResetDelta)
	}
}

func TestDocumentMarshalsNullResetDelta(t *testing.T) {
	raw, err := json.Marshal(OptFloat{Set: true, Value: nil})
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != "null" {
		t.Errorf("got %s, want null", raw)
	}
}
