package alerts

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeChannel struct {
	id     string
	fail   bool
	panics bool
	sent   chan string
}

func newFakeChannel(id string) *fakeChannel {
	return &fakeChannel{id: id, sent: make(chan string, 4)}
}

func (f *fakeChannel) ID() string   { return f.id }
func (f *fakeChannel) Type() string { return "fake" }

func (f *fakeChannel) Send(_ context.Context, message string, _ MessageContext) error {
	if f.panics {
		panic("channel blew up")
	}
	f.sent <- message
	if f.fail {
		return errors.New("remote rejected the message")
	}
	return nil
}

func waitFor(t *testing.T, ch chan string) string {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a channel send")
		return ""
	}
}

func TestDispatchReachesAllChannels(t *testing.T) {
	d := NewDispatcher(nil)
	a, b := newFakeChannel("a"), newFakeChannel("b")

	d.Dispatch([]Channel{a, b}, "hello", MessageContext{Event: "test"})

	if got := waitFor(t, a.sent); got != "hello" {
		t.Errorf("channel a got %q", got)
	}
	if got := waitFor(t, b.sent); got != "hello" {
		t.Errorf("channel b got %q", got)
	}
}

func TestDispatchIsolatesFailingChannel(t *testing.T) {
	d := NewDispatcher(nil)
	bad := newFakeChannel("bad")
	bad.fail = true
	good := newFakeChannel("good")

	d.Dispatch([]Channel{bad, good}, "alert text", MessageContext{Event: "alert"})

	waitFor(t, bad.sent)
	if got := waitFor(t, good.sent); got != "alert text" {
		t.Errorf("healthy channel got %q", got)
	}
}

func TestDispatchIsolatesPanickingChannel(t *testing.T) {
	d := NewDispatcher(nil)
	bad := newFakeChannel("bad")
	bad.panics = true
	good := newFakeChannel("good")

	d.Dispatch([]Channel{bad, good}, "alert text", MessageContext{Event: "alert"})

	if got := waitFor(t, good.sent); got != "alert text" {
		t.Errorf("healthy channel got %q", got)
	}
}
