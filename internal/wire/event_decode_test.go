package wire

import (
	"testing"

	"github.com/sessionrelay/hub/internal/domain"
)

func TestParseRpcEvent_Known(t *testing.T) {
	ev := ParseRpcEvent("s1", nil, "agent_start", []byte(`{"type":"agent_start"}`))
	if ev.Type != domain.EventAgentStart {
		t.Fatalf("got type %q", ev.Type)
	}
	if ev.SessionID != "s1" {
		t.Fatalf("got session id %q", ev.SessionID)
	}
}

func TestParseRpcEvent_Unknown(t *testing.T) {
	ev := ParseRpcEvent("s1", nil, "some_future_type", []byte(`{"foo":1}`))
	if ev.Type != domain.EventUnknown {
		t.Fatalf("expected unknown type, got %q", ev.Type)
	}
	if ev.RawType != "some_future_type" {
		t.Fatalf("expected raw type preserved, got %q", ev.RawType)
	}
	if string(ev.RawBytes) != `{"foo":1}` {
		t.Fatalf("expected raw bytes preserved for lossless forwarding")
	}
}

func TestParseRpcEvent_ExtensionUIRequest(t *testing.T) {
	ev := ParseRpcEvent("s1", nil, "extension_ui_request", []byte(`{"method":"setTitle","params":{"title":"hi"}}`))
	if ev.Type != domain.EventExtensionUIRequest {
		t.Fatalf("got type %q", ev.Type)
	}
	if ev.ExtraField.Method != "setTitle" {
		t.Fatalf("got method %q", ev.ExtraField.Method)
	}
}

func TestCanonicalAssistantSubEvent(t *testing.T) {
	cases := map[string]string{
		"text_start":     "text_delta",
		"toolcall_start": "tool_use_start",
		"start":          "message_start",
		"text_delta":     "text_delta", // already canonical, passthrough
	}
	for in, want := range cases {
		if got := CanonicalAssistantSubEvent(in); got != want {
			t.Errorf("CanonicalAssistantSubEvent(%q) = %q, want %q", in, got, want)
		}
	}
}
