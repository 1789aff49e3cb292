package wire

import (
	"encoding/json"

	"github.com/sessionrelay/hub/internal/domain"
)

// knownEventTypes is the closed set from spec §6. Anything else decodes
// to domain.EventUnknown with RawType preserved.
var knownEventTypes = map[string]domain.EventType{
	"agent_start":           domain.EventAgentStart,
	"agent_end":             domain.EventAgentEnd,
	"turn_start":            domain.EventTurnStart,
	"turn_end":              domain.EventTurnEnd,
	"message_start":         domain.EventMessageStart,
	"message_update":        domain.EventMessageUpdate,
	"message_end":           domain.EventMessageEnd,
	"tool_execution_start":  domain.EventToolExecutionStart,
	"tool_execution_update": domain.EventToolExecutionUpdate,
	"tool_execution_end":    domain.EventToolExecutionEnd,
	"auto_compaction_start": domain.EventAutoCompactionStart,
	"auto_compaction_end":   domain.EventAutoCompactionEnd,
	"auto_retry_start":      domain.EventAutoRetryStart,
	"auto_retry_end":        domain.EventAutoRetryEnd,
	"extension_error":       domain.EventExtensionError,
	"extension_ui_request":  domain.EventExtensionUIRequest,
	"state_update":          domain.EventStateUpdate,
	"model_changed":         domain.EventModelChanged,
	"native_tool_request":   domain.EventNativeToolRequest,
	"native_tool_cancel":    domain.EventNativeToolCancel,
	"response":              domain.EventResponse,
}

// assistantSubEventAliases maps legacy assistant-message sub-event names
// (carried inside message_update.payload.event) onto their canonical form.
var assistantSubEventAliases = map[string]string{
	"text_start":     "text_delta",
	"text_end":       "text_delta",
	"toolcall_start": "tool_use_start",
	"toolcall_delta": "tool_use_input_delta",
	"toolcall_end":   "tool_use_end",
	"start":          "message_start",
	"done":           "message_end",
}

// CanonicalAssistantSubEvent resolves a legacy alias to its canonical name,
// or returns the input unchanged if it is not an alias.
func CanonicalAssistantSubEvent(name string) string {
	if canonical, ok := assistantSubEventAliases[name]; ok {
		return canonical
	}
	return name
}

type extensionUIRequestPayload struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// ParseRpcEvent decodes a wire type discriminant and raw payload bytes into
// a domain.RpcEvent. Unknown types are preserved, not rejected, so the hub
// can still journal and forward them (spec §4.1).
func ParseRpcEvent(sessionID string, seq *uint64, typ string, rawBytes []byte) domain.RpcEvent {
	ev := domain.RpcEvent{
		SessionID: sessionID,
		Seq:       seq,
		RawBytes:  rawBytes,
		RawType:   typ,
	}

	known, ok := knownEventTypes[typ]
	if !ok {
		ev.Type = domain.EventUnknown
		return ev
	}
	ev.Type = known

	if known == domain.EventExtensionUIRequest {
		var p extensionUIRequestPayload
		if err := json.Unmarshal(rawBytes, &p); err == nil {
			ev.ExtraField = domain.ExtensionUIRequest{Method: p.Method, Params: p.Params}
		}
	}

	return ev
}
