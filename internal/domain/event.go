package domain

import "time"

// Event is an immutable journal entry. Seq is assigned at append time and
// is contiguous per session (see journal.Store.Append).
type Event struct {
	SessionID string
	Seq       uint64
	Type      string
	Payload   []byte // raw JSON as emitted by the agent or journaled client command
	CreatedAt time.Time
}

// EventType is the closed set of sandbox event discriminants the transport
// decodes. Unknown types are preserved as EventTypeUnknown with the raw
// bytes kept for lossless forwarding.
type EventType string

const (
	EventAgentStart          EventType = "agent_start"
	EventAgentEnd            EventType = "agent_end"
	EventTurnStart           EventType = "turn_start"
	EventTurnEnd             EventType = "turn_end"
	EventMessageStart        EventType = "message_start"
	EventMessageUpdate       EventType = "message_update"
	EventMessageEnd          EventType = "message_end"
	EventToolExecutionStart  EventType = "tool_execution_start"
	EventToolExecutionUpdate EventType = "tool_execution_update"
	EventToolExecutionEnd    EventType = "tool_execution_end"
	EventAutoCompactionStart EventType = "auto_compaction_start"
	EventAutoCompactionEnd   EventType = "auto_compaction_end"
	EventAutoRetryStart      EventType = "auto_retry_start"
	EventAutoRetryEnd        EventType = "auto_retry_end"
	EventExtensionError      EventType = "extension_error"
	EventExtensionUIRequest  EventType = "extension_ui_request"
	EventStateUpdate         EventType = "state_update"
	EventModelChanged        EventType = "model_changed"
	EventNativeToolRequest   EventType = "native_tool_request"
	EventNativeToolCancel    EventType = "native_tool_cancel"
	EventResponse            EventType = "response"
	EventUnknown             EventType = "" // discriminant carried separately, see RpcEvent.RawType
)

// RpcEvent is the decoded tagged event the transport hands to the hub.
// Unknown types keep RawBytes so forwarding is lossless even though the
// relay cannot interpret them.
type RpcEvent struct {
	Type       EventType
	RawType    string // original wire type string, authoritative when Type == EventUnknown
	SessionID  string
	Seq        *uint64 // optional on legacy subprocess events
	RawBytes   []byte
	ExtraField ExtensionUIRequest // populated only when Type == EventExtensionUIRequest
}

// ExtensionUIRequest is the closed set of interactive prompt methods an
// agent can ask the controller client to answer.
type ExtensionUIRequest struct {
	Method string
	Params []byte
}

// ClientCommandType is the closed set of message types a client may send.
type ClientCommandType string

const (
	CmdPrompt              ClientCommandType = "prompt"
	CmdSteer               ClientCommandType = "steer"
	CmdFollowUp            ClientCommandType = "follow_up"
	CmdExtensionUIResponse ClientCommandType = "extension_ui_response"
	CmdAbort               ClientCommandType = "session.abort"
	CmdGetState            ClientCommandType = "session.get_state"
	CmdGetMessages         ClientCommandType = "session.get_messages"
	CmdGetAvailableModels  ClientCommandType = "session.get_available_models"
	CmdSetModel            ClientCommandType = "session.set_model"
	CmdNewSession          ClientCommandType = "session.new_session"
	CmdSwitchSession       ClientCommandType = "session.switch_session"
)

// ClientCommand is a command sent by a connected client to be routed to
// the attached sandbox channel (or handled locally, for extension_ui_response
// controller checks).
type ClientCommand struct {
	Type    ClientCommandType
	Message string // populated for prompt/steer/follow_up
	Raw     []byte // full encoded command, forwarded byte-for-byte to the transport
}

// SandboxStatus is the closed set of states the relay reports to clients
// when the underlying channel changes state outside of hub-driven attach.
type SandboxStatus string

const (
	SandboxRunning SandboxStatus = "running"
	SandboxPaused  SandboxStatus = "paused"
	SandboxStopped SandboxStatus = "stopped"
)
