package transport

import "encoding/json"

// parseLegacyLine parses a line that did not decode as a wire.Envelope
// into its raw field map, reporting whether it carries a "command" field
// (a legacy response) versus being treated as an event.
func parseLegacyLine(raw []byte) (msg map[string]json.RawMessage, command string, isResponse bool, ok bool) {
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, "", false, false
	}
	if cmdRaw, present := msg["command"]; present {
		if err := json.Unmarshal(cmdRaw, &command); err == nil {
			return msg, command, true, true
		}
	}
	return msg, "", false, true
}

// legacyEvent builds a transport.Event out of a parsed legacy field map,
// used for both the subprocess decoder and the socket decoder's fallback
// path (spec §4.1: "a frame whose envelope decode fails is handed to the
// legacy decoder as a fallback").
func legacyEvent(msg map[string]json.RawMessage, raw []byte) Event {
	var typ, sessionID string
	var seq *uint64

	if typRaw, ok := msg["type"]; ok {
		_ = json.Unmarshal(typRaw, &typ)
	}
	if sidRaw, ok := msg["sessionId"]; ok {
		_ = json.Unmarshal(sidRaw, &sessionID)
	}
	if seqRaw, ok := msg["seq"]; ok {
		var s uint64
		if err := json.Unmarshal(seqRaw, &s); err == nil {
			seq = &s
		}
	}

	return Event{SessionID: sessionID, Seq: seq, RawType: typ, RawBytes: raw}
}
