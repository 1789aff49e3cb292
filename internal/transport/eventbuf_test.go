package transport

import "testing"

func TestEventBuffer_PushAndDrain(t *testing.T) {
	b := newEventBuffer()
	b.push(Event{SessionID: "s1", RawType: "turn_start"})
	b.push(Event{SessionID: "s1", RawType: "turn_end"})

	first := <-b.channel()
	if first.RawType != "turn_start" {
		t.Errorf("first event type = %q, want turn_start", first.RawType)
	}
	second := <-b.channel()
	if second.RawType != "turn_end" {
		t.Errorf("second event type = %q, want turn_end", second.RawType)
	}
}

func TestEventBuffer_DropsOldestOnOverflow(t *testing.T) {
	b := newEventBuffer()
	total := eventBufferSize + 10
	for i := 0; i < total; i++ {
		rawType := "turn_start"
		if i == 0 {
			rawType = "first"
		} else if i == total-1 {
			rawType = "last"
		}
		b.push(Event{SessionID: "s1", RawType: rawType})
	}

	// The buffer should never exceed its capacity, the oldest push should
	// have been dropped, and the newest push should still have been
	// accepted rather than silently lost.
	if len(b.ch) > eventBufferSize {
		t.Fatalf("buffer length %d exceeds capacity %d", len(b.ch), eventBufferSize)
	}
	var lastType string
	for len(b.ch) > 0 {
		ev := <-b.ch
		if ev.RawType == "first" {
			t.Fatal("oldest event survived overflow")
		}
		lastType = ev.RawType
	}
	if lastType != "last" {
		t.Fatalf("newest event type = %q, want last", lastType)
	}
}

func TestParseLegacyLine_Response(t *testing.T) {
	line := []byte(`{"command":"session.get_state","result":{"ok":true}}`)
	msg, command, isResponse, ok := parseLegacyLine(line)
	if !ok {
		t.Fatal("parseLegacyLine returned ok=false")
	}
	if !isResponse {
		t.Fatal("expected isResponse=true")
	}
	if command != "session.get_state" {
		t.Errorf("command = %q, want session.get_state", command)
	}
	if _, present := msg["result"]; !present {
		t.Error("expected result field present")
	}
}

func TestParseLegacyLine_Event(t *testing.T) {
	line := []byte(`{"type":"turn_start","sessionId":"sess-1"}`)
	_, _, isResponse, ok := parseLegacyLine(line)
	if !ok {
		t.Fatal("parseLegacyLine returned ok=false")
	}
	if isResponse {
		t.Fatal("expected isResponse=false")
	}
}

func TestParseLegacyLine_Invalid(t *testing.T) {
	_, _, _, ok := parseLegacyLine([]byte("not json"))
	if ok {
		t.Fatal("expected ok=false for invalid JSON")
	}
}

func TestReconnectDelay_BoundedByMax(t *testing.T) {
	delay := ReconnectDelay(10, defaultBaseDelay, defaultMaxDelay)
	if delay > defaultMaxDelay {
		t.Errorf("delay %v exceeds max %v", delay, defaultMaxDelay)
	}
}

func TestReconnectDelay_GrowsWithAttempt(t *testing.T) {
	d1 := ReconnectDelay(1, defaultBaseDelay, defaultMaxDelay)
	d3 := ReconnectDelay(3, defaultBaseDelay, defaultMaxDelay)
	if d3 < d1 {
		t.Errorf("delay did not grow: attempt1=%v attempt3=%v", d1, d3)
	}
}
