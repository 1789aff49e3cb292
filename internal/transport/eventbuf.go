package transport

import "log/slog"

// eventBufferSize is the bounded newest-wins event buffer size spec §4.1
// requires so a slow hub cannot block the transport's reader task.
const eventBufferSize = 100

// eventBuffer is a buffered channel with drop-oldest overflow handling,
// the same backpressure strategy as the teacher's AsyncDualWriter output
// queue: on a full channel, the oldest queued event is discarded to make
// room for the newest one rather than blocking the writer.
type eventBuffer struct {
	ch chan Event
}

func newEventBuffer() *eventBuffer {
	return &eventBuffer{ch: make(chan Event, eventBufferSize)}
}

// push enqueues ev, dropping the oldest queued event if the buffer is full.
func (b *eventBuffer) push(ev Event) {
	select {
	case b.ch <- ev:
		return
	default:
	}

	select {
	case <-b.ch:
		slog.Warn("transport event buffer full, dropped oldest event", "session_id", ev.SessionID)
	default:
	}

	select {
	case b.ch <- ev:
	default:
		slog.Warn("transport event buffer still full after drop, discarding event", "session_id", ev.SessionID)
	}
}

func (b *eventBuffer) channel() <-chan Event {
	return b.ch
}

func (b *eventBuffer) close() {
	close(b.ch)
}
