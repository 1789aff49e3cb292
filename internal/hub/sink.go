package hub

import (
	"log/slog"
	"sync"

	"github.com/sessionrelay/hub/internal/metrics"
)

// outboundQueueSize bounds each client's pending-frame queue (spec §5:
// "writes must be non-blocking with a bounded outbound queue per
// client"). Grounded in the teacher's AsyncDualWriter channel sizing.
const outboundQueueSize = 100

// ClientSink is the write side of a connected client, implemented by
// internal/wsgateway around a coder/websocket connection. The hub never
// touches the websocket directly so it can be driven by fakes in tests.
type ClientSink interface {
	// Send writes one frame (a server frame or a raw forwarded agent
	// event) to the client. Called only from the per-client pump
	// goroutine, never concurrently.
	Send(frame []byte) error

	// Close terminates the underlying connection with the given code
	// and reason.
	Close(code int, reason string) error
}

// clientPump owns one client's outbound queue and the goroutine that
// drains it into its ClientSink. On overflow the oldest behavior from
// the teacher's AsyncDualWriter (drop-oldest) does not apply here: spec
// §5 calls instead for dropping the slow client entirely ("drop the
// slowest client with error(SLOW_CONSUMER) and close its connection").
type clientPump struct {
	id   string
	sink ClientSink

	mu     sync.Mutex
	queue  chan []byte
	closed bool
}

func newClientPump(id string, sink ClientSink) *clientPump {
	p := &clientPump{id: id, sink: sink, queue: make(chan []byte, outboundQueueSize)}
	go p.run()
	return p
}

func (p *clientPump) run() {
	for frame := range p.queue {
		if err := p.sink.Send(frame); err != nil {
			slog.Debug("client pump write failed", "client_id", p.id, "error", err)
			return
		}
	}
}

// enqueue is non-blocking. If the queue is full, the client is treated as
// a slow consumer: its connection is closed with SLOW_CONSUMER and the
// pump is torn down instead of blocking the hub's broadcast loop.
func (p *clientPump) enqueue(frame []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}

	select {
	case p.queue <- frame:
	default:
		slog.Warn("client outbound queue full, dropping slow consumer", "client_id", p.id)
		metrics.SlowConsumerDrops.Inc()
		p.closeLocked(4000, "SLOW_CONSUMER")
	}
}

func (p *clientPump) close(code int, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeLocked(code, reason)
}

func (p *clientPump) closeLocked(code int, reason string) {
	if p.closed {
		return
	}
	p.closed = true
	close(p.queue)
	if err := p.sink.Close(code, reason); err != nil {
		slog.Debug("client sink close failed", "client_id", p.id, "error", err)
	}
}
