// Package gateway serves the UI shell boundary over WebSocket.
//
// A [Gateway] is one shell.Shell backed by any number of connected browser
// clients: pipeline pushes (transcript appends, state flags, turn events,
// intents) fan out to every client, and client messages (text submissions,
// typing transitions, session commands) merge into the single channel set
// the orchestrator consumes. Clients may connect and drop at any time
// without the pipeline noticing.
//
// The gateway never blocks the pipeline: each client has a bounded outbound
// queue and falls behind by dropping frames, and a client that stops reading
// is disconnected.
package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/antiphonlabs/antiphon/internal/observe"
	"github.com/antiphonlabs/antiphon/pkg/shell"
	"github.com/antiphonlabs/antiphon/pkg/types"
)

// inboundBuffer sizes the merged channels the orchestrator reads. A full
// buffer drops the message; the user will notice their submission vanished
// long before the pipeline is this far behind.
const inboundBuffer = 16

// Gateway implements shell.Shell over WebSocket connections.
//
// All methods are safe for concurrent use.
type Gateway struct {
	metrics *observe.Metrics

	mu      sync.Mutex
	clients map[*client]struct{}
	nextID  int
	closed  bool

	submissions chan string
	typing      chan bool
	commands    chan shell.Command

	closeOnce sync.Once
}

// Option configures a [Gateway].
type Option func(*Gateway)

// WithMetrics has the gateway record its client gauge into metrics instead
// of the default instance.
func WithMetrics(m *observe.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// New creates a gateway with no connected clients.
func New(opts ...Option) *Gateway {
	g := &Gateway{
		clients:     make(map[*client]struct{}),
		submissions: make(chan string, inboundBuffer),
		typing:      make(chan bool, inboundBuffer),
		commands:    make(chan shell.Command, inboundBuffer),
	}
	for _, o := range opts {
		o(g)
	}
	if g.metrics == nil {
		g.metrics = observe.DefaultMetrics()
	}
	return g
}

// Register adds the /ws route to mux.
func (g *Gateway) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", g.Serve)
}

// Serve upgrades one HTTP request to a WebSocket client and pumps it until
// the connection drops or the gateway closes.
func (g *Gateway) Serve(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("gateway: websocket accept failed", "error", err)
		return
	}

	c := g.register(conn)
	if c == nil {
		_ = conn.Close(websocket.StatusGoingAway, "gateway closed")
		return
	}
	defer g.unregister(c)

	slog.Debug("gateway: client connected", "client", c.id)
	c.run(r.Context())
	slog.Debug("gateway: client disconnected", "client", c.id)
}

// register adds a client, or returns nil when the gateway already closed.
func (g *Gateway) register(conn *websocket.Conn) *client {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil
	}
	g.nextID++
	c := newClient(g.nextID, conn, g)
	g.clients[c] = struct{}{}
	g.metrics.GatewayClients.Add(context.Background(), 1)
	return c
}

func (g *Gateway) unregister(c *client) {
	g.mu.Lock()
	_, present := g.clients[c]
	delete(g.clients, c)
	g.mu.Unlock()
	if present {
		g.metrics.GatewayClients.Add(context.Background(), -1)
	}
	c.close(websocket.StatusNormalClosure, "bye")
}

// broadcast queues one frame on every connected client.
func (g *Gateway) broadcast(f frame) {
	g.mu.Lock()
	clients := make([]*client, 0, len(g.clients))
	for c := range g.clients {
		clients = append(clients, c)
	}
	g.mu.Unlock()

	for _, c := range clients {
		c.send(f)
	}
}

// ── shell.Shell: pipeline → clients ──────────────────────────────────────────

// TranscriptAppended implements shell.Shell.
func (g *Gateway) TranscriptAppended(entry types.TranscriptEntry) {
	g.broadcast(frame{
		Type: frameTranscript,
		Transcript: &transcriptPayload{
			Speaker:      string(entry.Speaker),
			Text:         entry.Text,
			Timestamp:    entry.Timestamp,
			TurnID:       entry.TurnID,
			SegmentIndex: entry.SegmentIndex,
		},
	})
}

// StateChanged implements shell.Shell.
func (g *Gateway) StateChanged(state shell.State) {
	g.broadcast(frame{
		Type: frameState,
		State: &statePayload{
			Speaking:    state.Speaking,
			Recording:   state.Recording,
			CurrentTurn: state.CurrentTurn,
		},
	})
}

// TurnEvent implements shell.Shell.
func (g *Gateway) TurnEvent(ev shell.TurnEvent) {
	g.broadcast(frame{
		Type: frameTurnEvent,
		TurnEvent: &turnEventPayload{
			TurnID:    ev.TurnID,
			Stage:     ev.Stage,
			Detail:    ev.Detail,
			Timestamp: ev.Timestamp,
		},
	})
}

// Intent implements shell.Shell.
func (g *Gateway) Intent(ev types.IntentEvent) {
	g.broadcast(frame{
		Type: frameIntent,
		Intent: &intentPayload{
			TurnID: ev.TurnID,
			Intent: ev.Intent,
			Score:  ev.Score,
		},
	})
}

// ── shell.Shell: clients → pipeline ──────────────────────────────────────────

// Submissions implements shell.Shell.
func (g *Gateway) Submissions() <-chan string { return g.submissions }

// TypingChanges implements shell.Shell.
func (g *Gateway) TypingChanges() <-chan bool { return g.typing }

// Commands implements shell.Shell.
func (g *Gateway) Commands() <-chan shell.Command { return g.commands }

// submit merges one client message into the pipeline channels.
func (g *Gateway) submit(f frame) {
	g.mu.Lock()
	closed := g.closed
	g.mu.Unlock()
	if closed {
		return
	}

	switch f.Type {
	case frameSubmit:
		if f.Submit == nil || f.Submit.Text == "" {
			return
		}
		select {
		case g.submissions <- f.Submit.Text:
		default:
			slog.Warn("gateway: submission dropped, pipeline behind")
		}
	case frameTyping:
		if f.Typing == nil {
			return
		}
		select {
		case g.typing <- f.Typing.Active:
		default:
		}
	case frameCommand:
		if f.Command == nil {
			return
		}
		var cmd shell.Command
		switch f.Command.Action {
		case "start_session":
			cmd = shell.CommandStartSession
		case "stop_session":
			cmd = shell.CommandStopSession
		default:
			slog.Warn("gateway: unknown command", "action", f.Command.Action)
			return
		}
		select {
		case g.commands <- cmd:
		default:
			slog.Warn("gateway: command dropped, pipeline behind")
		}
	default:
		slog.Debug("gateway: ignoring client frame", "type", f.Type)
	}
}

// Close implements shell.Shell: disconnects every client and closes the
// producing channels. Idempotent.
func (g *Gateway) Close() error {
	g.closeOnce.Do(func() {
		g.mu.Lock()
		g.closed = true
		clients := make([]*client, 0, len(g.clients))
		for c := range g.clients {
			clients = append(clients, c)
		}
		g.clients = make(map[*client]struct{})
		g.mu.Unlock()

		for _, c := range clients {
			c.close(websocket.StatusGoingAway, "server shutting down")
			g.metrics.GatewayClients.Add(context.Background(), -1)
		}

		close(g.submissions)
		close(g.typing)
		close(g.commands)
	})
	return nil
}

// ClientCount reports the number of connected clients.
func (g *Gateway) ClientCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.clients)
}

// Ensure Gateway implements shell.Shell at compile time.
var _ shell.Shell = (*Gateway)(nil)
