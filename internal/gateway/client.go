package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// outboundBuffer is the per-client send queue length. A client that falls
// further behind loses frames, oldest first; the transcript is recoverable
// over /transcript-style reads, the live feed is not worth stalling for.
const outboundBuffer = 64

// writeTimeout bounds one WebSocket write to a client.
const writeTimeout = 5 * time.Second

// Frame type tags on the wire. Outbound: transcript, state, turn_event,
// intent. Inbound: submit, typing, command.
const (
	frameTranscript = "transcript"
	frameState      = "state"
	frameTurnEvent  = "turn_event"
	frameIntent     = "intent"
	frameSubmit     = "submit"
	frameTyping     = "typing"
	frameCommand    = "command"
)

// frame is the single JSON envelope both directions use. Exactly one payload
// field is set, matching Type.
type frame struct {
	Type string `json:"type"`

	Transcript *transcriptPayload `json:"transcript,omitempty"`
	State      *statePayload      `json:"state,omitempty"`
	TurnEvent  *turnEventPayload  `json:"turn_event,omitempty"`
	Intent     *intentPayload     `json:"intent,omitempty"`

	Submit  *submitPayload  `json:"submit,omitempty"`
	Typing  *typingPayload  `json:"typing,omitempty"`
	Command *commandPayload `json:"command,omitempty"`
}

type transcriptPayload struct {
	Speaker      string    `json:"speaker"`
	Text         string    `json:"text"`
	Timestamp    time.Time `json:"timestamp"`
	TurnID       uint64    `json:"turn_id,omitempty"`
	SegmentIndex int       `json:"segment_index"`
}

type statePayload struct {
	Speaking    bool   `json:"speaking"`
	Recording   bool   `json:"recording"`
	CurrentTurn uint64 `json:"current_turn"`
}

type turnEventPayload struct {
	TurnID    uint64    `json:"turn_id"`
	Stage     string    `json:"stage"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type intentPayload struct {
	TurnID uint64  `json:"turn_id"`
	Intent string  `json:"intent"`
	Score  float64 `json:"score"`
}

type submitPayload struct {
	Text string `json:"text"`
}

type typingPayload struct {
	Active bool `json:"active"`
}

type commandPayload struct {
	Action string `json:"action"`
}

// client is one connected WebSocket peer: a bounded outbound queue drained
// by a writer goroutine, and a reader loop that merges inbound frames into
// the gateway.
type client struct {
	id      int
	conn    *websocket.Conn
	gateway *Gateway

	out chan frame

	closeOnce sync.Once
	done      chan struct{}
}

func newClient(id int, conn *websocket.Conn, g *Gateway) *client {
	return &client{
		id:      id,
		conn:    conn,
		gateway: g,
		out:     make(chan frame, outboundBuffer),
		done:    make(chan struct{}),
	}
}

// send queues one outbound frame. When the queue is full the oldest frame is
// dropped to make room; a slow client degrades, the pipeline does not.
func (c *client) send(f frame) {
	select {
	case <-c.done:
		return
	default:
	}

	for {
		select {
		case c.out <- f:
			return
		default:
		}
		select {
		case <-c.out:
			// Dropped the oldest queued frame.
		default:
		}
	}
}

// run pumps the connection until it drops, ctx is cancelled, or the client
// is closed. It blocks; the caller owns connection cleanup via close.
func (c *client) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.writeLoop(ctx)
	c.readLoop(ctx)
}

// readLoop parses inbound frames and hands them to the gateway. Returning
// ends the client.
func (c *client) readLoop(ctx context.Context) {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			select {
			case <-c.done:
			default:
				slog.Debug("gateway: client read ended", "client", c.id, "error", err)
			}
			return
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			slog.Warn("gateway: malformed client frame", "client", c.id, "error", err)
			continue
		}
		c.gateway.submit(f)
	}
}

// writeLoop drains the outbound queue onto the wire.
func (c *client) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case f := <-c.out:
			data, err := json.Marshal(f)
			if err != nil {
				slog.Warn("gateway: frame marshal failed", "client", c.id, "error", err)
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err = c.conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				slog.Debug("gateway: client write failed, dropping client",
					"client", c.id, "error", err)
				c.close(websocket.StatusAbnormalClosure, "write failed")
				return
			}
		}
	}
}

// close tears the connection down. Idempotent.
func (c *client) close(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close(code, reason)
	})
}
