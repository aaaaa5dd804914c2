package controlplane

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/go-faster/errors"
	"github.com/gorilla/websocket"

	"mlbridge/sidecar/internal/jsonrpc"
)

// Transport is one connection to the control plane: request/response
// calls plus a stream of unsolicited push notifications. Exactly one
// instance is live at a time (enforced by Client.SetTransport).
type Transport interface {
	// Call issues a named command with positional args and returns the
	// raw result payload, or an error for transport-level failures.
	Call(ctx context.Context, method string, params []any) (json.RawMessage, error)

	// Notifications yields pushes in arrival order. The channel closes
	// when the transport stops.
	Notifications() <-chan jsonrpc.Notification

	// Stop tears the connection down and fails all in-flight calls.
	Stop() error
}

const notificationBuffer = 64

// wsEnvelope is the inbound wire shape: responses carry an ID, pushes a
// Method and no ID.
type wsEnvelope struct {
	ID     *uint64         `json:"id"`
	Method string          `json:"method"`
	Result json.RawMessage `json:"result"`
	Error  *jsonrpc.Error  `json:"error"`
	Params json.RawMessage `json:"params"`
}

// WSTransport speaks JSON-RPC 2.0 over a WebSocket to the control plane.
type WSTransport struct {
	conn *websocket.Conn

	writeMu sync.Mutex // gorilla allows one concurrent writer

	pendingMu sync.Mutex
	pending   map[uint64]chan wsEnvelope
	nextID    uint64

	notifications chan jsonrpc.Notification
	closed        chan struct{}
	stopOnce      sync.Once
}

// Dial connects to the control plane WebSocket endpoint. The access
// token rides in the Authorization header; an empty token connects
// anonymously (local deployments).
func Dial(ctx context.Context, url, token string) (*WSTransport, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, errors.Wrapf(err, "dial control plane %s", url)
	}

	t := &WSTransport{
		conn:          conn,
		pending:       make(map[uint64]chan wsEnvelope),
		notifications: make(chan jsonrpc.Notification, notificationBuffer),
		closed:        make(chan struct{}),
	}
	go t.readLoop()
	return t, nil
}

// Call implements Transport.
func (t *WSTransport) Call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	t.pendingMu.Lock()
	t.nextID++
	id := t.nextID
	ch := make(chan wsEnvelope, 1)
	t.pending[id] = ch
	t.pendingMu.Unlock()

	defer func() {
		t.pendingMu.Lock()
		delete(t.pending, id)
		t.pendingMu.Unlock()
	}()

	req := jsonrpc.Request{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	t.writeMu.Lock()
	err := t.conn.WriteJSON(req)
	t.writeMu.Unlock()
	if err != nil {
		return nil, errors.Wrapf(err, "send %s", method)
	}

	select {
	case env := <-ch:
		if env.Error != nil {
			return nil, errors.Errorf("%s: %s (code %d)", method, env.Error.Message, env.Error.Code)
		}
		return env.Result, nil
	case <-ctx.Done():
		return nil, errors.Wrapf(ctx.Err(), "%s", method)
	case <-t.closed:
		return nil, errors.Errorf("%s: transport stopped", method)
	}
}

// Notifications implements Transport.
func (t *WSTransport) Notifications() <-chan jsonrpc.Notification {
	return t.notifications
}

// Stop implements Transport. Safe to call more than once.
func (t *WSTransport) Stop() error {
	t.stopOnce.Do(func() {
		close(t.closed)
		t.conn.Close()
	})
	return nil
}

func (t *WSTransport) readLoop() {
	defer close(t.notifications)
	defer t.Stop()

	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			select {
			case <-t.closed:
			default:
				log.Printf("controlplane: read loop ended: %v", err)
			}
			return
		}

		var env wsEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Printf("controlplane: dropping unparseable frame: %v", err)
			continue
		}

		// Push notification: method set, no ID.
		if env.ID == nil && env.Method != "" {
			n := jsonrpc.Notification{JSONRPC: "2.0", Method: env.Method, Params: env.Params}
			select {
			case t.notifications <- n:
			default:
				log.Printf("controlplane: notification buffer full, dropping %s", env.Method)
			}
			continue
		}

		if env.ID == nil {
			continue
		}
		t.pendingMu.Lock()
		ch, ok := t.pending[*env.ID]
		t.pendingMu.Unlock()
		if !ok {
			// Late reply for a call that already gave up.
			continue
		}
		ch <- env
	}
}
