package middleware

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"mlbridge/sidecar/internal/jsonrpc"
)

// RequestProcessor processes JSON-RPC requests.
// Implemented by the bridge handler.
type RequestProcessor interface {
	ProcessRequest(ctx context.Context, req *jsonrpc.Request) (interface{}, *jsonrpc.Error)
}

// session represents an SSE connection session.
type session struct {
	id       string
	writer   http.ResponseWriter
	flusher  http.Flusher
	done     chan struct{}
	messages chan []byte
}

// Transport manages SSE/Inline JSON-RPC transport between the editor
// and the bridge. GET opens an event stream the sidecar pushes view
// invalidations through; POST carries requests, answered either inline
// or over the caller's stream.
type Transport struct {
	processor RequestProcessor
	sessions  map[string]*session
	mu        sync.RWMutex
}

// NewTransport creates the transport handler over a request processor.
func NewTransport(processor RequestProcessor) *Transport {
	return &Transport{
		processor: processor,
		sessions:  make(map[string]*session),
	}
}

func (t *Transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		t.handleSSE(w, r)
	case http.MethodPost:
		t.handleMessage(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// Broadcast pushes a notification to every connected session. Sessions
// with a full buffer miss the message; the next one supersedes it
// anyway since view refreshes are idempotent.
func (t *Transport) Broadcast(method string, params any) {
	raw, err := json.Marshal(params)
	if err != nil {
		log.Printf("broadcast %s: encode params: %v", method, err)
		return
	}
	data, _ := json.Marshal(jsonrpc.Notification{JSONRPC: "2.0", Method: method, Params: raw})

	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, s := range t.sessions {
		select {
		case s.messages <- data:
		default:
			log.Printf("Session %s message buffer full, dropping %s", s.id, method)
		}
	}
}

// SessionCount reports the number of open SSE sessions.
func (t *Transport) SessionCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

func (t *Transport) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	// SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sessionID := uuid.NewString()
	s := &session{
		id:       sessionID,
		writer:   w,
		flusher:  flusher,
		done:     make(chan struct{}),
		messages: make(chan []byte, 100),
	}

	t.mu.Lock()
	t.sessions[sessionID] = s
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.sessions, sessionID)
		t.mu.Unlock()
		close(s.done)
	}()

	// Tell the editor where to POST for this stream.
	writeSSE(w, flusher, "endpoint", []byte("/rpc?sessionId="+sessionID))
	log.Printf("SSE connection established, session=%s", sessionID)

	for {
		select {
		case msg := <-s.messages:
			writeSSE(w, flusher, "message", msg)
		case <-r.Context().Done():
			log.Printf("SSE connection closed, session=%s", sessionID)
			return
		}
	}
}

func writeSSE(w io.Writer, flusher http.Flusher, event string, data []byte) {
	io.WriteString(w, "event: "+event+"\ndata: ")
	w.Write(data)
	io.WriteString(w, "\n\n")
	flusher.Flush()
}

func (t *Transport) handleMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		t.handleInlineMessage(w, r)
		return
	}

	t.mu.RLock()
	s, ok := t.sessions[sessionID]
	t.mu.RUnlock()

	if !ok {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}

	var req jsonrpc.Request
	if err := json.Unmarshal(body, &req); err != nil {
		t.sendToSession(s, nil, nil, &jsonrpc.Error{Code: jsonrpc.ParseError, Message: "Parse error"})
		w.WriteHeader(http.StatusAccepted)
		return
	}

	log.Printf("Received request: method=%s id=%v session=%s", req.Method, req.ID, sessionID)

	result, rpcErr := t.processor.ProcessRequest(r.Context(), &req)
	if rpcErr != nil {
		t.sendToSession(s, req.ID, nil, rpcErr)
	} else if req.ID != nil {
		t.sendToSession(s, req.ID, result, nil)
	}

	w.WriteHeader(http.StatusAccepted)
}

func (t *Transport) handleInlineMessage(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}

	var req jsonrpc.Request
	if err := json.Unmarshal(body, &req); err != nil {
		writeResponse(w, jsonrpc.Response{
			JSONRPC: "2.0",
			Error:   &jsonrpc.Error{Code: jsonrpc.ParseError, Message: "Parse error"},
		})
		return
	}

	log.Printf("Received inline request: method=%s id=%v", req.Method, req.ID)

	result, rpcErr := t.processor.ProcessRequest(r.Context(), &req)
	if rpcErr != nil {
		writeResponse(w, jsonrpc.Response{JSONRPC: "2.0", ID: req.ID, Error: rpcErr})
		return
	}
	raw, err := json.Marshal(result)
	if err != nil {
		writeResponse(w, jsonrpc.Response{
			JSONRPC: "2.0", ID: req.ID,
			Error: &jsonrpc.Error{Code: jsonrpc.InternalError, Message: "Failed to encode result"},
		})
		return
	}
	writeResponse(w, jsonrpc.Response{JSONRPC: "2.0", ID: req.ID, Result: raw})
}

func writeResponse(w http.ResponseWriter, resp jsonrpc.Response) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (t *Transport) sendToSession(s *session, id interface{}, result interface{}, rpcErr *jsonrpc.Error) {
	resp := jsonrpc.Response{JSONRPC: "2.0", ID: id, Error: rpcErr}
	if rpcErr == nil {
		raw, err := json.Marshal(result)
		if err != nil {
			resp.Error = &jsonrpc.Error{Code: jsonrpc.InternalError, Message: "Failed to encode result"}
		} else {
			resp.Result = raw
		}
	}
	data, _ := json.Marshal(resp)
	select {
	case s.messages <- data:
	default:
		log.Printf("Session message buffer full")
	}
}
