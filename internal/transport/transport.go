// Package transport implements the Transport Endpoint: the single-client
// channel between the daemon and the editor-side agent. It offers two
// interoperable wire variants over the same net/http listener — a raw,
// hijacked TCP stream framed as newline-delimited JSON, and an HTTP
// long-poll fallback (/connect, /send, /poll, /disconnect) for agents that
// cannot hold a raw socket open — and both carry the same api.Envelope
// vocabulary, so the reconciler never needs to know which one is active.
//
// At most one client is ever considered connected: a new connection (of
// either variant) preempts whatever came before it, mirroring the
// spec's single-editor-instance model.
package transport

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/lexsf/azul/api"
)

// Endpoint is what the reconciler needs from either wire variant.
type Endpoint interface {
	// Inbound delivers envelopes received from the connected client.
	Inbound() <-chan api.Envelope
	// Send delivers an envelope to the connected client, if any. It never
	// blocks indefinitely: with no client connected the envelope is
	// dropped (outbound messages are not queued across disconnects, per
	// the spec's single-session model).
	Send(env api.Envelope) error
	// Close shuts the endpoint down.
	Close() error
}

// Server hosts both wire variants behind one http.Server and arbitrates
// which of them currently owns the single active connection.
type Server struct {
	mu      sync.Mutex
	active  Endpoint
	inbound chan api.Envelope

	httpSrv  *http.Server
	listener net.Listener

	staleAfter time.Duration
}

// NewServer builds (but does not start) a Server listening on port.
// staleAfter governs the long-poll variant's stale-client reap interval;
// a non-positive value uses the spec's default of 60s.
func NewServer(port int, staleAfter time.Duration) *Server {
	if staleAfter <= 0 {
		staleAfter = 60 * time.Second
	}
	s := &Server{
		inbound:    make(chan api.Envelope, 64),
		staleAfter: staleAfter,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/stream", s.handleStream)
	mux.HandleFunc("/connect", s.handleConnect)
	mux.HandleFunc("/send", s.handleSend)
	mux.HandleFunc("/poll", s.handlePoll)
	mux.HandleFunc("/disconnect", s.handleDisconnect)

	s.httpSrv = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: withCORS(mux),
	}
	return s
}

// ListenAndServe blocks serving the endpoint until the listener is closed.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.httpSrv.Addr)
	if err != nil {
		return fmt.Errorf("transport: listen: %w", err)
	}
	s.listener = ln
	return s.httpSrv.Serve(ln)
}

// Close shuts the endpoint's listener and any active client down.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.active != nil {
		_ = s.active.Close()
		s.active = nil
	}
	s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

// Inbound delivers envelopes from whichever client is currently active.
func (s *Server) Inbound() <-chan api.Envelope { return s.inbound }

// Send delivers an envelope to the active client, if any.
func (s *Server) Send(env api.Envelope) error {
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()
	if active == nil {
		return nil
	}
	return active.Send(env)
}

// adopt preempts whatever client is currently active in favor of next.
func (s *Server) adopt(next Endpoint) {
	s.mu.Lock()
	prev := s.active
	s.active = next
	s.mu.Unlock()
	if prev != nil {
		log.Printf("transport: new client connected, closing previous session")
		_ = prev.Close()
	}
}

func (s *Server) forget(e Endpoint) {
	s.mu.Lock()
	if s.active == e {
		s.active = nil
	}
	s.mu.Unlock()
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- raw streaming variant ---

// streamClient is a single hijacked TCP connection framed as
// newline-delimited JSON envelopes, in both directions.
type streamClient struct {
	conn   net.Conn
	srv    *Server
	mu     sync.Mutex
	closed bool
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	conn, buf, err := hj.Hijack()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	// The handshake response is written directly to the hijacked conn —
	// from here on the connection is raw newline-delimited JSON, not HTTP.
	_, _ = buf.Write([]byte("HTTP/1.1 200 OK\r\nContent-Type: application/x-ndjson\r\nConnection: close\r\n\r\n"))
	_ = buf.Flush()

	c := &streamClient{conn: conn, srv: s}
	s.adopt(c)
	go c.readLoop()
}

func (c *streamClient) readLoop() {
	defer c.srv.forget(c)
	defer c.conn.Close()

	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var env api.Envelope
		if err := json.Unmarshal(line, &env); err != nil {
			log.Printf("transport: stream: malformed frame: %v", err)
			continue
		}
		c.srv.inbound <- env
	}
}

func (c *streamClient) Send(env api.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("transport: stream client closed")
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	raw = append(raw, '\n')
	_, err = c.conn.Write(raw)
	return err
}

func (c *streamClient) Inbound() <-chan api.Envelope { return c.srv.inbound }

func (c *streamClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

// --- long-poll variant ---

// longPollClient queues outbound envelopes per connected client and
// tracks its last /poll so a stale client can be reaped.
type longPollClient struct {
	id       string
	srv      *Server
	mu       sync.Mutex
	queue    []api.Envelope
	lastSeen time.Time
	closed   bool
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	id := fmt.Sprintf("%d", time.Now().UnixNano())
	c := &longPollClient{id: id, srv: s, lastSeen: time.Now()}
	s.adopt(c)
	go s.reapIfStale(c)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"clientId": id})
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var env api.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.inbound <- env
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("clientId")
	s.mu.Lock()
	active, ok := s.active.(*longPollClient)
	s.mu.Unlock()
	if !ok || active.id != id {
		http.Error(w, "unknown or superseded client", http.StatusGone)
		return
	}

	envs := active.drain()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(envs)
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("clientId")
	s.mu.Lock()
	if active, ok := s.active.(*longPollClient); ok && active.id == id {
		s.active = nil
	}
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

// reapIfStale closes c once it has gone staleAfter without a /poll.
func (s *Server) reapIfStale(c *longPollClient) {
	ticker := time.NewTicker(s.staleAfter / 4)
	defer ticker.Stop()
	for range ticker.C {
		c.mu.Lock()
		idle := time.Since(c.lastSeen)
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return
		}
		if idle > s.staleAfter {
			log.Printf("transport: reaping stale long-poll client %s (idle %s)", c.id, idle)
			s.forget(c)
			_ = c.Close()
			return
		}
	}
}

func (c *longPollClient) drain() []api.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastSeen = time.Now()
	out := c.queue
	c.queue = nil
	if out == nil {
		out = []api.Envelope{}
	}
	return out
}

func (c *longPollClient) Send(env api.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("transport: long-poll client closed")
	}
	c.queue = append(c.queue, env)
	return nil
}

func (c *longPollClient) Inbound() <-chan api.Envelope { return c.srv.inbound }

func (c *longPollClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}
