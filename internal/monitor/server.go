package monitor

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync"

	log "github.com/es40emu/es40/pkg/minilog"
)

// Handler answers one command, returning either a JSON-marshalable
// result or an error whose message is sent back verbatim.
type Handler func(args map[string]interface{}) (interface{}, error)

// Server listens on a unix socket and serves Handlers to concurrent
// client connections. Unlike the QMP client this protocol replaces,
// es40 plays the server role here: es40mon (or any other script)
// dials in and issues commands against the running machine.
type Server struct {
	mu       sync.RWMutex
	handlers map[string]Handler

	socketPath string
	listener   net.Listener

	connsMu sync.Mutex
	conns   []net.Conn
}

// NewServer creates a server that will listen on socketPath once
// Start is called. socketPath is removed first if a stale socket file
// from a previous, uncleanly-terminated run is left behind.
func NewServer(socketPath string) *Server {
	return &Server{
		handlers:   make(map[string]Handler),
		socketPath: socketPath,
	}
}

// Handle registers the Handler invoked for a command of the given
// name. Registering the same name twice replaces the previous Handler.
func (s *Server) Handle(command string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[command] = h
}

// Start binds the unix socket and begins accepting connections in a
// background goroutine. It returns once the socket is ready to accept.
func (s *Server) Start() error {
	if err := os.RemoveAll(s.socketPath); err != nil {
		return fmt.Errorf("monitor: removing stale socket: %w", err)
	}
	l, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("monitor: listening on %s: %w", s.socketPath, err)
	}
	s.listener = l
	go s.acceptLoop()
	return nil
}

// Stop closes the listener and every connection accepted so far.
func (s *Server) Stop() error {
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	s.connsMu.Lock()
	for _, c := range s.conns {
		c.Close()
	}
	s.conns = nil
	s.connsMu.Unlock()
	return err
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			log.Info("monitor: accept loop exiting: %v", err)
			return
		}
		s.connsMu.Lock()
		s.conns = append(s.conns, conn)
		s.connsMu.Unlock()
		go s.serveConn(conn)
	}
}

// serveConn reads one JSON Request per line and writes back one JSON
// Response per line, until the client disconnects or sends invalid
// JSON. Each connection is served independently, so a long-running
// command on one client does not block another's queries.
func (s *Server) serveConn(conn net.Conn) {
	defer conn.Close()

	dec := json.NewDecoder(bufio.NewReader(conn))
	enc := json.NewEncoder(conn)

	for {
		var req Request
		if err := dec.Decode(&req); err != nil {
			log.Debug("monitor: client %s disconnected: %v", conn.RemoteAddr(), err)
			return
		}

		s.mu.RLock()
		h, ok := s.handlers[req.Execute]
		s.mu.RUnlock()

		var resp Response
		if !ok {
			resp = Response{Error: fmt.Sprintf("unknown command %q", req.Execute)}
		} else if result, err := h(req.Arguments); err != nil {
			resp = Response{Error: err.Error()}
		} else {
			resp = Response{Return: result}
		}

		if err := enc.Encode(&resp); err != nil {
			log.Error("monitor: writing reply to %s: %v", conn.RemoteAddr(), err)
			return
		}
	}
}

// Broadcast sends an unsolicited Event to every currently connected
// client, mirroring QMP's interleaving of async events with replies.
func (s *Server) Broadcast(ev Event) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	for _, c := range s.conns {
		enc := json.NewEncoder(c)
		if err := enc.Encode(&ev); err != nil {
			log.Debug("monitor: broadcasting to %s: %v", c.RemoteAddr(), err)
		}
	}
}
