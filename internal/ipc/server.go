package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"sync"
	"time"

	"github.com/1broseidon/xgrabkey/internal/hotkeys"
	"github.com/1broseidon/xgrabkey/internal/runtimepath"
)

const (
	requestTimeout = 5 * time.Second
	writeTimeout   = 2 * time.Second
)

// Handler is the daemon side of the IPC protocol.
type Handler interface {
	Status() StatusData
	List() []HotkeyInfo
	Register(ctx context.Context, id int, binding string, command string) error
	Unregister(ctx context.Context, id int) error
	SetDebug(enabled bool)
	Reload() error
	// Subscribe returns a stream of fired hotkeys. cancel releases it.
	Subscribe() (events <-chan EventData, cancel func())
}

// Server handles IPC requests from clients
type Server struct {
	socketPath   string
	listener     net.Listener
	handler      Handler
	done         chan struct{}
	wg           sync.WaitGroup
	shuttingDown bool
	shutdownMu   sync.Mutex
}

// NewServer creates a new IPC server
func NewServer(handler Handler) (*Server, error) {
	socketPath, err := runtimepath.SocketPath()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve IPC socket path: %w", err)
	}

	// Remove existing socket if present
	os.Remove(socketPath)

	return &Server{
		socketPath: socketPath,
		handler:    handler,
		done:       make(chan struct{}),
	}, nil
}

// SocketPath returns the path the server listens on.
func (s *Server) SocketPath() string {
	return s.socketPath
}

// Start begins listening for IPC connections
func (s *Server) Start() error {
	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to create IPC socket: %w", err)
	}
	s.listener = listener

	if err := os.Chmod(s.socketPath, 0600); err != nil {
		listener.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	log.Printf("IPC server listening on %s", s.socketPath)

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.isShuttingDown() {
				return
			}
			log.Printf("IPC accept error: %v", err)
			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(conn)
		}()
	}
}

func (s *Server) isShuttingDown() bool {
	s.shutdownMu.Lock()
	defer s.shutdownMu.Unlock()
	return s.shuttingDown
}

// handleConnection handles a single IPC connection
func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()

	reader := bufio.NewReader(conn)

	// One JSON request per line.
	conn.SetReadDeadline(time.Now().Add(requestTimeout))
	data, err := reader.ReadBytes('\n')
	if err != nil && err != io.EOF {
		log.Printf("IPC read error: %v", err)
		return
	}

	req, err := ParseRequest(data)
	if err != nil {
		s.sendError(conn, fmt.Sprintf("Invalid request: %v", err))
		return
	}

	if req.Command == CommandSubscribe {
		conn.SetReadDeadline(time.Time{})
		s.stream(conn, reader)
		return
	}

	resp := s.handleCommand(req)
	if err := writeLine(conn, resp); err != nil {
		log.Printf("Failed to send response: %v", err)
	}
}

// handleCommand processes an IPC command and returns a response
func (s *Server) handleCommand(req *Request) *Response {
	switch req.Command {
	case CommandReload:
		return s.handleReload()
	case CommandGetStatus:
		return s.handleGetStatus()
	case CommandList:
		return s.handleList()
	case CommandRegister:
		return s.handleRegister(req.Payload)
	case CommandUnregister:
		return s.handleUnregister(req.Payload)
	case CommandSetDebug:
		return s.handleSetDebug(req.Payload)
	default:
		return NewErrorResponse(fmt.Sprintf("Unknown command: %s", req.Command))
	}
}

func (s *Server) handleReload() *Response {
	log.Println("IPC: Received RELOAD command")

	if err := s.handler.Reload(); err != nil {
		return NewCodedErrorResponse(CodeInvalid, fmt.Sprintf("Failed to reload config: %v", err))
	}

	log.Println("IPC: Config reloaded successfully")

	resp, _ := NewOKResponse(nil)
	return resp
}

func (s *Server) handleGetStatus() *Response {
	resp, _ := NewOKResponse(s.handler.Status())
	return resp
}

func (s *Server) handleList() *Response {
	resp, _ := NewOKResponse(ListData{Hotkeys: s.handler.List()})
	return resp
}

func (s *Server) handleRegister(payload json.RawMessage) *Response {
	var req RegisterPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return NewCodedErrorResponse(CodeInvalid, fmt.Sprintf("Invalid register payload: %v", err))
	}
	if req.Binding == "" {
		return NewCodedErrorResponse(CodeInvalid, "binding is required")
	}
	if req.ID < 0 {
		return NewCodedErrorResponse(CodeInvalid, "id must be >= 0")
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	log.Printf("IPC: Register hotkey %d as %s", req.ID, req.Binding)
	if err := s.handler.Register(ctx, req.ID, req.Binding, req.Command); err != nil {
		return errorResponse(err)
	}

	resp, _ := NewOKResponse(nil)
	return resp
}

func (s *Server) handleUnregister(payload json.RawMessage) *Response {
	var req UnregisterPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return NewCodedErrorResponse(CodeInvalid, fmt.Sprintf("Invalid unregister payload: %v", err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	if err := s.handler.Unregister(ctx, req.ID); err != nil {
		return errorResponse(err)
	}

	resp, _ := NewOKResponse(nil)
	return resp
}

func (s *Server) handleSetDebug(payload json.RawMessage) *Response {
	var req SetDebugPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return NewCodedErrorResponse(CodeInvalid, fmt.Sprintf("Invalid debug payload: %v", err))
	}
	s.handler.SetDebug(req.Enabled)

	resp, _ := NewOKResponse(nil)
	return resp
}

// stream serves a SUBSCRIBE connection until the client hangs up or the
// server stops.
func (s *Server) stream(conn net.Conn, reader *bufio.Reader) {
	events, cancel := s.handler.Subscribe()
	defer cancel()

	resp, _ := NewOKResponse(nil)
	if err := writeLine(conn, resp); err != nil {
		return
	}

	// Subscribers send nothing after the request; a read returns once the
	// peer closes.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		_, _ = io.Copy(io.Discard, reader)
	}()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := writeLine(conn, ev); err != nil {
				return
			}
		case <-gone:
			return
		case <-s.done:
			return
		}
	}
}

func writeLine(conn net.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, err = conn.Write(data)
	return err
}

// errorResponse maps manager errors to coded responses.
func errorResponse(err error) *Response {
	switch {
	case errors.Is(err, hotkeys.ErrConflict):
		return NewCodedErrorResponse(CodeConflict, err.Error())
	case errors.Is(err, hotkeys.ErrUnknownKey):
		return NewCodedErrorResponse(CodeUnknownKey, err.Error())
	case errors.Is(err, hotkeys.ErrClosed):
		return NewCodedErrorResponse(CodeClosed, err.Error())
	default:
		return NewCodedErrorResponse(CodeInvalid, err.Error())
	}
}

// sendError sends an error response
func (s *Server) sendError(conn net.Conn, errMsg string) {
	if err := writeLine(conn, NewCodedErrorResponse(CodeInvalid, errMsg)); err != nil {
		log.Printf("Failed to send error response: %v", err)
	}
}

// Stop gracefully shuts down the IPC server and waits for open connections.
func (s *Server) Stop() {
	s.shutdownMu.Lock()
	if s.shuttingDown {
		s.shutdownMu.Unlock()
		return
	}
	s.shuttingDown = true
	s.shutdownMu.Unlock()

	close(s.done)
	if s.listener != nil {
		s.listener.Close()
	}
	s.wg.Wait()
	os.Remove(s.socketPath)
}
