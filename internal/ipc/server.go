package ipc

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/1broseidon/vidwall/internal/config"
	"github.com/1broseidon/vidwall/internal/logging"
)

// Controller is what the server drives. The daemon implements it.
type Controller interface {
	Status() StatusData
	Pause(output string) error
	Resume(output string) error
	Reload() error
	SetLayout(output string, layout config.Layout) error
	SwitchSource(output string, src config.Source) error
	SetFPS(output string, fps int) error
	Events(since uint64) []Event
	Quit()
}

const readTimeout = 5 * time.Second

// Server handles IPC requests from clients
type Server struct {
	socketPath string
	ctrl       Controller
	logger     *slog.Logger

	listener     net.Listener
	wg           sync.WaitGroup
	shuttingDown bool
	shutdownMu   sync.Mutex
}

// NewServer creates a server for the socket at socketPath. A stale socket
// file is removed.
func NewServer(socketPath string, ctrl Controller, logger *slog.Logger) *Server {
	return &Server{
		socketPath: socketPath,
		ctrl:       ctrl,
		logger:     logging.OrDiscard(logger),
	}
}

func (s *Server) SocketPath() string { return s.socketPath }

// Start begins listening for IPC connections
func (s *Server) Start() error {
	if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale socket: %w", err)
	}
	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to create IPC socket: %w", err)
	}
	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		listener.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}
	s.listener = listener

	s.logger.Info("ipc server listening", "socket", s.socketPath)

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// acceptLoop accepts incoming connections
func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.shutdownMu.Lock()
			stopping := s.shuttingDown
			s.shutdownMu.Unlock()
			if stopping || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("ipc accept failed", "error", err)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(conn)
		}()
	}
}

// handleConnection reads one JSON line and answers with one JSON line.
func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

	reader := bufio.NewReader(conn)
	data, err := reader.ReadBytes('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		s.logger.Debug("ipc read failed", "error", err)
		return
	}

	var resp *Response
	req, err := ParseRequest(data)
	if err != nil {
		resp = NewErrorResponse(fmt.Sprintf("invalid request: %v", err))
	} else {
		resp = s.handleCommand(req)
	}

	respData, err := resp.Marshal()
	if err != nil {
		s.logger.Error("marshal ipc response", "error", err)
		return
	}
	respData = append(respData, '\n')
	if _, err := conn.Write(respData); err != nil {
		s.logger.Debug("ipc write failed", "error", err)
	}

	if req != nil && req.Command == CommandQuit && resp.Status == StatusOK {
		s.ctrl.Quit()
	}
}

// handleCommand processes an IPC command and returns a response
func (s *Server) handleCommand(req *Request) *Response {
	s.logger.Debug("ipc request", "command", string(req.Command))

	switch req.Command {
	case CommandGetStatus:
		return ok(s.ctrl.Status())
	case CommandPause:
		var p OutputPayload
		if err := decodePayload(req.Payload, &p); err != nil {
			return NewErrorResponse(err.Error())
		}
		return result(s.ctrl.Pause(p.Output))
	case CommandResume:
		var p OutputPayload
		if err := decodePayload(req.Payload, &p); err != nil {
			return NewErrorResponse(err.Error())
		}
		return result(s.ctrl.Resume(p.Output))
	case CommandReload:
		return result(s.ctrl.Reload())
	case CommandSetLayout:
		var p SetLayoutPayload
		if err := decodePayload(req.Payload, &p); err != nil {
			return NewErrorResponse(err.Error())
		}
		if p.Layout == "" {
			return NewErrorResponse("layout is required")
		}
		return result(s.ctrl.SetLayout(p.Output, p.Layout))
	case CommandSwitchSource:
		var p SwitchSourcePayload
		if err := decodePayload(req.Payload, &p); err != nil {
			return NewErrorResponse(err.Error())
		}
		if p.Source.IsZero() {
			return NewErrorResponse("source is required")
		}
		return result(s.ctrl.SwitchSource(p.Output, p.Source))
	case CommandSetFPS:
		var p SetFPSPayload
		if err := decodePayload(req.Payload, &p); err != nil {
			return NewErrorResponse(err.Error())
		}
		if p.FPS < 0 {
			return NewErrorResponse("fps must be >= 0")
		}
		return result(s.ctrl.SetFPS(p.Output, p.FPS))
	case CommandGetEvents:
		var p GetEventsPayload
		if err := decodePayload(req.Payload, &p); err != nil {
			return NewErrorResponse(err.Error())
		}
		events := s.ctrl.Events(p.Since)
		if events == nil {
			events = []Event{}
		}
		return ok(EventsData{Events: events})
	case CommandQuit:
		return ok(nil)
	default:
		return NewErrorResponse(fmt.Sprintf("unknown command: %s", req.Command))
	}
}

func decodePayload(raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	return nil
}

func ok(data any) *Response {
	resp, err := NewOKResponse(data)
	if err != nil {
		return NewErrorResponse(err.Error())
	}
	return resp
}

func result(err error) *Response {
	if err != nil {
		return NewErrorResponse(err.Error())
	}
	return ok(nil)
}

// Stop gracefully shuts down the IPC server
func (s *Server) Stop() {
	s.shutdownMu.Lock()
	if s.shuttingDown {
		s.shutdownMu.Unlock()
		return
	}
	s.shuttingDown = true
	s.shutdownMu.Unlock()

	if s.listener != nil {
		s.listener.Close()
	}
	s.wg.Wait()
	os.Remove(s.socketPath)
}
