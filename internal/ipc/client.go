package ipc

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"

	"github.com/1broseidon/vidwall/internal/config"
	"github.com/1broseidon/vidwall/internal/runtimepath"
)

// DefaultTimeout bounds one request, connect to answer.
const DefaultTimeout = 5 * time.Second

// ErrNotRunning means nothing is listening on the control socket.
var ErrNotRunning = errors.New("vidwall daemon is not running")

// DaemonError is a request the daemon understood and refused.
type DaemonError struct {
	Command CommandType
	Message string
}

func (e *DaemonError) Error() string { return "daemon error: " + e.Message }

// Client talks to a running daemon over its control socket. Each call is
// one connection carrying one request line and one response line.
type Client struct {
	socketPath string
	timeout    time.Duration
}

// NewClient returns a client for the default socket. A socket path that
// cannot be resolved shows up as ErrNotRunning on the first call.
func NewClient() *Client {
	path, _ := runtimepath.SocketPath()
	return NewClientAt(path)
}

// NewClientAt returns a client for the socket at path.
func NewClientAt(path string) *Client {
	return &Client{socketPath: path, timeout: DefaultTimeout}
}

// WithTimeout returns a copy of c with a different per-request timeout.
func (c *Client) WithTimeout(d time.Duration) *Client {
	cp := *c
	if d > 0 {
		cp.timeout = d
	}
	return &cp
}

func (c *Client) dial() (net.Conn, error) {
	if c.socketPath == "" {
		return nil, ErrNotRunning
	}
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if errors.Is(err, unix.ENOENT) || errors.Is(err, unix.ECONNREFUSED) {
		return nil, fmt.Errorf("%w (no listener at %s)", ErrNotRunning, c.socketPath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to daemon: %w", err)
	}
	return conn, nil
}

// roundTrip sends one command and returns the raw data of an OK answer.
func (c *Client) roundTrip(cmd CommandType, payload any) (json.RawMessage, error) {
	req := Request{Command: cmd}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", cmd, err)
		}
		req.Payload = raw
	}

	conn, err := c.dial()
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	if err := conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return nil, err
	}

	// Encode terminates the line with '\n', which is the request framing.
	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return nil, fmt.Errorf("failed to send %s: %w", cmd, err)
	}
	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", cmd, err)
	}
	if resp.Status == StatusError {
		return nil, &DaemonError{Command: cmd, Message: resp.Error}
	}
	return resp.Data, nil
}

// query runs cmd and decodes the answer's data into a T.
func query[T any](c *Client, cmd CommandType, payload any) (T, error) {
	var out T
	data, err := c.roundTrip(cmd, payload)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("failed to parse %s data: %w", cmd, err)
	}
	return out, nil
}

func (c *Client) command(cmd CommandType, payload any) error {
	_, err := c.roundTrip(cmd, payload)
	return err
}

// GetStatus returns the daemon's view of every output.
func (c *Client) GetStatus() (*StatusData, error) {
	st, err := query[StatusData](c, CommandGetStatus, nil)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// GetEvents returns buffered events with an ID greater than since.
func (c *Client) GetEvents(since uint64) ([]Event, error) {
	data, err := query[EventsData](c, CommandGetEvents, GetEventsPayload{Since: since})
	return data.Events, err
}

// Pause suspends one output, or all when output is empty.
func (c *Client) Pause(output string) error {
	return c.command(CommandPause, OutputPayload{Output: output})
}

func (c *Client) Resume(output string) error {
	return c.command(CommandResume, OutputPayload{Output: output})
}

// Reload asks the daemon to reread its config file.
func (c *Client) Reload() error { return c.command(CommandReload, nil) }

func (c *Client) SetLayout(output string, layout config.Layout) error {
	return c.command(CommandSetLayout, SetLayoutPayload{Output: output, Layout: layout})
}

func (c *Client) SwitchSource(output string, src config.Source) error {
	return c.command(CommandSwitchSource, SwitchSourcePayload{Output: output, Source: src})
}

// SetFPS sets a runtime fps ceiling; zero clears it.
func (c *Client) SetFPS(output string, fps int) error {
	return c.command(CommandSetFPS, SetFPSPayload{Output: output, FPS: fps})
}

// Quit stops the daemon. The answer arrives before it shuts down.
func (c *Client) Quit() error { return c.command(CommandQuit, nil) }

// Ping reports whether a daemon answers on the socket.
func (c *Client) Ping() error {
	_, err := c.GetStatus()
	return err
}
