package ipc

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/1broseidon/vidwall/internal/config"
	"github.com/1broseidon/vidwall/internal/scheduler"
)

// CommandType represents different IPC command types
type CommandType string

const (
	CommandGetStatus    CommandType = "GET_STATUS"
	CommandPause        CommandType = "PAUSE"
	CommandResume       CommandType = "RESUME"
	CommandReload       CommandType = "RELOAD"
	CommandSetLayout    CommandType = "SET_LAYOUT"
	CommandSwitchSource CommandType = "SWITCH_SOURCE"
	CommandSetFPS       CommandType = "SET_FPS"
	CommandGetEvents    CommandType = "GET_EVENTS"
	CommandQuit         CommandType = "QUIT"
)

const (
	StatusOK    = "OK"
	StatusError = "ERROR"
)

// Request represents an IPC request from client to server
type Request struct {
	Command CommandType     `json:"command"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Response represents an IPC response from server to client
type Response struct {
	Status string          `json:"status"` // "OK" or "ERROR"
	Data   json.RawMessage `json:"data,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// StatusData represents the data returned by GET_STATUS
type StatusData struct {
	UptimeSeconds int64          `json:"uptime_seconds"`
	Compositor    string         `json:"compositor"`
	Backend       string         `json:"backend"`
	Fallback      string         `json:"fallback,omitempty"`
	OnBattery     bool           `json:"on_battery"`
	ConfigFile    string         `json:"config_file,omitempty"`
	Sessions      int            `json:"sessions"`
	Outputs       []OutputStatus `json:"outputs"`
}

// OutputStatus is one output as seen by the daemon.
type OutputStatus struct {
	Name      string            `json:"name"`
	Match     string            `json:"match,omitempty"`
	Source    string            `json:"source,omitempty"`
	Layout    config.Layout     `json:"layout,omitempty"`
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	Scale     float64           `json:"scale"`
	RefreshHz float64           `json:"refresh_hz,omitempty"`
	Active    bool              `json:"active"`
	Reason    string            `json:"reason,omitempty"`
	Scheduler *scheduler.Status `json:"scheduler,omitempty"`
}

// Event is a status change published by the daemon.
type Event struct {
	ID       uint64    `json:"id"`
	Time     time.Time `json:"time"`
	Output   string    `json:"output"`
	State    string    `json:"state"`
	Reason   string    `json:"reason,omitempty"`
	Skips    uint64    `json:"skips"`
	Fallback string    `json:"fallback,omitempty"`
}

// OutputPayload targets one output; an empty name means all outputs.
type OutputPayload struct {
	Output string `json:"output,omitempty"`
}

type SetLayoutPayload struct {
	Output string        `json:"output,omitempty"`
	Layout config.Layout `json:"layout"`
}

type SwitchSourcePayload struct {
	Output string        `json:"output,omitempty"`
	Source config.Source `json:"source"`
}

type SetFPSPayload struct {
	Output string `json:"output,omitempty"`
	FPS    int    `json:"fps"`
}

type GetEventsPayload struct {
	Since uint64 `json:"since"`
}

type EventsData struct {
	Events []Event `json:"events"`
}

// NewOKResponse creates a successful response with optional data
func NewOKResponse(data interface{}) (*Response, error) {
	var dataBytes json.RawMessage
	if data != nil {
		bytes, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal response data: %w", err)
		}
		dataBytes = bytes
	}

	return &Response{
		Status: StatusOK,
		Data:   dataBytes,
	}, nil
}

// NewErrorResponse creates an error response with a message
func NewErrorResponse(errMsg string) *Response {
	return &Response{
		Status: StatusError,
		Error:  errMsg,
	}
}

// ParseRequest parses a request from JSON bytes
func ParseRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to parse request: %w", err)
	}
	if req.Command == "" {
		return nil, fmt.Errorf("request has no command")
	}
	return &req, nil
}

// Marshal converts a response to JSON bytes
func (r *Response) Marshal() ([]byte, error) {
	return json.Marshal(r)
}
