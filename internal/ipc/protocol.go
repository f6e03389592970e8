package ipc

import (
	"encoding/json"
	"fmt"
)

// CommandType represents different IPC command types
type CommandType string

const (
	CommandReload     CommandType = "RELOAD"
	CommandGetStatus  CommandType = "GET_STATUS"
	CommandList       CommandType = "LIST"
	CommandRegister   CommandType = "REGISTER"
	CommandUnregister CommandType = "UNREGISTER"
	CommandSetDebug   CommandType = "SET_DEBUG"
	CommandSubscribe  CommandType = "SUBSCRIBE"
)

// Error codes carried by ERROR responses.
const (
	CodeConflict   = "CONFLICT"
	CodeUnknownKey = "UNKNOWN_KEY"
	CodeInvalid    = "INVALID"
	CodeClosed     = "CLOSED"
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
	Code   string          `json:"code,omitempty"`
}

// StatusData represents the data returned by GET_STATUS
type StatusData struct {
	State         string   `json:"state"`
	Displays      []string `json:"displays"`
	HotkeyCount   int      `json:"hotkey_count"`
	Debug         bool     `json:"debug"`
	ConfigPath    string   `json:"config_path"`
	UptimeSeconds int64    `json:"uptime_seconds"`
	DaemonRunning bool     `json:"daemon_running"`
}

// HotkeyInfo describes one registered hotkey.
type HotkeyInfo struct {
	ID          int    `json:"id"`
	Binding     string `json:"binding"`
	Keycode     int    `json:"keycode"`
	Command     string `json:"command,omitempty"`
	Description string `json:"description,omitempty"`
	// Source is "config" or "ipc".
	Source string `json:"source"`
	// Conflict is set while another client holds the combination.
	Conflict bool `json:"conflict,omitempty"`
}

// ListData represents the data returned by LIST
type ListData struct {
	Hotkeys []HotkeyInfo `json:"hotkeys"`
}

// RegisterPayload represents the payload for REGISTER
type RegisterPayload struct {
	ID      int    `json:"id"`
	Binding string `json:"binding"`
	Command string `json:"command,omitempty"`
}

// UnregisterPayload represents the payload for UNREGISTER
type UnregisterPayload struct {
	ID int `json:"id"`
}

// SetDebugPayload represents the payload for SET_DEBUG
type SetDebugPayload struct {
	Enabled bool `json:"enabled"`
}

// EventData is one fired hotkey, streamed to SUBSCRIBE clients.
type EventData struct {
	ID      int    `json:"id"`
	Display string `json:"display"`
	Screen  int    `json:"screen"`
	X       int    `json:"x"`
	Y       int    `json:"y"`
	Time    int64  `json:"time_unix_ms"`
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
		Status: "OK",
		Data:   dataBytes,
	}, nil
}

// NewErrorResponse creates an error response with a message
func NewErrorResponse(errMsg string) *Response {
	return &Response{
		Status: "ERROR",
		Error:  errMsg,
	}
}

// NewCodedErrorResponse creates an error response with a machine readable code.
func NewCodedErrorResponse(code string, errMsg string) *Response {
	resp := NewErrorResponse(errMsg)
	resp.Code = code
	return resp
}

// ParseRequest parses a request from JSON bytes
func ParseRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to parse request: %w", err)
	}
	return &req, nil
}

// Marshal converts a response to JSON bytes
func (r *Response) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

// DaemonError is an ERROR response surfaced by the client.
type DaemonError struct {
	Code    string
	Message string
}

func (e *DaemonError) Error() string {
	return fmt.Sprintf("daemon error: %s", e.Message)
}
