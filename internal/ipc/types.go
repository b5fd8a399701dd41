package ipc

import (
	"vtunerd/internal/daemon"
	"vtunerd/internal/dvbapi"
	"vtunerd/internal/frontend"
	"vtunerd/internal/message"
	"vtunerd/internal/sessionlog"
)

// Empty is the reply of calls that return nothing.
type Empty struct{}

// OpenSessionRequest attaches a control session to a device.
type OpenSessionRequest struct {
	Device int `json:"device"`
}

// OpenSessionResponse identifies the new session.
type OpenSessionResponse struct {
	SessionID string `json:"session_id"`
	Device    int    `json:"device"`
}

// SessionRequest addresses an open control session.
type SessionRequest struct {
	SessionID string `json:"session_id"`
}

// GetMessageRequest waits for the next request of the session's device. A
// positive TimeoutMillis bounds the wait.
type GetMessageRequest struct {
	SessionID     string `json:"session_id"`
	TimeoutMillis int    `json:"timeout_millis,omitempty"`
}

// GetMessageResponse carries the taken request. Timeout is set when the wait
// expired; Closed is set when the device has no sessions left.
type GetMessageResponse struct {
	Message message.Message `json:"message"`
	Timeout bool            `json:"timeout,omitempty"`
	Closed  bool            `json:"closed,omitempty"`
}

// SetResponseRequest answers the last taken request.
type SetResponseRequest struct {
	SessionID string          `json:"session_id"`
	Message   message.Message `json:"message"`
}

// SetTypeRequest configures the delivery system by name.
type SetTypeRequest struct {
	SessionID string `json:"session_id"`
	Type      string `json:"type"`
}

// SetNameRequest sets the display name of the session's device.
type SetNameRequest struct {
	SessionID string `json:"session_id"`
	Name      string `json:"name"`
}

// SetInfoRequest overrides the capability descriptor of one system.
type SetInfoRequest struct {
	SessionID    string                  `json:"session_id"`
	System       frontend.DeliverySystem `json:"system"`
	Capabilities frontend.Capabilities   `json:"capabilities"`
	CapNames     []string                `json:"caps,omitempty"`
}

// WriteTSRequest pushes transport stream bytes into the demux.
type WriteTSRequest struct {
	SessionID string `json:"session_id"`
	Data      []byte `json:"data"`
}

// WriteTSResponse reports how many bytes were accepted.
type WriteTSResponse struct {
	Accepted int `json:"accepted"`
}

// TunerRequest addresses a device from the stack side. A positive
// TimeoutMillis bounds the wait for the control process.
type TunerRequest struct {
	Device        int `json:"device"`
	TimeoutMillis int `json:"timeout_millis,omitempty"`
}

// InfoResponse describes the attached frontend.
type InfoResponse struct {
	Device       int                     `json:"device"`
	System       frontend.DeliverySystem `json:"system"`
	Capabilities frontend.Capabilities   `json:"capabilities"`
	CapNames     []string                `json:"caps"`
}

// SetFrontendRequest tunes the device.
type SetFrontendRequest struct {
	TunerRequest
	Params frontend.Params `json:"params"`
}

// FrontendResponse carries tuning parameters reported by the control process.
type FrontendResponse struct {
	Params frontend.Params `json:"params"`
}

// SignalResponse carries the status and quality readings.
type SignalResponse struct {
	frontend.Signal
	Locked bool `json:"locked"`
}

// ToneRequest sets the 22kHz tone.
type ToneRequest struct {
	TunerRequest
	Tone dvbapi.Tone `json:"tone"`
}

// VoltageRequest sets the LNB voltage.
type VoltageRequest struct {
	TunerRequest
	Voltage dvbapi.Voltage `json:"voltage"`
}

// HighVoltageRequest toggles the LNB voltage boost.
type HighVoltageRequest struct {
	TunerRequest
	Enable bool `json:"enable"`
}

// DiSEqCRequest sends a DiSEqC master command.
type DiSEqCRequest struct {
	TunerRequest
	Data []byte `json:"data"`
}

// BurstRequest sends a mini DiSEqC burst.
type BurstRequest struct {
	TunerRequest
	Burst dvbapi.MiniCmd `json:"burst"`
}

// PropertyRequest sets or reads an extended property.
type PropertyRequest struct {
	TunerRequest
	Cmd  uint32 `json:"cmd"`
	Data uint32 `json:"data,omitempty"`
}

// PropertyResponse carries a property value.
type PropertyResponse struct {
	Data uint32 `json:"data"`
}

// FeedRequest starts or stops a demux feed.
type FeedRequest struct {
	TunerRequest
	PID  uint16 `json:"pid"`
	Kind string `json:"kind,omitempty"`
}

// FeedResponse reports the PID set after the change.
type FeedResponse struct {
	PIDs []uint16 `json:"pids"`
}

// StatusResponse is the daemon status snapshot.
type StatusResponse = daemon.Status

// SessionsRequest filters the session journal. A negative device selects all.
type SessionsRequest struct {
	Device int `json:"device"`
	Limit  int `json:"limit"`
}

// SessionsResponse lists journaled sessions, newest first.
type SessionsResponse struct {
	Sessions []sessionlog.Record `json:"sessions"`
}

// StopResponse indicates stop result.
type StopResponse struct {
	Stopped bool `json:"stopped"`
}
