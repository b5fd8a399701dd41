package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"

	"vtunerd/internal/dvbapi"
	"vtunerd/internal/frontend"
	"vtunerd/internal/message"
)

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection. Control sessions opened through
// this client are closed by the daemon.
func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *Client) call(method string, req, resp any) error {
	return c.client.Call(method, req, resp)
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.call("Daemon.Status", Empty{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Sessions lists journaled control sessions.
func (c *Client) Sessions(device, limit int) (*SessionsResponse, error) {
	var resp SessionsResponse
	if err := c.call("Daemon.Sessions", SessionsRequest{Device: device, Limit: limit}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stop requests the daemon to shut down.
func (c *Client) Stop() (*StopResponse, error) {
	var resp StopResponse
	if err := c.call("Daemon.Stop", Empty{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// OpenSession attaches a control session to device.
func (c *Client) OpenSession(device int) (*OpenSessionResponse, error) {
	var resp OpenSessionResponse
	if err := c.call("Control.OpenSession", OpenSessionRequest{Device: device}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CloseSession detaches a control session.
func (c *Client) CloseSession(sessionID string) error {
	return c.call("Control.CloseSession", SessionRequest{SessionID: sessionID}, &Empty{})
}

// GetMessage waits up to timeout for the next request; zero waits until a
// request arrives or the session closes.
func (c *Client) GetMessage(sessionID string, timeout time.Duration) (*GetMessageResponse, error) {
	var resp GetMessageResponse
	req := GetMessageRequest{SessionID: sessionID, TimeoutMillis: int(timeout / time.Millisecond)}
	if err := c.call("Control.GetMessage", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SetResponse answers the last taken request.
func (c *Client) SetResponse(sessionID string, msg message.Message) error {
	return c.call("Control.SetResponse", SetResponseRequest{SessionID: sessionID, Message: msg}, &Empty{})
}

// SetType configures the delivery system of the session's device.
func (c *Client) SetType(sessionID, name string) error {
	return c.call("Control.SetType", SetTypeRequest{SessionID: sessionID, Type: name}, &Empty{})
}

// SetName sets the display name of the session's device.
func (c *Client) SetName(sessionID, name string) error {
	return c.call("Control.SetName", SetNameRequest{SessionID: sessionID, Name: name}, &Empty{})
}

// SetInfo overrides the capability descriptor of system.
func (c *Client) SetInfo(sessionID string, system frontend.DeliverySystem, caps frontend.Capabilities) error {
	req := SetInfoRequest{SessionID: sessionID, System: system, Capabilities: caps, CapNames: caps.Caps.Names()}
	return c.call("Control.SetInfo", req, &Empty{})
}

// WriteTS pushes transport stream bytes and returns how many were accepted.
func (c *Client) WriteTS(sessionID string, data []byte) (int, error) {
	var resp WriteTSResponse
	if err := c.call("Control.WriteTS", WriteTSRequest{SessionID: sessionID, Data: data}, &resp); err != nil {
		return resp.Accepted, err
	}
	return resp.Accepted, nil
}

// Info describes the frontend attached to a device.
func (c *Client) Info(target TunerRequest) (*InfoResponse, error) {
	var resp InfoResponse
	if err := c.call("Tuner.Info", target, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SetFrontend tunes a device.
func (c *Client) SetFrontend(target TunerRequest, params frontend.Params) error {
	return c.call("Tuner.SetFrontend", SetFrontendRequest{TunerRequest: target, Params: params}, &Empty{})
}

// GetFrontend reads the tuning parameters back.
func (c *Client) GetFrontend(target TunerRequest) (*FrontendResponse, error) {
	var resp FrontendResponse
	if err := c.call("Tuner.GetFrontend", target, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ReadSignal reads status and signal quality.
func (c *Client) ReadSignal(target TunerRequest) (*SignalResponse, error) {
	var resp SignalResponse
	if err := c.call("Tuner.ReadSignal", target, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SetTone sets the 22kHz tone.
func (c *Client) SetTone(target TunerRequest, tone dvbapi.Tone) error {
	return c.call("Tuner.SetTone", ToneRequest{TunerRequest: target, Tone: tone}, &Empty{})
}

// SetVoltage sets the LNB voltage.
func (c *Client) SetVoltage(target TunerRequest, voltage dvbapi.Voltage) error {
	return c.call("Tuner.SetVoltage", VoltageRequest{TunerRequest: target, Voltage: voltage}, &Empty{})
}

// EnableHighVoltage toggles the LNB voltage boost.
func (c *Client) EnableHighVoltage(target TunerRequest, enable bool) error {
	return c.call("Tuner.EnableHighVoltage", HighVoltageRequest{TunerRequest: target, Enable: enable}, &Empty{})
}

// SendDiSEqC sends a DiSEqC master command.
func (c *Client) SendDiSEqC(target TunerRequest, data []byte) error {
	return c.call("Tuner.SendDiSEqC", DiSEqCRequest{TunerRequest: target, Data: data}, &Empty{})
}

// SendBurst sends a mini DiSEqC burst.
func (c *Client) SendBurst(target TunerRequest, burst dvbapi.MiniCmd) error {
	return c.call("Tuner.SendBurst", BurstRequest{TunerRequest: target, Burst: burst}, &Empty{})
}

// SetProperty sets an extended property.
func (c *Client) SetProperty(target TunerRequest, cmd, data uint32) error {
	return c.call("Tuner.SetProperty", PropertyRequest{TunerRequest: target, Cmd: cmd, Data: data}, &Empty{})
}

// GetProperty reads an extended property.
func (c *Client) GetProperty(target TunerRequest, cmd uint32) (uint32, error) {
	var resp PropertyResponse
	if err := c.call("Tuner.GetProperty", PropertyRequest{TunerRequest: target, Cmd: cmd}, &resp); err != nil {
		return 0, err
	}
	return resp.Data, nil
}

// StartFeed registers a demux feed and returns the resulting PID set.
func (c *Client) StartFeed(target TunerRequest, pid uint16, kind string) ([]uint16, error) {
	var resp FeedResponse
	if err := c.call("Tuner.StartFeed", FeedRequest{TunerRequest: target, PID: pid, Kind: kind}, &resp); err != nil {
		return nil, err
	}
	return resp.PIDs, nil
}

// StopFeed removes a demux feed and returns the resulting PID set.
func (c *Client) StopFeed(target TunerRequest, pid uint16) ([]uint16, error) {
	var resp FeedResponse
	if err := c.call("Tuner.StopFeed", FeedRequest{TunerRequest: target, PID: pid}, &resp); err != nil {
		return nil, err
	}
	return resp.PIDs, nil
}
