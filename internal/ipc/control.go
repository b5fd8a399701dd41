package ipc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vtunerd/internal/dvbapi"
	"vtunerd/internal/logging"
	"vtunerd/internal/mailbox"
)

// controlService is the surface used by the external control process.
type controlService struct {
	conn *connState
}

func (s *controlService) OpenSession(req OpenSessionRequest, resp *OpenSessionResponse) (err error) {
	defer func(start time.Time) { s.conn.observe("Control.OpenSession", start, err) }(time.Now())
	dev, err := s.conn.daemon.Device(req.Device)
	if err != nil {
		return err
	}
	sess := dev.OpenSession(s.conn.peer)
	s.conn.addSession(sess.ID, dev)
	resp.SessionID = sess.ID
	resp.Device = sess.Device
	return nil
}

func (s *controlService) CloseSession(req SessionRequest, _ *Empty) (err error) {
	defer func(start time.Time) { s.conn.observe("Control.CloseSession", start, err) }(time.Now())
	dev, err := s.conn.removeSession(req.SessionID)
	if err != nil {
		return err
	}
	return dev.CloseSession(req.SessionID)
}

func (s *controlService) GetMessage(req GetMessageRequest, resp *GetMessageResponse) (err error) {
	defer func(start time.Time) { s.conn.observe("Control.GetMessage", start, err) }(time.Now())
	dev, err := s.conn.session(req.SessionID)
	if err != nil {
		return err
	}
	ctx, cancel := s.conn.callContext(req.TimeoutMillis)
	defer cancel()
	ctx = logging.WithSession(ctx, req.SessionID)

	msg, err := dev.Channel().TakeRequest(ctx)
	switch {
	case err == nil:
		resp.Message = msg
		return nil
	case errors.Is(err, mailbox.ErrNoConsumer):
		resp.Closed = true
		return nil
	case errors.Is(err, mailbox.ErrInterrupted) && errors.Is(ctx.Err(), context.DeadlineExceeded) && s.conn.ctx.Err() == nil:
		resp.Timeout = true
		return nil
	default:
		return err
	}
}

func (s *controlService) SetResponse(req SetResponseRequest, _ *Empty) (err error) {
	defer func(start time.Time) { s.conn.observe("Control.SetResponse", start, err) }(time.Now())
	dev, err := s.conn.session(req.SessionID)
	if err != nil {
		return err
	}
	return dev.Channel().PostResponse(req.Message)
}

func (s *controlService) SetType(req SetTypeRequest, _ *Empty) (err error) {
	defer func(start time.Time) { s.conn.observe("Control.SetType", start, err) }(time.Now())
	dev, err := s.conn.session(req.SessionID)
	if err != nil {
		return err
	}
	return dev.SetType(req.Type)
}

func (s *controlService) SetName(req SetNameRequest, _ *Empty) (err error) {
	defer func(start time.Time) { s.conn.observe("Control.SetName", start, err) }(time.Now())
	dev, err := s.conn.session(req.SessionID)
	if err != nil {
		return err
	}
	return dev.SetName(req.Name)
}

func (s *controlService) SetInfo(req SetInfoRequest, _ *Empty) (err error) {
	defer func(start time.Time) { s.conn.observe("Control.SetInfo", start, err) }(time.Now())
	dev, err := s.conn.session(req.SessionID)
	if err != nil {
		return err
	}
	caps := req.Capabilities
	if len(req.CapNames) > 0 {
		bits, unknown := dvbapi.ParseCaps(req.CapNames)
		if len(unknown) > 0 {
			return fmt.Errorf("unknown capabilities: %v", unknown)
		}
		caps.Caps = bits
	}
	if err := dev.SetInfo(req.System, caps); err != nil {
		return err
	}
	s.conn.logger.Info("frontend info overridden",
		logging.Device(dev.Index()),
		logging.String("system", req.System.String()),
		logging.String("name", caps.Name),
	)
	return nil
}

func (s *controlService) WriteTS(req WriteTSRequest, resp *WriteTSResponse) (err error) {
	defer func(start time.Time) { s.conn.observe("Control.WriteTS", start, err) }(time.Now())
	dev, err := s.conn.session(req.SessionID)
	if err != nil {
		return err
	}
	accepted, err := dev.Ingest(req.Data)
	resp.Accepted = accepted
	return err
}
