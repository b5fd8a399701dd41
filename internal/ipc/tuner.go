package ipc

import (
	"context"
	"fmt"
	"time"

	"vtunerd/internal/frontend"
	"vtunerd/internal/pidtab"
	"vtunerd/internal/registry"
)

// tunerService is the surface used by the stack side.
type tunerService struct {
	conn *connState
}

func (s *tunerService) device(req TunerRequest) (*registry.Device, error) {
	return s.conn.daemon.Device(req.Device)
}

// withFrontend runs op against the device's attached frontend.
func (s *tunerService) withFrontend(req TunerRequest, op func(ctx context.Context, fe *frontend.Frontend) error) error {
	dev, err := s.device(req)
	if err != nil {
		return err
	}
	fe, err := dev.Frontend()
	if err != nil {
		return err
	}
	ctx, cancel := s.conn.callContext(req.TimeoutMillis)
	defer cancel()
	return op(ctx, fe)
}

func (s *tunerService) Info(req TunerRequest, resp *InfoResponse) (err error) {
	defer func(start time.Time) { s.conn.observe("Tuner.Info", start, err) }(time.Now())
	return s.withFrontend(req, func(_ context.Context, fe *frontend.Frontend) error {
		info := fe.Info()
		resp.Device = req.Device
		resp.System = fe.System()
		resp.Capabilities = info
		resp.CapNames = info.Caps.Names()
		return nil
	})
}

func (s *tunerService) SetFrontend(req SetFrontendRequest, _ *Empty) (err error) {
	defer func(start time.Time) { s.conn.observe("Tuner.SetFrontend", start, err) }(time.Now())
	return s.withFrontend(req.TunerRequest, func(ctx context.Context, fe *frontend.Frontend) error {
		return fe.SetFrontend(ctx, req.Params)
	})
}

func (s *tunerService) GetFrontend(req TunerRequest, resp *FrontendResponse) (err error) {
	defer func(start time.Time) { s.conn.observe("Tuner.GetFrontend", start, err) }(time.Now())
	return s.withFrontend(req, func(ctx context.Context, fe *frontend.Frontend) error {
		params, err := fe.GetFrontend(ctx)
		if err != nil {
			return err
		}
		resp.Params = params
		return nil
	})
}

func (s *tunerService) ReadSignal(req TunerRequest, resp *SignalResponse) (err error) {
	defer func(start time.Time) { s.conn.observe("Tuner.ReadSignal", start, err) }(time.Now())
	return s.withFrontend(req, func(ctx context.Context, fe *frontend.Frontend) error {
		signal, err := fe.ReadSignal(ctx)
		if err != nil {
			return err
		}
		resp.Signal = signal
		resp.Locked = signal.Status.Locked()
		return nil
	})
}

func (s *tunerService) SetTone(req ToneRequest, _ *Empty) (err error) {
	defer func(start time.Time) { s.conn.observe("Tuner.SetTone", start, err) }(time.Now())
	return s.withFrontend(req.TunerRequest, func(ctx context.Context, fe *frontend.Frontend) error {
		return fe.SetTone(ctx, req.Tone)
	})
}

func (s *tunerService) SetVoltage(req VoltageRequest, _ *Empty) (err error) {
	defer func(start time.Time) { s.conn.observe("Tuner.SetVoltage", start, err) }(time.Now())
	return s.withFrontend(req.TunerRequest, func(ctx context.Context, fe *frontend.Frontend) error {
		return fe.SetVoltage(ctx, req.Voltage)
	})
}

func (s *tunerService) EnableHighVoltage(req HighVoltageRequest, _ *Empty) (err error) {
	defer func(start time.Time) { s.conn.observe("Tuner.EnableHighVoltage", start, err) }(time.Now())
	return s.withFrontend(req.TunerRequest, func(ctx context.Context, fe *frontend.Frontend) error {
		return fe.EnableHighVoltage(ctx, req.Enable)
	})
}

func (s *tunerService) SendDiSEqC(req DiSEqCRequest, _ *Empty) (err error) {
	defer func(start time.Time) { s.conn.observe("Tuner.SendDiSEqC", start, err) }(time.Now())
	return s.withFrontend(req.TunerRequest, func(ctx context.Context, fe *frontend.Frontend) error {
		return fe.SendDiSEqCMasterCmd(ctx, req.Data)
	})
}

func (s *tunerService) SendBurst(req BurstRequest, _ *Empty) (err error) {
	defer func(start time.Time) { s.conn.observe("Tuner.SendBurst", start, err) }(time.Now())
	return s.withFrontend(req.TunerRequest, func(ctx context.Context, fe *frontend.Frontend) error {
		return fe.SendDiSEqCBurst(ctx, req.Burst)
	})
}

func (s *tunerService) SetProperty(req PropertyRequest, _ *Empty) (err error) {
	defer func(start time.Time) { s.conn.observe("Tuner.SetProperty", start, err) }(time.Now())
	return s.withFrontend(req.TunerRequest, func(ctx context.Context, fe *frontend.Frontend) error {
		return fe.SetProperty(ctx, req.Cmd, req.Data)
	})
}

func (s *tunerService) GetProperty(req PropertyRequest, resp *PropertyResponse) (err error) {
	defer func(start time.Time) { s.conn.observe("Tuner.GetProperty", start, err) }(time.Now())
	return s.withFrontend(req.TunerRequest, func(ctx context.Context, fe *frontend.Frontend) error {
		data, err := fe.GetProperty(ctx, req.Cmd)
		if err != nil {
			return err
		}
		resp.Data = data
		return nil
	})
}

func (s *tunerService) StartFeed(req FeedRequest, resp *FeedResponse) (err error) {
	defer func(start time.Time) { s.conn.observe("Tuner.StartFeed", start, err) }(time.Now())
	dev, err := s.device(req.TunerRequest)
	if err != nil {
		return err
	}
	ctx, cancel := s.conn.callContext(req.TimeoutMillis)
	defer cancel()
	if err := dev.StartFeed(ctx, req.PID, pidtab.ParseFeedKind(req.Kind)); err != nil {
		return fmt.Errorf("start feed %#x: %w", req.PID, err)
	}
	resp.PIDs = dev.PIDs()
	return nil
}

func (s *tunerService) StopFeed(req FeedRequest, resp *FeedResponse) (err error) {
	defer func(start time.Time) { s.conn.observe("Tuner.StopFeed", start, err) }(time.Now())
	dev, err := s.device(req.TunerRequest)
	if err != nil {
		return err
	}
	ctx, cancel := s.conn.callContext(req.TimeoutMillis)
	defer cancel()
	if err := dev.StopFeed(ctx, req.PID); err != nil {
		return fmt.Errorf("stop feed %#x: %w", req.PID, err)
	}
	resp.PIDs = dev.PIDs()
	return nil
}
