package frontend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"vtunerd/internal/dvbapi"
	"vtunerd/internal/logging"
	"vtunerd/internal/message"
)

var (
	// ErrInvalidConfiguration reports an unset delivery system or parameters
	// that do not match it.
	ErrInvalidConfiguration = errors.New("invalid frontend configuration")
	// ErrReleased is returned by operations on a released frontend.
	ErrReleased = errors.New("frontend released")
)

// Submitter is the producer side of a device mailbox.
type Submitter interface {
	Submit(ctx context.Context, msg message.Message, expectResponse bool) (*message.Message, error)
}

// Options tune Attach.
type Options struct {
	Profiles Profiles
	Logger   *slog.Logger
}

// Frontend forwards tuner operations to the control process and decodes
// its answers.
type Frontend struct {
	out    Submitter
	system DeliverySystem
	caps   Capabilities
	logger *slog.Logger

	mu       sync.RWMutex
	released bool
}

// Attach binds a frontend for system to out.
func Attach(out Submitter, system DeliverySystem, opts Options) (*Frontend, error) {
	if out == nil {
		return nil, fmt.Errorf("%w: nil submitter", ErrInvalidConfiguration)
	}
	caps, err := opts.Profiles.Lookup(system)
	if err != nil {
		return nil, err
	}
	logger := logging.NewComponentLogger(opts.Logger, "frontend")
	logger.Debug("frontend attached",
		logging.String("system", system.String()),
		logging.String("name", caps.Name),
	)
	return &Frontend{out: out, system: system, caps: caps, logger: logger}, nil
}

// System returns the delivery system the frontend was attached for.
func (f *Frontend) System() DeliverySystem {
	return f.system
}

// Info returns the advertised capability descriptor.
func (f *Frontend) Info() Capabilities {
	return f.caps
}

// Release detaches the frontend. Further operations fail with ErrReleased.
// Releasing twice is a no-op.
func (f *Frontend) Release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.released {
		return
	}
	f.released = true
	f.logger.Debug("frontend released", logging.String("system", f.system.String()))
}

// Released reports whether Release was called.
func (f *Frontend) Released() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.released
}

func (f *Frontend) exchange(ctx context.Context, msg message.Message) (message.Message, error) {
	f.mu.RLock()
	released := f.released
	f.mu.RUnlock()
	if released {
		return message.Message{}, fmt.Errorf("%s: %w", msg.Kind, ErrReleased)
	}
	resp, err := f.out.Submit(ctx, msg, true)
	if err != nil {
		return message.Message{}, fmt.Errorf("%s: %w", msg.Kind, err)
	}
	if resp == nil {
		return message.Message{}, fmt.Errorf("%s: empty response", msg.Kind)
	}
	return *resp, nil
}

// ReadStatus asks the control process for the lock status.
func (f *Frontend) ReadStatus(ctx context.Context) (dvbapi.Status, error) {
	resp, err := f.exchange(ctx, message.New(message.KindReadStatus))
	if err != nil {
		return 0, err
	}
	return dvbapi.Status(resp.Body.Status), nil
}

// ReadBER returns the bit error rate.
func (f *Frontend) ReadBER(ctx context.Context) (uint32, error) {
	resp, err := f.exchange(ctx, message.New(message.KindReadBER))
	if err != nil {
		return 0, err
	}
	return resp.Body.BER, nil
}

// ReadSignalStrength returns the signal strength.
func (f *Frontend) ReadSignalStrength(ctx context.Context) (uint16, error) {
	resp, err := f.exchange(ctx, message.New(message.KindReadSignalStrength))
	if err != nil {
		return 0, err
	}
	return resp.Body.SignalStrength, nil
}

// ReadSNR returns the signal to noise ratio.
func (f *Frontend) ReadSNR(ctx context.Context) (uint16, error) {
	resp, err := f.exchange(ctx, message.New(message.KindReadSNR))
	if err != nil {
		return 0, err
	}
	return resp.Body.SNR, nil
}

// ReadUCBlocks returns the uncorrected block count.
func (f *Frontend) ReadUCBlocks(ctx context.Context) (uint32, error) {
	resp, err := f.exchange(ctx, message.New(message.KindReadUCBlocks))
	if err != nil {
		return 0, err
	}
	return resp.Body.UCBlocks, nil
}

// Signal is one reading of every signal counter.
type Signal struct {
	Status         dvbapi.Status `json:"status"`
	BER            uint32        `json:"ber"`
	SignalStrength uint16        `json:"signal_strength"`
	SNR            uint16        `json:"snr"`
	UCBlocks       uint32        `json:"ucblocks"`
}

// ReadSignal performs the five reads in order and stops at the first error.
func (f *Frontend) ReadSignal(ctx context.Context) (Signal, error) {
	var (
		sig Signal
		err error
	)
	if sig.Status, err = f.ReadStatus(ctx); err != nil {
		return sig, err
	}
	if sig.BER, err = f.ReadBER(ctx); err != nil {
		return sig, err
	}
	if sig.SignalStrength, err = f.ReadSignalStrength(ctx); err != nil {
		return sig, err
	}
	if sig.SNR, err = f.ReadSNR(ctx); err != nil {
		return sig, err
	}
	if sig.UCBlocks, err = f.ReadUCBlocks(ctx); err != nil {
		return sig, err
	}
	return sig, nil
}

// GetFrontend asks the control process for the current tuning parameters.
func (f *Frontend) GetFrontend(ctx context.Context) (Params, error) {
	if f.system == Unset {
		return Params{}, fmt.Errorf("%w: delivery system not set", ErrInvalidConfiguration)
	}
	resp, err := f.exchange(ctx, message.New(message.KindGetFrontend))
	if err != nil {
		return Params{}, err
	}
	return Decode(f.system, resp.Body.Frontend)
}

// SetFrontend tunes. S2 parameters on a Satellite2 device are packed into
// the composite FEC and inversion flags first.
func (f *Frontend) SetFrontend(ctx context.Context, p Params) error {
	wire, err := Encode(f.system, p)
	if err != nil {
		f.logger.Warn("tune rejected",
			logging.String("system", f.system.String()),
			logging.Error(err),
			logging.String(logging.FieldEventType, "frontend_invalid_params"),
			logging.String(logging.FieldErrorHint, "send parameters matching the device delivery system"),
			logging.String(logging.FieldImpact, "tune request not forwarded"),
		)
		return err
	}
	msg := message.New(message.KindSetFrontend)
	msg.Body.Frontend = wire
	_, err = f.exchange(ctx, msg)
	return err
}

// SetTone switches the 22kHz tone.
func (f *Frontend) SetTone(ctx context.Context, tone dvbapi.Tone) error {
	msg := message.New(message.KindSetTone)
	msg.Body.Tone = uint8(tone)
	_, err := f.exchange(ctx, msg)
	return err
}

// SetVoltage selects the LNB supply voltage.
func (f *Frontend) SetVoltage(ctx context.Context, voltage dvbapi.Voltage) error {
	msg := message.New(message.KindSetVoltage)
	msg.Body.Voltage = uint8(voltage)
	_, err := f.exchange(ctx, msg)
	return err
}

// EnableHighVoltage toggles the +1V LNB compensation.
func (f *Frontend) EnableHighVoltage(ctx context.Context, enable bool) error {
	msg := message.New(message.KindEnableHighVoltage)
	if enable {
		msg.Body.HighVoltage = 1
	}
	_, err := f.exchange(ctx, msg)
	return err
}

// SendDiSEqCMasterCmd forwards a DiSEqC master command of 1 to 6 bytes.
func (f *Frontend) SendDiSEqCMasterCmd(ctx context.Context, raw []byte) error {
	cmd, err := message.NewDiSEqCCmd(raw)
	if err != nil {
		return err
	}
	msg := message.New(message.KindSendDiSEqCMsg)
	msg.Body.DiSEqC = cmd
	_, err = f.exchange(ctx, msg)
	return err
}

// SendDiSEqCBurst sends a tone burst.
func (f *Frontend) SendDiSEqCBurst(ctx context.Context, burst dvbapi.MiniCmd) error {
	msg := message.New(message.KindSendDiSEqCBurst)
	msg.Body.Burst = uint8(burst)
	_, err := f.exchange(ctx, msg)
	return err
}

// SetProperty forwards an extended property write.
func (f *Frontend) SetProperty(ctx context.Context, cmd, data uint32) error {
	msg := message.New(message.KindSetProperty)
	msg.Body.Property = message.Property{Cmd: cmd, Data: data}
	_, err := f.exchange(ctx, msg)
	return err
}

// GetProperty reads an extended property.
func (f *Frontend) GetProperty(ctx context.Context, cmd uint32) (uint32, error) {
	msg := message.New(message.KindGetProperty)
	msg.Body.Property.Cmd = cmd
	resp, err := f.exchange(ctx, msg)
	if err != nil {
		return 0, err
	}
	return resp.Body.Property.Data, nil
}
