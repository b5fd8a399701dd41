package relay

import (
	"sync"

	"vtunerd/internal/dvbapi"
	"vtunerd/internal/message"
)

// Simulated signal readings reported while locked.
const (
	lockedStrength uint16 = 0xB400
	lockedSNR      uint16 = 0x8C00
)

// Tuner is a simulated frontend that answers requests the way a healthy
// remote tuner would. It locks as soon as a frequency is set and the LNB
// is powered.
type Tuner struct {
	mu sync.Mutex

	params      message.FrontendParams
	tuned       bool
	tone        uint8
	voltage     uint8
	highVoltage bool
	lastDiSEqC  []byte
	burst       uint8
	properties  map[uint32]uint32
	pids        []uint16
	answered    uint64
	pidLists    uint64
}

// NewTuner returns an idle simulated tuner.
func NewTuner() *Tuner {
	return &Tuner{
		tone:       uint8(dvbapi.ToneOff),
		voltage:    uint8(dvbapi.Voltage13),
		properties: make(map[uint32]uint32),
	}
}

// Answer applies msg and returns the response to post. PIDList messages are
// recorded and return ok=false since they take no response.
func (t *Tuner) Answer(msg message.Message) (resp message.Message, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	resp = message.New(msg.Kind)
	switch msg.Kind {
	case message.KindPIDList:
		t.pids = msg.PIDs()
		t.pidLists++
		return resp, false
	case message.KindSetFrontend:
		t.params = msg.Body.Frontend
		t.tuned = msg.Body.Frontend.Frequency != 0
	case message.KindGetFrontend:
		resp.Body.Frontend = t.params
	case message.KindReadStatus:
		resp.Body.Status = uint32(t.statusLocked())
	case message.KindReadBER:
		if !t.lockedLocked() {
			resp.Body.BER = 0xFFFF
		}
	case message.KindReadSignalStrength:
		if t.lockedLocked() {
			resp.Body.SignalStrength = lockedStrength
		}
	case message.KindReadSNR:
		if t.lockedLocked() {
			resp.Body.SNR = lockedSNR
		}
	case message.KindReadUCBlocks:
	case message.KindSetTone:
		t.tone = msg.Body.Tone
	case message.KindSetVoltage:
		t.voltage = msg.Body.Voltage
	case message.KindEnableHighVoltage:
		t.highVoltage = msg.Body.HighVoltage != 0
	case message.KindSendDiSEqCMsg:
		t.lastDiSEqC = msg.Body.DiSEqC.Bytes()
	case message.KindSendDiSEqCBurst:
		t.burst = msg.Body.Burst
	case message.KindSetProperty:
		t.properties[msg.Body.Property.Cmd] = msg.Body.Property.Data
		resp.Body.Property = msg.Body.Property
	case message.KindGetProperty:
		resp.Body.Property.Cmd = msg.Body.Property.Cmd
		resp.Body.Property.Data = t.properties[msg.Body.Property.Cmd]
	case message.KindTypeChanged:
		t.tuned = false
		t.params = message.FrontendParams{}
	}
	t.answered++
	return resp, true
}

func (t *Tuner) lockedLocked() bool {
	return t.tuned && t.voltage != uint8(dvbapi.VoltageOff)
}

func (t *Tuner) statusLocked() dvbapi.Status {
	if !t.lockedLocked() {
		return 0
	}
	return dvbapi.HasSignal | dvbapi.HasCarrier | dvbapi.HasViterbi | dvbapi.HasSync | dvbapi.HasLock
}

// State is a copy of the simulated tuner state.
type State struct {
	Params      message.FrontendParams
	Locked      bool
	Tone        dvbapi.Tone
	Voltage     dvbapi.Voltage
	HighVoltage bool
	LastDiSEqC  []byte
	Burst       dvbapi.MiniCmd
	PIDs        []uint16
	Answered    uint64
	PIDLists    uint64
}

// State returns the current simulated state.
func (t *Tuner) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return State{
		Params:      t.params,
		Locked:      t.lockedLocked(),
		Tone:        dvbapi.Tone(t.tone),
		Voltage:     dvbapi.Voltage(t.voltage),
		HighVoltage: t.highVoltage,
		LastDiSEqC:  append([]byte(nil), t.lastDiSEqC...),
		Burst:       dvbapi.MiniCmd(t.burst),
		PIDs:        append([]uint16(nil), t.pids...),
		Answered:    t.answered,
		PIDLists:    t.pidLists,
	}
}
