package relay

import (
	"testing"

	"vtunerd/internal/dvbapi"
	"vtunerd/internal/message"
)

func TestTunerLocksAfterTune(t *testing.T) {
	tuner := NewTuner()

	status, _ := tuner.Answer(message.New(message.KindReadStatus))
	if dvbapi.Status(status.Body.Status).Locked() {
		t.Fatal("expected idle tuner to be unlocked")
	}

	tune := message.New(message.KindSetFrontend)
	tune.Body.Frontend.Frequency = 1_100_000
	tune.Body.Frontend.QPSK.SymbolRate = 22_000_000
	if _, ok := tuner.Answer(tune); !ok {
		t.Fatal("expected set_frontend to take a response")
	}

	status, _ = tuner.Answer(message.New(message.KindReadStatus))
	if !dvbapi.Status(status.Body.Status).Locked() {
		t.Fatalf("expected lock, got %s", dvbapi.Status(status.Body.Status))
	}
	snr, _ := tuner.Answer(message.New(message.KindReadSNR))
	if snr.Body.SNR != lockedSNR {
		t.Fatalf("expected snr %#x, got %#x", lockedSNR, snr.Body.SNR)
	}
	params, _ := tuner.Answer(message.New(message.KindGetFrontend))
	if params.Body.Frontend.Frequency != 1_100_000 || params.Body.Frontend.QPSK.SymbolRate != 22_000_000 {
		t.Fatalf("unexpected echoed params: %#v", params.Body.Frontend)
	}

	off := message.New(message.KindSetVoltage)
	off.Body.Voltage = uint8(dvbapi.VoltageOff)
	tuner.Answer(off)
	if tuner.State().Locked {
		t.Fatal("expected lock lost with LNB power off")
	}
}

func TestTunerRecordsPIDListsWithoutResponse(t *testing.T) {
	tuner := NewTuner()
	msg := message.New(message.KindPIDList)
	msg.Body.PIDList[0] = 0x00
	msg.Body.PIDList[1] = 0x11
	msg.Body.PIDCount = 2

	if _, ok := tuner.Answer(msg); ok {
		t.Fatal("pid list must not produce a response")
	}
	state := tuner.State()
	if len(state.PIDs) != 2 || state.PIDs[1] != 0x11 || state.PIDLists != 1 {
		t.Fatalf("unexpected state: %#v", state)
	}
	if state.Answered != 0 {
		t.Fatalf("expected no answered requests, got %d", state.Answered)
	}
}

func TestTunerPropertiesAndDiSEqC(t *testing.T) {
	tuner := NewTuner()

	set := message.New(message.KindSetProperty)
	set.Body.Property = message.Property{Cmd: 9, Data: 1234}
	tuner.Answer(set)

	get := message.New(message.KindGetProperty)
	get.Body.Property.Cmd = 9
	resp, _ := tuner.Answer(get)
	if resp.Kind != message.KindGetProperty || resp.Body.Property.Data != 1234 {
		t.Fatalf("unexpected property response: %#v", resp)
	}

	cmd, err := message.NewDiSEqCCmd([]byte{0xE0, 0x10, 0x38, 0xF3})
	if err != nil {
		t.Fatalf("NewDiSEqCCmd: %v", err)
	}
	diseqc := message.New(message.KindSendDiSEqCMsg)
	diseqc.Body.DiSEqC = cmd
	tuner.Answer(diseqc)

	burst := message.New(message.KindSendDiSEqCBurst)
	burst.Body.Burst = uint8(dvbapi.MiniB)
	tuner.Answer(burst)

	state := tuner.State()
	if len(state.LastDiSEqC) != 4 || state.LastDiSEqC[3] != 0xF3 {
		t.Fatalf("unexpected diseqc: % x", state.LastDiSEqC)
	}
	if state.Burst != dvbapi.MiniB || state.Answered != 4 {
		t.Fatalf("unexpected state: %#v", state)
	}
}
