package frontend

import (
	"fmt"

	"vtunerd/internal/dvbapi"
	"vtunerd/internal/message"
)

// Params is a tuning request. Exactly one variant must be set and it must
// match the device's delivery system.
type Params struct {
	Frequency   uint32             `json:"frequency"`
	Inversion   dvbapi.Inversion   `json:"inversion"`
	Satellite   *SatelliteParams   `json:"satellite,omitempty"`
	Cable       *CableParams       `json:"cable,omitempty"`
	Terrestrial *TerrestrialParams `json:"terrestrial,omitempty"`
}

// SatelliteParams tunes DVB-S and DVB-S2. Modulation, Rolloff and Pilot are
// only transmitted when S2 signalling is active on a Satellite2 device.
type SatelliteParams struct {
	SymbolRate uint32            `json:"symbol_rate"`
	FEC        dvbapi.CodeRate   `json:"fec"`
	S2         bool              `json:"s2,omitempty"`
	Modulation dvbapi.Modulation `json:"modulation,omitempty"`
	Rolloff    dvbapi.Rolloff    `json:"rolloff,omitempty"`
	Pilot      dvbapi.Pilot      `json:"pilot,omitempty"`
}

// CableParams tunes DVB-C.
type CableParams struct {
	SymbolRate uint32            `json:"symbol_rate"`
	FEC        dvbapi.CodeRate   `json:"fec"`
	Modulation dvbapi.Modulation `json:"modulation"`
}

// TerrestrialParams tunes DVB-T.
type TerrestrialParams struct {
	Bandwidth        dvbapi.Bandwidth        `json:"bandwidth"`
	CodeRateHP       dvbapi.CodeRate         `json:"code_rate_hp"`
	CodeRateLP       dvbapi.CodeRate         `json:"code_rate_lp"`
	Constellation    dvbapi.Modulation       `json:"constellation"`
	TransmissionMode dvbapi.TransmissionMode `json:"transmission_mode"`
	GuardInterval    dvbapi.GuardInterval    `json:"guard_interval"`
	Hierarchy        dvbapi.Hierarchy        `json:"hierarchy"`
}

// Inversion-field flags carrying S2 roll-off and pilot selection.
const (
	FlagRolloff25 uint8 = 0x04
	FlagRolloff20 uint8 = 0x08
	FlagPilotOn   uint8 = 0x10
	FlagPilotAuto uint8 = 0x20
)

const (
	s2FECBase  = 9
	s2PSK8Step = 9
)

// s2FECOffset holds the composite code offset per rate. 6/7 and auto have
// none and encode as the bare base.
var s2FECOffset = map[dvbapi.CodeRate]uint32{
	dvbapi.FEC12:  1,
	dvbapi.FEC23:  2,
	dvbapi.FEC34:  3,
	dvbapi.FEC56:  4,
	dvbapi.FEC78:  5,
	dvbapi.FEC89:  6,
	dvbapi.FEC35:  7,
	dvbapi.FEC45:  8,
	dvbapi.FEC910: 9,
}

// EncodeS2FEC packs modulation and code rate into the composite inner FEC
// value the control process expects for S2 signalling.
func EncodeS2FEC(mod dvbapi.Modulation, fec dvbapi.CodeRate) uint32 {
	value := uint32(s2FECBase)
	if mod == dvbapi.PSK8 {
		value += s2PSK8Step
	}
	return value + s2FECOffset[fec]
}

// EncodeS2Flags returns the roll-off and pilot bits OR'd onto the inversion
// field. Roll-off 0.35 and an off or unset pilot contribute nothing.
func EncodeS2Flags(rolloff dvbapi.Rolloff, pilot dvbapi.Pilot) uint8 {
	var flags uint8
	switch rolloff {
	case dvbapi.Rolloff20:
		flags |= FlagRolloff20
	case dvbapi.Rolloff25:
		flags |= FlagRolloff25
	}
	switch pilot {
	case dvbapi.PilotOn:
		flags |= FlagPilotOn
	case dvbapi.PilotAuto:
		flags |= FlagPilotAuto
	}
	return flags
}

// Encode converts p into the wire form for a device configured as system.
func Encode(system DeliverySystem, p Params) (message.FrontendParams, error) {
	out := message.FrontendParams{
		Frequency: p.Frequency,
		Inversion: uint8(p.Inversion),
	}
	switch system {
	case Satellite, Satellite2:
		if p.Satellite == nil {
			return out, variantMismatch(system, p)
		}
		sat := p.Satellite
		out.QPSK.SymbolRate = sat.SymbolRate
		out.QPSK.FECInner = uint32(sat.FEC)
		if system == Satellite2 && sat.S2 {
			out.QPSK.FECInner = EncodeS2FEC(sat.Modulation, sat.FEC)
			out.Inversion |= EncodeS2Flags(sat.Rolloff, sat.Pilot)
		}
	case Cable:
		if p.Cable == nil {
			return out, variantMismatch(system, p)
		}
		out.QAM = message.QAM{
			SymbolRate: p.Cable.SymbolRate,
			FECInner:   uint32(p.Cable.FEC),
			Modulation: uint32(p.Cable.Modulation),
		}
	case Terrestrial:
		if p.Terrestrial == nil {
			return out, variantMismatch(system, p)
		}
		t := p.Terrestrial
		out.OFDM = message.OFDM{
			Bandwidth:            uint32(t.Bandwidth),
			CodeRateHP:           uint32(t.CodeRateHP),
			CodeRateLP:           uint32(t.CodeRateLP),
			Constellation:        uint32(t.Constellation),
			TransmissionMode:     uint32(t.TransmissionMode),
			GuardInterval:        uint32(t.GuardInterval),
			HierarchyInformation: uint32(t.Hierarchy),
		}
	default:
		return out, fmt.Errorf("%w: cannot encode for %s", ErrInvalidConfiguration, system)
	}
	return out, nil
}

// Decode converts the wire form reported by the control process. Satellite
// responses carry the inner FEC as sent, so an S2 composite value is
// returned verbatim.
func Decode(system DeliverySystem, in message.FrontendParams) (Params, error) {
	out := Params{
		Frequency: in.Frequency,
		Inversion: dvbapi.Inversion(in.Inversion),
	}
	switch system {
	case Satellite, Satellite2:
		out.Satellite = &SatelliteParams{
			SymbolRate: in.QPSK.SymbolRate,
			FEC:        dvbapi.CodeRate(in.QPSK.FECInner),
		}
	case Cable:
		out.Cable = &CableParams{
			SymbolRate: in.QAM.SymbolRate,
			FEC:        dvbapi.CodeRate(in.QAM.FECInner),
			Modulation: dvbapi.Modulation(in.QAM.Modulation),
		}
	case Terrestrial:
		out.Terrestrial = &TerrestrialParams{
			Bandwidth:        dvbapi.Bandwidth(in.OFDM.Bandwidth),
			CodeRateHP:       dvbapi.CodeRate(in.OFDM.CodeRateHP),
			CodeRateLP:       dvbapi.CodeRate(in.OFDM.CodeRateLP),
			Constellation:    dvbapi.Modulation(in.OFDM.Constellation),
			TransmissionMode: dvbapi.TransmissionMode(in.OFDM.TransmissionMode),
			GuardInterval:    dvbapi.GuardInterval(in.OFDM.GuardInterval),
			Hierarchy:        dvbapi.Hierarchy(in.OFDM.HierarchyInformation),
		}
	default:
		return out, fmt.Errorf("%w: cannot decode for %s", ErrInvalidConfiguration, system)
	}
	return out, nil
}

func variantMismatch(system DeliverySystem, p Params) error {
	return fmt.Errorf("%w: %s device given %s parameters", ErrInvalidConfiguration, system, p.variant())
}

func (p Params) variant() string {
	switch {
	case p.Satellite != nil:
		return "satellite"
	case p.Cable != nil:
		return "cable"
	case p.Terrestrial != nil:
		return "terrestrial"
	default:
		return "no"
	}
}
