package dvbapi

import "strings"

// Caps is the frontend capability bitmask advertised to the stack.
type Caps uint32

const (
	CanInversionAuto        Caps = 0x1
	CanFEC12                Caps = 0x2
	CanFEC23                Caps = 0x4
	CanFEC34                Caps = 0x8
	CanFEC45                Caps = 0x10
	CanFEC56                Caps = 0x20
	CanFEC67                Caps = 0x40
	CanFEC78                Caps = 0x80
	CanFEC89                Caps = 0x100
	CanFECAuto              Caps = 0x200
	CanQPSK                 Caps = 0x400
	CanQAM16                Caps = 0x800
	CanQAM32                Caps = 0x1000
	CanQAM64                Caps = 0x2000
	CanQAM128               Caps = 0x4000
	CanQAM256               Caps = 0x8000
	CanQAMAuto              Caps = 0x10000
	CanTransmissionModeAuto Caps = 0x20000
	CanBandwidthAuto        Caps = 0x40000
	CanGuardIntervalAuto    Caps = 0x80000
	CanHierarchyAuto        Caps = 0x100000
	Can2GModulation         Caps = 0x10000000
)

var capNames = []struct {
	bit  Caps
	name string
}{
	{CanInversionAuto, "inversion-auto"},
	{CanFEC12, "fec-1/2"},
	{CanFEC23, "fec-2/3"},
	{CanFEC34, "fec-3/4"},
	{CanFEC45, "fec-4/5"},
	{CanFEC56, "fec-5/6"},
	{CanFEC67, "fec-6/7"},
	{CanFEC78, "fec-7/8"},
	{CanFEC89, "fec-8/9"},
	{CanFECAuto, "fec-auto"},
	{CanQPSK, "qpsk"},
	{CanQAM16, "qam-16"},
	{CanQAM32, "qam-32"},
	{CanQAM64, "qam-64"},
	{CanQAM128, "qam-128"},
	{CanQAM256, "qam-256"},
	{CanQAMAuto, "qam-auto"},
	{CanTransmissionModeAuto, "transmission-mode-auto"},
	{CanBandwidthAuto, "bandwidth-auto"},
	{CanGuardIntervalAuto, "guard-interval-auto"},
	{CanHierarchyAuto, "hierarchy-auto"},
	{Can2GModulation, "2g-modulation"},
}

// Names lists the capability names set in c, in bit order.
func (c Caps) Names() []string {
	var out []string
	for _, entry := range capNames {
		if c&entry.bit != 0 {
			out = append(out, entry.name)
		}
	}
	return out
}

// ParseCaps converts capability names back into a bitmask. Unknown names are
// returned in the second value.
func ParseCaps(names []string) (Caps, []string) {
	var caps Caps
	var unknown []string
	for _, raw := range names {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" {
			continue
		}
		found := false
		for _, entry := range capNames {
			if entry.name == name {
				caps |= entry.bit
				found = true
				break
			}
		}
		if !found {
			unknown = append(unknown, raw)
		}
	}
	return caps, unknown
}

// CodeRate is the inner forward error correction rate.
type CodeRate uint32

const (
	FECNone CodeRate = iota
	FEC12
	FEC23
	FEC34
	FEC45
	FEC56
	FEC67
	FEC78
	FEC89
	FECAuto
	FEC35
	FEC910
)

var codeRateNames = map[CodeRate]string{
	FECNone: "none",
	FEC12:   "1/2",
	FEC23:   "2/3",
	FEC34:   "3/4",
	FEC45:   "4/5",
	FEC56:   "5/6",
	FEC67:   "6/7",
	FEC78:   "7/8",
	FEC89:   "8/9",
	FECAuto: "auto",
	FEC35:   "3/5",
	FEC910:  "9/10",
}

func (r CodeRate) String() string {
	if name, ok := codeRateNames[r]; ok {
		return name
	}
	return "unknown"
}

// ParseCodeRate accepts forms such as "3/4", "34" or "auto".
func ParseCodeRate(value string) (CodeRate, bool) {
	value = strings.ToLower(strings.TrimSpace(value))
	for rate, name := range codeRateNames {
		if value == name || value == strings.ReplaceAll(name, "/", "") {
			return rate, true
		}
	}
	return 0, false
}

// Modulation covers both the satellite and cable constellations.
type Modulation uint32

const (
	QPSK Modulation = iota
	QAM16
	QAM32
	QAM64
	QAM128
	QAM256
	QAMAuto
	VSB8
	VSB16
	PSK8
	APSK16
	APSK32
	DQPSK
)

var modulationNames = map[Modulation]string{
	QPSK:    "qpsk",
	QAM16:   "qam16",
	QAM32:   "qam32",
	QAM64:   "qam64",
	QAM128:  "qam128",
	QAM256:  "qam256",
	QAMAuto: "qam-auto",
	VSB8:    "8vsb",
	VSB16:   "16vsb",
	PSK8:    "8psk",
	APSK16:  "16apsk",
	APSK32:  "32apsk",
	DQPSK:   "dqpsk",
}

func (m Modulation) String() string {
	if name, ok := modulationNames[m]; ok {
		return name
	}
	return "unknown"
}

// ParseModulation accepts the lower-case names used by String.
func ParseModulation(value string) (Modulation, bool) {
	value = strings.ToLower(strings.TrimSpace(value))
	for mod, name := range modulationNames {
		if value == name {
			return mod, true
		}
	}
	return 0, false
}

// Rolloff is the satellite-2 roll-off factor.
type Rolloff uint32

const (
	Rolloff35 Rolloff = iota
	Rolloff20
	Rolloff25
	RolloffAuto
)

// Pilot is the satellite-2 pilot tone mode. The zero value means no pilot
// was requested and encodes like PilotOff. Pilot never crosses the wire as a
// number, only as inversion flags.
type Pilot uint32

const (
	PilotUnset Pilot = iota
	PilotOn
	PilotOff
	PilotAuto
)

// Inversion is the spectral inversion setting.
type Inversion uint8

const (
	InversionOff Inversion = iota
	InversionOn
	InversionAuto
)

// Bandwidth is the terrestrial channel bandwidth.
type Bandwidth uint32

const (
	Bandwidth8MHz Bandwidth = iota
	Bandwidth7MHz
	Bandwidth6MHz
	BandwidthAuto
)

// TransmissionMode is the terrestrial carrier count.
type TransmissionMode uint32

const (
	TransmissionMode2K TransmissionMode = iota
	TransmissionMode8K
	TransmissionModeAuto
)

// GuardInterval is the terrestrial guard interval.
type GuardInterval uint32

const (
	GuardInterval132 GuardInterval = iota
	GuardInterval116
	GuardInterval18
	GuardInterval14
	GuardIntervalAuto
)

// Hierarchy is the terrestrial hierarchy information.
type Hierarchy uint32

const (
	HierarchyNone Hierarchy = iota
	Hierarchy1
	Hierarchy2
	Hierarchy4
	HierarchyAuto
)

// Tone is the 22kHz LNB tone state.
type Tone uint8

const (
	ToneOn Tone = iota
	ToneOff
)

// Voltage is the LNB supply voltage.
type Voltage uint8

const (
	Voltage13 Voltage = iota
	Voltage18
	VoltageOff
)

// MiniCmd selects the DiSEqC tone burst.
type MiniCmd uint8

const (
	MiniA MiniCmd = iota
	MiniB
)

// Status is the frontend lock status bitmask.
type Status uint32

const (
	HasSignal  Status = 0x01
	HasCarrier Status = 0x02
	HasViterbi Status = 0x04
	HasSync    Status = 0x08
	HasLock    Status = 0x10
	TimedOut   Status = 0x20
	Reinit     Status = 0x40
)

// Locked reports whether the frontend signalled a full lock.
func (s Status) Locked() bool {
	return s&HasLock != 0
}

func (s Status) String() string {
	parts := make([]string, 0, 5)
	for _, entry := range []struct {
		bit  Status
		name string
	}{
		{HasSignal, "signal"},
		{HasCarrier, "carrier"},
		{HasViterbi, "viterbi"},
		{HasSync, "sync"},
		{HasLock, "lock"},
		{TimedOut, "timedout"},
		{Reinit, "reinit"},
	} {
		if s&entry.bit != 0 {
			parts = append(parts, entry.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}
