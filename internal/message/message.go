package message

import "fmt"

// Kind discriminates the payload carried by a Message.
type Kind int32

const (
	// KindNone marks the synthetic answer posted when the consumer goes away.
	KindNone               Kind = 0
	KindSetFrontend        Kind = 1
	KindGetFrontend        Kind = 2
	KindReadStatus         Kind = 3
	KindReadBER            Kind = 4
	KindReadSignalStrength Kind = 5
	KindReadSNR            Kind = 6
	KindReadUCBlocks       Kind = 7
	KindSetTone            Kind = 8
	KindSetVoltage         Kind = 9
	KindEnableHighVoltage  Kind = 10
	KindSendDiSEqCMsg      Kind = 11
	KindSendDiSEqCBurst    Kind = 13
	KindPIDList            Kind = 14
	KindTypeChanged        Kind = 15
	KindSetProperty        Kind = 16
	KindGetProperty        Kind = 17
)

var kindNames = map[Kind]string{
	KindNone:               "none",
	KindSetFrontend:        "set_frontend",
	KindGetFrontend:        "get_frontend",
	KindReadStatus:         "read_status",
	KindReadBER:            "read_ber",
	KindReadSignalStrength: "read_signal_strength",
	KindReadSNR:            "read_snr",
	KindReadUCBlocks:       "read_ucblocks",
	KindSetTone:            "set_tone",
	KindSetVoltage:         "set_voltage",
	KindEnableHighVoltage:  "enable_high_voltage",
	KindSendDiSEqCMsg:      "send_diseqc_msg",
	KindSendDiSEqCBurst:    "send_diseqc_burst",
	KindPIDList:            "pid_list",
	KindTypeChanged:        "type_changed",
	KindSetProperty:        "set_property",
	KindGetProperty:        "get_property",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int32(k))
}

// Valid reports whether k is one of the defined kinds.
func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

const (
	// PIDListLen is the number of PID entries a PIDList message carries,
	// including room for the zero terminator after a full table.
	PIDListLen = 31
	// DiSEqCMaxLen is the longest DiSEqC master command.
	DiSEqCMaxLen = 6
)

// QPSK holds the satellite-specific tuning fields.
type QPSK struct {
	SymbolRate uint32 `json:"symbol_rate"`
	FECInner   uint32 `json:"fec_inner"`
}

// QAM holds the cable-specific tuning fields.
type QAM struct {
	SymbolRate uint32 `json:"symbol_rate"`
	FECInner   uint32 `json:"fec_inner"`
	Modulation uint32 `json:"modulation"`
}

// OFDM holds the terrestrial-specific tuning fields.
type OFDM struct {
	Bandwidth            uint32 `json:"bandwidth"`
	CodeRateHP           uint32 `json:"code_rate_hp"`
	CodeRateLP           uint32 `json:"code_rate_lp"`
	Constellation        uint32 `json:"constellation"`
	TransmissionMode     uint32 `json:"transmission_mode"`
	GuardInterval        uint32 `json:"guard_interval"`
	HierarchyInformation uint32 `json:"hierarchy_information"`
}

// FrontendParams is the wire form of a tuning request. Only the variant
// matching the device's delivery system is meaningful.
type FrontendParams struct {
	Frequency uint32 `json:"frequency"`
	Inversion uint8  `json:"inversion"`
	QPSK      QPSK   `json:"qpsk"`
	QAM       QAM    `json:"qam"`
	OFDM      OFDM   `json:"ofdm"`
}

// Property is an extended frontend property command.
type Property struct {
	Cmd  uint32 `json:"cmd"`
	Data uint32 `json:"data"`
}

// DiSEqCCmd is a DiSEqC master command.
type DiSEqCCmd struct {
	Msg [DiSEqCMaxLen]uint8 `json:"msg"`
	Len uint8               `json:"len"`
}

// Bytes returns the used portion of the command.
func (c DiSEqCCmd) Bytes() []byte {
	n := int(c.Len)
	if n > DiSEqCMaxLen {
		n = DiSEqCMaxLen
	}
	out := make([]byte, n)
	copy(out, c.Msg[:n])
	return out
}

// NewDiSEqCCmd builds a command from raw bytes.
func NewDiSEqCCmd(raw []byte) (DiSEqCCmd, error) {
	if len(raw) == 0 || len(raw) > DiSEqCMaxLen {
		return DiSEqCCmd{}, fmt.Errorf("diseqc command must be 1-%d bytes, got %d", DiSEqCMaxLen, len(raw))
	}
	var cmd DiSEqCCmd
	copy(cmd.Msg[:], raw)
	cmd.Len = uint8(len(raw))
	return cmd, nil
}

// Body carries every payload variant by value. A Message never references
// memory outside itself.
type Body struct {
	Frontend       FrontendParams     `json:"frontend"`
	Property       Property           `json:"property"`
	Status         uint32             `json:"status"`
	BER            uint32             `json:"ber"`
	SignalStrength uint16             `json:"signal_strength"`
	SNR            uint16             `json:"snr"`
	UCBlocks       uint32             `json:"ucblocks"`
	Tone           uint8              `json:"tone"`
	Voltage        uint8              `json:"voltage"`
	HighVoltage    uint8              `json:"high_voltage"`
	DiSEqC         DiSEqCCmd          `json:"diseqc"`
	Burst          uint8              `json:"burst"`
	PIDList        [PIDListLen]uint16 `json:"pid_list"`
	PIDCount       uint8              `json:"pid_count"`
	TypeChanged    uint32             `json:"type_changed"`
}

// Message is the unit exchanged between the daemon and the control process.
type Message struct {
	Kind Kind `json:"kind"`
	Body Body `json:"body"`
}

// New returns a zeroed message of the given kind.
func New(kind Kind) Message {
	return Message{Kind: kind}
}

// PIDs returns the PID entries of a PIDList message.
func (m Message) PIDs() []uint16 {
	n := int(m.Body.PIDCount)
	if n > PIDListLen {
		n = PIDListLen
	}
	out := make([]uint16, n)
	copy(out, m.Body.PIDList[:n])
	return out
}

// NoResponse reports whether m is the synthetic answer posted when the
// consumer detached before replying.
func (m Message) NoResponse() bool {
	return m.Kind == KindNone
}
