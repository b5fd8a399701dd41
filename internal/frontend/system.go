package frontend

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
)

// DeliverySystem is the modulation family a device is configured for.
type DeliverySystem uint8

// Values match the type bits the control process reports.
const (
	Unset       DeliverySystem = 0
	Satellite   DeliverySystem = 1
	Cable       DeliverySystem = 2
	Terrestrial DeliverySystem = 4
	Satellite2  DeliverySystem = 8
)

var systemNames = []struct {
	system DeliverySystem
	name   string
}{
	{Satellite, "DVB-S"},
	{Satellite2, "DVB-S2"},
	{Terrestrial, "DVB-T"},
	{Cable, "DVB-C"},
}

// Systems lists every configurable delivery system.
func Systems() []DeliverySystem {
	out := make([]DeliverySystem, 0, len(systemNames))
	for _, entry := range systemNames {
		out = append(out, entry.system)
	}
	return out
}

func (s DeliverySystem) String() string {
	for _, entry := range systemNames {
		if entry.system == s {
			return entry.name
		}
	}
	if s == Unset {
		return "unset"
	}
	return fmt.Sprintf("system(%d)", uint8(s))
}

// Satellite reports whether s uses the QPSK parameter block.
func (s DeliverySystem) Satellite() bool {
	return s == Satellite || s == Satellite2
}

var folder = cases.Fold()

// ParseDeliverySystem matches the names "DVB-S", "DVB-S2", "DVB-T" and
// "DVB-C" without regard to case.
func ParseDeliverySystem(value string) (DeliverySystem, error) {
	key := folder.String(strings.TrimSpace(value))
	for _, entry := range systemNames {
		if folder.String(entry.name) == key {
			return entry.system, nil
		}
	}
	return Unset, fmt.Errorf("%w: unknown delivery system %q", ErrInvalidConfiguration, value)
}

// MarshalText renders the canonical name.
func (s DeliverySystem) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts any name ParseDeliverySystem accepts, plus "unset".
func (s *DeliverySystem) UnmarshalText(text []byte) error {
	if strings.EqualFold(strings.TrimSpace(string(text)), "unset") || len(strings.TrimSpace(string(text))) == 0 {
		*s = Unset
		return nil
	}
	parsed, err := ParseDeliverySystem(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
