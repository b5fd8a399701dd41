package frontend

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"vtunerd/internal/dvbapi"
)

// Capabilities describes what a proxy frontend advertises to the stack.
type Capabilities struct {
	Name               string      `json:"name" yaml:"name"`
	FrequencyMin       uint32      `json:"frequency_min" yaml:"frequency_min"`
	FrequencyMax       uint32      `json:"frequency_max" yaml:"frequency_max"`
	FrequencyStepsize  uint32      `json:"frequency_stepsize" yaml:"frequency_stepsize"`
	FrequencyTolerance uint32      `json:"frequency_tolerance" yaml:"frequency_tolerance"`
	SymbolRateMin      uint32      `json:"symbol_rate_min" yaml:"symbol_rate_min"`
	SymbolRateMax      uint32      `json:"symbol_rate_max" yaml:"symbol_rate_max"`
	Caps               dvbapi.Caps `json:"caps" yaml:"-"`
}

// Has reports whether every bit of want is advertised.
func (c Capabilities) Has(want dvbapi.Caps) bool {
	return c.Caps&want == want
}

// cable symbol rates derive from the reference crystal.
const cableClock = 57840000 / 2

// DefaultCapabilities returns the built-in descriptor for system. Satellite2
// extends the satellite descriptor with second-generation modulation.
func DefaultCapabilities(system DeliverySystem) (Capabilities, error) {
	switch system {
	case Terrestrial:
		return Capabilities{
			Name:              "vTuner proxyFE DVB-T",
			FrequencyMin:      51000000,
			FrequencyMax:      863250000,
			FrequencyStepsize: 62500,
			Caps: dvbapi.CanFEC12 | dvbapi.CanFEC23 | dvbapi.CanFEC34 |
				dvbapi.CanFEC56 | dvbapi.CanFEC78 | dvbapi.CanFEC89 | dvbapi.CanFECAuto |
				dvbapi.CanQAM16 | dvbapi.CanQAM64 | dvbapi.CanQAMAuto |
				dvbapi.CanTransmissionModeAuto | dvbapi.CanGuardIntervalAuto |
				dvbapi.CanHierarchyAuto,
		}, nil
	case Cable:
		return Capabilities{
			Name:              "vTuner proxyFE DVB-C",
			FrequencyMin:      51000000,
			FrequencyMax:      858000000,
			FrequencyStepsize: 62500,
			SymbolRateMin:     cableClock / 64,
			SymbolRateMax:     cableClock / 4,
			Caps: dvbapi.CanQAM16 | dvbapi.CanQAM32 | dvbapi.CanQAM64 |
				dvbapi.CanQAM128 | dvbapi.CanQAM256 | dvbapi.CanFECAuto |
				dvbapi.CanInversionAuto,
		}, nil
	case Satellite, Satellite2:
		caps := Capabilities{
			Name:               "vTuner proxyFE DVB-S",
			FrequencyMin:       950000,
			FrequencyMax:       2150000,
			FrequencyStepsize:  250,
			FrequencyTolerance: 29500,
			SymbolRateMin:      1000000,
			SymbolRateMax:      45000000,
			Caps: dvbapi.CanInversionAuto | dvbapi.CanFEC12 | dvbapi.CanFEC23 |
				dvbapi.CanFEC34 | dvbapi.CanFEC56 | dvbapi.CanFEC78 | dvbapi.CanFECAuto |
				dvbapi.CanQPSK,
		}
		if system == Satellite2 {
			caps.Caps |= dvbapi.Can2GModulation
			caps.Name = "vTuner proxyFE DVB-S2"
		}
		return caps, nil
	default:
		return Capabilities{}, fmt.Errorf("%w: no capabilities for %s", ErrInvalidConfiguration, system)
	}
}

// Profiles overrides built-in descriptors per delivery system.
type Profiles map[DeliverySystem]Capabilities

type profileEntry struct {
	Name               *string  `yaml:"name"`
	FrequencyMin       *uint32  `yaml:"frequency_min"`
	FrequencyMax       *uint32  `yaml:"frequency_max"`
	FrequencyStepsize  *uint32  `yaml:"frequency_stepsize"`
	FrequencyTolerance *uint32  `yaml:"frequency_tolerance"`
	SymbolRateMin      *uint32  `yaml:"symbol_rate_min"`
	SymbolRateMax      *uint32  `yaml:"symbol_rate_max"`
	Caps               []string `yaml:"caps"`
	ExtraCaps          []string `yaml:"extra_caps"`
}

// LoadProfiles reads a YAML document keyed by delivery-system name. Fields
// left out keep the built-in values; "caps" replaces the capability set and
// "extra_caps" adds to it.
//
//	dvb-s2:
//	  name: "Lab LNB"
//	  frequency_max: 2150000
//	  extra_caps: [fec-4/5, fec-8/9]
func LoadProfiles(path string) (Profiles, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read capability profiles: %w", err)
	}
	return ParseProfiles(data)
}

// ParseProfiles decodes profile YAML. See LoadProfiles.
func ParseProfiles(data []byte) (Profiles, error) {
	var raw map[string]profileEntry
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse capability profiles: %w", err)
	}
	profiles := make(Profiles, len(raw))
	var errs []error
	for key, entry := range raw {
		system, err := ParseDeliverySystem(key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		caps, err := DefaultCapabilities(system)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := entry.apply(&caps); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", system, err))
			continue
		}
		profiles[system] = caps
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return profiles, nil
}

func (e profileEntry) apply(caps *Capabilities) error {
	setString(&caps.Name, e.Name)
	setUint(&caps.FrequencyMin, e.FrequencyMin)
	setUint(&caps.FrequencyMax, e.FrequencyMax)
	setUint(&caps.FrequencyStepsize, e.FrequencyStepsize)
	setUint(&caps.FrequencyTolerance, e.FrequencyTolerance)
	setUint(&caps.SymbolRateMin, e.SymbolRateMin)
	setUint(&caps.SymbolRateMax, e.SymbolRateMax)
	if e.Caps != nil {
		parsed, unknown := dvbapi.ParseCaps(e.Caps)
		if len(unknown) > 0 {
			return fmt.Errorf("unknown caps %s", strings.Join(unknown, ", "))
		}
		caps.Caps = parsed
	}
	if len(e.ExtraCaps) > 0 {
		parsed, unknown := dvbapi.ParseCaps(e.ExtraCaps)
		if len(unknown) > 0 {
			return fmt.Errorf("unknown extra_caps %s", strings.Join(unknown, ", "))
		}
		caps.Caps |= parsed
	}
	if caps.FrequencyMin > caps.FrequencyMax {
		return fmt.Errorf("frequency_min %d exceeds frequency_max %d", caps.FrequencyMin, caps.FrequencyMax)
	}
	if caps.SymbolRateMin > caps.SymbolRateMax {
		return fmt.Errorf("symbol_rate_min %d exceeds symbol_rate_max %d", caps.SymbolRateMin, caps.SymbolRateMax)
	}
	return nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = strings.TrimSpace(*src)
	}
}

func setUint(dst *uint32, src *uint32) {
	if src != nil {
		*dst = *src
	}
}

// Lookup returns the descriptor for system, preferring a loaded profile.
func (p Profiles) Lookup(system DeliverySystem) (Capabilities, error) {
	if caps, ok := p[system]; ok {
		return caps, nil
	}
	return DefaultCapabilities(system)
}
