// Package devices turns a raw portal snapshot into a flat, typed device
// list. Each device kind keeps its own derivation rules as pure
// functions over the snapshot maps; nothing here performs I/O.
package devices

import (
	"sort"

	"github.com/hranicka/ha-jablotron/internal/jablonet"
)

// Kind discriminates the device variants of a snapshot.
type Kind string

const (
	KindThermometer Kind = "thermometer"
	KindPGM         Kind = "pgm"
	KindMotion      Kind = "motion"
	KindSection     Kind = "section"
)

// SwitchableReaction marks PGM outputs the portal allows to be toggled.
const SwitchableReaction = "pgorSwitchOnOff"

// Device is the tagged union over device kinds. Value is meaningful for
// thermometers, On/Switchable for PGM outputs, Active for motion sensors
// and sections.
type Device struct {
	Kind       Kind    `json:"kind"`
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	StateName  string  `json:"stateName,omitempty"`
	Value      float64 `json:"value,omitempty"`
	On         bool    `json:"on,omitempty"`
	Switchable bool    `json:"switchable,omitempty"`
	Active     bool    `json:"active,omitempty"`
}

// FromSnapshot flattens a snapshot into a deterministic device list,
// ordered by kind and identifier.
func FromSnapshot(snap *jablonet.StatusSnapshot) []Device {
	var devs []Device

	for id, th := range snap.Thermometers {
		devs = append(devs, Device{
			Kind:      KindThermometer,
			ID:        id,
			Name:      th.Name,
			StateName: th.StateName,
			Value:     float64(th.Value),
		})
	}
	for id, pgm := range snap.PGMs {
		devs = append(devs, Device{
			Kind:       KindPGM,
			ID:         id,
			Name:       pgm.Name,
			StateName:  pgm.StateName,
			On:         pgm.State == 1,
			Switchable: Switchable(pgm, snap.Permissions),
		})
	}
	for id, pir := range snap.Motion {
		devs = append(devs, Device{
			Kind:      KindMotion,
			ID:        id,
			Name:      pir.Name,
			StateName: pir.StateName,
			Active:    pir.State != 0,
		})
	}
	for id, sec := range snap.Sections {
		devs = append(devs, Device{
			Kind:      KindSection,
			ID:        id,
			Name:      sec.Name,
			StateName: sec.StateName,
			Active:    sec.State != 0,
		})
	}

	sort.Slice(devs, func(i, j int) bool {
		if devs[i].Kind != devs[j].Kind {
			return devs[i].Kind < devs[j].Kind
		}
		return devs[i].ID < devs[j].ID
	})
	return devs
}

// Switchable reports whether a PGM output may be controlled: it needs
// the switching reaction type and an explicit permission flag for its
// state name.
func Switchable(pgm jablonet.PGMOutput, permissions map[string]int) bool {
	if pgm.Reaction != SwitchableReaction {
		return false
	}
	return permissions[pgm.StateName] == 1
}

// PGMStates extracts the current on/off state of every PGM output,
// keyed by device ID. Used by the poller to detect transitions.
func PGMStates(snap *jablonet.StatusSnapshot) map[string]bool {
	states := make(map[string]bool, len(snap.PGMs))
	for id, pgm := range snap.PGMs {
		states[id] = pgm.State == 1
	}
	return states
}
