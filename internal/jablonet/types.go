package jablonet

import (
	"fmt"
	"strconv"
	"strings"
)

// Application-level status codes the portal embeds in otherwise
// successful (HTTP 200) JSON responses.
const (
	appStatusOK      = 200
	appStatusExpired = 300
)

// Number tolerates the portal's habit of sending numeric values either
// as JSON numbers or as quoted strings.
type Number float64

func (n *Number) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("parse number %q: %w", s, err)
	}
	*n = Number(f)
	return nil
}

// Thermometer is one entry of the "teplomery" collection.
type Thermometer struct {
	Name      string `json:"nazev"`
	Value     Number `json:"value"`
	StateName string `json:"stateName"`
}

// PGMOutput is one entry of the "pgm" collection. State 1 means the
// output is switched on. Outputs with reaction "pgorSwitchOnOff" can be
// controlled, subject to the Permissions map.
type PGMOutput struct {
	Name      string `json:"nazev"`
	State     int    `json:"stav"`
	StateName string `json:"stateName"`
	Reaction  string `json:"reaction"`
	Timestamp int64  `json:"ts"`
	Time      string `json:"time"`
}

// MotionSensor is one entry of the "pir" collection.
type MotionSensor struct {
	Name      string `json:"nazev"`
	State     int    `json:"stav"`
	StateName string `json:"stateName"`
}

// Section is one entry of the "sekce" collection (alarm sections).
type Section struct {
	Name      string `json:"nazev"`
	State     int    `json:"stav"`
	StateName string `json:"stateName"`
}

// StatusSnapshot is the decoded result of one status fetch. Every map is
// keyed by the portal's device identifier. The snapshot is plain data;
// the client holds no reference to it after returning.
type StatusSnapshot struct {
	Thermometers map[string]Thermometer  `json:"teplomery"`
	PGMs         map[string]PGMOutput    `json:"pgm"`
	Motion       map[string]MotionSensor `json:"pir"`
	Sections     map[string]Section      `json:"sekce"`
	Permissions  map[string]int          `json:"permissions"`
}

// statusEnvelope is the raw wire shape of a status response: the snapshot
// collections plus the application-level status field.
type statusEnvelope struct {
	Status int `json:"status"`
	StatusSnapshot
}

// ControlResult is the decoded response of a PGM control command.
type ControlResult struct {
	Timestamp int64  `json:"ts"`
	Section   string `json:"section"`
	AuthCode  int    `json:"cid"`
	Value     int    `json:"stav"`
	Status    int    `json:"status"`
}

// loginResponse is the (sometimes empty, sometimes HTML) body of the
// login endpoint. Only decoded when it happens to be JSON.
type loginResponse struct {
	Status       int    `json:"status"`
	ErrorMessage string `json:"errorMessage"`
}
