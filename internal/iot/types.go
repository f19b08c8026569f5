package iot

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/resocorp/ArmogridPaaS-sub000/tools/timeparser"
)

// Number decodes platform numerics sent either as JSON numbers or numeric strings
type Number float64

// NumberError reports a value that is not a number. Raw is the JSON literal
// as received.
type NumberError struct {
	Value string
	Raw   []byte
	Err   error
}

func (e *NumberError) Error() string {
	return fmt.Sprintf("invalid numeric value %q: %v", e.Value, e.Err)
}

func (e *NumberError) Unwrap() error { return e.Err }

func (n *Number) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		raw := make([]byte, len(b))
		copy(raw, b)
		return &NumberError{Value: s, Raw: bytes.TrimSpace(raw), Err: err}
	}
	*n = Number(f)
	return nil
}

// ID decodes identifiers sent either as JSON numbers or strings
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "null" {
		s = ""
	}
	*id = ID(s)
	return nil
}

func (id ID) String() string { return string(id) }

// Switch states
const (
	SwitchOn  = "on"
	SwitchOff = "off"
)

// Connectivity states
const (
	Online  = "online"
	Offline = "offline"
)

// Control modes. Forced modes pin the relay regardless of balance.
const (
	ModePrepaid   = "prepaid"
	ModeForcedOn  = "forcedOn"
	ModeForcedOff = "forcedOff"
)

// Project is one site on the platform
type Project struct {
	ID   ID     `json:"id"`
	Name string `json:"projectName"`
}

// RawMeter is a meter record as returned by meter-list and meter-info
type RawMeter struct {
	ID          ID     `json:"id"`
	RoomNo      ID     `json:"roomNo"`
	ProjectID   ID     `json:"projectId"`
	ProjectName string `json:"projectName"`
	Balance     Number `json:"balance"`
	AlarmA      Number `json:"alarmA"`
	UnConnect   Number `json:"unConnect"`
	PrepaidType Number `json:"prepaidType"`
	SwitchSta   Number `json:"switchSta"`
	EPI         Number `json:"EPI"`
	ControlMode Number `json:"controlMode"`
	Power       Number `json:"P"`
}

// Telemetry is the decoded live state of one meter
type Telemetry struct {
	Balance      float64
	Reading      float64
	SwitchState  string
	Connectivity string
	ControlMode  string
	Power        float64
}

// Online reports whether the meter is currently connected
func (t Telemetry) Online() bool { return t.Connectivity == Online }

// Forced reports whether an administrative override pins the relay
func (t Telemetry) Forced() bool {
	return t.ControlMode == ModeForcedOn || t.ControlMode == ModeForcedOff
}

// Telemetry decodes the platform's flag fields
func (m RawMeter) Telemetry() Telemetry {
	t := Telemetry{
		Balance:      float64(m.Balance),
		Reading:      float64(m.EPI),
		SwitchState:  SwitchOff,
		Connectivity: Online,
		ControlMode:  ModePrepaid,
		Power:        float64(m.Power),
	}
	if m.SwitchSta == 1 {
		t.SwitchState = SwitchOn
	}
	if m.UnConnect == 1 {
		t.Connectivity = Offline
	}
	switch m.ControlMode {
	case 1:
		t.ControlMode = ModeForcedOn
	case 2:
		t.ControlMode = ModeForcedOff
	}
	return t
}

// SaleRecord is one completed credit on the platform, in naira
type SaleRecord struct {
	SaleMoney  Number `json:"saleMoney"`
	Money      Number `json:"money"`
	CreateTime string `json:"createTime"`
	SaleDate   string `json:"saleDate"`
}

// Amount prefers saleMoney and falls back to money
func (s SaleRecord) Amount() float64 {
	if s.SaleMoney != 0 {
		return float64(s.SaleMoney)
	}
	return float64(s.Money)
}

// Day returns the YYYY-MM-DD bucket of the sale, or "" if undated
func (s SaleRecord) Day() string {
	if d := dayOf(s.CreateTime); d != "" {
		return d
	}
	return dayOf(s.SaleDate)
}

// EnergyRecord is one consumption bucket for a meter, in kWh
type EnergyRecord struct {
	PowerUse   Number `json:"powerUse"`
	CreateTime string `json:"createTime"`
}

// Day returns the YYYY-MM-DD bucket of the record, or "" if undated
func (e EnergyRecord) Day() string { return dayOf(e.CreateTime) }

func dayOf(ts string) string {
	return timeparser.Day(strings.TrimSpace(ts))
}

// Control actions accepted by Control
const (
	ActionOn      = "on"
	ActionOff     = "off"
	ActionPrepaid = "prepaid"
)

func controlCode(action string) (int, error) {
	switch action {
	case ActionPrepaid:
		return 0, nil
	case ActionOn:
		return 1, nil
	case ActionOff:
		return 2, nil
	default:
		return 0, fmt.Errorf("unknown control action %q", action)
	}
}
