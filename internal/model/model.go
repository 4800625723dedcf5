// Package model holds the entities exchanged with the Flair API and the
// normalized thermostat states derived from them.
package model

import (
	"fmt"
	"strings"
)

// StructureMode is the home-wide control mode of a Flair structure.
type StructureMode string

const (
	StructureModeAuto   StructureMode = "auto"
	StructureModeManual StructureMode = "manual"
)

func (m StructureMode) Valid() bool {
	return m == StructureModeAuto || m == StructureModeManual
}

// PowerMode is the power attribute of an HVAC unit.
type PowerMode string

const (
	PowerOn  PowerMode = "On"
	PowerOff PowerMode = "Off"
)

func (p PowerMode) Valid() bool {
	return p == PowerOn || p == PowerOff
}

// HVACMode is the operating mode attribute of an HVAC unit.
type HVACMode string

const (
	HVACModeCool HVACMode = "Cool"
	HVACModeHeat HVACMode = "Heat"
	HVACModeAuto HVACMode = "Auto"
)

func (m HVACMode) Valid() bool {
	switch m {
	case HVACModeCool, HVACModeHeat, HVACModeAuto:
		return true
	}
	return false
}

// TemperatureScale is the display unit configured on an HVAC unit.
type TemperatureScale string

const (
	ScaleCelsius    TemperatureScale = "C"
	ScaleFahrenheit TemperatureScale = "F"
)

func (s TemperatureScale) Valid() bool {
	return s == ScaleCelsius || s == ScaleFahrenheit
}

// TargetState is the normalized heating/cooling state a user asked for.
type TargetState string

const (
	TargetOff  TargetState = "off"
	TargetCool TargetState = "cool"
	TargetHeat TargetState = "heat"
	TargetAuto TargetState = "auto"
)

func (t TargetState) Valid() bool {
	switch t {
	case TargetOff, TargetCool, TargetHeat, TargetAuto:
		return true
	}
	return false
}

// ParseTargetState accepts the lower-case names used on every host surface.
func ParseTargetState(raw string) (TargetState, error) {
	state := TargetState(strings.ToLower(strings.TrimSpace(raw)))
	if !state.Valid() {
		return "", fmt.Errorf("unknown target state %q (want off, cool, heat or auto)", raw)
	}
	return state, nil
}

// CurrentState is the normalized state a unit is believed to be operating in.
type CurrentState string

const (
	CurrentOff  CurrentState = "off"
	CurrentCool CurrentState = "cool"
	CurrentHeat CurrentState = "heat"
)

// Structure is the home that owns rooms and HVAC units.
type Structure struct {
	ID   string
	Name string
	Mode StructureMode
}

// Room carries the latest readings of the room an HVAC unit sits in.
// Temperatures are always Celsius.
type Room struct {
	ID                  string
	Name                string
	CurrentTemperatureC float64
	CurrentHumidity     float64
}

// HVAC is a one-way controlled unit (mini split, window unit).
// SetPointC is always Celsius; TemperatureScale only affects display.
type HVAC struct {
	ID               string
	Name             string
	Power            PowerMode
	Mode             HVACMode
	SetPointC        float64
	TemperatureScale TemperatureScale
	RoomID           string
}

// SetPointInDisplayUnits returns the set point in the unit's configured scale.
func (h HVAC) SetPointInDisplayUnits() float64 {
	return FromCelsius(h.SetPointC, h.TemperatureScale)
}
