package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// DeviceSnapshot is the persisted form of a discovered device.
type DeviceSnapshot struct {
	HVAC HVAC
	Room Room
}

// DecodeError reports a persisted record that failed validation.
type DecodeError struct {
	Kind   string
	Field  string
	Reason string
}

func (e *DecodeError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("decode %s: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("decode %s: field %q: %s", e.Kind, e.Field, e.Reason)
}

type deviceRecord struct {
	ID               string      `json:"id"`
	Name             string      `json:"name"`
	Power            string      `json:"power"`
	Mode             string      `json:"mode"`
	SetPointC        *float64    `json:"set_point_c"`
	TemperatureScale string      `json:"temperature_scale"`
	Room             *roomRecord `json:"room"`
}

type roomRecord struct {
	ID                  string   `json:"id"`
	Name                string   `json:"name"`
	CurrentTemperatureC *float64 `json:"current_temperature_c,omitempty"`
	CurrentHumidity     *float64 `json:"current_humidity,omitempty"`
}

// EncodeDeviceRecord renders a snapshot in the format DecodeDeviceRecord accepts.
func EncodeDeviceRecord(s DeviceSnapshot) ([]byte, error) {
	setPoint := s.HVAC.SetPointC
	temp := s.Room.CurrentTemperatureC
	humidity := s.Room.CurrentHumidity
	return json.Marshal(deviceRecord{
		ID:               s.HVAC.ID,
		Name:             s.HVAC.Name,
		Power:            string(s.HVAC.Power),
		Mode:             string(s.HVAC.Mode),
		SetPointC:        &setPoint,
		TemperatureScale: string(s.HVAC.TemperatureScale),
		Room: &roomRecord{
			ID:                  s.Room.ID,
			Name:                s.Room.Name,
			CurrentTemperatureC: &temp,
			CurrentHumidity:     &humidity,
		},
	})
}

// DecodeDeviceRecord builds a snapshot from persisted JSON. Unknown fields,
// missing required fields and out-of-range enum values are rejected with a
// *DecodeError. Room readings are optional and default to zero.
func DecodeDeviceRecord(data []byte) (DeviceSnapshot, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var rec deviceRecord
	if err := dec.Decode(&rec); err != nil {
		return DeviceSnapshot{}, &DecodeError{Kind: "hvac", Reason: err.Error()}
	}
	if _, err := dec.Token(); err != io.EOF {
		return DeviceSnapshot{}, &DecodeError{Kind: "hvac", Reason: "trailing data after record"}
	}

	if rec.ID == "" {
		return DeviceSnapshot{}, &DecodeError{Kind: "hvac", Field: "id", Reason: "required"}
	}
	power := PowerMode(rec.Power)
	if !power.Valid() {
		return DeviceSnapshot{}, &DecodeError{Kind: "hvac", Field: "power", Reason: fmt.Sprintf("invalid value %q", rec.Power)}
	}
	mode := HVACMode(rec.Mode)
	if !mode.Valid() {
		return DeviceSnapshot{}, &DecodeError{Kind: "hvac", Field: "mode", Reason: fmt.Sprintf("invalid value %q", rec.Mode)}
	}
	if rec.SetPointC == nil {
		return DeviceSnapshot{}, &DecodeError{Kind: "hvac", Field: "set_point_c", Reason: "required"}
	}
	scale := TemperatureScale(rec.TemperatureScale)
	if !scale.Valid() {
		return DeviceSnapshot{}, &DecodeError{Kind: "hvac", Field: "temperature_scale", Reason: fmt.Sprintf("invalid value %q", rec.TemperatureScale)}
	}
	if rec.Room == nil {
		return DeviceSnapshot{}, &DecodeError{Kind: "hvac", Field: "room", Reason: "required"}
	}
	if rec.Room.ID == "" {
		return DeviceSnapshot{}, &DecodeError{Kind: "room", Field: "id", Reason: "required"}
	}

	room := Room{ID: rec.Room.ID, Name: rec.Room.Name}
	if rec.Room.CurrentTemperatureC != nil {
		room.CurrentTemperatureC = *rec.Room.CurrentTemperatureC
	}
	if rec.Room.CurrentHumidity != nil {
		room.CurrentHumidity = *rec.Room.CurrentHumidity
	}

	return DeviceSnapshot{
		HVAC: HVAC{
			ID:               rec.ID,
			Name:             rec.Name,
			Power:            power,
			Mode:             mode,
			SetPointC:        *rec.SetPointC,
			TemperatureScale: scale,
			RoomID:           room.ID,
		},
		Room: room,
	}, nil
}
