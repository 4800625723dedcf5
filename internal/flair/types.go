package flair

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/joshp123/gohome-flair/internal/logging"
	"github.com/joshp123/gohome-flair/internal/model"
)

const (
	DefaultBaseURL = "https://api.flair.co"
	DefaultScope   = "structures.view structures.edit hvac-units.view hvac-units.edit rooms.view"

	typeStructures = "structures"
	typeHVACUnits  = "hvac-units"
	typeRooms      = "rooms"
)

// Config selects the API endpoint. Logger may be nil.
type Config struct {
	BaseURL string
	Logger  *logging.Logger
}

// TokenURL is the password-grant endpoint for baseURL.
func TokenURL(baseURL string) string {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	return strings.TrimRight(baseURL, "/") + "/oauth/token"
}

type document struct {
	Data json.RawMessage `json:"data"`
}

type resource struct {
	Type          string                  `json:"type"`
	ID            string                  `json:"id"`
	Attributes    json.RawMessage         `json:"attributes"`
	Relationships map[string]relationship `json:"relationships"`
}

type relationship struct {
	Data json.RawMessage `json:"data"`
}

type identifier struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

func (r resource) related(name string) string {
	rel, ok := r.Relationships[name]
	if !ok || len(rel.Data) == 0 || string(rel.Data) == "null" {
		return ""
	}
	var id identifier
	if err := json.Unmarshal(rel.Data, &id); err != nil {
		return ""
	}
	return id.ID
}

type structureAttributes struct {
	Name string `json:"name"`
	Mode string `json:"mode"`
}

type roomAttributes struct {
	Name                string   `json:"name"`
	CurrentTemperatureC *float64 `json:"current-temperature-c"`
	CurrentHumidity     *float64 `json:"current-humidity"`
}

type hvacAttributes struct {
	Name             string   `json:"name"`
	Power            string   `json:"power"`
	Mode             string   `json:"mode"`
	Temperature      *float64 `json:"temperature"`
	TemperatureScale string   `json:"temperature-scale"`
}

// MalformedResponseError reports a payload that does not fit the model.
type MalformedResponseError struct {
	Resource string
	ID       string
	Reason   string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("flair %s %s: malformed response: %s", e.Resource, e.ID, e.Reason)
}

func decodeStructure(r resource) (model.Structure, error) {
	var attrs structureAttributes
	if err := json.Unmarshal(r.Attributes, &attrs); err != nil {
		return model.Structure{}, &MalformedResponseError{Resource: typeStructures, ID: r.ID, Reason: err.Error()}
	}
	mode := model.StructureMode(strings.ToLower(attrs.Mode))
	if !mode.Valid() {
		return model.Structure{}, &MalformedResponseError{Resource: typeStructures, ID: r.ID, Reason: fmt.Sprintf("mode %q", attrs.Mode)}
	}
	return model.Structure{ID: r.ID, Name: attrs.Name, Mode: mode}, nil
}

func decodeRoom(r resource) (model.Room, error) {
	var attrs roomAttributes
	if err := json.Unmarshal(r.Attributes, &attrs); err != nil {
		return model.Room{}, &MalformedResponseError{Resource: typeRooms, ID: r.ID, Reason: err.Error()}
	}
	room := model.Room{ID: r.ID, Name: attrs.Name}
	if attrs.CurrentTemperatureC != nil {
		room.CurrentTemperatureC = *attrs.CurrentTemperatureC
	}
	if attrs.CurrentHumidity != nil {
		room.CurrentHumidity = *attrs.CurrentHumidity
	}
	return room, nil
}

func decodeHVAC(r resource) (model.HVAC, error) {
	var attrs hvacAttributes
	if err := json.Unmarshal(r.Attributes, &attrs); err != nil {
		return model.HVAC{}, &MalformedResponseError{Resource: typeHVACUnits, ID: r.ID, Reason: err.Error()}
	}
	power, ok := parsePower(attrs.Power)
	if !ok {
		return model.HVAC{}, &MalformedResponseError{Resource: typeHVACUnits, ID: r.ID, Reason: fmt.Sprintf("power %q", attrs.Power)}
	}
	mode, ok := parseMode(attrs.Mode)
	if !ok {
		return model.HVAC{}, &MalformedResponseError{Resource: typeHVACUnits, ID: r.ID, Reason: fmt.Sprintf("mode %q", attrs.Mode)}
	}
	scale := model.TemperatureScale(strings.ToUpper(attrs.TemperatureScale))
	if scale == "" {
		scale = model.ScaleCelsius
	}
	if !scale.Valid() {
		return model.HVAC{}, &MalformedResponseError{Resource: typeHVACUnits, ID: r.ID, Reason: fmt.Sprintf("temperature-scale %q", attrs.TemperatureScale)}
	}
	if attrs.Temperature == nil {
		return model.HVAC{}, &MalformedResponseError{Resource: typeHVACUnits, ID: r.ID, Reason: "missing temperature"}
	}
	return model.HVAC{
		ID:               r.ID,
		Name:             attrs.Name,
		Power:            power,
		Mode:             mode,
		SetPointC:        model.ToCelsius(*attrs.Temperature, scale),
		TemperatureScale: scale,
		RoomID:           r.related("room"),
	}, nil
}

func parsePower(raw string) (model.PowerMode, bool) {
	switch strings.ToLower(raw) {
	case "on":
		return model.PowerOn, true
	case "off":
		return model.PowerOff, true
	}
	return "", false
}

func parseMode(raw string) (model.HVACMode, bool) {
	switch strings.ToLower(raw) {
	case "cool":
		return model.HVACModeCool, true
	case "heat":
		return model.HVACModeHeat, true
	case "auto":
		return model.HVACModeAuto, true
	}
	return "", false
}
