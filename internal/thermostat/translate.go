// Package thermostat keeps Flair HVAC units in sync with a normalized
// thermostat model: mode translation, the shared structure mode guard,
// command dispatch and per-device polling.
package thermostat

import "github.com/joshp123/gohome-flair/internal/model"

// TargetStateOf maps a unit's power and mode to the normalized target state.
// Modes outside the declared enum report TargetOff.
func TargetStateOf(h model.HVAC) model.TargetState {
	if h.Power == model.PowerOff {
		return model.TargetOff
	}
	switch h.Mode {
	case model.HVACModeCool:
		return model.TargetCool
	case model.HVACModeHeat:
		return model.TargetHeat
	case model.HVACModeAuto:
		return model.TargetAuto
	default:
		return model.TargetOff
	}
}

// CurrentStateOf infers what the unit is doing. Units report no live
// telemetry, so in auto mode a set point strictly below the room temperature
// means cooling and anything else (equality included) means heating.
func CurrentStateOf(h model.HVAC, r model.Room) model.CurrentState {
	if h.Power == model.PowerOff {
		return model.CurrentOff
	}
	switch h.Mode {
	case model.HVACModeCool:
		return model.CurrentCool
	case model.HVACModeHeat:
		return model.CurrentHeat
	case model.HVACModeAuto:
		if h.SetPointC < r.CurrentTemperatureC {
			return model.CurrentCool
		}
		return model.CurrentHeat
	default:
		return model.CurrentOff
	}
}

// hvacModeFor is the unit mode that realizes a non-off target state.
func hvacModeFor(t model.TargetState) model.HVACMode {
	switch t {
	case model.TargetCool:
		return model.HVACModeCool
	case model.TargetHeat:
		return model.HVACModeHeat
	default:
		return model.HVACModeAuto
	}
}
