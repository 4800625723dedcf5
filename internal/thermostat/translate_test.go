package thermostat

import (
	"testing"

	"github.com/joshp123/gohome-flair/internal/model"
)

var (
	allPowers = []model.PowerMode{model.PowerOn, model.PowerOff}
	allModes  = []model.HVACMode{model.HVACModeCool, model.HVACModeHeat, model.HVACModeAuto}
)

func TestTranslationIsTotal(t *testing.T) {
	for _, power := range allPowers {
		for _, mode := range allModes {
			h := model.HVAC{Power: power, Mode: mode, SetPointC: 21}
			target := TargetStateOf(h)
			if !target.Valid() {
				t.Fatalf("TargetStateOf(%s,%s) = %q", power, mode, target)
			}
			current := CurrentStateOf(h, model.Room{CurrentTemperatureC: 21})
			switch current {
			case model.CurrentOff, model.CurrentCool, model.CurrentHeat:
			default:
				t.Fatalf("CurrentStateOf(%s,%s) = %q", power, mode, current)
			}
			if power == model.PowerOff && (target != model.TargetOff || current != model.CurrentOff) {
				t.Fatalf("powered off unit reported %s/%s", target, current)
			}
		}
	}
}

func TestTargetStateMirrorsMode(t *testing.T) {
	cases := map[model.HVACMode]model.TargetState{
		model.HVACModeCool: model.TargetCool,
		model.HVACModeHeat: model.TargetHeat,
		model.HVACModeAuto: model.TargetAuto,
	}
	for mode, want := range cases {
		if got := TargetStateOf(model.HVAC{Power: model.PowerOn, Mode: mode}); got != want {
			t.Fatalf("TargetStateOf(%s) = %s, want %s", mode, got, want)
		}
	}
}

func TestExplicitModesIgnoreRoomTemperature(t *testing.T) {
	cool := model.HVAC{Power: model.PowerOn, Mode: model.HVACModeCool, SetPointC: 30}
	if got := CurrentStateOf(cool, model.Room{CurrentTemperatureC: 10}); got != model.CurrentCool {
		t.Fatalf("cool mode = %s", got)
	}
	heat := model.HVAC{Power: model.PowerOn, Mode: model.HVACModeHeat, SetPointC: 10}
	if got := CurrentStateOf(heat, model.Room{CurrentTemperatureC: 30}); got != model.CurrentHeat {
		t.Fatalf("heat mode = %s", got)
	}
}

func TestAutoModeInference(t *testing.T) {
	for setPoint := 10.0; setPoint <= 30; setPoint += 0.5 {
		for roomTemp := 10.0; roomTemp <= 30; roomTemp += 0.5 {
			h := model.HVAC{Power: model.PowerOn, Mode: model.HVACModeAuto, SetPointC: setPoint}
			got := CurrentStateOf(h, model.Room{CurrentTemperatureC: roomTemp})
			want := model.CurrentHeat
			if setPoint < roomTemp {
				want = model.CurrentCool
			}
			if got != want {
				t.Fatalf("set point %v room %v: got %s, want %s", setPoint, roomTemp, got, want)
			}
		}
	}
}

func TestAutoModeEqualityResolvesToHeat(t *testing.T) {
	h := model.HVAC{Power: model.PowerOn, Mode: model.HVACModeAuto, SetPointC: 21}
	if got := CurrentStateOf(h, model.Room{CurrentTemperatureC: 21}); got != model.CurrentHeat {
		t.Fatalf("equality = %s, want heat", got)
	}
}

func TestAutoScenarios(t *testing.T) {
	h := model.HVAC{Power: model.PowerOn, Mode: model.HVACModeAuto, SetPointC: 20}

	if got := CurrentStateOf(h, model.Room{CurrentTemperatureC: 22}); got != model.CurrentCool {
		t.Fatalf("room 22: current = %s, want cool", got)
	}
	if got := TargetStateOf(h); got != model.TargetAuto {
		t.Fatalf("target = %s, want auto", got)
	}
	if got := CurrentStateOf(h, model.Room{CurrentTemperatureC: 18}); got != model.CurrentHeat {
		t.Fatalf("room 18: current = %s, want heat", got)
	}
}
