package server

import (
	"context"
	"sync"

	"github.com/joshp123/gohome-flair/internal/model"
	"github.com/joshp123/gohome-flair/internal/thermostat"
)

type fakePlatform struct {
	mu        sync.Mutex
	states    map[string]thermostat.StateUpdate
	order     []string
	modeErr   error
	tempErr   error
	discovers int
	modes     []string
	temps     []float64
}

func newFakePlatform() *fakePlatform {
	p := &fakePlatform{states: make(map[string]thermostat.StateUpdate)}
	p.put(thermostat.StateUpdate{
		DeviceID:            "h1",
		Name:                "Office",
		CurrentTemperatureC: 22,
		TargetState:         model.TargetAuto,
		CurrentState:        model.CurrentCool,
		SetPointC:           20,
		TemperatureScale:    model.ScaleFahrenheit,
		StructureMode:       model.StructureModeManual,
	})
	return p
}

func (p *fakePlatform) put(u thermostat.StateUpdate) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.states[u.DeviceID]; !ok {
		p.order = append(p.order, u.DeviceID)
	}
	p.states[u.DeviceID] = u
}

func (p *fakePlatform) States() []thermostat.StateUpdate {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]thermostat.StateUpdate, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.states[id])
	}
	return out
}

func (p *fakePlatform) State(id string) (thermostat.StateUpdate, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.states[id]
	return st, ok
}

func (p *fakePlatform) SetTargetMode(_ context.Context, id string, desired model.TargetState) (model.TargetState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.modeErr != nil {
		return "", p.modeErr
	}
	st, ok := p.states[id]
	if !ok {
		return "", thermostat.ErrUnknownDevice
	}
	p.modes = append(p.modes, id+":"+string(desired))
	st.TargetState = desired
	p.states[id] = st
	return desired, nil
}

func (p *fakePlatform) SetTargetTemperature(_ context.Context, id string, valueC float64) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tempErr != nil {
		return 0, p.tempErr
	}
	st, ok := p.states[id]
	if !ok {
		return 0, thermostat.ErrUnknownDevice
	}
	p.temps = append(p.temps, valueC)
	st.SetPointC = valueC
	p.states[id] = st
	return model.FromCelsius(valueC, st.TemperatureScale), nil
}

func (p *fakePlatform) TargetTemperature(_ context.Context, id string) (float64, error) {
	st, ok := p.State(id)
	if !ok {
		return 0, thermostat.ErrUnknownDevice
	}
	return st.SetPointC, nil
}

func (p *fakePlatform) Discover(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.discovers++
	return nil
}

func (p *fakePlatform) recorded() (modes []string, temps []float64, discovers int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.modes...), append([]float64(nil), p.temps...), p.discovers
}
