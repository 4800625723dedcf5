package thermostat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/joshp123/gohome-flair/internal/model"
)

var errRemote = errors.New("remote unavailable")

type fakeClient struct {
	mu sync.Mutex

	structure        model.Structure
	structureErr     error
	structureFetches int
	fetchEntered     chan struct{}
	fetchGate        chan struct{}
	setStructureErr  error

	hvacs map[string]model.HVAC
	rooms map[string]model.Room

	getHVACErr  error
	getRoomErr  error
	getHVACsErr error
	powerErr    error
	modeErr     error
	tempErr     error

	calls []string
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		structure: model.Structure{ID: "s1", Name: "Home", Mode: model.StructureModeAuto},
		hvacs:     make(map[string]model.HVAC),
		rooms:     make(map[string]model.Room),
	}
}

func (f *fakeClient) addDevice(h model.HVAC, r model.Room) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h.RoomID = r.ID
	f.hvacs[h.ID] = h
	f.rooms[r.ID] = r
}

func (f *fakeClient) record(format string, args ...any) {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *fakeClient) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeClient) setErr(target *error, err error) {
	f.mu.Lock()
	*target = err
	f.mu.Unlock()
}

func (f *fakeClient) GetPrimaryStructure(ctx context.Context) (model.Structure, error) {
	f.mu.Lock()
	f.structureFetches++
	entered, gate := f.fetchEntered, f.fetchGate
	f.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("structure.get")
	if f.structureErr != nil {
		return model.Structure{}, f.structureErr
	}
	return f.structure, nil
}

func (f *fakeClient) SetStructureMode(ctx context.Context, s model.Structure, mode model.StructureMode) (model.Structure, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("structure.set:%s", mode)
	if f.setStructureErr != nil {
		return model.Structure{}, f.setStructureErr
	}
	f.structure.Mode = mode
	return f.structure, nil
}

func (f *fakeClient) GetHVACs(ctx context.Context, s model.Structure) ([]model.HVAC, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("hvac.list")
	if f.getHVACsErr != nil {
		return nil, f.getHVACsErr
	}
	out := make([]model.HVAC, 0, len(f.hvacs))
	for _, h := range f.hvacs {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeClient) GetHVAC(ctx context.Context, h model.HVAC) (model.HVAC, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("hvac.get:%s", h.ID)
	if f.getHVACErr != nil {
		return model.HVAC{}, f.getHVACErr
	}
	got, ok := f.hvacs[h.ID]
	if !ok {
		return model.HVAC{}, fmt.Errorf("hvac %s not found", h.ID)
	}
	return got, nil
}

func (f *fakeClient) SetHVACPowerMode(ctx context.Context, h model.HVAC, power model.PowerMode) (model.HVAC, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("hvac.power:%s:%s", h.ID, power)
	if f.powerErr != nil {
		return model.HVAC{}, f.powerErr
	}
	got := f.hvacs[h.ID]
	got.Power = power
	f.hvacs[h.ID] = got
	return got, nil
}

func (f *fakeClient) SetHVACMode(ctx context.Context, h model.HVAC, mode model.HVACMode) (model.HVAC, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("hvac.mode:%s:%s", h.ID, mode)
	if f.modeErr != nil {
		return model.HVAC{}, f.modeErr
	}
	got := f.hvacs[h.ID]
	got.Mode = mode
	f.hvacs[h.ID] = got
	return got, nil
}

func (f *fakeClient) SetHVACTemperature(ctx context.Context, h model.HVAC, valueC float64) (model.HVAC, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("hvac.temp:%s:%v", h.ID, valueC)
	if f.tempErr != nil {
		return model.HVAC{}, f.tempErr
	}
	got := f.hvacs[h.ID]
	got.SetPointC = valueC
	f.hvacs[h.ID] = got
	return got, nil
}

func (f *fakeClient) GetRoom(ctx context.Context, r model.Room) (model.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("room.get:%s", r.ID)
	if f.getRoomErr != nil {
		return model.Room{}, f.getRoomErr
	}
	got, ok := f.rooms[r.ID]
	if !ok {
		return model.Room{}, fmt.Errorf("room %s not found", r.ID)
	}
	return got, nil
}

type recordingPublisher struct {
	mu      sync.Mutex
	updates []StateUpdate
}

func (p *recordingPublisher) Publish(ctx context.Context, u StateUpdate) {
	p.mu.Lock()
	p.updates = append(p.updates, u)
	p.mu.Unlock()
}

func (p *recordingPublisher) all() []StateUpdate {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]StateUpdate(nil), p.updates...)
}

func (p *recordingPublisher) last() (StateUpdate, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.updates) == 0 {
		return StateUpdate{}, false
	}
	return p.updates[len(p.updates)-1], true
}

func contains(calls []string, want string) bool {
	for _, c := range calls {
		if c == want {
			return true
		}
	}
	return false
}
