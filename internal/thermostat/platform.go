package thermostat

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/joshp123/gohome-flair/internal/logging"
	"github.com/joshp123/gohome-flair/internal/model"
)

const (
	roomFetchConcurrency = 4
	// discoveryRetryInterval paces extra discovery passes while units are
	// waiting for their first room read.
	discoveryRetryInterval = time.Minute
)

// SnapshotStore persists discovered devices between runs.
type SnapshotStore interface {
	Load(ctx context.Context) ([]model.DeviceSnapshot, error)
	Save(ctx context.Context, devices []model.DeviceSnapshot) error
}

// Options tune a Platform. Zero values pick defaults.
type Options struct {
	// PollInterval is the base poll interval before jitter.
	PollInterval time.Duration
	// NextInterval overrides the jittered interval source.
	NextInterval func() time.Duration
	Snapshots    SnapshotStore
	Logger       *logging.Logger
}

// Platform discovers units, owns their devices and routes host commands.
type Platform struct {
	client    RemoteClient
	guard     *StructureGuard
	publisher Publisher
	snapshots SnapshotStore
	next      func() time.Duration
	log       *logging.Logger

	retryInterval time.Duration

	mu      sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
	devices map[string]*Device
	pending map[string]struct{}
}

func NewPlatform(client RemoteClient, publisher Publisher, opts Options) *Platform {
	log := opts.Logger
	if log == nil {
		log = logging.Nop()
	}
	next := opts.NextInterval
	if next == nil {
		next = JitteredInterval(opts.PollInterval)
	}
	if publisher == nil {
		publisher = Publishers(nil)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Platform{
		client:    client,
		guard:     NewStructureGuard(client),
		publisher: publisher,
		snapshots: opts.Snapshots,
		next:      next,
		log:       log.Named("thermostat"),
		ctx:       ctx,
		cancel:    cancel,
		devices:   make(map[string]*Device),
		pending:   make(map[string]struct{}),

		retryInterval: discoveryRetryInterval,
	}
}

// Guard exposes the shared structure guard.
func (p *Platform) Guard() *StructureGuard { return p.guard }

// Restore starts devices from the snapshot store. Pollers begin right away
// so restored state is refreshed without waiting for discovery.
func (p *Platform) Restore(ctx context.Context) (int, error) {
	if p.snapshots == nil {
		return 0, nil
	}
	snaps, err := p.snapshots.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("load snapshots: %w", err)
	}
	restored := 0
	for _, s := range snaps {
		if p.add(s.HVAC, s.Room) {
			restored++
			p.log.Infow("restored device from snapshot", "device_id", s.HVAC.ID, "name", s.HVAC.Name)
		}
	}
	return restored, nil
}

// Discover lists the structure's units, adds new ones, and stops and removes
// devices the API no longer reports.
func (p *Platform) Discover(ctx context.Context) error {
	if p.ctx.Err() != nil {
		return ErrClosed
	}
	structure, err := p.guard.GetStructure(ctx)
	if err != nil {
		return err
	}
	hvacs, err := p.client.GetHVACs(ctx, structure)
	if err != nil {
		return fmt.Errorf("list hvac units: %w", err)
	}

	// Only new units need a room read. A unit whose room cannot be read is
	// not registered until a later pass reads it.
	known := make(map[string]struct{})
	for _, id := range p.deviceIDs() {
		known[id] = struct{}{}
	}
	rooms := make([]model.Room, len(hvacs))
	roomOK := make([]bool, len(hvacs))
	var g errgroup.Group
	g.SetLimit(roomFetchConcurrency)
	for i, h := range hvacs {
		if _, ok := known[h.ID]; ok {
			continue
		}
		g.Go(func() error {
			room, err := p.client.GetRoom(ctx, model.Room{ID: h.RoomID})
			if err != nil {
				p.log.Warnw("room fetch failed during discovery, deferring device", "device_id", h.ID, "room_id", h.RoomID, "err", err)
				return nil
			}
			rooms[i], roomOK[i] = room, true
			return nil
		})
	}
	_ = g.Wait()

	seen := make(map[string]struct{}, len(hvacs))
	pending := make(map[string]struct{})
	for i, h := range hvacs {
		seen[h.ID] = struct{}{}
		if _, ok := known[h.ID]; ok {
			p.log.Debugw("device already registered", "device_id", h.ID)
			continue
		}
		if !roomOK[i] {
			pending[h.ID] = struct{}{}
			continue
		}
		if p.add(h, rooms[i]) {
			p.log.Infow("adding new device", "device_id", h.ID, "name", h.Name)
		}
	}
	p.mu.Lock()
	p.pending = pending
	p.mu.Unlock()

	for _, id := range p.deviceIDs() {
		if _, ok := seen[id]; !ok {
			p.log.Infow("removing device no longer reported", "device_id", id)
			p.Remove(id)
		}
	}

	if p.snapshots != nil {
		if err := p.snapshots.Save(ctx, p.Snapshots()); err != nil {
			p.log.Warnw("snapshot save failed", "err", err)
		}
	}
	return nil
}

// RunDiscovery repeats Discover every interval until ctx is done. With no
// interval it only runs while units are deferred for an unreadable room,
// every discoveryRetryInterval.
func (p *Platform) RunDiscovery(ctx context.Context, interval time.Duration) {
	for {
		wait := interval
		if wait <= 0 {
			if p.Pending() == 0 {
				return
			}
			wait = p.retryInterval
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if err := p.Discover(ctx); err != nil {
				p.log.Errorw("discovery failed", "err", err)
			}
		}
	}
}

// Pending reports how many listed units are waiting for a readable room.
func (p *Platform) Pending() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.pending)
}

// Remove stops a device and forgets it. It reports whether it existed.
func (p *Platform) Remove(id string) bool {
	p.mu.Lock()
	d, ok := p.devices[id]
	delete(p.devices, id)
	devicesGauge.Set(float64(len(p.devices)))
	p.mu.Unlock()
	if ok {
		d.Stop()
	}
	return ok
}

// Close stops every device.
func (p *Platform) Close() {
	p.cancel()
	for _, id := range p.deviceIDs() {
		p.Remove(id)
	}
}

func (p *Platform) SetTargetMode(ctx context.Context, deviceID string, desired model.TargetState) (model.TargetState, error) {
	d, err := p.device(deviceID)
	if err != nil {
		return "", err
	}
	return d.SetTargetMode(ctx, desired)
}

func (p *Platform) SetTargetTemperature(ctx context.Context, deviceID string, valueC float64) (float64, error) {
	d, err := p.device(deviceID)
	if err != nil {
		return 0, err
	}
	return d.SetTargetTemperature(ctx, valueC)
}

// TargetTemperature refreshes the unit and returns its set point in Celsius.
// A failed refresh falls back to the cached value.
func (p *Platform) TargetTemperature(ctx context.Context, deviceID string) (float64, error) {
	d, err := p.device(deviceID)
	if err != nil {
		return 0, err
	}
	h, _ := d.RefreshHVAC(ctx)
	return h.SetPointC, nil
}

func (p *Platform) States() []StateUpdate {
	p.mu.RLock()
	out := make([]StateUpdate, 0, len(p.devices))
	for _, d := range p.devices {
		out = append(out, d.State())
	}
	p.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].DeviceID < out[j].DeviceID
	})
	return out
}

func (p *Platform) State(deviceID string) (StateUpdate, bool) {
	d, err := p.device(deviceID)
	if err != nil {
		return StateUpdate{}, false
	}
	return d.State(), true
}

// Snapshots returns every device's persistable state.
func (p *Platform) Snapshots() []model.DeviceSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]model.DeviceSnapshot, 0, len(p.devices))
	for _, d := range p.devices {
		out = append(out, d.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].HVAC.ID < out[j].HVAC.ID })
	return out
}

func (p *Platform) add(h model.HVAC, room model.Room) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.devices[h.ID]; ok {
		return false
	}
	if p.ctx.Err() != nil {
		return false
	}
	d := newDevice(p.guard, p.client, p.publisher, p.log, h, room)
	p.devices[h.ID] = d
	devicesGauge.Set(float64(len(p.devices)))
	d.Start(p.ctx, p.next)
	return true
}

func (p *Platform) device(id string) (*Device, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	d, ok := p.devices[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}
	return d, nil
}

func (p *Platform) deviceIDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.devices))
	for id := range p.devices {
		ids = append(ids, id)
	}
	return ids
}
