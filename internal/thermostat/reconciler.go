package thermostat

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/joshp123/gohome-flair/internal/logging"
	"github.com/joshp123/gohome-flair/internal/model"
)

const maxJitterSeconds = 20

// JitteredInterval returns a func yielding base plus a uniform 1..20 whole
// seconds. The offset is drawn again on every call.
func JitteredInterval(base time.Duration) func() time.Duration {
	return func() time.Duration {
		return base + time.Duration(1+rand.IntN(maxJitterSeconds))*time.Second
	}
}

// Reconciler owns one device's cached HVAC, room and structure. The cache
// only changes on a successful read or on the value returned by a write.
type Reconciler struct {
	client    DeviceClient
	publisher Publisher
	log       *logging.Logger
	now       func() time.Time

	mu        sync.RWMutex
	hvac      model.HVAC
	hvacSeq   uint64 // bumped on every stored unit
	room      model.Room
	structure model.Structure
	updatedAt time.Time
}

func NewReconciler(client DeviceClient, publisher Publisher, log *logging.Logger, hvac model.HVAC, room model.Room) *Reconciler {
	if publisher == nil {
		publisher = Publishers(nil)
	}
	if log == nil {
		log = logging.Nop()
	}
	if hvac.RoomID == "" {
		hvac.RoomID = room.ID
	}
	return &Reconciler{
		client:    client,
		publisher: publisher,
		log:       log.With("device_id", hvac.ID),
		now:       time.Now,
		hvac:      hvac,
		room:      room,
	}
}

func (r *Reconciler) ID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.hvac.ID
}

func (r *Reconciler) HVAC() model.HVAC {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.hvac
}

func (r *Reconciler) Room() model.Room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.room
}

func (r *Reconciler) Structure() model.Structure {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.structure
}

// Snapshot returns the persistable part of the cache.
func (r *Reconciler) Snapshot() model.DeviceSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return model.DeviceSnapshot{HVAC: r.hvac, Room: r.room}
}

// State derives the host-facing view of the cache.
func (r *Reconciler) State() StateUpdate {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return StateUpdate{
		DeviceID:            r.hvac.ID,
		Name:                r.hvac.Name,
		CurrentTemperatureC: r.room.CurrentTemperatureC,
		CurrentHumidity:     r.room.CurrentHumidity,
		TargetState:         TargetStateOf(r.hvac),
		CurrentState:        CurrentStateOf(r.hvac, r.room),
		SetPointC:           r.hvac.SetPointC,
		TemperatureScale:    r.hvac.TemperatureScale,
		StructureMode:       r.structure.Mode,
		UpdatedAt:           r.updatedAt,
	}
}

// UpdateStructure records a structure pushed by the guard.
func (r *Reconciler) UpdateStructure(s model.Structure) {
	r.mu.Lock()
	r.structure = s
	r.mu.Unlock()
}

// RefreshHVAC fetches the unit and publishes it. On failure the cached unit
// is kept and returned alongside the error. A read that was overtaken by a
// newer stored unit (a command result or a later read) is discarded and the
// cached unit returned.
func (r *Reconciler) RefreshHVAC(ctx context.Context) (model.HVAC, error) {
	r.mu.RLock()
	current, seq := r.hvac, r.hvacSeq
	r.mu.RUnlock()

	fresh, err := r.client.GetHVAC(ctx, current)
	refreshTotal.WithLabelValues("hvac", result(err)).Inc()
	if err != nil {
		r.log.Errorw("hvac refresh failed", "entity", "hvac", "err", err)
		return r.HVAC(), err
	}
	if !r.storeHVACIfCurrent(fresh, seq) {
		r.log.Debugw("discarding stale hvac read", "entity", "hvac")
		return r.HVAC(), nil
	}
	r.publish(ctx)
	return fresh, nil
}

// RefreshRoom fetches the unit's room and publishes it. On failure the
// cached room is kept and returned alongside the error.
func (r *Reconciler) RefreshRoom(ctx context.Context) (model.Room, error) {
	current := r.Room()
	fresh, err := r.client.GetRoom(ctx, current)
	refreshTotal.WithLabelValues("room", result(err)).Inc()
	if err != nil {
		r.log.Errorw("room refresh failed", "entity", "room", "room_id", current.ID, "err", err)
		return current, err
	}
	r.mu.Lock()
	r.room = fresh
	r.updatedAt = r.now()
	r.mu.Unlock()
	r.publish(ctx)
	return fresh, nil
}

// Run polls room and unit on independent jittered timers until ctx is done.
// Each loop fetches once immediately.
func (r *Reconciler) Run(ctx context.Context, next func() time.Duration) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		pollLoop(ctx, next, func(ctx context.Context) { _, _ = r.RefreshRoom(ctx) })
	}()
	go func() {
		defer wg.Done()
		pollLoop(ctx, next, func(ctx context.Context) { _, _ = r.RefreshHVAC(ctx) })
	}()
	wg.Wait()
}

func pollLoop(ctx context.Context, next func() time.Duration, fetch func(context.Context)) {
	if ctx.Err() != nil {
		return
	}
	fetch(ctx)
	for {
		timer := time.NewTimer(next())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			fetch(ctx)
		}
	}
}

func (r *Reconciler) storeHVAC(h model.HVAC) {
	r.mu.Lock()
	r.storeHVACLocked(h)
	r.mu.Unlock()
}

// storeHVACIfCurrent stores h only if nothing was stored since seq was read.
func (r *Reconciler) storeHVACIfCurrent(h model.HVAC, seq uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.hvacSeq != seq {
		return false
	}
	r.storeHVACLocked(h)
	return true
}

func (r *Reconciler) storeHVACLocked(h model.HVAC) {
	if h.RoomID == "" {
		h.RoomID = r.hvac.RoomID
	}
	r.hvac = h
	r.hvacSeq++
	r.updatedAt = r.now()
}

func (r *Reconciler) publish(ctx context.Context) {
	r.publisher.Publish(ctx, r.State())
}
