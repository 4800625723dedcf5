package thermostat

import (
	"context"
	"sync"
	"time"

	"github.com/joshp123/gohome-flair/internal/logging"
	"github.com/joshp123/gohome-flair/internal/model"
)

// Device ties a unit's reconciler and dispatcher to a cancellable lifetime.
type Device struct {
	*Reconciler
	dispatcher *Dispatcher

	unregister func()
	mu         sync.Mutex
	cancel     context.CancelFunc
	done       chan struct{}
}

func newDevice(guard *StructureGuard, client DeviceClient, publisher Publisher, log *logging.Logger, hvac model.HVAC, room model.Room) *Device {
	r := NewReconciler(client, publisher, log, hvac, room)
	if s, ok := guard.Cached(); ok {
		r.UpdateStructure(s)
	}
	d := &Device{
		Reconciler: r,
		dispatcher: NewDispatcher(guard, client, r, log),
	}
	d.unregister = guard.Register(r)
	return d
}

// Start launches both pollers under a context derived from ctx.
func (d *Device) Start(ctx context.Context, next func() time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})
	go func() {
		defer close(d.done)
		d.Run(ctx, next)
	}()
}

// Stop cancels the pollers, waits for them to exit and detaches the device
// from structure updates.
func (d *Device) Stop() {
	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
	d.unregister()
}

func (d *Device) SetTargetMode(ctx context.Context, desired model.TargetState) (model.TargetState, error) {
	return d.dispatcher.SetTargetMode(ctx, desired)
}

func (d *Device) SetTargetTemperature(ctx context.Context, valueC float64) (float64, error) {
	return d.dispatcher.SetTargetTemperature(ctx, valueC)
}
