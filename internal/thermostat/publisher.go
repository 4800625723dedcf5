package thermostat

import (
	"context"
	"time"

	"github.com/joshp123/gohome-flair/internal/model"
)

// StateUpdate is published whenever a poll or command produces fresh state.
type StateUpdate struct {
	DeviceID            string                 `json:"device_id"`
	Name                string                 `json:"name"`
	CurrentTemperatureC float64                `json:"current_temperature_c"`
	CurrentHumidity     float64                `json:"current_humidity"`
	TargetState         model.TargetState      `json:"target_state"`
	CurrentState        model.CurrentState     `json:"current_state"`
	SetPointC           float64                `json:"set_point_c"`
	TemperatureScale    model.TemperatureScale `json:"temperature_scale"`
	StructureMode       model.StructureMode    `json:"structure_mode,omitempty"`
	UpdatedAt           time.Time              `json:"updated_at"`
}

// Publisher receives state updates. Implementations must not block for long;
// they are called from polling goroutines.
type Publisher interface {
	Publish(ctx context.Context, u StateUpdate)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, u StateUpdate)

func (f PublisherFunc) Publish(ctx context.Context, u StateUpdate) { f(ctx, u) }

// Publishers fans an update out to every member in order.
type Publishers []Publisher

func (ps Publishers) Publish(ctx context.Context, u StateUpdate) {
	for _, p := range ps {
		if p != nil {
			p.Publish(ctx, u)
		}
	}
}

// Commander is the host-driven command surface.
type Commander interface {
	SetTargetMode(ctx context.Context, deviceID string, desired model.TargetState) (model.TargetState, error)
	SetTargetTemperature(ctx context.Context, deviceID string, valueC float64) (float64, error)
}

// StateSource exposes cached device state to host adapters without
// triggering remote calls.
type StateSource interface {
	States() []StateUpdate
	State(deviceID string) (StateUpdate, bool)
}
